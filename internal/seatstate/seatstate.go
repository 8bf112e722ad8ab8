// Package seatstate is the reservation state machine.  It is pure: every
// function takes the seat as last read from the durable store and returns
// the next seat with its version bumped, or an error when the event is not
// legal.  Persisting the result with a compare-and-swap on the old version
// is the caller's job.
package seatstate

import (
	"time"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

// Event is an input to the state machine.
type Event string

const (
	Hold    Event = "hold"
	Confirm Event = "confirm"
	Expire  Event = "expire"
	Cancel  Event = "cancel"
)

// transitions lists every legal (state, event) pair.  Anything missing is
// an invalid transition.
var transitions = map[model.SeatStatus]map[Event]model.SeatStatus{
	model.SeatAvailable: {Hold: model.SeatHeld},
	model.SeatHeld:      {Confirm: model.SeatBooked, Expire: model.SeatAvailable},
	model.SeatBooked:    {Cancel: model.SeatAvailable},
}

// Next returns the target state of ev from from, ignoring guards.
func Next(from model.SeatStatus, ev Event) (model.SeatStatus, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return "", errs.Wrapf(errs.ErrInvalidTransition, "%s on %s seat", ev, from)
	}
	return to, nil
}

// ApplyHold moves an available seat to held by holder until expiresAt.
// The guard (lock acquired for holder) is established by the caller.
func ApplyHold(s model.Seat, holder string, expiresAt time.Time) (model.Seat, error) {
	to, err := Next(s.Status, Hold)
	if err != nil {
		return s, err
	}
	h := holder
	exp := expiresAt.UTC()
	return advance(s, to, &h, &exp), nil
}

// ApplyConfirm moves a seat held by holder to booked.  The hold must not
// have lapsed at now; lock ownership is verified by the caller just before.
func ApplyConfirm(s model.Seat, holder string, now time.Time) (model.Seat, error) {
	to, err := Next(s.Status, Confirm)
	if err != nil {
		return s, err
	}
	if !s.HeldBy(holder) {
		return s, errs.Wrap(errs.ErrNotOwner, "confirm")
	}
	if s.HoldLapsed(now) {
		return s, errs.Wrap(errs.ErrLockExpired, "confirm")
	}
	h := holder
	return advance(s, to, &h, nil), nil
}

// ApplyExpire returns a held seat whose hold lapsed at or before now to
// available.  A hold that is still running fails the guard.
func ApplyExpire(s model.Seat, now time.Time) (model.Seat, error) {
	to, err := Next(s.Status, Expire)
	if err != nil {
		return s, err
	}
	if !s.HoldLapsed(now) {
		return s, errs.Wrap(errs.ErrInvalidTransition, "expire on a live hold")
	}
	return advance(s, to, nil, nil), nil
}

// ApplyCancel returns a booked seat to available.  The caller must be the
// booking owner or an admin.
func ApplyCancel(s model.Seat, caller model.Caller) (model.Seat, error) {
	to, err := Next(s.Status, Cancel)
	if err != nil {
		return s, err
	}
	if !s.HeldBy(caller.UserID) && !caller.IsAdmin() {
		return s, errs.Wrap(errs.ErrNotOwner, "cancel")
	}
	return advance(s, to, nil, nil), nil
}

func advance(s model.Seat, to model.SeatStatus, holder *string, expiresAt *time.Time) model.Seat {
	s.Status = to
	s.HolderID = holder
	s.HoldExpiresAt = expiresAt
	s.Version++
	return s
}
