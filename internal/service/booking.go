// Package service holds the booking orchestrator.  It composes the seat
// lock coordinator, the state machine and the durable store into the
// hold, confirm and cancel operations, and publishes one notification per
// committed transition, always after the write.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/lock"
	"github.com/iliyamo/seat-arbiter/internal/model"
	"github.com/iliyamo/seat-arbiter/internal/provision"
	"github.com/iliyamo/seat-arbiter/internal/queue"
	"github.com/iliyamo/seat-arbiter/internal/repository"
	"github.com/iliyamo/seat-arbiter/internal/seatstate"
)

// casAttempts bounds how often an operation re-reads after losing the
// version compare-and-swap to a concurrent writer.
const casAttempts = 3

// Locker is the seat lock coordinator.
type Locker interface {
	Acquire(ctx context.Context, seatID uint64, holder string, ttl time.Duration) (lock.Grant, error)
	Release(ctx context.Context, seatID uint64, holder string) (lock.Outcome, error)
	Extend(ctx context.Context, seatID uint64, holder string, ttl time.Duration) (lock.Outcome, error)
	Inspect(ctx context.Context, seatID uint64) (lock.Entry, bool, error)
}

// Notifier publishes committed seat transitions to observers.
type Notifier interface {
	Publish(ctx context.Context, ev model.SeatEvent) error
}

// Options tunes a BookingService.
type Options struct {
	HoldTTL       time.Duration
	ConfirmGrace  time.Duration
	RetryAttempts uint64
	RetryInitial  time.Duration
	Now           func() time.Time
}

func (o *Options) defaults() {
	if o.HoldTTL <= 0 {
		o.HoldTTL = 300 * time.Second
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 50 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// BookingService is the booking orchestrator.  It keeps no reservation
// state of its own; any number of instances may run against the same lock
// store and database.
type BookingService struct {
	store  repository.Store
	locks  Locker
	notify Notifier
	audit  AuditPublisher
	log    *slog.Logger
	opts   Options
	retry  retryPolicy
}

func NewBookingService(store repository.Store, locks Locker, notify Notifier, log *slog.Logger, opts Options) *BookingService {
	opts.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &BookingService{
		store:  store,
		locks:  locks,
		notify: notify,
		log:    log,
		opts:   opts,
		retry:  retryPolicy{attempts: opts.RetryAttempts, initial: opts.RetryInitial},
	}
}

// WithAudit also sends every committed transition to a.
func (s *BookingService) WithAudit(a AuditPublisher) *BookingService {
	s.audit = a
	return s
}

// HoldResult is returned by Hold.
type HoldResult struct {
	SeatID    uint64           `json:"seat_id"`
	BookingID uint64           `json:"booking_id"`
	Status    model.SeatStatus `json:"status"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// ConfirmResult is returned by Confirm.
type ConfirmResult struct {
	SeatID    uint64              `json:"seat_id"`
	BookingID uint64              `json:"booking_id"`
	Status    model.BookingStatus `json:"status"`
}

// CancelResult is returned by Cancel.
type CancelResult struct {
	BookingID uint64              `json:"booking_id"`
	SeatID    uint64              `json:"seat_id"`
	Status    model.BookingStatus `json:"status"`
}

// Hold claims seatID for user for the hold TTL.  Exactly one of many
// concurrent callers wins; the others get errs.ErrLockConflict, which
// never names the winner.  Holding a seat the caller already holds returns
// the live hold unchanged.
func (s *BookingService) Hold(ctx context.Context, seatID uint64, user string) (HoldResult, error) {
	seat, err := s.getSeat(ctx, seatID)
	if err != nil {
		return HoldResult{}, err
	}
	if seat.Status == model.SeatBooked {
		return HoldResult{}, errs.Wrapf(errs.ErrLockConflict, "seat %d", seatID)
	}

	grant, err := retryValue(ctx, s.retry, func() (lock.Grant, error) {
		return s.locks.Acquire(ctx, seatID, user, s.opts.HoldTTL)
	})
	if err != nil {
		return HoldResult{}, err
	}
	if !grant.Granted && grant.Holder != user {
		return HoldResult{}, errs.Wrapf(errs.ErrLockConflict, "seat %d", seatID)
	}

	res, err := s.commitHold(ctx, seatID, user, grant.ExpiresAt)
	if err != nil && grant.Granted {
		s.releaseQuietly(ctx, seatID, user)
	}
	return res, err
}

func (s *BookingService) commitHold(ctx context.Context, seatID uint64, user string, expiresAt time.Time) (HoldResult, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		seat, err := s.getSeat(ctx, seatID)
		if err != nil {
			return HoldResult{}, err
		}
		now := s.opts.Now()

		if seat.Status == model.SeatHeld && seat.HeldBy(user) && !seat.HoldLapsed(now) {
			res := HoldResult{SeatID: seatID, Status: model.SeatHeld, ExpiresAt: expiresAt}
			if b, err := s.latestBooking(ctx, seatID, user); err == nil && b.Status == model.BookingPending {
				res.BookingID = b.ID
			}
			return res, nil
		}
		if seat.HoldLapsed(now) {
			// The previous holder's lock is gone (we own it now); settle the
			// stale row before claiming it.
			if _, err := s.expireSeat(ctx, seat, now); err != nil {
				return HoldResult{}, err
			}
			continue
		}

		next, err := seatstate.ApplyHold(seat, user, expiresAt)
		if err != nil {
			return HoldResult{}, errs.Wrapf(errs.ErrLockConflict, "seat %d", seatID)
		}
		next.UpdatedAt = now
		booking := &model.Booking{UserID: user, SeatID: seatID, EventID: seat.EventID, Status: model.BookingPending}
		err = s.commit(ctx, repository.Transition{Seat: next, FromVersion: seat.Version, NewBooking: booking})
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return HoldResult{}, err
		}

		s.log.Info("seat held", "seat_id", seatID, "event_id", seat.EventID, "user_id", user,
			"booking_id", booking.ID, "expires_at", expiresAt)
		s.published(ctx, next, queue.BookingHeld, booking.ID)
		return HoldResult{SeatID: seatID, BookingID: booking.ID, Status: model.SeatHeld, ExpiresAt: expiresAt}, nil
	}
	return HoldResult{}, errs.Wrapf(errs.ErrLockConflict, "seat %d changed concurrently", seatID)
}

// Confirm turns user's live hold on seatID into a confirmed booking.  A
// hold whose lock has lapsed is never confirmed: the caller gets
// errs.ErrLockExpired.
func (s *BookingService) Confirm(ctx context.Context, seatID uint64, user string) (ConfirmResult, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		seat, err := s.getSeat(ctx, seatID)
		if err != nil {
			return ConfirmResult{}, err
		}
		now := s.opts.Now()
		booking, err := s.latestBooking(ctx, seatID, user)
		found := err == nil
		if err != nil && !errs.Is(err, errs.ErrNotFound) {
			return ConfirmResult{}, err
		}

		switch {
		case seat.Status == model.SeatHeld && seat.HeldBy(user):
		case seat.Status == model.SeatBooked && seat.HeldBy(user) && found && booking.Status == model.BookingConfirmed:
			return ConfirmResult{}, errs.Wrapf(errs.ErrInvalidTransition, "seat %d already confirmed", seatID)
		case found && (booking.Status == model.BookingPending || booking.Status == model.BookingExpired):
			// The hold lapsed and the seat has moved on without us.
			return ConfirmResult{}, errs.Wrapf(errs.ErrLockExpired, "seat %d", seatID)
		case seat.Status != model.SeatAvailable:
			return ConfirmResult{}, errs.Wrapf(errs.ErrNotOwner, "seat %d", seatID)
		default:
			return ConfirmResult{}, errs.Wrapf(errs.ErrInvalidTransition, "confirm on available seat %d", seatID)
		}
		if !found || booking.Status != model.BookingPending {
			return ConfirmResult{}, errs.Wrapf(errs.ErrInvalidTransition, "no pending booking for seat %d", seatID)
		}
		if seat.HoldLapsed(now) {
			return ConfirmResult{}, errs.Wrapf(errs.ErrLockExpired, "seat %d", seatID)
		}
		if err := s.verifyLock(ctx, seatID, user); err != nil {
			return ConfirmResult{}, err
		}

		next, err := seatstate.ApplyConfirm(seat, user, now)
		if err != nil {
			return ConfirmResult{}, err
		}
		next.UpdatedAt = now
		err = s.commit(ctx, repository.Transition{
			Seat: next, FromVersion: seat.Version,
			BookingID: booking.ID, BookingFrom: model.BookingPending, BookingTo: model.BookingConfirmed,
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return ConfirmResult{}, err
		}

		s.releaseQuietly(ctx, seatID, user)
		s.log.Info("booking confirmed", "seat_id", seatID, "event_id", seat.EventID, "user_id", user, "booking_id", booking.ID)
		s.published(ctx, next, queue.BookingConfirmed, booking.ID)
		return ConfirmResult{SeatID: seatID, BookingID: booking.ID, Status: model.BookingConfirmed}, nil
	}
	return ConfirmResult{}, errs.Wrapf(errs.ErrLockExpired, "seat %d changed concurrently", seatID)
}

// verifyLock checks that user still owns the lock entry.  A hold about to
// lapse is extended by the confirm grace so it cannot expire between the
// check and the commit.
func (s *BookingService) verifyLock(ctx context.Context, seatID uint64, user string) error {
	in, err := s.inspect(ctx, seatID)
	if err != nil {
		return err
	}
	if !in.found || in.entry.Holder != user {
		return errs.Wrapf(errs.ErrLockExpired, "seat %d lock lost", seatID)
	}
	if s.opts.ConfirmGrace <= 0 || in.entry.TTL >= s.opts.ConfirmGrace {
		return nil
	}
	out, err := retryValue(ctx, s.retry, func() (lock.Outcome, error) {
		return s.locks.Extend(ctx, seatID, user, s.opts.ConfirmGrace)
	})
	if err != nil {
		return err
	}
	if out != lock.Extended {
		return errs.Wrapf(errs.ErrLockExpired, "seat %d lock lost", seatID)
	}
	return nil
}

// Cancel returns the seat of a confirmed booking to available.  Only the
// booking owner or an admin may cancel.
func (s *BookingService) Cancel(ctx context.Context, bookingID uint64, caller model.Caller) (CancelResult, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		booking, err := retryValue(ctx, s.retry, func() (model.Booking, error) {
			return s.store.GetBooking(ctx, bookingID)
		})
		if err != nil {
			return CancelResult{}, err
		}
		if booking.UserID != caller.UserID && !caller.IsAdmin() {
			return CancelResult{}, errs.Wrapf(errs.ErrNotOwner, "booking %d", bookingID)
		}
		if booking.Status != model.BookingConfirmed {
			return CancelResult{}, errs.Wrapf(errs.ErrInvalidTransition, "cancel %s booking %d", booking.Status, bookingID)
		}
		seat, err := s.getSeat(ctx, booking.SeatID)
		if err != nil {
			return CancelResult{}, err
		}
		next, err := seatstate.ApplyCancel(seat, caller)
		if err != nil {
			return CancelResult{}, err
		}
		next.UpdatedAt = s.opts.Now()
		err = s.commit(ctx, repository.Transition{
			Seat: next, FromVersion: seat.Version,
			BookingID: booking.ID, BookingFrom: model.BookingConfirmed, BookingTo: model.BookingCancelled,
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return CancelResult{}, err
		}

		s.releaseQuietly(ctx, booking.SeatID, booking.UserID)
		s.log.Info("booking cancelled", "seat_id", seat.ID, "event_id", seat.EventID, "user_id", booking.UserID,
			"booking_id", booking.ID, "by", caller.UserID)
		s.published(ctx, next, queue.BookingCancelled, booking.ID)
		return CancelResult{BookingID: booking.ID, SeatID: seat.ID, Status: model.BookingCancelled}, nil
	}
	return CancelResult{}, errs.Wrapf(errs.ErrInvalidTransition, "booking %d changed concurrently", bookingID)
}

// ReapLapsed reconciles up to limit held seats whose hold has ended back to
// available and returns how many it reclaimed.  Failures on one seat are
// logged and skipped.  Running it concurrently from several instances is
// safe: a seat another instance already reclaimed fails the version check
// and is skipped.
func (s *BookingService) ReapLapsed(ctx context.Context, limit int) (int, error) {
	now := s.opts.Now()
	seats, err := retryValue(ctx, s.retry, func() ([]model.Seat, error) {
		return s.store.ListLapsedHolds(ctx, now, limit)
	})
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, seat := range seats {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.reapOne(ctx, seat, now)
		if err != nil {
			s.log.Warn("reap seat failed", "seat_id", seat.ID, "error", err)
			continue
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (s *BookingService) reapOne(ctx context.Context, seat model.Seat, now time.Time) (bool, error) {
	in, err := s.inspect(ctx, seat.ID)
	if err != nil {
		return false, err
	}
	if in.found && in.entry.Holder == seat.Holder() {
		// The lock store is authoritative and still has the hold.
		return false, nil
	}
	return s.expireSeat(ctx, seat, now)
}

// expireSeat applies the expire transition to a lapsed hold and marks the
// holder's pending booking expired.  Losing the version check is not an
// error: someone else already moved the seat.
func (s *BookingService) expireSeat(ctx context.Context, seat model.Seat, now time.Time) (bool, error) {
	next, err := seatstate.ApplyExpire(seat, now)
	if err != nil {
		return false, nil
	}
	next.UpdatedAt = now
	tr := repository.Transition{Seat: next, FromVersion: seat.Version}
	holder := seat.Holder()
	b, err := s.latestBooking(ctx, seat.ID, holder)
	switch {
	case err == nil && b.Status == model.BookingPending:
		tr.BookingID, tr.BookingFrom, tr.BookingTo = b.ID, model.BookingPending, model.BookingExpired
	case err != nil && !errs.Is(err, errs.ErrNotFound):
		return false, err
	}
	err = s.commit(ctx, tr)
	if errors.Is(err, repository.ErrVersionConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Info("hold expired", "seat_id", seat.ID, "event_id", seat.EventID, "user_id", holder, "booking_id", tr.BookingID)
	s.published(ctx, next, queue.BookingExpired, tr.BookingID)
	return true, nil
}

// Seats lists the seats of an event.
func (s *BookingService) Seats(ctx context.Context, eventID uint64) ([]model.Seat, error) {
	return retryValue(ctx, s.retry, func() ([]model.Seat, error) {
		return s.store.ListSeatsByEvent(ctx, eventID)
	})
}

// MyHolds lists user's live holds on an event with their remaining
// lifetime as reported by the lock store.  Holds whose lock has lapsed are
// left out even if the reaper has not reclaimed them yet.
func (s *BookingService) MyHolds(ctx context.Context, eventID uint64, user string) ([]model.SeatHold, error) {
	seats, err := retryValue(ctx, s.retry, func() ([]model.Seat, error) {
		return s.store.ListHeldByUser(ctx, eventID, user)
	})
	if err != nil {
		return nil, err
	}
	holds := []model.SeatHold{}
	for _, seat := range seats {
		in, err := s.inspect(ctx, seat.ID)
		if err != nil {
			return nil, err
		}
		if !in.found || in.entry.Holder != user {
			continue
		}
		h := model.SeatHold{SeatID: seat.ID, SeatLabel: seat.Label, ExpiresAt: in.entry.ExpiresAt, ExpiresIn: in.entry.TTL}
		if b, err := s.latestBooking(ctx, seat.ID, user); err == nil && b.Status == model.BookingPending {
			h.BookingID = b.ID
		}
		holds = append(holds, h)
	}
	return holds, nil
}

// MyBookings lists user's bookings, newest first.
func (s *BookingService) MyBookings(ctx context.Context, user string) ([]model.Booking, error) {
	return retryValue(ctx, s.retry, func() ([]model.Booking, error) {
		return s.store.ListBookingsByUser(ctx, user)
	})
}

// Booking returns one booking to its owner or an admin.
func (s *BookingService) Booking(ctx context.Context, id uint64, caller model.Caller) (model.Booking, error) {
	b, err := retryValue(ctx, s.retry, func() (model.Booking, error) {
		return s.store.GetBooking(ctx, id)
	})
	if err != nil {
		return model.Booking{}, err
	}
	if b.UserID != caller.UserID && !caller.IsAdmin() {
		return model.Booking{}, errs.Wrapf(errs.ErrNotOwner, "booking %d", id)
	}
	return b, nil
}

// Provision creates the seats of an event laid out for category.
func (s *BookingService) Provision(ctx context.Context, eventID uint64, category provision.Category, total int) (int, error) {
	labels, err := provision.Labels(category, total)
	if err != nil {
		return 0, err
	}
	n, err := retryValue(ctx, s.retry, func() (int, error) {
		return s.store.CreateSeats(ctx, eventID, labels)
	})
	if errors.Is(err, repository.ErrVersionConflict) {
		return 0, errs.Wrapf(errs.ErrAlreadyExists, "seats of event %d", eventID)
	}
	if err != nil {
		return 0, err
	}
	s.log.Info("event provisioned", "event_id", eventID, "category", category, "seats", n)
	return n, nil
}

func (s *BookingService) getSeat(ctx context.Context, id uint64) (model.Seat, error) {
	return retryValue(ctx, s.retry, func() (model.Seat, error) {
		return s.store.GetSeat(ctx, id)
	})
}

func (s *BookingService) latestBooking(ctx context.Context, seatID uint64, user string) (model.Booking, error) {
	return retryValue(ctx, s.retry, func() (model.Booking, error) {
		return s.store.LatestBooking(ctx, seatID, user)
	})
}

func (s *BookingService) inspect(ctx context.Context, seatID uint64) (inspected, error) {
	return retryValue(ctx, s.retry, func() (inspected, error) {
		e, ok, err := s.locks.Inspect(ctx, seatID)
		return inspected{e, ok}, err
	})
}

// commit applies tr, retrying transient failures.  A failure reported
// after the write actually landed makes the retry lose the version check
// against our own write; in that case the stored state is compared with tr
// and a match counts as success.
func (s *BookingService) commit(ctx context.Context, tr repository.Transition) error {
	uncertain := false
	err := s.retry.do(ctx, func() error {
		err := s.store.Commit(ctx, tr)
		if errs.IsUnavailable(err) {
			uncertain = true
		}
		return err
	})
	if uncertain && errors.Is(err, repository.ErrVersionConflict) {
		landed, lerr := s.landed(ctx, tr)
		if lerr != nil {
			return lerr
		}
		if landed {
			s.log.Warn("commit acknowledged late, write had landed", "seat_id", tr.Seat.ID, "version", tr.Seat.Version)
			return nil
		}
	}
	return err
}

// landed reports whether the store already holds the outcome of tr.  The
// seat version is unique per transition, so version, status and holder
// together identify our write.
func (s *BookingService) landed(ctx context.Context, tr repository.Transition) (bool, error) {
	cur, err := s.getSeat(ctx, tr.Seat.ID)
	if err != nil {
		return false, err
	}
	if cur.Version != tr.Seat.Version || cur.Status != tr.Seat.Status || cur.Holder() != tr.Seat.Holder() {
		return false, nil
	}
	switch {
	case tr.NewBooking != nil:
		b, err := s.latestBooking(ctx, tr.Seat.ID, tr.NewBooking.UserID)
		if errs.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if b.Status != tr.NewBooking.Status {
			return false, nil
		}
		*tr.NewBooking = b
	case tr.BookingID != 0:
		b, err := retryValue(ctx, s.retry, func() (model.Booking, error) {
			return s.store.GetBooking(ctx, tr.BookingID)
		})
		if err != nil {
			return false, err
		}
		if b.Status != tr.BookingTo {
			return false, nil
		}
	}
	return true, nil
}

func (s *BookingService) releaseQuietly(ctx context.Context, seatID uint64, holder string) {
	out, err := s.locks.Release(ctx, seatID, holder)
	if err != nil {
		s.log.Warn("release seat lock failed", "seat_id", seatID, "user_id", holder, "error", err)
		return
	}
	s.log.Debug("seat lock released", "seat_id", seatID, "user_id", holder, "outcome", out.String())
}

// published notifies observers of a committed transition.  The write has
// already happened, so a failed notification is logged and not returned.
func (s *BookingService) published(ctx context.Context, seat model.Seat, kind queue.BookingEventKind, bookingID uint64) {
	now := s.opts.Now()
	if err := s.notify.Publish(ctx, model.NewSeatEvent(seat, now)); err != nil {
		s.log.Warn("publish seat event failed", "seat_id", seat.ID, "status", seat.Status, "error", err)
	}
	if s.audit == nil {
		return
	}
	ev := queue.BookingEvent{
		Kind: kind, BookingID: bookingID, UserID: seat.Holder(), EventID: seat.EventID,
		SeatID: seat.ID, SeatLabel: seat.Label, SeatVersion: seat.Version, At: now,
	}
	go func(ctx context.Context) {
		if err := s.audit.PublishBookingEvent(ctx, ev); err != nil {
			s.log.Warn("publish booking event failed", "booking_id", bookingID, "kind", kind, "error", err)
		}
	}(context.WithoutCancel(ctx))
}

type inspected struct {
	entry lock.Entry
	found bool
}
