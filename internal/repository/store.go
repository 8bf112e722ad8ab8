package repository

import (
	"context"
	"time"

	"github.com/iliyamo/seat-arbiter/internal/model"
)

// Transition is one committed seat state change and its booking side
// effect.  Seat carries the next state as produced by the state machine;
// FromVersion is the version the caller read.
//
// At most one of NewBooking and BookingID is set.  NewBooking is inserted
// and receives its generated ID.  BookingID moves an existing booking from
// BookingFrom to BookingTo, failing with ErrVersionConflict if its status
// has changed.
type Transition struct {
	Seat        model.Seat
	FromVersion uint64

	NewBooking *model.Booking

	BookingID   uint64
	BookingFrom model.BookingStatus
	BookingTo   model.BookingStatus
}

// Store is the durable seat and booking store.
type Store interface {
	// GetSeat returns the seat or an error matching errs.ErrNotFound.
	GetSeat(ctx context.Context, id uint64) (model.Seat, error)
	// ListSeatsByEvent returns the seats of an event ordered by id.
	ListSeatsByEvent(ctx context.Context, eventID uint64) ([]model.Seat, error)
	// ListLapsedHolds returns up to limit held seats whose hold ended at or
	// before now, oldest first.
	ListLapsedHolds(ctx context.Context, now time.Time, limit int) ([]model.Seat, error)
	// ListHeldByUser returns seats of an event held by userID.
	ListHeldByUser(ctx context.Context, eventID uint64, userID string) ([]model.Seat, error)
	// CreateSeats provisions available seats for an event.  Labels already
	// present for the event fail the whole batch.
	CreateSeats(ctx context.Context, eventID uint64, labels []string) (int, error)

	GetBooking(ctx context.Context, id uint64) (model.Booking, error)
	// LatestBooking returns the most recent booking of userID on seatID.
	LatestBooking(ctx context.Context, seatID uint64, userID string) (model.Booking, error)
	ListBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error)

	// Commit applies tr atomically.
	Commit(ctx context.Context, tr Transition) error

	Ping(ctx context.Context) error
}
