package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

// Terminal reports whether no further transition is allowed from s.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingExpired
}

// Booking records one user's claim on one seat.  It is created pending
// when the hold is granted and ends as confirmed-then-cancelled or expired.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owning user.
//  SeatID    – seat being booked.
//  EventID   – event of the seat, denormalised for listing.
//  Status    – pending, confirmed, cancelled or expired.
//  CreatedAt – creation timestamp (hold time).
//  UpdatedAt – last status change.
type Booking struct {
	ID        uint64        `json:"id"`         // bookings.id
	UserID    string        `json:"user_id"`    // bookings.user_id
	SeatID    uint64        `json:"seat_id"`    // bookings.seat_id
	EventID   uint64        `json:"event_id"`   // bookings.event_id
	Status    BookingStatus `json:"status"`     // bookings.status
	CreatedAt time.Time     `json:"created_at"` // bookings.created_at
	UpdatedAt time.Time     `json:"updated_at"` // bookings.updated_at
}
