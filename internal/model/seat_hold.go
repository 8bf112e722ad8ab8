package model

import "time"

// SeatHold is a read view of a live hold owned by the caller.  It joins
// the durable seat with the remaining lifetime reported by the lock store,
// which is authoritative for expiry.
//
// Fields:
//  SeatID    – held seat.
//  SeatLabel – label of the held seat.
//  BookingID – pending booking created with the hold (0 if not found).
//  ExpiresAt – when the lock entry lapses.
//  ExpiresIn – remaining lifetime at read time.
type SeatHold struct {
	SeatID    uint64        `json:"seat_id"`
	SeatLabel string        `json:"seat_label"`
	BookingID uint64        `json:"booking_id,omitempty"`
	ExpiresAt time.Time     `json:"expires_at"`
	ExpiresIn time.Duration `json:"-"`
}
