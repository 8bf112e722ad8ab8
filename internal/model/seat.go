package model

import "time"

// SeatStatus is the availability state of a seat.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatHeld      SeatStatus = "held"
	SeatBooked    SeatStatus = "booked"
)

// Seat is the durable record of one reservable seat of an event.  The
// record is the display and history authority; mutual exclusion lives in
// the lock store and this row may lag a lapsed lock until the reaper (or
// the next hold) reconciles it.
//
// Fields:
//  ID            – primary key identifier.
//  EventID       – event (resource group) the seat belongs to.
//  Label         – human readable seat number such as "A12" or "VIP-3".
//  Status        – available, held or booked.
//  HolderID      – user holding or owning the seat (nil when available).
//  HoldExpiresAt – end of the hold (nil unless held).
//  Version       – incremented on every transition; the CAS token for writes.
//  UpdatedAt     – timestamp of the last transition.
type Seat struct {
	ID            uint64     // seats.id
	EventID       uint64     // seats.event_id
	Label         string     // seats.label
	Status        SeatStatus // seats.status
	HolderID      *string    // seats.holder_id (nullable)
	HoldExpiresAt *time.Time // seats.hold_expires_at (nullable)
	Version       uint64     // seats.version
	UpdatedAt     time.Time  // seats.updated_at
}

// Holder returns the holder id or "" when the seat is unheld.
func (s Seat) Holder() string {
	if s.HolderID == nil {
		return ""
	}
	return *s.HolderID
}

// HeldBy reports whether user is the seat's current holder or owner.
func (s Seat) HeldBy(user string) bool {
	return s.HolderID != nil && *s.HolderID == user
}

// HoldLapsed reports whether the seat is held and its hold ended at or
// before now.
func (s Seat) HoldLapsed(now time.Time) bool {
	return s.Status == SeatHeld && s.HoldExpiresAt != nil && !now.Before(*s.HoldExpiresAt)
}
