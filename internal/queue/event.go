// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// DefaultQueue is the durable queue carrying booking lifecycle events.
const DefaultQueue = "booking.events"

// BookingEventKind names the committed transition that produced an event.
type BookingEventKind string

const (
	BookingHeld      BookingEventKind = "held"
	BookingConfirmed BookingEventKind = "confirmed"
	BookingCancelled BookingEventKind = "cancelled"
	BookingExpired   BookingEventKind = "expired"
)

// BookingEvent is published after every committed seat transition.  It
// contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingEvent struct {
	Kind        BookingEventKind `json:"kind"`
	BookingID   uint64           `json:"booking_id,omitempty"`
	UserID      string           `json:"user_id"`
	EventID     uint64           `json:"event_id"`
	SeatID      uint64           `json:"seat_id"`
	SeatLabel   string           `json:"seat_label"`
	SeatVersion uint64           `json:"seat_version"`
	At          time.Time        `json:"at"`
}
