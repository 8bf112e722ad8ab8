package model

import "time"

// SeatEventType values of the "type" field on the real-time channel.
const (
	SeatEventUpdate  = "seat_update"
	SeatEventInitial = "initial"
	SeatEventPong    = "pong"
)

// SeatEvent is the notification published after every committed seat
// transition.  Holder is only set for held seats.
type SeatEvent struct {
	Type      string     `json:"type"`
	EventID   uint64     `json:"event_id"`
	SeatID    uint64     `json:"seat_id"`
	SeatLabel string     `json:"seat_label"`
	Status    SeatStatus `json:"status"`
	Holder    string     `json:"holder,omitempty"`
	Version   uint64     `json:"version"`
	At        time.Time  `json:"at"`
}

// NewSeatEvent builds the update message for a seat's committed state.
func NewSeatEvent(s Seat, at time.Time) SeatEvent {
	ev := SeatEvent{
		Type:      SeatEventUpdate,
		EventID:   s.EventID,
		SeatID:    s.ID,
		SeatLabel: s.Label,
		Status:    s.Status,
		Version:   s.Version,
		At:        at.UTC(),
	}
	if s.Status == SeatHeld {
		ev.Holder = s.Holder()
	}
	return ev
}

// SeatSnapshot is a single seat in the initial message sent to a new
// real-time subscriber and in the seat listing endpoint.
type SeatSnapshot struct {
	ID      uint64     `json:"id"`
	Label   string     `json:"seat_label"`
	Status  SeatStatus `json:"status"`
	Version uint64     `json:"version"`
}

// SnapshotMessage is sent once on subscribe.  It carries the current state
// because the channel has no backlog replay.
type SnapshotMessage struct {
	Type    string         `json:"type"`
	EventID uint64         `json:"event_id"`
	Seats   []SeatSnapshot `json:"seats"`
}

// Snapshot converts seats into the public listing form.
func Snapshot(seats []Seat) []SeatSnapshot {
	out := make([]SeatSnapshot, 0, len(seats))
	for _, s := range seats {
		out = append(out, SeatSnapshot{ID: s.ID, Label: s.Label, Status: s.Status, Version: s.Version})
	}
	return out
}
