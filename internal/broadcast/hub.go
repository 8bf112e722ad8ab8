// Package broadcast keeps the process-local set of real-time subscribers
// per event and delivers notifications to them.  Cross-instance delivery
// is the fanout package's job; the hub only knows its own connections.
package broadcast

import (
	"log/slog"
	"sync"
)

// Subscriber is one connected observer.  Send must not block: it either
// queues msg for delivery or returns an error, after which the hub drops
// the subscriber.
type Subscriber interface {
	ID() string
	Send(msg []byte) error
}

// Hub maps a group (event id) to its subscribers.  All methods are safe for
// concurrent use.
type Hub struct {
	mu     sync.RWMutex
	groups map[uint64]map[string]Subscriber
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{groups: make(map[uint64]map[string]Subscriber), log: log}
}

// Subscribe adds s to group.  A subscriber with the same ID replaces the
// earlier one.
func (h *Hub) Subscribe(group uint64, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.groups[group]
	if members == nil {
		members = make(map[string]Subscriber)
		h.groups[group] = members
	}
	members[s.ID()] = s
}

// Unsubscribe removes the subscriber with id from group.  Removing an
// unknown subscriber is a no-op.
func (h *Hub) Unsubscribe(group uint64, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(group, id)
}

func (h *Hub) removeLocked(group uint64, id string) {
	members := h.groups[group]
	if members == nil {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Publish delivers msg to every subscriber of group at call time and
// returns how many accepted it.  Subscribers whose Send fails are removed.
func (h *Hub) Publish(group uint64, msg []byte) int {
	h.mu.RLock()
	var (
		delivered int
		failed    []string
	)
	for id, s := range h.groups[group] {
		if err := s.Send(msg); err != nil {
			failed = append(failed, id)
			continue
		}
		delivered++
	}
	h.mu.RUnlock()

	if len(failed) > 0 {
		h.mu.Lock()
		for _, id := range failed {
			h.removeLocked(group, id)
		}
		h.mu.Unlock()
		h.log.Warn("dropped subscribers", "event_id", group, "count", len(failed))
	}
	return delivered
}

// Count returns the number of subscribers of group.
func (h *Hub) Count(group uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
