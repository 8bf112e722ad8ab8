package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

// MemoryStore is an in-process Store.  It enforces the same version CAS
// and single-confirmed-booking rules as the MySQL schema and backs local
// runs (STORE_DRIVER=memory) and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	seats    map[uint64]model.Seat
	bookings map[uint64]model.Booking
	labels   map[uint64]map[string]struct{} // event -> labels
	nextSeat uint64
	nextBook uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seats:    make(map[uint64]model.Seat),
		bookings: make(map[uint64]model.Booking),
		labels:   make(map[uint64]map[string]struct{}),
	}
}

// PutSeat stores s as is, replacing any seat with the same id.
func (m *MemoryStore) PutSeat(s model.Seat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seats[s.ID] = cloneSeat(s)
	if m.labels[s.EventID] == nil {
		m.labels[s.EventID] = make(map[string]struct{})
	}
	m.labels[s.EventID][s.Label] = struct{}{}
	if s.ID > m.nextSeat {
		m.nextSeat = s.ID
	}
}

func (m *MemoryStore) GetSeat(_ context.Context, id uint64) (model.Seat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.seats[id]
	if !ok {
		return model.Seat{}, errs.Wrapf(errs.ErrNotFound, "seat %d", id)
	}
	return cloneSeat(s), nil
}

func (m *MemoryStore) filterSeats(keep func(model.Seat) bool) []model.Seat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Seat
	for _, s := range m.seats {
		if keep(s) {
			out = append(out, cloneSeat(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) ListSeatsByEvent(_ context.Context, eventID uint64) ([]model.Seat, error) {
	return m.filterSeats(func(s model.Seat) bool { return s.EventID == eventID }), nil
}

func (m *MemoryStore) ListLapsedHolds(_ context.Context, now time.Time, limit int) ([]model.Seat, error) {
	out := m.filterSeats(func(s model.Seat) bool { return s.HoldLapsed(now) })
	sort.SliceStable(out, func(i, j int) bool { return out[i].HoldExpiresAt.Before(*out[j].HoldExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListHeldByUser(_ context.Context, eventID uint64, userID string) ([]model.Seat, error) {
	return m.filterSeats(func(s model.Seat) bool {
		return s.EventID == eventID && s.Status == model.SeatHeld && s.HeldBy(userID)
	}), nil
}

func (m *MemoryStore) CreateSeats(_ context.Context, eventID uint64, labels []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.labels[eventID]
	if existing == nil {
		existing = make(map[string]struct{})
	}
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if _, dup := existing[l]; dup {
			return 0, errs.Wrapf(ErrVersionConflict, "seat %q already exists", l)
		}
		if _, dup := seen[l]; dup {
			return 0, errs.Wrapf(ErrVersionConflict, "seat %q listed twice", l)
		}
		seen[l] = struct{}{}
	}
	for _, l := range labels {
		m.nextSeat++
		m.seats[m.nextSeat] = model.Seat{ID: m.nextSeat, EventID: eventID, Label: l, Status: model.SeatAvailable}
		existing[l] = struct{}{}
	}
	m.labels[eventID] = existing
	return len(labels), nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id uint64) (model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return model.Booking{}, errs.Wrapf(errs.ErrNotFound, "booking %d", id)
	}
	return b, nil
}

func (m *MemoryStore) LatestBooking(_ context.Context, seatID uint64, userID string) (model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		latest model.Booking
		found  bool
	)
	for _, b := range m.bookings {
		if b.SeatID == seatID && b.UserID == userID && (!found || b.ID > latest.ID) {
			latest, found = b, true
		}
	}
	if !found {
		return model.Booking{}, errs.Wrapf(errs.ErrNotFound, "booking for seat %d", seatID)
	}
	return latest, nil
}

func (m *MemoryStore) ListBookingsByUser(_ context.Context, userID string) ([]model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Booking{}
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) Commit(_ context.Context, tr Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.seats[tr.Seat.ID]
	if !ok || cur.Version != tr.FromVersion {
		return errs.Wrapf(ErrVersionConflict, "seat %d at version %d", tr.Seat.ID, tr.FromVersion)
	}
	at := tr.Seat.UpdatedAt.UTC()

	var moved model.Booking
	if tr.BookingID != 0 {
		b, ok := m.bookings[tr.BookingID]
		if !ok || b.Status != tr.BookingFrom {
			return errs.Wrapf(ErrVersionConflict, "booking %d not %s", tr.BookingID, tr.BookingFrom)
		}
		if tr.BookingTo == model.BookingConfirmed && m.hasConfirmed(b.SeatID) {
			return errs.Wrapf(ErrVersionConflict, "seat %d already confirmed", b.SeatID)
		}
		b.Status = tr.BookingTo
		b.UpdatedAt = at
		moved = b
	}
	if tr.NewBooking != nil && tr.NewBooking.Status == model.BookingConfirmed && m.hasConfirmed(tr.NewBooking.SeatID) {
		return errs.Wrapf(ErrVersionConflict, "seat %d already confirmed", tr.NewBooking.SeatID)
	}

	m.seats[tr.Seat.ID] = cloneSeat(tr.Seat)
	if moved.ID != 0 {
		m.bookings[moved.ID] = moved
	}
	if tr.NewBooking != nil {
		m.nextBook++
		tr.NewBooking.ID = m.nextBook
		tr.NewBooking.CreatedAt = at
		tr.NewBooking.UpdatedAt = at
		m.bookings[m.nextBook] = *tr.NewBooking
	}
	return nil
}

func (m *MemoryStore) hasConfirmed(seatID uint64) bool {
	for _, b := range m.bookings {
		if b.SeatID == seatID && b.Status == model.BookingConfirmed {
			return true
		}
	}
	return false
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// cloneSeat copies the pointer fields so callers cannot mutate stored state.
func cloneSeat(s model.Seat) model.Seat {
	if s.HolderID != nil {
		h := *s.HolderID
		s.HolderID = &h
	}
	if s.HoldExpiresAt != nil {
		t := *s.HoldExpiresAt
		s.HoldExpiresAt = &t
	}
	return s
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
