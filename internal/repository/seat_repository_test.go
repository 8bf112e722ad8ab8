package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

var (
	seatCols    = []string{"id", "event_id", "label", "status", "holder_id", "hold_expires_at", "version", "updated_at"}
	bookingCols = []string{"id", "user_id", "seat_id", "event_id", "status", "created_at", "updated_at"}
	ts          = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewSQLStore(db), mock
}

func TestSQLStore_GetSeat(t *testing.T) {
	s, mock := newMockStore(t)
	exp := ts.Add(5 * time.Minute)
	mock.ExpectQuery(`SELECT .+ FROM seats WHERE id = \?`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(seatCols).AddRow(7, 9, "A1", "held", "u1", exp, 4, ts))

	seat, err := s.GetSeat(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, seat.Status)
	assert.Equal(t, "u1", seat.Holder())
	require.NotNil(t, seat.HoldExpiresAt)
	assert.Equal(t, exp, *seat.HoldExpiresAt)
	assert.Equal(t, uint64(4), seat.Version)
}

func TestSQLStore_GetSeat_NullColumns(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM seats WHERE id = \?`).
		WillReturnRows(sqlmock.NewRows(seatCols).AddRow(7, 9, "A1", "available", nil, nil, 0, ts))

	seat, err := s.GetSeat(context.Background(), 7)

	require.NoError(t, err)
	assert.Nil(t, seat.HolderID)
	assert.Nil(t, seat.HoldExpiresAt)
}

func TestSQLStore_GetSeat_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM seats WHERE id = \?`).
		WillReturnRows(sqlmock.NewRows(seatCols))

	_, err := s.GetSeat(context.Background(), 7)

	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSQLStore_GetSeat_ConnectionLost(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM seats`).WillReturnError(mysql.ErrInvalidConn)

	_, err := s.GetSeat(context.Background(), 7)

	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestSQLStore_ListLapsedHolds(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE status = 'held' AND hold_expires_at <= \?`).
		WithArgs(ts, 500).
		WillReturnRows(sqlmock.NewRows(seatCols).
			AddRow(1, 9, "A1", "held", "u1", ts.Add(-time.Minute), 1, ts).
			AddRow(2, 9, "A2", "held", "u2", ts.Add(-time.Second), 3, ts))

	seats, err := s.ListLapsedHolds(context.Background(), ts, 500)

	require.NoError(t, err)
	require.Len(t, seats, 2)
	assert.Equal(t, "u2", seats[1].Holder())
}

func TestSQLStore_CreateSeats(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO seats \(event_id, label, status, version\) VALUES \(\?, \?, 'available', 0\),\(\?, \?, 'available', 0\)$`).
		WithArgs(9, "A1", 9, "A2").
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	n, err := s.CreateSeats(context.Background(), 9, []string{"A1", "A2"})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLStore_CreateSeats_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO seats`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '9-A1'"})
	mock.ExpectRollback()

	_, err := s.CreateSeats(context.Background(), 9, []string{"A1"})

	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSQLStore_CreateSeats_SplitsLargeBatch(t *testing.T) {
	s, mock := newMockStore(t)
	labels := make([]string, 40000)
	for i := range labels {
		labels[i] = fmt.Sprintf("S%d", i+1)
	}
	row := `\(\?, \?, 'available', 0\)`
	chunk := `^INSERT INTO seats \(event_id, label, status, version\) VALUES ` + row + `(,` + row + `){999}$`
	mock.ExpectBegin()
	for i := 0; i < 40; i++ {
		mock.ExpectExec(chunk).WillReturnResult(sqlmock.NewResult(0, 1000))
	}
	mock.ExpectCommit()

	n, err := s.CreateSeats(context.Background(), 9, labels)

	require.NoError(t, err)
	assert.Equal(t, 40000, n)
}

func TestSQLStore_CreateSeats_LaterChunkFailsRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	labels := make([]string, 1500)
	for i := range labels {
		labels[i] = fmt.Sprintf("S%d", i+1)
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO seats`).WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec(`INSERT INTO seats`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '9-S1200'"})
	mock.ExpectRollback()

	_, err := s.CreateSeats(context.Background(), 9, labels)

	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSQLStore_Commit_HoldInsertsBooking(t *testing.T) {
	s, mock := newMockStore(t)
	exp := ts.Add(5 * time.Minute)
	holder := "u1"
	next := model.Seat{ID: 7, EventID: 9, Label: "A1", Status: model.SeatHeld, HolderID: &holder,
		HoldExpiresAt: &exp, Version: 1, UpdatedAt: ts}
	nb := &model.Booking{UserID: "u1", SeatID: 7, EventID: 9, Status: model.BookingPending}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE seats SET .+ WHERE id = \? AND version = \?`).
		WithArgs("held", "u1", exp, 1, ts, 7, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bookings`).
		WithArgs("u1", 7, 9, "pending", ts, ts).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	err := s.Commit(context.Background(), Transition{Seat: next, FromVersion: 0, NewBooking: nb})

	require.NoError(t, err)
	assert.Equal(t, uint64(42), nb.ID)
	assert.Equal(t, ts, nb.CreatedAt)
}

func TestSQLStore_Commit_VersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	next := model.Seat{ID: 7, Status: model.SeatAvailable, Version: 5, UpdatedAt: ts}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE seats SET`).
		WithArgs("available", nil, nil, 5, ts, 7, 4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), Transition{Seat: next, FromVersion: 4})

	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSQLStore_Commit_BookingStatusChanged(t *testing.T) {
	s, mock := newMockStore(t)
	holder := "u1"
	next := model.Seat{ID: 7, Status: model.SeatBooked, HolderID: &holder, Version: 2, UpdatedAt: ts}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE seats SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bookings SET status = \?, updated_at = \? WHERE id = \? AND status = \?`).
		WithArgs("confirmed", ts, 42, "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), Transition{
		Seat: next, FromVersion: 1,
		BookingID: 42, BookingFrom: model.BookingPending, BookingTo: model.BookingConfirmed,
	})

	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSQLStore_Commit_DuplicateConfirmed(t *testing.T) {
	s, mock := newMockStore(t)
	holder := "u1"
	next := model.Seat{ID: 7, Status: model.SeatBooked, HolderID: &holder, Version: 2, UpdatedAt: ts}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE seats SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bookings SET`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'uq_bookings_confirmed_seat'"})
	mock.ExpectRollback()

	err := s.Commit(context.Background(), Transition{
		Seat: next, FromVersion: 1,
		BookingID: 42, BookingFrom: model.BookingPending, BookingTo: model.BookingConfirmed,
	})

	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSQLStore_Commit_Deadlock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE seats SET`).
		WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	mock.ExpectRollback()

	err := s.Commit(context.Background(), Transition{Seat: model.Seat{ID: 7, UpdatedAt: ts}})

	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestSQLStore_LatestBooking(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM bookings WHERE seat_id = \? AND user_id = \? ORDER BY id DESC LIMIT 1`).
		WithArgs(7, "u1").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(42, "u1", 7, 9, "pending", ts, ts))

	b, err := s.LatestBooking(context.Background(), 7, "u1")

	require.NoError(t, err)
	assert.Equal(t, uint64(42), b.ID)
	assert.Equal(t, model.BookingPending, b.Status)
}

func TestSQLStore_GetBooking_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(sqlmock.NewRows(bookingCols))

	_, err := s.GetBooking(context.Background(), 42)

	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSQLStore_ListBookingsByUser_Empty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM bookings WHERE user_id = \?`).WillReturnRows(sqlmock.NewRows(bookingCols))

	out, err := s.ListBookingsByUser(context.Background(), "u1")

	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
