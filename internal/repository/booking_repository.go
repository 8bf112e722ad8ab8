package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

const bookingColumns = `id, user_id, seat_id, event_id, status, created_at, updated_at`

func scanBooking(r rowScanner) (model.Booking, error) {
	var (
		b      model.Booking
		status string
	)
	err := r.Scan(&b.ID, &b.UserID, &b.SeatID, &b.EventID, &status, &b.CreatedAt, &b.UpdatedAt)
	b.Status = model.BookingStatus(status)
	return b, err
}

func insertBooking(ctx context.Context, tx *sql.Tx, b *model.Booking, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (user_id, seat_id, event_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.UserID, b.SeatID, b.EventID, string(b.Status), at, at)
	if err != nil {
		return classify(err, "insert booking")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err, "insert booking")
	}
	b.ID = uint64(id)
	b.CreatedAt = at
	b.UpdatedAt = at
	return nil
}

func moveBooking(ctx context.Context, tx *sql.Tx, id uint64, from, to model.BookingStatus, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at, id, string(from))
	if err != nil {
		return classify(err, "update booking")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "update booking")
	}
	if n == 0 {
		return errs.Wrapf(ErrVersionConflict, "booking %d not %s", id, from)
	}
	return nil
}

func (s *SQLStore) GetBooking(ctx context.Context, id uint64) (model.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return b, errs.Wrapf(errs.ErrNotFound, "booking %d", id)
	}
	return b, classify(err, "get booking")
}

func (s *SQLStore) LatestBooking(ctx context.Context, seatID uint64, userID string) (model.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE seat_id = ? AND user_id = ? ORDER BY id DESC LIMIT 1`,
		seatID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return b, errs.Wrapf(errs.ErrNotFound, "booking for seat %d", seatID)
	}
	return b, classify(err, "latest booking")
}

func (s *SQLStore) ListBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, classify(err, "list bookings")
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, classify(err, "list bookings")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list bookings")
	}
	return out, nil
}
