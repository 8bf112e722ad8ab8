package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

// SQLStore is the MySQL implementation of Store.  All timestamps are
// stored in UTC; the DSN must set parseTime=true.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a SQLStore bound to db.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// DB exposes the underlying handle for migrations and health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

const seatColumns = `id, event_id, label, status, holder_id, hold_expires_at, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeat(r rowScanner) (model.Seat, error) {
	var (
		st      model.Seat
		status  string
		holder  sql.NullString
		expires sql.NullTime
	)
	if err := r.Scan(&st.ID, &st.EventID, &st.Label, &status, &holder, &expires, &st.Version, &st.UpdatedAt); err != nil {
		return st, err
	}
	st.Status = model.SeatStatus(status)
	if holder.Valid {
		h := holder.String
		st.HolderID = &h
	}
	if expires.Valid {
		t := expires.Time.UTC()
		st.HoldExpiresAt = &t
	}
	return st, nil
}

func (s *SQLStore) querySeats(ctx context.Context, msg, q string, args ...any) ([]model.Seat, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err, msg)
	}
	defer rows.Close()
	var out []model.Seat
	for rows.Next() {
		st, err := scanSeat(rows)
		if err != nil {
			return nil, classify(err, msg)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, msg)
	}
	return out, nil
}

func (s *SQLStore) GetSeat(ctx context.Context, id uint64) (model.Seat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = ?`, id)
	st, err := scanSeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return st, errs.Wrapf(errs.ErrNotFound, "seat %d", id)
	}
	return st, classify(err, "get seat")
}

func (s *SQLStore) ListSeatsByEvent(ctx context.Context, eventID uint64) ([]model.Seat, error) {
	return s.querySeats(ctx, "list seats",
		`SELECT `+seatColumns+` FROM seats WHERE event_id = ? ORDER BY id`, eventID)
}

func (s *SQLStore) ListLapsedHolds(ctx context.Context, now time.Time, limit int) ([]model.Seat, error) {
	return s.querySeats(ctx, "list lapsed holds",
		`SELECT `+seatColumns+` FROM seats
		 WHERE status = 'held' AND hold_expires_at <= ?
		 ORDER BY hold_expires_at LIMIT ?`, now.UTC(), limit)
}

func (s *SQLStore) ListHeldByUser(ctx context.Context, eventID uint64, userID string) ([]model.Seat, error) {
	return s.querySeats(ctx, "list holds",
		`SELECT `+seatColumns+` FROM seats
		 WHERE event_id = ? AND status = 'held' AND holder_id = ? ORDER BY id`, eventID, userID)
}

// seatInsertChunk caps rows per INSERT; MySQL allows at most 65535
// placeholders per prepared statement and each row binds two.
const seatInsertChunk = 1000

// CreateSeats inserts labels as available seats in one transaction,
// seatInsertChunk rows per statement.
func (s *SQLStore) CreateSeats(ctx context.Context, eventID uint64, labels []string) (int, error) {
	if len(labels) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err, "begin create seats")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	total := 0
	for start := 0; start < len(labels); start += seatInsertChunk {
		end := min(start+seatInsertChunk, len(labels))
		chunk := labels[start:end]

		var b strings.Builder
		b.WriteString(`INSERT INTO seats (event_id, label, status, version) VALUES `)
		args := make([]any, 0, len(chunk)*2)
		for i, l := range chunk {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString("(?, ?, 'available', 0)")
			args = append(args, eventID, l)
		}
		res, err := tx.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return 0, classify(err, "create seats")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, classify(err, "create seats")
		}
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err, "commit create seats")
	}
	committed = true
	return total, nil
}

// Commit applies tr in one transaction.  The seat row is updated only if
// its version still equals tr.FromVersion.
func (s *SQLStore) Commit(ctx context.Context, tr Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin commit")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	st := tr.Seat
	at := st.UpdatedAt.UTC()
	var expires any
	if st.HoldExpiresAt != nil {
		expires = st.HoldExpiresAt.UTC()
	}
	var holder any
	if st.HolderID != nil {
		holder = *st.HolderID
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE seats SET status = ?, holder_id = ?, hold_expires_at = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(st.Status), holder, expires, st.Version, at, st.ID, tr.FromVersion)
	if err != nil {
		return classify(err, "update seat")
	}
	if n, err := res.RowsAffected(); err != nil {
		return classify(err, "update seat")
	} else if n == 0 {
		return errs.Wrapf(ErrVersionConflict, "seat %d at version %d", st.ID, tr.FromVersion)
	}

	switch {
	case tr.NewBooking != nil:
		if err := insertBooking(ctx, tx, tr.NewBooking, at); err != nil {
			return err
		}
	case tr.BookingID != 0:
		if err := moveBooking(ctx, tx, tr.BookingID, tr.BookingFrom, tr.BookingTo, at); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "commit")
	}
	committed = true
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx), "ping database")
}
