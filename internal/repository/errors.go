// Package repository is the durable store of seats and bookings.  Writes go
// through Commit, which applies a seat transition with an optimistic
// compare-and-swap on the seat version together with the matching booking
// change in one transaction.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	cr "github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/seat-arbiter/internal/errs"
)

// ErrVersionConflict is returned by Commit when the seat version or the
// booking status no longer matches what the caller read.  Callers re-read
// and re-evaluate the transition.
var ErrVersionConflict = cr.New("version conflict")

// MySQL server error numbers the store reacts to.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// classify maps a database/sql error to the store's error taxonomy.
// A duplicate key on the confirmed-booking index means another writer won
// and is reported as a version conflict.  Connection loss, timeouts and
// lock waits are errs.ErrStoreUnavailable and may be retried.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) || errs.Is(err, errs.ErrNotFound) {
		return err
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return cr.Wrap(ErrVersionConflict, msg)
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return errs.Unavailable(err, msg)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || isNetError(err) {
		return errs.Unavailable(err, msg)
	}
	return errs.Wrap(err, msg)
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, mysql.ErrInvalidConn)
}
