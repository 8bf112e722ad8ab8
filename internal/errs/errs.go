// Package errs holds the error taxonomy shared by the lock coordinator, the
// durable store and the booking orchestrator. Every sentinel can be matched
// with the standard errors.Is; wrapping keeps stack traces via cockroachdb/errors.
package errs

import (
	"fmt"
	"strings"

	cr "github.com/cockroachdb/errors"
)

var (
	// ErrLockConflict means the seat is held or booked by another party.
	// It is an expected outcome, not a fault, and never names the holder.
	ErrLockConflict = cr.New("seat is unavailable")

	// ErrLockExpired is returned when a confirm arrives after the hold lapsed.
	ErrLockExpired = cr.New("hold expired")

	// ErrNotOwner is returned when the caller does not own the hold or booking.
	ErrNotOwner = cr.New("not owner")

	// ErrInvalidTransition is returned when an event is not legal in the
	// seat's or booking's current state.
	ErrInvalidTransition = cr.New("invalid transition")

	// ErrNotFound is returned for unknown seats and bookings.
	ErrNotFound = cr.New("not found")

	// ErrAlreadyExists is returned when provisioning would duplicate seats.
	ErrAlreadyExists = cr.New("already exists")

	// ErrStoreUnavailable marks failures talking to Redis, MySQL or the
	// fan-out transport. Operations fail closed on it.
	ErrStoreUnavailable = cr.New("store unavailable")
)

// Wrap annotates err with msg and a stack trace. Wrap(nil, ...) is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return cr.Wrapf(err, format, args...)
}

// Unavailable classifies cause as ErrStoreUnavailable. The resulting error
// matches errors.Is(err, ErrStoreUnavailable); the original cause is kept as
// a secondary error so it shows up in %+v output.
func Unavailable(cause error, msg string) error {
	if cause == nil {
		return nil
	}
	if cr.Is(cause, ErrStoreUnavailable) {
		return cr.Wrap(cause, msg)
	}
	return cr.WithSecondaryError(cr.Wrapf(ErrStoreUnavailable, "%s: %v", msg, cause), cause)
}

// IsUnavailable reports whether err is (or wraps) ErrStoreUnavailable.
func IsUnavailable(err error) bool {
	return cr.Is(err, ErrStoreUnavailable)
}

// Is is cr.Is re-exported so callers need a single errors import.
func Is(err, target error) bool {
	return cr.Is(err, target)
}

// ExtractStackLines renders err with its stack and keeps the first maxLines
// lines. Used when logging unexpected failures.
func ExtractStackLines(err error, maxLines int) []string {
	if err == nil {
		return nil
	}
	lines := strings.Split(fmt.Sprintf("%+v", err), "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
