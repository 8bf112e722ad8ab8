package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/middleware"
	"github.com/iliyamo/seat-arbiter/internal/model"
	"github.com/iliyamo/seat-arbiter/internal/provision"
)

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "message": msg})
}

func caller(c echo.Context) (model.Caller, bool) {
	return middleware.CallerFrom(c)
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing caller"})
}

// errorStatus maps the error taxonomy to an HTTP status and a stable code.
// A lock conflict never carries the current holder.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, errs.ErrLockConflict):
		return http.StatusConflict, "lock_conflict", "seat is held or booked by another user"
	case errors.Is(err, errs.ErrLockExpired):
		return http.StatusGone, "lock_expired", "hold has expired"
	case errors.Is(err, errs.ErrNotOwner):
		return http.StatusForbidden, "not_owner", "caller does not own this hold or booking"
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "operation not allowed in the current state"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "already_exists", "resource already exists"
	case errors.Is(err, provision.ErrInvalidLayout):
		return http.StatusBadRequest, "invalid_layout", err.Error()
	case errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

func respondError(c echo.Context, log *slog.Logger, op string, err error) error {
	status, code, msg := errorStatus(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.Error(op+" failed", "error", err, "stack", errs.ExtractStackLines(err, 8))
	default:
		log.Debug(op+" rejected", "code", code, "error", err)
	}
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}
