package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-arbiter/internal/model"
	"github.com/iliyamo/seat-arbiter/internal/provision"
	"github.com/iliyamo/seat-arbiter/internal/service"
)

// Bookings is the orchestrator surface used by the HTTP layer;
// *service.BookingService implements it.
type Bookings interface {
	Hold(ctx context.Context, seatID uint64, user string) (service.HoldResult, error)
	Confirm(ctx context.Context, seatID uint64, user string) (service.ConfirmResult, error)
	Cancel(ctx context.Context, bookingID uint64, caller model.Caller) (service.CancelResult, error)
	Booking(ctx context.Context, id uint64, caller model.Caller) (model.Booking, error)
	MyBookings(ctx context.Context, user string) ([]model.Booking, error)
	Seats(ctx context.Context, eventID uint64) ([]model.Seat, error)
	MyHolds(ctx context.Context, eventID uint64, user string) ([]model.SeatHold, error)
	Provision(ctx context.Context, eventID uint64, category provision.Category, total int) (int, error)
}

// BookingHandler serves the seat and booking endpoints.  Identity is
// established by the JWT middleware before any method runs.
type BookingHandler struct {
	Svc Bookings
	Log *slog.Logger
}

func NewBookingHandler(svc Bookings, log *slog.Logger) *BookingHandler {
	if svc == nil {
		panic("nil booking service passed to NewBookingHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &BookingHandler{Svc: svc, Log: log}
}

// Hold handles POST /v1/seats/:id/hold.
func (h *BookingHandler) Hold(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	seatID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid seat id")
	}
	res, err := h.Svc.Hold(c.Request().Context(), seatID, who.UserID)
	if err != nil {
		return respondError(c, h.Log, "hold", err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Confirm handles POST /v1/seats/:id/confirm.
func (h *BookingHandler) Confirm(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	seatID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid seat id")
	}
	res, err := h.Svc.Confirm(c.Request().Context(), seatID, who.UserID)
	if err != nil {
		return respondError(c, h.Log, "confirm", err)
	}
	return c.JSON(http.StatusOK, res)
}

// Cancel handles POST /v1/bookings/:id/cancel.
func (h *BookingHandler) Cancel(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	bookingID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	res, err := h.Svc.Cancel(c.Request().Context(), bookingID, who)
	if err != nil {
		return respondError(c, h.Log, "cancel", err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetBooking handles GET /v1/bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	bookingID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.Svc.Booking(c.Request().Context(), bookingID, who)
	if err != nil {
		return respondError(c, h.Log, "get booking", err)
	}
	return c.JSON(http.StatusOK, b)
}

// MyBookings handles GET /v1/my-bookings.
func (h *BookingHandler) MyBookings(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	list, err := h.Svc.MyBookings(c.Request().Context(), who.UserID)
	if err != nil {
		return respondError(c, h.Log, "list bookings", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": list})
}

// Seats handles GET /v1/events/:id/seats.  It is public.
func (h *BookingHandler) Seats(c echo.Context) error {
	eventID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid event id")
	}
	seats, err := h.Svc.Seats(c.Request().Context(), eventID)
	if err != nil {
		return respondError(c, h.Log, "list seats", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": eventID, "seats": model.Snapshot(seats)})
}

type holdView struct {
	model.SeatHold
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
}

// MyHolds handles GET /v1/events/:id/my-holds.
func (h *BookingHandler) MyHolds(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	eventID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid event id")
	}
	holds, err := h.Svc.MyHolds(c.Request().Context(), eventID, who.UserID)
	if err != nil {
		return respondError(c, h.Log, "list holds", err)
	}
	out := make([]holdView, 0, len(holds))
	for _, hd := range holds {
		out = append(out, holdView{SeatHold: hd, ExpiresInSeconds: int64(hd.ExpiresIn.Seconds())})
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": eventID, "holds": out})
}

// Provision handles POST /v1/admin/events/:id/seats.
func (h *BookingHandler) Provision(c echo.Context) error {
	eventID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid event id")
	}
	var body struct {
		Category string `json:"category"`
		Total    int    `json:"total"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	n, err := h.Svc.Provision(c.Request().Context(), eventID, provision.Category(body.Category), body.Total)
	if err != nil {
		return respondError(c, h.Log, "provision", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"event_id": eventID, "category": body.Category, "created": n})
}
