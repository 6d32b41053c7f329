package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/booking"
	"github.com/iliyamo/ticket-booking/internal/middleware"
	"github.com/iliyamo/ticket-booking/internal/model"
)

// BookingHandler serves the customer booking API.  All methods assume
// that JWTAuth has run and return 401 when no user is in the context.
// Customers only see their own bookings; a booking owned by someone else
// is reported as not found.  Admins may act on any booking.
type BookingHandler struct {
	svc *booking.Service
	log *zap.Logger
}

// NewBookingHandler constructs a BookingHandler.  svc must be non-nil.
func NewBookingHandler(svc *booking.Service, log *zap.Logger) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingHandler{svc: svc, log: log}
}

type createBookingRequest struct {
	EventID     uint64   `json:"event_id" validate:"required"`
	Quantity    int      `json:"quantity"`
	SeatNumbers []string `json:"seat_numbers"`
	Notes       string   `json:"customer_notes" validate:"max=1000"`
}

type confirmRequest struct {
	PaymentMethod    string `json:"payment_method" validate:"max=50"`
	PaymentReference string `json:"payment_reference" validate:"max=255"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Create handles POST /v1/bookings.  Quantity and seat labels are checked
// by the booking service so that their rejections carry specific codes.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createBookingRequest
	if msg := decode(c, &req); msg != "" {
		return badRequest(c, msg)
	}
	b, err := h.svc.CreateBooking(c.Request().Context(), booking.Request{
		UserID:      userID,
		EventID:     req.EventID,
		Quantity:    req.Quantity,
		SeatNumbers: req.SeatNumbers,
		Notes:       req.Notes,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// Confirm handles POST|PUT /v1/bookings/:id/confirm.  The body is optional.
func (h *BookingHandler) Confirm(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	var req confirmRequest
	if msg := decode(c, &req); msg != "" {
		return badRequest(c, msg)
	}
	b, err = h.svc.Confirm(c.Request().Context(), b.ID, booking.Payment{
		Method:    req.PaymentMethod,
		Reference: req.PaymentReference,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles POST|PUT /v1/bookings/:id/cancel.  An empty reason is
// recorded as "cancelled by user".
func (h *BookingHandler) Cancel(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	var req cancelRequest
	if msg := decode(c, &req); msg != "" {
		return badRequest(c, msg)
	}
	b, err = h.svc.Cancel(c.Request().Context(), b.ID, req.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// List handles GET /v1/bookings and returns the caller's bookings, newest
// first.
func (h *BookingHandler) List(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.svc.UserBookings(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if items == nil {
		items = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": items, "count": len(items)})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// owned loads the booking named by the :id parameter and checks that the
// caller may see it.
func (h *BookingHandler) owned(c echo.Context) (*model.Booking, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	b, err := h.svc.Booking(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID && !middleware.IsAdmin(c) {
		return nil, booking.ErrBookingNotFound
	}
	return b, nil
}
