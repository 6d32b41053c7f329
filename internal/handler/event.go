package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/booking"
	"github.com/iliyamo/ticket-booking/internal/model"
	"github.com/iliyamo/ticket-booking/internal/repository"
)

const defaultMaxTicketsPerUser = 10

// Catalog is the event store used by the catalog endpoints.
type Catalog interface {
	FindEvent(ctx context.Context, eventID uint64) (*model.Event, error)
	CreateEvent(ctx context.Context, e *model.Event) error
	UpdateEventStatus(ctx context.Context, eventID uint64, status model.EventStatus) (*model.Event, error)
}

// EventHandler serves the public event reads and the admin catalog
// endpoints.  Availability is only ever changed by the booking service;
// the catalog endpoints create events and move them between statuses.
type EventHandler struct {
	catalog Catalog
	svc     *booking.Service
	log     *zap.Logger
}

// NewEventHandler constructs an EventHandler.  catalog and svc must be
// non-nil.
func NewEventHandler(catalog Catalog, svc *booking.Service, log *zap.Logger) *EventHandler {
	if catalog == nil || svc == nil {
		panic("nil dependency passed to NewEventHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EventHandler{catalog: catalog, svc: svc, log: log}
}

// visible reports whether the public may see e.  Drafts, inactive and
// soft-deleted events are hidden; cancelled events stay visible so that
// ticket holders can see the status.
func visible(e *model.Event) bool {
	return e.IsActive && e.DeletedAt == nil && e.Status != model.EventDraft
}

// Get handles GET /v1/events/:id.
func (h *EventHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return writeError(c, h.log, booking.ErrEventUnavailable)
	}
	e, err := h.catalog.FindEvent(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return writeError(c, h.log, booking.ErrEventUnavailable)
		}
		return writeError(c, h.log, err)
	}
	if !visible(e) {
		return writeError(c, h.log, booking.ErrEventUnavailable)
	}
	return c.JSON(http.StatusOK, e)
}

// Seats handles GET /v1/events/:id/seats and lists the seats held by
// active bookings.  Holder booking IDs are not exposed.
func (h *EventHandler) Seats(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return writeError(c, h.log, booking.ErrEventUnavailable)
	}
	ledger, err := h.svc.SeatLedger(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"event_id": id,
		"occupied": ledger.Seats(),
		"count":    ledger.Len(),
	})
}

type createEventRequest struct {
	VenueID           uint64    `json:"venue_id" validate:"required"`
	Title             string    `json:"title" validate:"required,max=255"`
	StartsAt          time.Time `json:"start_date_time" validate:"required"`
	EndsAt            time.Time `json:"end_date_time" validate:"required"`
	Price             string    `json:"price" validate:"required"`
	Currency          string    `json:"currency" validate:"omitempty,len=3,alpha"`
	Capacity          int       `json:"capacity" validate:"required,min=1"`
	MaxTicketsPerUser int       `json:"max_tickets_per_user" validate:"omitempty,min=1"`
	Status            string    `json:"status" validate:"omitempty,oneof=draft published"`
	IsActive          *bool     `json:"is_active"`
}

type eventStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft published cancelled"`
}

// Create handles POST /v1/admin/events.  New events start with all of
// their capacity available.
func (h *EventHandler) Create(c echo.Context) error {
	var req createEventRequest
	if msg := decode(c, &req); msg != "" {
		return badRequest(c, msg)
	}
	if !req.EndsAt.After(req.StartsAt) {
		return badRequest(c, "end_date_time must be after start_date_time")
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		return badRequest(c, "price must be a non-negative decimal")
	}
	e := &model.Event{
		VenueID:           req.VenueID,
		Title:             strings.TrimSpace(req.Title),
		StartsAt:          req.StartsAt.UTC(),
		EndsAt:            req.EndsAt.UTC(),
		Price:             price.Round(2),
		Currency:          strings.ToUpper(req.Currency),
		Capacity:          req.Capacity,
		MaxTicketsPerUser: req.MaxTicketsPerUser,
		Status:            model.EventStatus(req.Status),
		IsActive:          true,
	}
	if e.Currency == "" {
		e.Currency = "USD"
	}
	if e.MaxTicketsPerUser == 0 {
		e.MaxTicketsPerUser = defaultMaxTicketsPerUser
	}
	if req.IsActive != nil {
		e.IsActive = *req.IsActive
	}
	if err := h.catalog.CreateEvent(c.Request().Context(), e); err != nil {
		return writeError(c, h.log, err)
	}
	h.log.Info("event created", zap.Uint64("event_id", e.ID), zap.Int("capacity", e.Capacity))
	return c.JSON(http.StatusCreated, e)
}

// UpdateStatus handles PATCH /v1/admin/events/:id/status.
func (h *EventHandler) UpdateStatus(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return writeError(c, h.log, booking.ErrEventUnavailable)
	}
	var req eventStatusRequest
	if msg := decode(c, &req); msg != "" {
		return badRequest(c, msg)
	}
	e, err := h.catalog.UpdateEventStatus(c.Request().Context(), id, model.EventStatus(req.Status))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return writeError(c, h.log, booking.ErrEventUnavailable)
		}
		return writeError(c, h.log, err)
	}
	h.svc.EventChanged(c.Request().Context(), id)
	h.log.Info("event status changed", zap.Uint64("event_id", id), zap.String("status", req.Status))
	return c.JSON(http.StatusOK, e)
}

// Bookings handles GET /v1/admin/events/:id/bookings and lists every
// booking of the event, cancelled ones included.
func (h *EventHandler) Bookings(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return writeError(c, h.log, booking.ErrEventUnavailable)
	}
	items, err := h.svc.EventBookings(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if items == nil {
		items = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": items, "count": len(items)})
}

// Reconcile handles POST /v1/admin/events/:id/reconcile and rewrites the
// event's availability from its active bookings.
func (h *EventHandler) Reconcile(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return writeError(c, h.log, booking.ErrEventUnavailable)
	}
	available, err := h.svc.Reconcile(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": id, "available_tickets": available})
}
