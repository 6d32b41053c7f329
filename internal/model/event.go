package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the catalog lifecycle state of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
)

// Valid reports whether s is one of the known event statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case EventDraft, EventPublished, EventCancelled:
		return true
	}
	return false
}

// Event is the catalog snapshot the booking engine works against.  Only
// the admission controller and the lifecycle state machine change
// AvailableTickets; everything else is owned by the catalog.
//
// Fields:
//  ID                – primary key identifier.
//  VenueID           – venue hosting the event.
//  Title             – display title.
//  StartsAt          – when the event begins (UTC).  Bookings and
//                      cancellations are only accepted before this.
//  EndsAt            – when the event ends (must be after StartsAt).
//  Price             – unit ticket price; snapshotted into bookings.
//  Currency          – ISO currency code of Price.
//  Capacity          – venue capacity allotted to the event.
//  AvailableTickets  – Capacity minus tickets held by active bookings.
//  MaxTicketsPerUser – per-user quota across active bookings.
//  Status            – draft, published or cancelled.
//  IsActive          – catalog visibility flag.
//  DeletedAt         – soft-delete timestamp (nil when live).
type Event struct {
	ID                uint64          `json:"id"`                   // events.id
	VenueID           uint64          `json:"venue_id"`             // events.venue_id
	Title             string          `json:"title"`                // events.title
	StartsAt          time.Time       `json:"start_date_time"`      // events.start_date_time
	EndsAt            time.Time       `json:"end_date_time"`        // events.end_date_time
	Price             decimal.Decimal `json:"price"`                // events.price
	Currency          string          `json:"currency"`             // events.currency
	Capacity          int             `json:"capacity"`             // events.capacity
	AvailableTickets  int             `json:"available_tickets"`    // events.available_tickets
	MaxTicketsPerUser int             `json:"max_tickets_per_user"` // events.max_tickets_per_user
	Status            EventStatus     `json:"status"`               // events.status
	IsActive          bool            `json:"is_active"`            // events.is_active
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"` // events.deleted_at (nullable)
	CreatedAt         time.Time       `json:"created_at"`           // events.created_at
	UpdatedAt         time.Time       `json:"updated_at"`           // events.updated_at
}

// Bookable reports whether the event accepts new bookings from the
// catalog's point of view: active, published and not soft-deleted.
// Start time is checked separately by the caller.
func (e *Event) Bookable() bool {
	return e.IsActive && e.Status == EventPublished && e.DeletedAt == nil
}
