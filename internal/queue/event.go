// Package queue carries booking lifecycle events and inventory reconcile
// requests over RabbitMQ.
package queue

import (
	"time"

	"github.com/iliyamo/ticket-booking/internal/model"
)

// Queue names.  All queues are durable and use the default exchange.
const (
	QueueBookingConfirmed   = "booking.confirmed"
	QueueBookingCancelled   = "booking.cancelled"
	QueueInventoryReconcile = "inventory.reconcile"
)

// BookingEvent is published when a booking is confirmed or cancelled.  It
// carries enough information for downstream consumers (notifications,
// analytics) without querying the primary database.
type BookingEvent struct {
	BookingID     uint64   `json:"booking_id"`
	BookingNumber string   `json:"booking_number"`
	UserID        uint64   `json:"user_id"`
	EventID       uint64   `json:"event_id"`
	Quantity      int      `json:"quantity"`
	Seats         []string `json:"seats"`
	Status        string   `json:"status"`
	PaymentStatus string   `json:"payment_status"`
	TotalAmount   string   `json:"total_amount"`
	Currency      string   `json:"currency"`
	Reason        string   `json:"reason,omitempty"`
	OccurredAt    string   `json:"occurred_at"`
}

// NewBookingEvent builds the payload for b.  OccurredAt is the
// transition timestamp when set.
func NewBookingEvent(b *model.Booking) BookingEvent {
	at := b.UpdatedAt
	switch {
	case b.CancelledAt != nil:
		at = *b.CancelledAt
	case b.ConfirmedAt != nil:
		at = *b.ConfirmedAt
	}
	ev := BookingEvent{
		BookingID:     b.ID,
		BookingNumber: b.BookingNumber,
		UserID:        b.UserID,
		EventID:       b.EventID,
		Quantity:      b.Quantity,
		Seats:         b.SeatNumbers,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		TotalAmount:   b.TotalAmount.StringFixed(2),
		Currency:      b.Currency,
		OccurredAt:    at.UTC().Format(time.RFC3339),
	}
	if ev.Seats == nil {
		ev.Seats = []string{}
	}
	if b.CancelReason != nil {
		ev.Reason = *b.CancelReason
	}
	return ev
}
