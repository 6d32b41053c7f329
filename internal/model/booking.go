package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Active reports whether a booking in this status holds inventory and
// seats.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

// ActiveBookingStatuses lists the statuses that count against capacity,
// quotas and the seat ledger.
var ActiveBookingStatuses = []BookingStatus{BookingPending, BookingConfirmed}

// PaymentStatus tracks the (simulated) payment of a booking.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Booking records a user's reservation of tickets for an event.
//
// Fields:
//  ID            – primary key identifier.
//  BookingNumber – human readable unique number (BOOK-YYYYMMDD-XXXXX).
//  UserID        – user owning the booking.
//  EventID       – event being booked.
//  Quantity      – number of tickets (1..10).
//  SeatNumbers   – assigned seat labels in request order; empty when
//                  the booking is unassigned.
//  Status        – pending, confirmed or cancelled.
//  PaymentStatus – pending, paid or refunded.
//  TotalAmount   – Quantity × event price at creation time.
//  BookedAt      – creation timestamp.
//  ConfirmedAt   – set when confirmed.
//  CancelledAt   – set when cancelled.
//  DeletedAt     – administrative soft-delete timestamp.
type Booking struct {
	ID            uint64          `json:"id"`                          // bookings.id
	BookingNumber string          `json:"booking_number"`              // bookings.booking_number
	UserID        uint64          `json:"user_id"`                     // bookings.user_id
	EventID       uint64          `json:"event_id"`                    // bookings.event_id
	Quantity      int             `json:"quantity"`                    // bookings.quantity
	SeatNumbers   []string        `json:"seat_numbers"`                // booking_seats.seat_label ordered by position
	Status        BookingStatus   `json:"status"`                      // bookings.status
	PaymentStatus PaymentStatus   `json:"payment_status"`              // bookings.payment_status
	PaymentMethod *string         `json:"payment_method,omitempty"`    // bookings.payment_method (nullable)
	PaymentRef    *string         `json:"payment_reference,omitempty"` // bookings.payment_reference (nullable)
	TotalAmount   decimal.Decimal `json:"total_amount"`                // bookings.total_amount
	Currency      string          `json:"currency"`                    // bookings.currency
	CustomerNotes *string         `json:"customer_notes,omitempty"`    // bookings.customer_notes (nullable)
	CancelReason  *string         `json:"cancel_reason,omitempty"`     // bookings.cancel_reason (nullable)
	BookedAt      time.Time       `json:"booked_at"`                   // bookings.booked_at
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`      // bookings.confirmed_at (nullable)
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`      // bookings.cancelled_at (nullable)
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`        // bookings.deleted_at (nullable)
	UpdatedAt     time.Time       `json:"updated_at"`                  // bookings.updated_at
}

// SeatHolder is one row of the seat ledger: a seat label held by an
// active booking.
type SeatHolder struct {
	BookingID uint64 `json:"booking_id"`
	SeatLabel string `json:"seat"`
}
