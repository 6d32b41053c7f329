package booking

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an admission or lifecycle rejection.  The string value
// is returned to API clients as the error code.
type Kind string

const (
	KindInvalidQuantity     Kind = "INVALID_QUANTITY"
	KindSeatCountMismatch   Kind = "SEAT_QUANTITY_MISMATCH"
	KindInvalidSeats        Kind = "INVALID_SEATS"
	KindEventUnavailable    Kind = "EVENT_NOT_AVAILABLE"
	KindEventAlreadyStarted Kind = "EVENT_STARTED"
	KindPerBookingLimit     Kind = "PER_BOOKING_LIMIT_EXCEEDED"
	KindUserQuotaExceeded   Kind = "USER_LIMIT_EXCEEDED"
	KindInsufficientTickets Kind = "INSUFFICIENT_TICKETS"
	KindSeatConflict        Kind = "SEATS_OCCUPIED"
	KindInventoryUpdate     Kind = "UPDATE_ERROR"
	KindBookingNotFound     Kind = "BOOKING_NOT_FOUND"
	KindBookingNotPending   Kind = "BOOKING_NOT_PENDING"
	KindBookingNotActive    Kind = "BOOKING_NOT_ACTIVE"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Class groups kinds by how a caller should react to them.
type Class int

const (
	// ClassValidation errors are caused by malformed input and are raised
	// before any store access.
	ClassValidation Class = iota
	// ClassNotFound errors reference an event or booking that is not
	// available to the caller.
	ClassNotFound
	// ClassRejected errors are business rule rejections, including the
	// ones raised by the store's consistency guards.
	ClassRejected
	// ClassSystem errors are faults on our side.
	ClassSystem
)

// Class returns the error class of k.
func (k Kind) Class() Class {
	switch k {
	case KindInvalidQuantity, KindSeatCountMismatch, KindInvalidSeats:
		return ClassValidation
	case KindEventUnavailable, KindBookingNotFound:
		return ClassNotFound
	case KindInventoryUpdate, KindInternal:
		return ClassSystem
	default:
		return ClassRejected
	}
}

// Error is returned by every Service operation.  Held and Limit are set
// for quota rejections; Seats lists the conflicting seats of a
// SEATS_OCCUPIED rejection.
type Error struct {
	Kind    Kind
	Message string
	Held    int
	Limit   int
	Seats   []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so callers can write
// errors.Is(err, booking.ErrSeatConflict).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidQuantity     = &Error{Kind: KindInvalidQuantity, Message: "quantity must be between 1 and 10"}
	ErrSeatCountMismatch   = &Error{Kind: KindSeatCountMismatch, Message: "number of seats must match quantity"}
	ErrInvalidSeats        = &Error{Kind: KindInvalidSeats, Message: "seat labels must be non-empty and unique"}
	ErrEventUnavailable    = &Error{Kind: KindEventUnavailable, Message: "event not found or not available"}
	ErrEventAlreadyStarted = &Error{Kind: KindEventAlreadyStarted, Message: "event has already started"}
	ErrPerBookingLimit     = &Error{Kind: KindPerBookingLimit, Message: "quantity exceeds the per-user limit"}
	ErrUserQuotaExceeded   = &Error{Kind: KindUserQuotaExceeded, Message: "user ticket limit exceeded"}
	ErrInsufficientTickets = &Error{Kind: KindInsufficientTickets, Message: "insufficient tickets available"}
	ErrSeatConflict        = &Error{Kind: KindSeatConflict, Message: "seats already occupied"}
	ErrInventoryUpdate     = &Error{Kind: KindInventoryUpdate, Message: "failed to update availability"}
	ErrBookingNotFound     = &Error{Kind: KindBookingNotFound, Message: "booking not found"}
	ErrBookingNotPending   = &Error{Kind: KindBookingNotPending, Message: "booking is not pending"}
	ErrBookingNotActive    = &Error{Kind: KindBookingNotActive, Message: "booking cannot be cancelled"}
	ErrInternal            = &Error{Kind: KindInternal, Message: "internal error"}
)

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func perBookingLimitError(limit int) *Error {
	return &Error{
		Kind:    KindPerBookingLimit,
		Message: fmt.Sprintf("maximum of %d tickets per user for this event", limit),
		Limit:   limit,
	}
}

func quotaError(held, limit int) *Error {
	return &Error{
		Kind:    KindUserQuotaExceeded,
		Message: fmt.Sprintf("you already hold %d tickets for this event; maximum allowed is %d", held, limit),
		Held:    held,
		Limit:   limit,
	}
}

func seatConflictError(seats []string) *Error {
	return &Error{
		Kind:    KindSeatConflict,
		Message: "seats already occupied: " + strings.Join(seats, ", "),
		Seats:   seats,
	}
}

func internalError(msg string, cause error) *Error {
	return newError(KindInternal, msg, cause)
}
