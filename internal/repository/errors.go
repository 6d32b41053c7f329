// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// booking service and handlers to distinguish between different failure
// scenarios without inspecting driver specific errors. For example,
// ErrConflict signals that a guarded write was rejected by the store
// (an availability update that would oversell), while ErrSeatTaken means
// the (event, seat) uniqueness constraint for active bookings fired.
package repository

import "errors"

// ErrConflict is returned when a conditional update cannot be applied
// because the guarded state does not hold, such as decrementing
// available tickets below zero or restoring them above capacity.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when the requested row does not exist or has
// been soft-deleted.
var ErrNotFound = errors.New("not found")

// ErrSeatTaken is returned when inserting a booking would assign a seat
// that another active booking of the same event already holds.
var ErrSeatTaken = errors.New("seat already taken")

// ErrDuplicateBookingNumber is returned when the booking number unique
// key rejects an insert.
var ErrDuplicateBookingNumber = errors.New("duplicate booking number")

// ErrStatusChanged is returned by conditional status updates when the
// booking is no longer in one of the expected source statuses.
var ErrStatusChanged = errors.New("booking status changed")

// ErrQuotaExceeded is matched by a *QuotaError.
var ErrQuotaExceeded = errors.New("per-user ticket limit exceeded")

// QuotaError is returned by AdmitBooking when the user's active tickets
// for the event plus the new booking would pass the event's per-user
// limit.  Held does not include the rejected booking.
type QuotaError struct {
	Held  int
	Limit int
}

func (e *QuotaError) Error() string { return ErrQuotaExceeded.Error() }

func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }
