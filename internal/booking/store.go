package booking

import (
	"context"

	"github.com/iliyamo/ticket-booking/internal/model"
	"github.com/iliyamo/ticket-booking/internal/repository"
)

// Store is the persistence boundary of the booking engine.  Implementations
// report guard violations with the sentinels of the repository package:
// ErrNotFound, ErrConflict (availability), ErrSeatTaken,
// ErrDuplicateBookingNumber and ErrStatusChanged.
type Store interface {
	// FindEvent returns the event snapshot including soft-deleted rows, so
	// that bookings of a removed event can still be cancelled.
	FindEvent(ctx context.Context, eventID uint64) (*model.Event, error)
	// UpdateEventAvailability adds delta to available_tickets as a single
	// conditional write that fails with ErrConflict when the result would
	// leave [0, capacity].
	UpdateEventAvailability(ctx context.Context, eventID uint64, delta int) error
	// RecomputeAvailability rewrites available_tickets from the active
	// bookings of the event and returns the new value.
	RecomputeAvailability(ctx context.Context, eventID uint64) (int, error)

	FindUserBookingsForEvent(ctx context.Context, userID, eventID uint64) ([]model.Booking, error)
	FindActiveSeatHolders(ctx context.Context, eventID uint64) ([]model.SeatHolder, error)
	BookingNumberExists(ctx context.Context, number string) (bool, error)
	// InsertBooking stores b with its seats and fills in the generated
	// fields.  Seat uniqueness among active bookings is enforced here.
	InsertBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, bookingID uint64) (*model.Booking, error)
	// UpdateBookingStatus applies upd only if the booking's current status
	// is one of from, otherwise it returns ErrStatusChanged.
	UpdateBookingStatus(ctx context.Context, bookingID uint64, from []model.BookingStatus, upd StatusUpdate) (*model.Booking, error)
	// DeleteBooking physically removes a booking.  It is only used to
	// compensate a failed admission.
	DeleteBooking(ctx context.Context, bookingID uint64) error
	ListBookingsByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
	ListBookingsByEvent(ctx context.Context, eventID uint64) ([]model.Booking, error)
}

// Admitter is implemented by stores that can reserve availability and
// insert a booking as one atomic write.  It returns ErrConflict when the
// event lacks capacity and the InsertBooking sentinels otherwise.  With an
// Admitter no compensation is ever needed.
type Admitter interface {
	AdmitBooking(ctx context.Context, b *model.Booking) error
}

// StatusUpdate carries the columns written by a lifecycle transition.
type StatusUpdate = repository.StatusUpdate

// Locker serializes work on a single event.  Lock blocks until the lock
// for key is held or ctx is done; the returned function releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Notifier receives lifecycle notifications.  Failures are logged by the
// service and never fail the operation that produced them.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b *model.Booking) error
	BookingCancelled(ctx context.Context, b *model.Booking) error
	// ReconcileRequested is the operator channel for inventory that could
	// not be restored or reserved consistently.
	ReconcileRequested(ctx context.Context, req ReconcileRequest) error
}

// ReconcileRequest asks an out-of-band worker to repair the availability
// of an event.
type ReconcileRequest struct {
	EventID   uint64 `json:"event_id"`
	BookingID uint64 `json:"booking_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

// EventInvalidator drops cached public views of an event.  It is called
// after every change to the event's availability.
type EventInvalidator interface {
	InvalidateEvent(ctx context.Context, eventID uint64)
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidateEvent(context.Context, uint64) {}

type nopNotifier struct{}

func (nopNotifier) BookingConfirmed(context.Context, *model.Booking) error      { return nil }
func (nopNotifier) BookingCancelled(context.Context, *model.Booking) error      { return nil }
func (nopNotifier) ReconcileRequested(context.Context, ReconcileRequest) error { return nil }
