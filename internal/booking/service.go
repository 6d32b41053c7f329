// Package booking implements booking admission and the booking lifecycle:
// it decides whether a reservation may be admitted, reserves event
// capacity and named seats without overselling, and restores inventory on
// cancellation.
package booking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/metrics"
	"github.com/iliyamo/ticket-booking/internal/model"
	"github.com/iliyamo/ticket-booking/internal/repository"
)

const (
	// MaxQuantity is the upper bound of tickets in a single booking.
	MaxQuantity = 10

	defaultCompensationTimeout = 5 * time.Second
)

// Service is the booking engine.  It is safe for concurrent use; all
// coordination between requests for the same event goes through the
// Locker and the store guards.
type Service struct {
	store    Store
	locker   Locker
	notifier Notifier
	views    EventInvalidator
	numbers  *NumberAllocator
	log      *zap.Logger
	now      func() time.Time

	compensationTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the lifecycle notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithEventInvalidator sets the cache invalidated after admissions,
// cancellations and reconciles.
func WithEventInvalidator(inv EventInvalidator) Option {
	return func(s *Service) {
		if inv != nil {
			s.views = inv
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNumberAttempts sets how many checked booking numbers are tried
// before falling back to the timestamp scheme.
func WithNumberAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.numbers.maxAttempts = n
		}
	}
}

// WithCompensationTimeout bounds the compensating writes issued after a
// failed admission.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

// NewService wires a Service.  store and locker are required.
func NewService(store Store, locker Locker, opts ...Option) *Service {
	if store == nil || locker == nil {
		panic("booking: nil store or locker passed to NewService")
	}
	s := &Service{
		store:               store,
		locker:              locker,
		notifier:            nopNotifier{},
		views:               nopInvalidator{},
		log:                 zap.NewNop(),
		now:                 func() time.Time { return time.Now().UTC() },
		compensationTimeout: defaultCompensationTimeout,
	}
	s.numbers = NewNumberAllocator(store.BookingNumberExists)
	for _, opt := range opts {
		opt(s)
	}
	s.numbers.now = s.now
	return s
}

// eventLockKey is the Locker key guarding one event.
func eventLockKey(eventID uint64) string {
	return "event:" + strconv.FormatUint(eventID, 10)
}

// lockEvent acquires the per-event lock.  When the lock cannot be
// obtained the operation proceeds unserialized: the store guards still
// prevent overselling and double seat assignment.
func (s *Service) lockEvent(ctx context.Context, eventID uint64) func() {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, eventLockKey(eventID))
	metrics.TrackLockWait(time.Since(start))
	if err != nil {
		s.log.Warn("event lock unavailable, continuing on store guards",
			zap.Uint64("event_id", eventID), zap.Error(err))
		return func() {}
	}
	return unlock
}

// Booking returns a single booking.
func (s *Service) Booking(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, internalError("failed to load booking", err)
	}
	return b, nil
}

// UserBookings lists the bookings of a user, newest first.
func (s *Service) UserBookings(ctx context.Context, userID uint64) ([]model.Booking, error) {
	items, err := s.store.ListBookingsByUser(ctx, userID)
	if err != nil {
		return nil, internalError("failed to load bookings", err)
	}
	return items, nil
}

// EventBookings lists every booking of an event, cancelled ones
// included, so that availability can be audited against them.
func (s *Service) EventBookings(ctx context.Context, eventID uint64) ([]model.Booking, error) {
	if _, err := s.event(ctx, eventID); err != nil {
		return nil, err
	}
	items, err := s.store.ListBookingsByEvent(ctx, eventID)
	if err != nil {
		return nil, internalError("failed to load bookings", err)
	}
	return items, nil
}

// Reconcile rewrites the availability of an event from its active
// bookings.  It takes the event lock so it cannot interleave with the
// two-step writes of admission and cancellation.
func (s *Service) Reconcile(ctx context.Context, eventID uint64) (int, error) {
	unlock := s.lockEvent(ctx, eventID)
	defer unlock()
	available, err := s.store.RecomputeAvailability(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrEventUnavailable
		}
		return 0, internalError("failed to recompute availability", err)
	}
	s.EventChanged(ctx, eventID)
	s.log.Info("event availability reconciled",
		zap.Uint64("event_id", eventID), zap.Int("available_tickets", available))
	return available, nil
}

// EventChanged invalidates cached views of an event.  Catalog writes that
// bypass the service, such as status changes, call it directly.
func (s *Service) EventChanged(ctx context.Context, eventID uint64) {
	s.views.InvalidateEvent(context.WithoutCancel(ctx), eventID)
}

func (s *Service) event(ctx context.Context, eventID uint64) (*model.Event, error) {
	ev, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventUnavailable
		}
		return nil, internalError("failed to load event", err)
	}
	return ev, nil
}
