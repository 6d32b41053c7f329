package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/ticket-booking/internal/lock"
	"github.com/iliyamo/ticket-booking/internal/model"
	"github.com/iliyamo/ticket-booking/internal/repository"
)

var testNow = time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)

const testEventID = 1

// hookStore wraps the memory store and lets a test replace single store
// calls.  A nil hook falls through to the memory store.
type hookStore struct {
	*repository.MemoryStore

	updateAvailability func(ctx context.Context, eventID uint64, delta int) error
	insertBooking      func(ctx context.Context, b *model.Booking) error
	deleteBooking      func(ctx context.Context, bookingID uint64) error
	updateStatus       func(ctx context.Context, upd StatusUpdate) error
	numberExists       func(ctx context.Context, number string) (bool, error)
}

func (h *hookStore) UpdateEventAvailability(ctx context.Context, eventID uint64, delta int) error {
	if h.updateAvailability != nil {
		if err := h.updateAvailability(ctx, eventID, delta); err != nil {
			return err
		}
	}
	return h.MemoryStore.UpdateEventAvailability(ctx, eventID, delta)
}

func (h *hookStore) InsertBooking(ctx context.Context, b *model.Booking) error {
	if h.insertBooking != nil {
		if err := h.insertBooking(ctx, b); err != nil {
			return err
		}
	}
	return h.MemoryStore.InsertBooking(ctx, b)
}

func (h *hookStore) DeleteBooking(ctx context.Context, bookingID uint64) error {
	if h.deleteBooking != nil {
		if err := h.deleteBooking(ctx, bookingID); err != nil {
			return err
		}
	}
	return h.MemoryStore.DeleteBooking(ctx, bookingID)
}

func (h *hookStore) UpdateBookingStatus(ctx context.Context, bookingID uint64, from []model.BookingStatus, upd StatusUpdate) (*model.Booking, error) {
	if h.updateStatus != nil {
		if err := h.updateStatus(ctx, upd); err != nil {
			return nil, err
		}
	}
	return h.MemoryStore.UpdateBookingStatus(ctx, bookingID, from, upd)
}

func (h *hookStore) BookingNumberExists(ctx context.Context, number string) (bool, error) {
	if h.numberExists != nil {
		return h.numberExists(ctx, number)
	}
	return h.MemoryStore.BookingNumberExists(ctx, number)
}

// twoStepStore hides AdmitBooking so the service inserts and decrements
// in separate calls.
type twoStepStore struct {
	Store
}

// recordingNotifier keeps every notification it receives.
type recordingNotifier struct {
	mu         sync.Mutex
	confirmed  []uint64
	cancelled  []uint64
	reconciles []ReconcileRequest
}

func (n *recordingNotifier) BookingConfirmed(_ context.Context, b *model.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, b.ID)
	return nil
}

func (n *recordingNotifier) BookingCancelled(_ context.Context, b *model.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, b.ID)
	return nil
}

func (n *recordingNotifier) ReconcileRequested(_ context.Context, req ReconcileRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reconciles = append(n.reconciles, req)
	return nil
}

type fixture struct {
	svc      *Service
	store    *hookStore
	notifier *recordingNotifier
	logs     *observer.ObservedLogs
	now      time.Time
}

// newFixture seeds one published event with 100 tickets at 25.50, a
// per-user limit of 4, starting a day after testNow.  Admission goes
// through the two-step insert then decrement path so the store hooks
// apply.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return buildFixture(t, false, opts...)
}

// newAtomicFixture is newFixture with admission committed through
// AdmitBooking.
func newAtomicFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return buildFixture(t, true, opts...)
}

func buildFixture(t *testing.T, atomic bool, opts ...Option) *fixture {
	t.Helper()
	mem := repository.NewMemoryStore()
	mem.PutEvent(model.Event{
		ID:                testEventID,
		Title:             "Spring Concert",
		StartsAt:          testNow.Add(24 * time.Hour),
		EndsAt:            testNow.Add(27 * time.Hour),
		Price:             decimal.RequireFromString("25.50"),
		Currency:          "USD",
		Capacity:          100,
		AvailableTickets:  100,
		MaxTicketsPerUser: 4,
		Status:            model.EventPublished,
		IsActive:          true,
	})
	f := &fixture{
		store:    &hookStore{MemoryStore: mem},
		notifier: &recordingNotifier{},
		now:      testNow,
	}
	core, logs := observer.New(zap.InfoLevel)
	f.logs = logs
	base := []Option{
		WithClock(func() time.Time { return f.now }),
		WithLogger(zap.New(core)),
		WithNotifier(f.notifier),
	}
	var store Store = twoStepStore{f.store}
	if atomic {
		store = f.store
	}
	f.svc = NewService(store, lock.NewKeyedLocker(), append(base, opts...)...)
	return f
}

func (f *fixture) event(t *testing.T) *model.Event {
	t.Helper()
	e, err := f.store.FindEvent(context.Background(), testEventID)
	require.NoError(t, err)
	return e
}

func (f *fixture) book(t *testing.T, userID uint64, qty int, seats ...string) *model.Booking {
	t.Helper()
	b, err := f.svc.CreateBooking(context.Background(), Request{
		UserID: userID, EventID: testEventID, Quantity: qty, SeatNumbers: seats,
	})
	require.NoError(t, err)
	return b
}

// assertKind fails unless err is a *Error of the given kind.
func assertKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, kind, be.Kind, be.Error())
	return be
}
