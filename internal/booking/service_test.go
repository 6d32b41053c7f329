package booking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-booking/internal/model"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := quotaError(3, 4)

	assert.ErrorIs(t, err, ErrUserQuotaExceeded)
	assert.NotErrorIs(t, err, ErrInsufficientTickets)
	assert.Equal(t, "you already hold 3 tickets for this event; maximum allowed is 4", err.Error())

	wrapped := internalError("failed to load event", errors.New("timeout"))
	assert.ErrorIs(t, wrapped, ErrInternal)
	assert.Equal(t, "failed to load event: timeout", wrapped.Error())
}

func TestKindClass(t *testing.T) {
	assert.Equal(t, ClassValidation, KindSeatCountMismatch.Class())
	assert.Equal(t, ClassNotFound, KindBookingNotFound.Class())
	assert.Equal(t, ClassNotFound, KindEventUnavailable.Class())
	assert.Equal(t, ClassRejected, KindSeatConflict.Class())
	assert.Equal(t, ClassRejected, KindBookingNotActive.Class())
	assert.Equal(t, ClassSystem, KindInventoryUpdate.Class())
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	f.book(t, 11, 3)
	cancelled := f.book(t, 12, 2)
	_, err := f.svc.Cancel(context.Background(), cancelled.ID, "")
	require.NoError(t, err)

	// drift the counter as a lost restore would
	require.NoError(t, f.store.MemoryStore.UpdateEventAvailability(context.Background(), testEventID, -10))

	for i := 0; i < 2; i++ {
		available, err := f.svc.Reconcile(context.Background(), testEventID)
		require.NoError(t, err)
		assert.Equal(t, 97, available)
	}

	_, err = f.svc.Reconcile(context.Background(), 404)
	assertKind(t, err, KindEventUnavailable)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, 11, 1)
	f.now = f.now.Add(1)
	second := f.book(t, 11, 1)
	other := f.book(t, 12, 1)
	_, err := f.svc.Cancel(context.Background(), other.ID, "")
	require.NoError(t, err)

	mine, err := f.svc.UserBookings(context.Background(), 11)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	all, err := f.svc.EventBookings(context.Background(), testEventID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	statuses := map[model.BookingStatus]int{}
	for _, b := range all {
		statuses[b.Status]++
	}
	assert.Equal(t, 1, statuses[model.BookingCancelled])

	_, err = f.svc.EventBookings(context.Background(), 404)
	assertKind(t, err, KindEventUnavailable)

	_, err = f.svc.Booking(context.Background(), 404)
	assertKind(t, err, KindBookingNotFound)
}

func TestNewServicePanicsWithoutStore(t *testing.T) {
	assert.Panics(t, func() { NewService(nil, nil) })
}

type recordingInvalidator struct {
	mu     sync.Mutex
	events []uint64
}

func (r *recordingInvalidator) InvalidateEvent(_ context.Context, eventID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventID)
}

func TestEventViewsInvalidatedOnAvailabilityChange(t *testing.T) {
	inv := &recordingInvalidator{}
	f := newAtomicFixture(t, WithEventInvalidator(inv))

	b := f.book(t, 11, 2)
	_, err := f.svc.Confirm(context.Background(), b.ID, Payment{Method: "card", Reference: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{testEventID}, inv.events, "confirm leaves availability alone")

	_, err = f.svc.CreateBooking(context.Background(), Request{UserID: 11, EventID: testEventID, Quantity: 3})
	assertKind(t, err, KindUserQuotaExceeded)
	assert.Len(t, inv.events, 1, "rejected admissions change nothing")

	_, err = f.svc.Cancel(context.Background(), b.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Reconcile(context.Background(), testEventID)
	require.NoError(t, err)

	assert.Equal(t, []uint64{testEventID, testEventID, testEventID}, inv.events)
}
