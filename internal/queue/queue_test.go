package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/ticket-booking/internal/booking"
	"github.com/iliyamo/ticket-booking/internal/model"
)

type published struct {
	queue string
	msg   amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []published
	publishErr error
	closed     bool
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{queue: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { c.closed = true; return nil }

type fakeDialer struct {
	channels []*fakeChannel
	err      error
}

func (d *fakeDialer) dial(string) (Channel, func(), error) {
	if d.err != nil {
		return nil, nil, d.err
	}
	ch := &fakeChannel{}
	d.channels = append(d.channels, ch)
	return ch, func() { _ = ch.Close() }, nil
}

func sampleBooking() *model.Booking {
	confirmed := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)
	return &model.Booking{
		ID:            9,
		BookingNumber: "BOOK-20300310-AB12C",
		UserID:        3,
		EventID:       1,
		Quantity:      2,
		SeatNumbers:   []string{"A1", "A2"},
		Status:        model.BookingConfirmed,
		PaymentStatus: model.PaymentPaid,
		TotalAmount:   decimal.RequireFromString("51"),
		Currency:      "USD",
		ConfirmedAt:   &confirmed,
	}
}

func TestNewBookingEvent(t *testing.T) {
	ev := NewBookingEvent(sampleBooking())
	assert.Equal(t, uint64(9), ev.BookingID)
	assert.Equal(t, "confirmed", ev.Status)
	assert.Equal(t, "51.00", ev.TotalAmount)
	assert.Equal(t, []string{"A1", "A2"}, ev.Seats)
	assert.Equal(t, "2030-03-10T12:00:00Z", ev.OccurredAt)
	assert.Empty(t, ev.Reason)

	b := sampleBooking()
	b.SeatNumbers = nil
	reason := "changed plans"
	cancelled := time.Date(2030, 3, 11, 8, 0, 0, 0, time.UTC)
	b.Status, b.CancelReason, b.CancelledAt = model.BookingCancelled, &reason, &cancelled
	ev = NewBookingEvent(b)
	assert.Equal(t, []string{}, ev.Seats)
	assert.Equal(t, "changed plans", ev.Reason)
	assert.Equal(t, "2030-03-11T08:00:00Z", ev.OccurredAt)
}

func TestPublisher_PublishesPersistentJSON(t *testing.T) {
	d := &fakeDialer{}
	p := NewPublisher("amqp://test", d.dial, zap.NewNop())

	require.NoError(t, p.BookingConfirmed(context.Background(), sampleBooking()))
	require.NoError(t, p.BookingConfirmed(context.Background(), sampleBooking()))
	require.NoError(t, p.ReconcileRequested(context.Background(), booking.ReconcileRequest{EventID: 1, BookingID: 9, Quantity: 2, Reason: "test"}))

	require.Len(t, d.channels, 1, "connection is reused")
	ch := d.channels[0]
	assert.Equal(t, []string{QueueBookingConfirmed, QueueInventoryReconcile}, ch.declared)
	require.Len(t, ch.published, 3)

	msg := ch.published[0].msg
	assert.Equal(t, QueueBookingConfirmed, ch.published[0].queue)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	var ev BookingEvent
	require.NoError(t, json.Unmarshal(msg.Body, &ev))
	assert.Equal(t, "BOOK-20300310-AB12C", ev.BookingNumber)

	var req booking.ReconcileRequest
	require.NoError(t, json.Unmarshal(ch.published[2].msg.Body, &req))
	assert.Equal(t, uint64(1), req.EventID)
	assert.Equal(t, "test", req.Reason)
}

func TestPublisher_RedialsAfterFailure(t *testing.T) {
	d := &fakeDialer{}
	p := NewPublisher("amqp://test", d.dial, nil)

	require.NoError(t, p.BookingCancelled(context.Background(), sampleBooking()))
	d.channels[0].publishErr = errors.New("channel closed")
	err := p.BookingCancelled(context.Background(), sampleBooking())
	require.Error(t, err)
	assert.True(t, d.channels[0].closed)

	require.NoError(t, p.BookingCancelled(context.Background(), sampleBooking()))
	require.Len(t, d.channels, 2)
	assert.Equal(t, []string{QueueBookingCancelled}, d.channels[1].declared)
	assert.Len(t, d.channels[1].published, 1)
}

func TestPublisher_DialError(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	p := NewPublisher("amqp://test", d.dial, nil)
	err := p.BookingConfirmed(context.Background(), sampleBooking())
	assert.ErrorContains(t, err, "connection refused")
}

type fakeReconciler struct {
	calls []uint64
	err   error
}

func (r *fakeReconciler) Reconcile(_ context.Context, eventID uint64) (int, error) {
	r.calls = append(r.calls, eventID)
	return 42, r.err
}

func TestReconcileHandler(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := &fakeReconciler{}
	h := ReconcileHandler(r, zap.New(core))

	require.NoError(t, h(context.Background(), []byte(`{"event_id":7,"booking_id":3,"quantity":2,"reason":"x"}`)))
	assert.Equal(t, []uint64{7}, r.calls)
	entries := logs.FilterMessage("inventory reconciled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ContextMap()["available_tickets"])

	assert.Error(t, h(context.Background(), []byte(`not json`)))
	assert.Error(t, h(context.Background(), []byte(`{"booking_id":3}`)))
	assert.Len(t, r.calls, 1)
}

func TestReconcileHandler_UnknownEventIsDropped(t *testing.T) {
	r := &fakeReconciler{err: booking.ErrEventUnavailable}
	h := ReconcileHandler(r, nil)
	assert.NoError(t, h(context.Background(), []byte(`{"event_id":7}`)))

	r.err = errors.New("db down")
	assert.EqualError(t, h(context.Background(), []byte(`{"event_id":7}`)), "db down")
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(bool) error { a.acked = true; return nil }
func (a *fakeAck) Nack(_, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func TestConsumer_Settle(t *testing.T) {
	fail := true
	c := NewConsumer("amqp://test", QueueInventoryReconcile, func(context.Context, []byte) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}, nil)

	a := &fakeAck{}
	c.settle(context.Background(), nil, false, a)
	assert.True(t, a.nacked)
	assert.True(t, a.requeued, "first failure is requeued")

	a = &fakeAck{}
	c.settle(context.Background(), nil, true, a)
	assert.True(t, a.nacked)
	assert.False(t, a.requeued, "redelivered failure is dropped")

	fail = false
	a = &fakeAck{}
	c.settle(context.Background(), nil, true, a)
	assert.True(t, a.acked)
	assert.False(t, a.nacked)
}

func TestSleep_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Minute))
	assert.True(t, sleep(context.Background(), time.Millisecond))
}
