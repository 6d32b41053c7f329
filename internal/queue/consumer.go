package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/booking"
)

// HandlerFunc processes one message body.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer reads one durable queue and hands every delivery to a
// HandlerFunc.  A message whose handler fails is requeued once and
// dropped on its second failure, so a poison message cannot spin.
type Consumer struct {
	url     string
	queue   string
	handle  HandlerFunc
	log     *zap.Logger
	backoff time.Duration
}

// NewConsumer returns a consumer of queue at url.
func NewConsumer(url, queue string, handle HandlerFunc, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, queue: queue, handle: handle, log: log.With(zap.String("queue", queue)), backoff: time.Second}
}

// Run connects to the broker and consumes until ctx is done, reconnecting
// with exponential backoff whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := c.backoff
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = c.backoff // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.log.Warn("consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

// acknowledger is the part of amqp.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	c.settle(ctx, d.Body, d.Redelivered, d)
}

func (c *Consumer) settle(ctx context.Context, body []byte, redelivered bool, ack acknowledger) {
	if err := c.handle(ctx, body); err != nil {
		c.log.Error("consumer: handle message failed", zap.Bool("redelivered", redelivered), zap.Error(err))
		_ = ack.Nack(false, !redelivered)
		return
	}
	_ = ack.Ack(false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Reconciler repairs the availability of an event.
type Reconciler interface {
	Reconcile(ctx context.Context, eventID uint64) (int, error)
}

// ReconcileHandler consumes inventory.reconcile messages.  Requests for
// unknown events are logged and acknowledged.
func ReconcileHandler(r Reconciler, log *zap.Logger) HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, body []byte) error {
		var req booking.ReconcileRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if req.EventID == 0 {
			return errors.New("reconcile request without event_id")
		}
		available, err := r.Reconcile(ctx, req.EventID)
		if err != nil {
			if errors.Is(err, booking.ErrEventUnavailable) {
				log.Warn("reconcile request for unknown event", zap.Uint64("event_id", req.EventID))
				return nil
			}
			return err
		}
		log.Info("inventory reconciled",
			zap.Uint64("event_id", req.EventID),
			zap.Uint64("booking_id", req.BookingID),
			zap.String("reason", req.Reason),
			zap.Int("available_tickets", available))
		return nil
	}
}
