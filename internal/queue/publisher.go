package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/booking"
	"github.com/iliyamo/ticket-booking/internal/model"
)

// Channel is the subset of *amqp.Channel used by the publisher.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// DialFunc opens a channel to the broker.  The returned function closes
// the channel's connection.
type DialFunc func(url string) (Channel, func(), error)

// Dial connects with amqp091.
func Dial(url string) (Channel, func(), error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, func() { _ = ch.Close(); _ = conn.Close() }, nil
}

// Publisher publishes booking lifecycle events and reconcile requests.
// It implements booking.Notifier.  The broker connection is opened on
// first use and reopened after a failed publish.
type Publisher struct {
	url  string
	dial DialFunc
	log  *zap.Logger

	mu       sync.Mutex
	ch       Channel
	close    func()
	declared map[string]bool
}

var _ booking.Notifier = (*Publisher)(nil)

// NewPublisher returns a Publisher for the broker at url.  A nil dial
// uses Dial.
func NewPublisher(url string, dial DialFunc, log *zap.Logger) *Publisher {
	if dial == nil {
		dial = Dial
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{url: url, dial: dial, log: log, declared: map[string]bool{}}
}

func (p *Publisher) BookingConfirmed(ctx context.Context, b *model.Booking) error {
	return p.Publish(ctx, QueueBookingConfirmed, NewBookingEvent(b))
}

func (p *Publisher) BookingCancelled(ctx context.Context, b *model.Booking) error {
	return p.Publish(ctx, QueueBookingCancelled, NewBookingEvent(b))
}

func (p *Publisher) ReconcileRequested(ctx context.Context, req booking.ReconcileRequest) error {
	return p.Publish(ctx, QueueInventoryReconcile, req)
}

// Publish marshals v to JSON and publishes it as a persistent message to
// the named queue, declaring the queue on first use.
func (p *Publisher) Publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", queue, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		ch, closeFn, err := p.dial(p.url)
		if err != nil {
			p.log.Warn("rabbitmq: dial failed", zap.Error(err))
			return err
		}
		p.ch, p.close = ch, closeFn
		p.declared = map[string]bool{}
	}

	if !p.declared[queue] {
		// Durable so messages survive broker restarts.
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			p.reset()
			p.log.Warn("rabbitmq: queue declare failed", zap.String("queue", queue), zap.Error(err))
			return fmt.Errorf("declare %s: %w", queue, err)
		}
		p.declared[queue] = true
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.reset()
		p.log.Warn("rabbitmq: publish failed", zap.String("queue", queue), zap.Error(err))
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// reset drops the current channel.  Callers hold p.mu.
func (p *Publisher) reset() {
	if p.close != nil {
		p.close()
	}
	p.ch, p.close = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
