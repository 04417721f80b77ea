package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultBuffer is the number of audit events held while the broker is
// slow or unreachable.
const DefaultBuffer = 256

// Publisher queues audit events in memory and ships them to RabbitMQ from
// a single background goroutine.  Enqueue never blocks the request path:
// when the buffer is full the event is dropped and logged.
type Publisher struct {
	url    string
	events chan AuditEvent
}

// NewPublisher returns a Publisher for the broker at url.  A non-positive
// buffer selects DefaultBuffer.
func NewPublisher(url string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{url: url, events: make(chan AuditEvent, buffer)}
}

// Enqueue schedules ev for publication.  It reports false when the event
// was dropped.
func (p *Publisher) Enqueue(ev AuditEvent) bool {
	select {
	case p.events <- ev:
		return true
	default:
		log.Printf("rabbitmq: audit buffer full, dropping %s event for %q", ev.Kind, ev.Name)
		return false
	}
}

// Pending reports how many events are waiting to be published.
func (p *Publisher) Pending() int { return len(p.events) }

// Run keeps one broker connection open and publishes queued events until
// ctx is cancelled.  Connection failures are retried with exponential
// backoff; an event whose publish fails is retried on the next connection.
func (p *Publisher) Run(ctx context.Context) error {
	backoff := time.Second
	var pending *AuditEvent
	for {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			log.Printf("rabbitmq: dial failed: %v; retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		pending, err = p.publishLoop(ctx, conn, pending)
		_ = conn.Close()
		if err == nil {
			return nil
		}
		log.Printf("rabbitmq: publish loop ended: %v; reconnecting", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// publishLoop drains the buffer over conn.  It returns a nil error when ctx
// ends, or the event it failed to publish together with the cause.
func (p *Publisher) publishLoop(ctx context.Context, conn *amqp.Connection, pending *AuditEvent) (*AuditEvent, error) {
	ch, err := conn.Channel()
	if err != nil {
		return pending, fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(AuditQueueName, true, false, false, false, nil); err != nil {
		return pending, fmt.Errorf("queue declare: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		if pending != nil {
			if err := publish(ctx, ch, *pending); err != nil {
				return pending, err
			}
			pending = nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case amqpErr := <-closed:
			return nil, fmt.Errorf("connection closed: %v", amqpErr)
		case ev := <-p.events:
			pending = &ev
		}
	}
}

func publish(ctx context.Context, ch *amqp.Channel, ev AuditEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		// Not retryable; drop it.
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return nil
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         ev.Kind,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", AuditQueueName, false, false, pub); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
