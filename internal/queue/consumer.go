package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AuditLogFile is the file, inside the configured directory, that the
// consumer appends to.
const AuditLogFile = "buzzer.log"

// StartAuditConsumer connects to RabbitMQ, declares the buzzer.audit queue
// (durable), and appends each event as one line to dir/buzzer.log.  It
// reconnects with backoff and returns only when ctx is cancelled.  A
// message that cannot be handled is rejected without requeue so a bad
// payload never blocks the queue.
func StartAuditConsumer(ctx context.Context, url, dir string) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("audit-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
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

		err = consumeLoop(ctx, conn, dir)
		_ = conn.Close()
		if err == nil {
			return nil
		}
		log.Printf("audit-consumer: consume loop ended: %v; reconnecting", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, dir string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("audit-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(AuditQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(AuditQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(dir, d.Body); err != nil {
				log.Printf("audit-consumer: handle message failed: %v", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(dir string, body []byte) error {
	var ev AuditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Kind == "" {
		return errors.New("event kind is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, AuditLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(ev AuditEvent) string {
	at := ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	switch ev.Kind {
	case KindPressed:
		pressed := ""
		if ev.PressedAt != nil {
			pressed = ev.PressedAt.UTC().Format(time.RFC3339Nano)
		}
		return fmt.Sprintf("[%s] Buzzer pressed | name=%q | pressed_at=%s | press_count=%d\n",
			at, ev.Name, pressed, ev.PressCount)
	case KindRegistered, KindRenewed:
		return fmt.Sprintf("[%s] Participant %s | name=%q\n", at, ev.Kind, ev.Name)
	case KindReset, KindPurged:
		return fmt.Sprintf("[%s] Admin %s | affected=%d\n", at, ev.Kind, ev.Affected)
	default:
		return fmt.Sprintf("[%s] %s | name=%q\n", at, ev.Kind, ev.Name)
	}
}
