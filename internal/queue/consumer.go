package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AuditLog appends one line per booking event to a file.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

func NewAuditLog(path string) *AuditLog { return &AuditLog{path: path} }

// Append writes ev to the log, creating the directory if needed.
func (l *AuditLog) Append(ev BookingEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	return writeLine(f, ev)
}

func writeLine(w io.Writer, ev BookingEvent) error {
	_, err := fmt.Fprintf(w, "[%s] Booking %s | booking_id=%d | user_id=%s | event_id=%d | seat=%q (id=%d) | version=%d\n",
		ev.At.UTC().Format(time.RFC3339), ev.Kind, ev.BookingID, ev.UserID, ev.EventID, ev.SeatLabel, ev.SeatID, ev.SeatVersion)
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// HandleMessage decodes a delivery body and appends it to the log.
func (l *AuditLog) HandleMessage(body []byte) error {
	var ev BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return l.Append(ev)
}

// StartAuditConsumer consumes queueName and appends every message to sink.
// It reconnects with exponential backoff until ctx is cancelled.  Messages
// that cannot be handled are rejected without requeue to avoid tight loops.
func StartAuditConsumer(ctx context.Context, url, queueName string, sink *AuditLog, log *slog.Logger) {
	bo := reconnectBackOff()
	for ctx.Err() == nil {
		conn, err := amqp.Dial(url)
		if err != nil {
			wait := bo.NextBackOff()
			log.Warn("audit consumer: dial failed", "error", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		bo.Reset()

		err = consumeLoop(ctx, conn, queueName, sink, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		log.Warn("audit consumer: consume loop ended, reconnecting", "error", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// reconnectBackOff never gives up; ctx ends the consumer.
func reconnectBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queueName string, sink *AuditLog, log *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("audit consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
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
			if err := sink.HandleMessage(d.Body); err != nil {
				log.Warn("audit consumer: handle message failed", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
