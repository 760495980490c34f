package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer listens on the notification queue and appends one line per
// delivered event to a log file, the hand-off point to the mail relay.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	logPath  string
	log      *slog.Logger

	mu sync.Mutex // serialises writes to logPath
}

// NewConsumer builds a Consumer.  Nothing is dialled until Run.
func NewConsumer(url, queue string, prefetch int, logPath string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{url: url, queue: queue, prefetch: prefetch, logPath: logPath, log: logger}
}

// Run connects to RabbitMQ, declares the durable queue and consumes until
// ctx is cancelled.  Lost connections are re-dialled with exponential
// backoff capped at 30s.  Run returns nil once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("notification consumer: dial failed",
				slog.Any("err", err), slog.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("notification consumer: loop ended, reconnecting", slog.Any("err", err))
		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warn("notification consumer: set QoS failed", slog.Any("err", err))
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
			if err := c.handleMessage(d.Body); err != nil {
				c.log.Error("notification consumer: handle message failed",
					slog.String("message_id", d.MessageId), slog.Any("err", err))
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Email == "" {
		return errors.New("event has no recipient")
	}
	line, err := formatLine(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// formatLine renders ev as the single-line record written to the log.
func formatLine(ev NotificationEvent) (string, error) {
	switch ev.Kind {
	case KindWelcome:
		return fmt.Sprintf("[%s] Welcome email | id=%s | to=%q | name=%q\n",
			ev.CreatedAt, ev.ID, ev.Email, ev.Name), nil
	case KindPurchase:
		return fmt.Sprintf("[%s] Purchase confirmation | id=%s | to=%q | name=%q | game=%q | price=%s\n",
			ev.CreatedAt, ev.ID, ev.Email, ev.Name, ev.GameTitle, ev.Price), nil
	case KindRental:
		return fmt.Sprintf("[%s] Rental confirmation | id=%s | to=%q | name=%q | game=%q | price=%s | expires=%s\n",
			ev.CreatedAt, ev.ID, ev.Email, ev.Name, ev.GameTitle, ev.Price, ev.ExpiryDate), nil
	case KindPasswordReset:
		if ev.ResetLink == "" {
			return "", fmt.Errorf("password reset %s has no link", ev.ID)
		}
		return fmt.Sprintf("[%s] Password reset email | id=%s | to=%q | name=%q | link=%s | expires=%s\n",
			ev.CreatedAt, ev.ID, ev.Email, ev.Name, ev.ResetLink, ev.ExpiryDate), nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", ev.Kind)
	}
}
