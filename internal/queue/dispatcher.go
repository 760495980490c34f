package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sender delivers a single event downstream.  *Publisher satisfies it.
type Sender interface {
	Publish(ctx context.Context, ev NotificationEvent) error
}

// Dispatcher is the in-process outbound task queue for notifications.
// Dispatch hands an event to a bounded channel and returns immediately;
// a fixed pool of workers forwards events to the Sender.  Send failures are
// logged and dropped, never reported to the code that dispatched them.
type Dispatcher struct {
	events  chan NotificationEvent
	sender  Sender
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines draining a queue of size buffer.
// Each send is bounded by timeout.
func NewDispatcher(sender Sender, workers, buffer int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		events:  make(chan NotificationEvent, buffer),
		sender:  sender,
		timeout: timeout,
		log:     logger,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for ev := range d.events {
		d.send(ev)
	}
}

func (d *Dispatcher) send(ev NotificationEvent) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.sender.Publish(ctx, ev); err != nil {
		d.log.Warn("notification publish failed",
			slog.String("id", ev.ID), slog.String("kind", string(ev.Kind)), slog.Any("err", err))
		return
	}
	d.log.Debug("notification published", slog.String("id", ev.ID), slog.String("kind", string(ev.Kind)))
}

// Dispatch enqueues ev without blocking.  It reports false when the event was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Dispatch(ev NotificationEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped: dispatcher closed", slog.String("id", ev.ID))
		return false
	}
	select {
	case d.events <- ev:
		return true
	default:
		d.log.Warn("notification dropped: queue full",
			slog.String("id", ev.ID), slog.String("kind", string(ev.Kind)))
		return false
	}
}

// Close stops accepting events and waits until queued events are sent.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
