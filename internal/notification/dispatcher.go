package notification

import (
	"context"
	"sync"
	"time"

	"approval-notify/internal/common/logger"
	"approval-notify/internal/common/metrics"
	"approval-notify/internal/models"
)

// BulkNotifier is the part of Service the dispatcher drives.
type BulkNotifier interface {
	SendBulk(ctx context.Context, events []models.Event) []Outcome
}

// Dispatcher runs notification fan-out off the caller's goroutine. Dispatch never blocks:
// when the buffer is full or the dispatcher is closed the batch is dropped and logged.
type Dispatcher struct {
	notifier BulkNotifier
	tasks    chan []models.Event
	timeout  time.Duration
	logger   logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(notifier BulkNotifier, buffer, workers int, timeout time.Duration, log logger.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &Dispatcher{
		notifier: notifier,
		tasks:    make(chan []models.Event, buffer),
		timeout:  timeout,
		logger:   log.WithFields(map[string]interface{}{"component": "notification_dispatcher"}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for events := range d.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		d.notifier.SendBulk(ctx, events)
		cancel()
	}
}

func (d *Dispatcher) Dispatch(events ...models.Event) {
	if len(events) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(events, "closed")
		return
	}
	select {
	case d.tasks <- events:
	default:
		d.drop(events, "buffer_full")
	}
}

func (d *Dispatcher) drop(events []models.Event, reason string) {
	for _, ev := range events {
		metrics.DispatchDropped.Inc()
		fields := eventFields(ev)
		fields["reason"] = reason
		d.logger.Error("Notification dropped before dispatch", fields)
	}
}

// Close stops accepting events and waits for queued batches to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	d.wg.Wait()
}
