package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/metrics"
)

const sendTimeout = 5 * time.Second

// Dispatcher queues notifications in memory and sends them from a single
// background worker so callers never wait on the transport.
type Dispatcher struct {
	sender  Sender
	log     *zap.Logger
	metrics *metrics.Collector

	mu      sync.RWMutex
	closed  bool
	pending chan Notification
	done    chan struct{}
}

func NewDispatcher(sender Sender, buffer int, m *metrics.Collector, log *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	d := &Dispatcher{
		sender:  sender,
		log:     log,
		metrics: m,
		pending: make(chan Notification, buffer),
		done:    make(chan struct{}),
	}
	go d.worker()
	return d
}

// Enqueue never blocks. When the buffer is full or the dispatcher is shut
// down the notification is dropped.
func (d *Dispatcher) Enqueue(n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(n, "dispatcher stopped")
		return
	}

	select {
	case d.pending <- n:
	default:
		d.drop(n, "buffer full")
	}
}

func (d *Dispatcher) drop(n Notification, reason string) {
	d.metrics.NotificationsDropped.Inc()
	d.log.Warn("dropping notification",
		zap.String("reason", reason),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
	)
}

// Shutdown stops accepting notifications and waits for the queued ones to
// be sent, giving up once ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.pending)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.log.Warn("notification dispatcher shutdown timed out; some notifications may be lost")
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for n := range d.pending {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := d.sender.Send(ctx, n)
		cancel()

		if err != nil {
			d.metrics.NotificationsFailed.Inc()
			d.log.Error("failed to send notification",
				zap.String("recipient", n.Recipient),
				zap.String("subject", n.Subject),
				zap.Error(err),
			)
			continue
		}
		d.metrics.NotificationsSent.Inc()
	}
}
