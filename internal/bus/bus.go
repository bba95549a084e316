// Package bus implements the notification/alert bus of spec.md §4.3: an
// in-process FIFO queue connecting operators to the coordinator, with
// subscriber fan-out and at-least-once, best-effort delivery within a
// process. Notifications are not durable.
package bus

import (
	"context"
	"sync"

	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
)

// SubscriberBuffer bounds how many unconsumed notifications a subscriber
// channel holds before Push starts dropping for that subscriber rather than
// blocking the whole bus — a slow subscriber must never stall delivery to
// everyone else or to take_all.
const SubscriberBuffer = 64

// Bus is the FIFO alert queue plus subscriber fan-out described in spec.md
// §4.3. One Bus instance is shared by every operator (producer) and the
// coordinator (primary consumer via TakeAll).
type Bus struct {
	mu        sync.Mutex
	queue     []notification.Notification
	subs      map[int]chan notification.Notification
	nextSubID int
	telemetry *observability.Bus
}

// New creates an empty Bus.
func New(telemetry *observability.Bus) *Bus {
	return &Bus{
		subs:      make(map[int]chan notification.Notification),
		telemetry: telemetry,
	}
}

// Push enqueues n and fans it out to every live subscriber. Subscriber
// delivery order is unspecified, matching spec.md §4.3.
func (b *Bus) Push(n notification.Notification) error {
	b.mu.Lock()
	b.queue = append(b.queue, n)
	subs := make([]chan notification.Notification, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			// Slow subscriber: drop rather than block the bus. Notifications
			// are best-effort per spec.md §4.3 ("not durable").
		}
	}

	if b.telemetry != nil {
		b.telemetry.Event("alert_handler.alert_fired", map[string]any{
			"id":           n.ID,
			"operator":     n.Operator,
			"anomaly_type": n.AnomalyType,
			"severity":     string(n.Severity),
			"node":         n.Node,
		})
	}
	return nil
}

// TakeAll atomically drains the queue, returning all pending notifications
// in FIFO order. The queue is empty after this call.
func (b *Bus) TakeAll() []notification.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}

// Pending reports whether any notification is queued.
func (b *Bus) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) > 0
}

// Count returns the number of notifications currently queued.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Subscribe registers a new subscriber and returns the channel it will
// receive pushed notifications on. The subscriber is automatically
// unsubscribed when ctx is cancelled, matching spec.md §4.3's "subscriber is
// automatically unsubscribed when it terminates."
func (b *Bus) Subscribe(ctx context.Context) <-chan notification.Notification {
	ch := make(chan notification.Notification, SubscriberBuffer)

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// SubscriberCount reports the number of live subscribers (test/diagnostic use).
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
