// README: Async dispatcher fanning events out to every configured backend.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"zemi/internal/metrics"
)

const deliveryTimeout = 5 * time.Second

type Dispatcher struct {
	backends []Notifier
	queue    chan Event
	workers  int
	log      logrus.FieldLogger
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

func NewDispatcher(log logrus.FieldLogger, buffer, workers int, backends ...Notifier) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		backends: backends,
		queue:    make(chan Event, buffer),
		workers:  workers,
		log:      log.WithField("module", "notify"),
	}
}

// Publish enqueues e. When the queue is full or the dispatcher is closed the
// event is dropped and counted.
func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.NotificationsDropped.Inc()
		d.log.WithFields(logrus.Fields{"event": e.Type, "trip_id": e.TripID}).Warn("dispatcher closed, event dropped")
		return
	}
	select {
	case d.queue <- e:
	default:
		metrics.NotificationsDropped.Inc()
		d.log.WithFields(logrus.Fields{"event": e.Type, "trip_id": e.TripID}).Warn("notification queue full, event dropped")
	}
}

// Start launches the workers. They drain the queue until Close is called.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for e := range d.queue {
				d.deliver(e)
			}
		}()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// Events published afterwards are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(e Event) {
	for _, b := range d.backends {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := b.Notify(ctx, e)
		cancel()
		if err != nil {
			metrics.NotificationFailures.WithLabelValues(b.Name()).Inc()
			d.log.WithError(err).WithFields(logrus.Fields{
				"backend": b.Name(),
				"event":   e.Type,
				"trip_id": e.TripID,
			}).Warn("notification delivery failed")
		}
	}
}
