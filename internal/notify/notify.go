// Package notify carries the "notify on transition" hook. Delivery is
// best-effort: the core hands events to a Notifier after commit and never
// waits for, or reacts to, the outcome.
package notify

import (
	"context"
	"sync"
	"time"

	"courier-backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventStatusChanged     = "shipment.status_changed"
	EventDuplicateScan     = "scan.duplicate"
	EventConsolidationStep = "consolidation.status_changed"
)

type Event struct {
	ID             string                `json:"id"`
	Type           string                `json:"type"`
	ShipmentID     uint                  `json:"shipment_id,omitempty"`
	TrackingNumber string                `json:"tracking_number,omitempty"`
	From           models.ShipmentStatus `json:"from,omitempty"`
	To             models.ShipmentStatus `json:"to,omitempty"`
	BranchID       uint                  `json:"branch_id,omitempty"`
	Forced         bool                  `json:"forced,omitempty"`
	Reference      string                `json:"reference,omitempty"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

func NewEvent(kind string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: kind, OccurredAt: at}
}

// Key groups events of one aggregate on the same partition.
func (e Event) Key() string {
	if e.TrackingNumber != "" {
		return e.TrackingNumber
	}
	if e.Reference != "" {
		return e.Reference
	}
	return e.ID
}

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(e Event)
}

// Publisher is implemented by the broker adapters.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

type Nop struct{}

func (Nop) Notify(Event) {}

// Dispatcher drains a bounded queue into a Publisher on its own goroutine.
// A full queue drops the event with a warning; so does a closed dispatcher.
type Dispatcher struct {
	pub     Publisher
	log     *zap.Logger
	timeout time.Duration
	queue   chan Event
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(pub Publisher, buffer int, log *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		pub:     pub,
		log:     log,
		timeout: 5 * time.Second,
		queue:   make(chan Event, buffer),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Notify(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dispatcher closed, dropping event",
			zap.String("type", e.Type), zap.String("key", e.Key()))
		return
	}
	select {
	case d.queue <- e:
	default:
		d.log.Warn("notification queue full, dropping event",
			zap.String("type", e.Type), zap.String("key", e.Key()))
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.pub.Publish(ctx, e.Key(), e); err != nil {
			d.log.Warn("notification publish failed",
				zap.String("type", e.Type), zap.String("key", e.Key()), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events, drains the queue and closes the publisher.
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.wg.Wait()
		err = d.pub.Close()
	})
	return err
}
