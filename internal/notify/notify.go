// Package notify delivers scan lifecycle reports to external sinks
// through a bounded, non-blocking queue.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vulnverified/surface/internal/engine"
)

// KindLifecycle is the event kind for finished-scan reports.
const KindLifecycle = "scan.lifecycle"

// DefaultBuffer is the queue size used when none is configured.
const DefaultBuffer = 64

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification dispatcher closed")
)

// Event wraps a report for delivery.
type Event struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	Report    engine.Report `json:"report"`
}

// NewEvent stamps r with a fresh id.
func NewEvent(r engine.Report) Event {
	return Event{ID: uuid.NewString(), Kind: KindLifecycle, CreatedAt: time.Now().UTC(), Report: r}
}

// Sink delivers one event. Sinks decide for themselves whether an event
// is worth sending.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Dispatcher implements engine.Notifier. Notify only enqueues; Run drains
// the queue to every sink.
type Dispatcher struct {
	events chan Event
	sinks  []Sink
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher holding at most buffer pending events.
func NewDispatcher(buffer int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{events: make(chan Event, buffer), sinks: sinks, logger: logger}
}

// Notify enqueues r without blocking. It returns ErrQueueFull when the
// queue is at capacity and the report is dropped.
func (d *Dispatcher) Notify(ctx context.Context, r engine.Report) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	ev := NewEvent(r)
	select {
	case d.events <- ev:
		return nil
	default:
		d.logger.Warn("notification dropped", zap.String("event_id", ev.ID), zap.Uint("scan_id", r.ScanID))
		return ErrQueueFull
	}
}

// Run delivers queued events until Close is called and the queue is empty,
// or ctx is done. Sink failures are logged and never retried.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, s := range d.sinks {
		if err := s.Send(ctx, ev); err != nil {
			d.logger.Warn("notification sink failed",
				zap.String("sink", s.Name()),
				zap.String("event_id", ev.ID),
				zap.Uint("scan_id", ev.Report.ScanID),
				zap.Error(err))
			continue
		}
		d.logger.Debug("notification sent", zap.String("sink", s.Name()), zap.String("event_id", ev.ID))
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
}

// Pending reports how many events wait for delivery.
func (d *Dispatcher) Pending() int {
	return len(d.events)
}
