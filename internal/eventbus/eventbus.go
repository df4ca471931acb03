// Package eventbus is the control plane's in-process fan-out of alarm and
// instance-completion events (spec.md §4.9).
package eventbus

import (
	"sync"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

// EventMaxRetry bounds how many times a failed handler invocation is
// retried before the event is dropped (spec.md §4.9).
const EventMaxRetry = 5

// Alarm is a notification-worthy condition, routed to configured sinks.
type Alarm struct {
	Level   string
	Title   string
	Message string
}

// InstanceCompleted is published whenever an instance reaches a terminal
// status (spec.md §4.8 step 8).
type InstanceCompleted struct {
	InstanceID   uint64
	WfInstanceID *uint64
	Status       store.InstanceStatus
	Result       string
}

// Event is the bus's single sum type: exactly one of its fields is set.
type Event struct {
	id                int64
	Alarm             *Alarm
	InstanceCompleted *InstanceCompleted
}

// Handler processes one event. A non-nil error triggers the bus's retry
// queue (spec.md §4.9).
type Handler func(Event) error

// Bus is a bounded multi-producer single-consumer channel of events with a
// background retry sweep for handler failures.
type Bus struct {
	events  chan Event
	handler Handler

	mu       sync.Mutex
	nextID   int64
	failures map[int64]*failedEvent

	stop chan struct{}
	done chan struct{}
}

type failedEvent struct {
	event   Event
	retries int
}

// New creates a Bus with the given channel capacity, consumed by handler.
func New(capacity int, handler Handler) *Bus {
	return &Bus{
		events:   make(chan Event, capacity),
		handler:  handler,
		failures: make(map[int64]*failedEvent),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Publish enqueues evt. It drops (and logs) the event if the channel is
// full rather than blocking the producer indefinitely.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	b.nextID++
	evt.id = b.nextID
	b.mu.Unlock()

	select {
	case b.events <- evt:
	default:
		logger.ComponentLogger("eventbus").Errorw("event dropped: bus full", "event_id", evt.id)
	}
}

// PublishAlarm is a convenience wrapper for Publish(Event{Alarm: ...}).
func (b *Bus) PublishAlarm(a Alarm) {
	b.Publish(Event{Alarm: &a})
}

// PublishInstanceCompleted is a convenience wrapper for instance-completion events.
func (b *Bus) PublishInstanceCompleted(c InstanceCompleted) {
	b.Publish(Event{InstanceCompleted: &c})
}

// Run consumes events until Stop is called. Call from a dedicated goroutine.
func (b *Bus) Run() {
	defer close(b.done)

	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-b.stop:
			return
		case evt := <-b.events:
			b.dispatch(evt)
		case <-sweep.C:
			b.retrySweep()
		}
	}
}

// Stop halts the consumer loop and waits for it to exit.
func (b *Bus) Stop() {
	close(b.stop)
	<-b.done
}

func (b *Bus) dispatch(evt Event) {
	if err := b.runHandler(evt); err != nil {
		b.mu.Lock()
		b.failures[evt.id] = &failedEvent{event: evt, retries: 0}
		b.mu.Unlock()
		logger.ComponentLogger("eventbus").Warnw("event handler failed, queued for retry",
			"event_id", evt.id, "error", err)
	}
}

func (b *Bus) runHandler(evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ComponentLogger("eventbus").Errorw("event handler panicked", "panic", r, "event_id", evt.id)
		}
	}()
	return b.handler(evt)
}

func (b *Bus) retrySweep() {
	b.mu.Lock()
	pending := make([]*failedEvent, 0, len(b.failures))
	for _, f := range b.failures {
		pending = append(pending, f)
	}
	b.mu.Unlock()

	for _, f := range pending {
		if err := b.runHandler(f.event); err != nil {
			f.retries++
			if f.retries >= EventMaxRetry {
				b.mu.Lock()
				delete(b.failures, f.event.id)
				b.mu.Unlock()
				logger.ComponentLogger("eventbus").Errorw("event dropped after exhausting retries",
					"event_id", f.event.id, "retries", f.retries)
			}
			continue
		}
		b.mu.Lock()
		delete(b.failures, f.event.id)
		b.mu.Unlock()
	}
}
