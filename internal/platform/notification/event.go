// Package notification carries lifecycle events from the consultation engine
// to their delivery channels: the in-app inbox, live websocket sessions and,
// optionally, a Kafka topic or SQS queue for downstream consumers.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventConsultationRequested EventType = "consultation.requested"
	EventConsultationAssigned  EventType = "consultation.assigned"
	EventConsultationStarted   EventType = "consultation.started"
	EventConsultationCompleted EventType = "consultation.completed"
	EventConsultationCancelled EventType = "consultation.cancelled"
	EventPriorityChanged       EventType = "consultation.priority_changed"
	EventMessageNew            EventType = "message.new"
	EventSystemAlert           EventType = "system.alert"
)

// Payload keys shared by producers and renderers.
const (
	KeyConsultationID = "consultation_id"
	KeyEncounterID    = "encounter_id"
	KeyMessageID      = "message_id"
	KeyActorID        = "actor_id"
	KeyPriority       = "priority"
	KeyReason         = "reason"
	KeyPreview        = "preview"
)

// Event is addressed to a single user.
type Event struct {
	Type         EventType         `json:"type"`
	TargetUserID uuid.UUID         `json:"target_user_id"`
	Payload      map[string]string `json:"payload,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// FailureObserver is told about every failed delivery, keyed by channel name.
type FailureObserver interface {
	PublishFailed(publisher string)
}

type queued struct {
	ctx context.Context
	ev  Event
}

type channel struct {
	name  string
	pub   Publisher
	queue chan queued
}

const (
	defaultPublishTimeout = 5 * time.Second
	defaultQueueSize      = 1024
)

// Dispatcher fans events out to every registered channel. Each channel has
// its own bounded queue and worker, so Dispatch never waits on delivery and
// a slow channel cannot starve the others. Delivery never fails the caller:
// errors and overflow are logged and counted, then dropped.
type Dispatcher struct {
	logger    zerolog.Logger
	observer  FailureObserver
	timeout   time.Duration
	queueSize int

	mu       sync.RWMutex
	channels []*channel
	closed   bool
	wg       sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

// WithPublishTimeout bounds each single Publish call.
func WithPublishTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.timeout = d }
}

// WithQueueSize sets how many events a channel buffers before dropping.
func WithQueueSize(n int) DispatcherOption {
	return func(x *Dispatcher) { x.queueSize = n }
}

func NewDispatcher(logger zerolog.Logger, observer FailureObserver, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{logger: logger, observer: observer, timeout: defaultPublishTimeout, queueSize: defaultQueueSize}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds a delivery channel under name and starts its worker.
func (d *Dispatcher) Register(name string, pub Publisher) {
	ch := &channel{name: name, pub: pub, queue: make(chan queued, d.queueSize)}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.channels = append(d.channels, ch)
	d.wg.Add(1)
	go d.run(ch)
}

// Dispatch queues evs on every channel and returns. The queued context keeps
// ctx's values but not its cancellation, so a client hanging up after the
// commit does not drop the fan-out.
func (d *Dispatcher) Dispatch(ctx context.Context, evs ...Event) {
	if d == nil || len(evs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Int("events", len(evs)).Msg("dispatcher closed, notifications dropped")
		return
	}
	for _, ev := range evs {
		if ev.TargetUserID == uuid.Nil {
			continue
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}
		for _, ch := range d.channels {
			select {
			case ch.queue <- queued{ctx: ctx, ev: ev}:
			default:
				d.failed(ch.name, ev, errors.New("delivery queue full"))
			}
		}
	}
}

// Close stops accepting events and waits until every queue has drained or
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.channels {
			close(ch.queue)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ch *channel) {
	defer d.wg.Done()
	for q := range ch.queue {
		ctx, cancel := context.WithTimeout(q.ctx, d.timeout)
		err := ch.pub.Publish(ctx, q.ev)
		cancel()
		if err != nil {
			d.failed(ch.name, q.ev, err)
		}
	}
}

func (d *Dispatcher) failed(channel string, ev Event, err error) {
	d.logger.Warn().Err(err).
		Str("channel", channel).
		Str("event", string(ev.Type)).
		Str("target_user_id", ev.TargetUserID.String()).
		Msg("notification delivery failed")
	if d.observer != nil {
		d.observer.PublishFailed(channel)
	}
}
