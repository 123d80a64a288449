// internal/events/bus.go
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types published by the winder service
const (
	TypeConnectionStatusChanged = "connection.status_changed"
	TypeSnapshotChanged         = "session.snapshot_changed"
	TypeSessionStarted          = "session.started"
	TypeSessionStopped          = "session.stopped"
	TypeSessionReset            = "session.reset"
	TypeSessionCompleted        = "session.completed"
	TypeSessionFinished         = "session.finished"
	TypeAlarm                   = "session.alarm"
	TypeConfigured              = "session.configured"
)

// Wildcard subscribes to every event type
const Wildcard = "*"

// Event represents a system event
type Event struct {
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType, source string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Publisher accepts events without blocking
type Publisher interface {
	Publish(event Event)
}

// EventBus manages event distribution
type EventBus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
	done        chan struct{}
	closeOnce   sync.Once
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger.With(zap.String("component", "event-bus")),
		done:        make(chan struct{}),
	}
}

// Start distributes events until the context is cancelled.
// Subscriber channels are closed on return.
func (eb *EventBus) Start(ctx context.Context) {
	defer eb.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Publish publishes an event
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.events <- event:
	default:
		// Event bus is full, log warning
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", event.Type),
		)
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType string) <-chan Event {
	return eb.SubscribeBuffered(eventType, 100)
}

// SubscribeBuffered subscribes with an explicit channel capacity
func (eb *EventBus) SubscribeBuffered(eventType string, size int) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, size)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// SubscribeAll subscribes to every event type
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.Subscribe(Wildcard)
}

// Unsubscribe removes and closes a subscription
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for eventType, subscribers := range eb.subscribers {
		for i, subscriber := range subscribers {
			if subscriber == ch {
				eb.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
				close(subscriber)
				return
			}
		}
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	deliver := func(subscribers []chan Event) {
		for _, subscriber := range subscribers {
			select {
			case subscriber <- event:
			default:
				eb.logger.Warn("Subscriber is slow, dropping event",
					zap.String("event_type", event.Type),
				)
			}
		}
	}

	deliver(eb.subscribers[event.Type])
	deliver(eb.subscribers[Wildcard])
}

func (eb *EventBus) closeSubscribers() {
	eb.closeOnce.Do(func() {
		eb.mutex.Lock()
		defer eb.mutex.Unlock()

		for eventType, subscribers := range eb.subscribers {
			for _, subscriber := range subscribers {
				close(subscriber)
			}
			delete(eb.subscribers, eventType)
		}
		close(eb.done)
	})
}

// Done is closed once the bus has stopped
func (eb *EventBus) Done() <-chan struct{} {
	return eb.done
}
