// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"nori-bridge/internal/model"
)

// AllEvents subscribes to every event type
const AllEvents model.EventType = "*"

// EventBus distributes bridge events to subscribers
type EventBus struct {
	subscribers map[model.EventType][]chan *model.BridgeEvent
	events      chan *model.BridgeEvent
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan *model.BridgeEvent),
		events:      make(chan *model.BridgeEvent, 1000),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Start distributes events until Close is called
func (eb *EventBus) Start() {
	for {
		select {
		case event := <-eb.events:
			eb.distributeEvent(event)
		case <-eb.done:
			return
		}
	}
}

// Close stops distribution
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() { close(eb.done) })
}

// Publish queues an event. Events are dropped when the bus is full.
func (eb *EventBus) Publish(event *model.BridgeEvent) {
	select {
	case eb.events <- event:
	default:
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", string(event.EventType)),
			)
		}
	}
}

// Subscribe subscribes to events of a specific type, or AllEvents
func (eb *EventBus) Subscribe(eventType model.EventType) <-chan *model.BridgeEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan *model.BridgeEvent, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

func (eb *EventBus) distributeEvent(event *model.BridgeEvent) {
	eb.mutex.RLock()
	subscribers := append([]chan *model.BridgeEvent{}, eb.subscribers[event.EventType]...)
	subscribers = append(subscribers, eb.subscribers[AllEvents]...)
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// slow subscriber
		}
	}
}
