package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventCandleClosed     EventType = "CANDLE_CLOSED"
	EventPatternDetected  EventType = "PATTERN_DETECTED"
	EventSignalGenerated  EventType = "SIGNAL_GENERATED"
	EventOrderSubmitted   EventType = "ORDER_SUBMITTED"
	EventOrderFilled      EventType = "ORDER_FILLED"
	EventOrderPartialFill EventType = "ORDER_PARTIAL_FILL"
	EventOrderCancelled   EventType = "ORDER_CANCELLED"
	EventOrderRejected    EventType = "ORDER_REJECTED"
	EventPositionOpened   EventType = "POSITION_OPENED"
	EventPositionClosed   EventType = "POSITION_CLOSED"
	EventStopUpdated      EventType = "STOP_UPDATED"
	EventCircuitBreaker   EventType = "CIRCUIT_BREAKER"
	EventPairHalted       EventType = "PAIR_HALTED"
	EventRiskSnapshot     EventType = "RISK_SNAPSHOT"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions. Delivery is
// best-effort and asynchronous: a slow subscriber never blocks a publisher.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol, direction, pattern string, strength, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"pattern":    pattern,
			"strength":   strength,
			"confidence": confidence,
		},
	})
}

// PublishPattern publishes a pattern detection event
func (eb *EventBus) PublishPattern(symbol, timeframe, pattern, direction string, strength float64) {
	eb.Publish(Event{
		Type: EventPatternDetected,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
			"pattern":   pattern,
			"direction": direction,
			"strength":  strength,
		},
	})
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(symbol, side string, entryPrice, quantity, stop float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"quantity":    quantity,
			"stop_price":  stop,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (eb *EventBus) PublishPositionClosed(symbol string, entryPrice, exitPrice, quantity, pnl float64, reason string) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
			"reason":      reason,
		},
	})
}

// PublishStopUpdated publishes a trailing stop movement
func (eb *EventBus) PublishStopUpdated(symbol string, oldStop, newStop float64) {
	eb.Publish(Event{
		Type: EventStopUpdated,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"old_stop": oldStop,
			"new_stop": newStop,
		},
	})
}

// PublishCircuitBreaker publishes a breaker state change
func (eb *EventBus) PublishCircuitBreaker(active bool, reason string) {
	eb.Publish(Event{
		Type: EventCircuitBreaker,
		Data: map[string]interface{}{
			"active": active,
			"reason": reason,
		},
	})
}

// PublishPairHalted publishes a per-pair halt for manual review
func (eb *EventBus) PublishPairHalted(symbol, reason string) {
	eb.Publish(Event{
		Type: EventPairHalted,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
