package core

import "sync"

// EventType identifies a class of event on the bus.
type EventType string

// Event types published by the agent. State and transmitter events carry a
// map payload describing the new situation; command events carry the source,
// action and argument of the command plus an "error" string where relevant.
const (
	StateChangedEvent      EventType = "StateChanged"
	TransmitterStatusEvent EventType = "TransmitterStatus"
	CommandSentEvent       EventType = "CommandSent"
	CommandRejectedEvent   EventType = "CommandRejected"
	CommandFailedEvent     EventType = "CommandFailed"
	SceneChangedEvent      EventType = "SceneChanged"
	ScheduleChangedEvent   EventType = "ScheduleChanged"
)

// Event is the envelope for all system events.
type Event struct {
	Type    EventType
	Payload interface{}
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// subscriberBuffer is the capacity of each subscriber channel. A slow
// consumer loses events once its buffer fills rather than stalling the bus.
const subscriberBuffer = 100

// EventBus fans events out to interested subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers interest in the given event types and returns the
// channel events will arrive on.
func (eb *EventBus) Subscribe(eventTypes ...EventType) Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(Subscriber, subscriberBuffer)
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}

	return ch
}

// Unsubscribe detaches a subscriber channel from the given event types.
// The channel itself is not closed; pending events can still be drained.
func (eb *EventBus) Unsubscribe(ch Subscriber, eventTypes ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range eventTypes {
		subs := eb.subscribers[t]
		for i, sub := range subs {
			if sub == ch {
				eb.subscribers[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers an event to every subscriber of its type. Delivery never
// blocks: a subscriber whose buffer is full simply misses the event.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers[event.Type] {
		select {
		case sub <- event:
		default:
		}
	}
}
