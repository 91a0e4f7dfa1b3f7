package engine

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type EventType int

type SubscriberID int

// Event is one broker or system occurrence. OrderID is empty for events that
// are not about a single order.
type Event struct {
	Type      EventType
	OrderID   string
	Timestamp time.Time
	Payload   any
}

type subscriber struct {
	id      SubscriberID
	fn      func(Event)
	types   map[EventType]struct{} // nil matches every type
	orderID string                 // empty matches every order
}

func (s *subscriber) matches(evt Event) bool {
	if s.orderID != "" && s.orderID != evt.OrderID {
		return false
	}
	if s.types == nil {
		return true
	}
	_, ok := s.types[evt.Type]
	return ok
}

// EventBus delivers events synchronously, in subscription order. Emit reads
// an immutable snapshot of the subscriber list, so it never waits on
// Subscribe or Unsubscribe and handlers may subscribe from inside a callback.
type EventBus struct {
	mu     sync.Mutex
	subs   atomic.Pointer[[]*subscriber]
	nextID SubscriberID
}

func NewEventBus() *EventBus {
	eb := &EventBus{}
	eb.subs.Store(&[]*subscriber{})
	return eb
}

// Subscribe registers a handler for all event types.
func (eb *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return eb.add(&subscriber{fn: fn})
}

// SubscribeTypes registers a handler for specific event types.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	return eb.add(&subscriber{fn: fn, types: typeSet(types)})
}

// SubscribeOrder registers a handler for events about one order. With no
// types given it receives every event for that order.
func (eb *EventBus) SubscribeOrder(orderID string, fn func(Event), types ...EventType) SubscriberID {
	s := &subscriber{fn: fn, orderID: orderID}
	if len(types) > 0 {
		s.types = typeSet(types)
	}
	return eb.add(s)
}

func (eb *EventBus) add(s *subscriber) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	s.id = eb.nextID
	next := append(slices.Clone(*eb.subs.Load()), s)
	eb.subs.Store(&next)
	return s.id
}

// Unsubscribe removes a subscriber by ID.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	cur := *eb.subs.Load()
	i := slices.IndexFunc(cur, func(s *subscriber) bool { return s.id == id })
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	eb.subs.Store(&next)
}

// Len reports the number of registered subscribers.
func (eb *EventBus) Len() int {
	return len(*eb.subs.Load())
}

// Emit sends an event to all matching subscribers.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, s := range *eb.subs.Load() {
		if s.matches(evt) {
			s.fn(evt)
		}
	}
}

func typeSet(types []EventType) map[EventType]struct{} {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
