package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Handler receives a delivered message. A panicking handler is isolated
// and logged; delivery to the remaining subscribers continues.
type Handler func(Message)

type subscription struct {
	id      uint64
	nodeID  string
	types   map[EventType]bool
	handler Handler
}

// Bus is the in-process publish/subscribe primitive everything else is
// built on. Delivery within one Emit is synchronous and runs in
// subscription order; no ordering is promised across independent Emits.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []*subscription
	topics map[string]map[string]bool // nodeID -> topic set
	taps   []func(Message)
}

func New() *Bus {
	return &Bus{
		topics: make(map[string]map[string]bool),
	}
}

// Subscribe registers a handler for the given event types on behalf of
// nodeID. A node may hold any number of simultaneous subscriptions. The
// returned func cancels this subscription; calling it twice is harmless.
func (b *Bus) Subscribe(nodeID string, types []EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		nodeID:  nodeID,
		types:   make(map[EventType]bool, len(types)),
		handler: handler,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// SubscribeTopic adds nodeID to a topic. Topics are a coarse broadcast
// filter orthogonal to event types: a message carrying a topic only
// reaches topic subscribers.
func (b *Bus) SubscribeTopic(nodeID, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[nodeID]
	if !ok {
		set = make(map[string]bool)
		b.topics[nodeID] = set
	}
	set[topic] = true
}

// UnsubscribeTopic removes nodeID from a topic.
func (b *Bus) UnsubscribeTopic(nodeID, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.topics[nodeID]; ok {
		delete(set, topic)
		if len(set) == 0 {
			delete(b.topics, nodeID)
		}
	}
}

// Emit delivers msg to every matching subscriber and returns the message
// with id, timestamp, and status filled in. A candidate matches when it is
// subscribed to the event type, is not the sender, is the addressed
// receiver (or the message is a broadcast), and is topic-subscribed when
// the message carries a topic.
func (b *Bus) Emit(eventType EventType, msg Message) Message {
	msg.Type = eventType
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Status = StatusSent

	// Snapshot under lock so handlers can subscribe/unsubscribe freely.
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if !s.types[msg.Type] {
			continue
		}
		if s.nodeID == msg.SenderID {
			continue
		}
		if msg.ReceiverID != "" && msg.ReceiverID != s.nodeID {
			continue
		}
		if msg.Topic != "" && !b.topics[s.nodeID][msg.Topic] {
			continue
		}
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		b.deliver(s, msg)
	}

	if len(targets) > 0 {
		msg.Status = StatusDelivered
	}

	b.mu.Lock()
	taps := append(([]func(Message))(nil), b.taps...)
	b.mu.Unlock()
	for _, tap := range taps {
		tap(msg)
	}

	return msg
}

// Tap registers an observer invoked for every emitted message after
// delivery, regardless of the delivery predicate. Used by mirrors and
// recorders that need the full traffic, not a subscription's view.
func (b *Bus) Tap(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, fn)
}

func (b *Bus) deliver(s *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus handler panicked", "node", s.nodeID, "type", msg.Type, "message", msg.ID, "panic", r)
		}
	}()
	s.handler(msg)
}

// Subscribers reports how many subscriptions are currently registered.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
