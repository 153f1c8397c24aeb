package bus

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageReceived  EventType = "message_received"
	EventMessageProcessed EventType = "message_processed"
	EventModuleFailed     EventType = "module_failed"
)

// Event reports a step of the dispatch of one inbound message.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Channel   string            `json:"channel,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	ModuleID  string            `json:"module_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type subscription struct {
	ch    chan Event
	types []EventType
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// eventHub fans events out to subscribers. A full subscriber misses the event
// and the miss is counted.
type eventHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[uint64]*subscription)}
}

// PublishEvent stamps event with an ID and time when missing and offers it to
// every subscriber of its type. It never blocks.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil || mb.isClosed() {
		return false
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	hub := mb.events
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, sub := range hub.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			hub.dropped.Add(1)
		}
	}

	return true
}

// SubscribeEvents returns a channel receiving events of the given types, or of
// every type when none are given. The channel closes on unsubscribe, when ctx
// ends, or when the bus closes.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int, types ...EventType) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	hub := mb.events
	sub := &subscription{ch: make(chan Event, buffer), types: slices.Clone(types)}

	hub.mu.Lock()
	if hub.closed {
		hub.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := hub.nextID
	hub.nextID++
	hub.subs[id] = sub
	hub.mu.Unlock()

	unsubscribe := sync.OnceFunc(func() { hub.remove(id) })
	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}

// DroppedEvents counts events lost to full subscriber buffers.
func (mb *MessageBus) DroppedEvents() uint64 {
	return mb.events.dropped.Load()
}

func (h *eventHub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
