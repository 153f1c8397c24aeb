// Package bus is the in-memory relay between chat channels and the bot.
//
// Channels publish inbound messages, the bot drains them in batches with Fetch
// and hands replies back with Send; the gateway forwards those to the owning
// channel. Dispatch events fan out to any number of subscribers.
package bus

import (
	"context"
	"errors"
	"sync"

	"klbot/pkg/message"

	"github.com/google/uuid"
)

const defaultBufferSize = 100

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("message bus closed")

type MessageBus struct {
	inbound  chan message.Message
	outbound chan message.Outbound

	events *eventHub

	done      chan struct{}
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return NewMessageBusSize(defaultBufferSize)
}

// NewMessageBusSize creates a bus whose queues hold size messages each.
func NewMessageBusSize(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &MessageBus{
		inbound:  make(chan message.Message, size),
		outbound: make(chan message.Outbound, size),
		events:   newEventHub(),
		done:     make(chan struct{}),
	}
}

// PublishInbound queues msg for the next Fetch, assigning an ID when it has
// none. It blocks while the queue is full.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg message.Message) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.inbound <- msg:
		return true
	}
}

// Fetch drains the messages queued so far without waiting for more. An empty
// batch means nothing is pending.
func (mb *MessageBus) Fetch(ctx context.Context) ([]message.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-mb.done:
		return nil, ErrClosed
	default:
	}

	var batch []message.Message
	for {
		select {
		case msg := <-mb.inbound:
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
}

// Send queues a reply for delivery.
func (mb *MessageBus) Send(ctx context.Context, out message.Outbound) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	case mb.outbound <- out:
		return nil
	}
}

// SubscribeOutbound waits for the next reply.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (message.Outbound, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return message.Outbound{}, false
	case <-mb.done:
		return message.Outbound{}, false
	case out := <-mb.outbound:
		return out, true
	}
}

func (mb *MessageBus) isClosed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)
		mb.events.close()
	})
}
