package module

import (
	"context"

	"klbot/pkg/faults"
	"klbot/pkg/message"
	"klbot/pkg/state"
)

// Descriptor is the part of Module a handler supplies besides its callbacks.
// Embedding *Base provides all of it except Name.
type Descriptor interface {
	Name() string
	ID() string
	Enabled() bool
	SetEnabled(enabled bool)
	IsTransparent() bool
	UseSignature() bool
	Fields() []state.Field

	base() *Base
}

// Handler is a module that only understands payloads of type T.
type Handler[T message.Payload] interface {
	Descriptor
	FilterPayload(msg message.Message, payload T) string
	ProcessPayload(ctx context.Context, msg message.Message, payload T, outcome string) (string, error)
}

// Typed adapts h to the generic Module contract. Messages carrying another
// payload kind are never matched; processing one anyway is a contract
// violation reported as a processing error.
func Typed[T message.Payload](h Handler[T]) Module {
	return &typed[T]{Handler: h}
}

type typed[T message.Payload] struct {
	Handler[T]
}

func (t *typed[T]) Filter(msg message.Message) string {
	payload, ok := msg.Payload.(T)
	if !ok {
		return ""
	}

	return t.FilterPayload(msg, payload)
}

func (t *typed[T]) Process(ctx context.Context, msg message.Message, outcome string) (string, error) {
	payload, ok := msg.Payload.(T)
	if !ok {
		var want T
		return "", faults.Newf(faults.KindModuleProcessing, t.ID(), "unsupported payload %s, want %s", payloadKind(msg.Payload), want.Kind())
	}

	return t.ProcessPayload(ctx, msg, payload, outcome)
}

func payloadKind(p message.Payload) message.PayloadKind {
	if p == nil {
		return "none"
	}

	return p.Kind()
}
