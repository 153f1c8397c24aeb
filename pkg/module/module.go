// Package module defines the contract every bot module implements and the
// base behavior modules embed: identity, the enabled switch, attachment to a
// registry and a private file area.
package module

import (
	"context"
	"log/slog"
	"sync"

	"klbot/pkg/message"
	"klbot/pkg/state"
)

// Module is a pluggable unit that filters and possibly answers messages.
//
// Concrete modules embed *Base, which supplies everything except Name, Filter
// and Process. Filter returns a non-empty discriminator when the module wants
// the message; the discriminator is handed back to Process.
type Module interface {
	Name() string
	ID() string
	Enabled() bool
	SetEnabled(enabled bool)
	IsTransparent() bool
	UseSignature() bool
	Fields() []state.Field
	Filter(msg message.Message) string
	Process(ctx context.Context, msg message.Message, outcome string) (string, error)

	base() *Base
}

// Base carries the per-instance state shared by all modules.
type Base struct {
	mu      sync.RWMutex
	id      string
	host    Registry
	enabled bool
}

// NewBase returns an enabled, detached base.
func NewBase() *Base {
	return &Base{enabled: true}
}

func (b *Base) base() *Base { return b }

// ID returns the instance ID, empty while detached.
func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.id
}

// Attached reports whether the module currently belongs to a registry.
func (b *Base) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.host != nil
}

func (b *Base) Enabled() bool {
	return b.enabled
}

func (b *Base) SetEnabled(enabled bool) {
	b.enabled = enabled
}

func (b *Base) IsTransparent() bool {
	return false
}

func (b *Base) UseSignature() bool {
	return true
}

// Fields declares the status shared by every module. Modules with their own
// fields append to it.
func (b *Base) Fields() []state.Field {
	return []state.Field{state.Status("Enabled", &b.enabled)}
}

// Logger returns the host logger scoped to this instance.
func (b *Base) Logger() *slog.Logger {
	b.mu.RLock()
	host, id := b.host, b.id
	b.mu.RUnlock()

	log := slog.Default()
	if host != nil && host.Logger() != nil {
		log = host.Logger()
	}

	return log.With("component", "module", "module_id", id)
}

// ShouldProcess evaluates the module's participation in msg. A disabled module
// never matches and its filter is not consulted.
func ShouldProcess(m Module, msg message.Message) (string, bool) {
	if !m.Enabled() {
		return "", false
	}

	outcome := m.Filter(msg)
	return outcome, outcome != ""
}
