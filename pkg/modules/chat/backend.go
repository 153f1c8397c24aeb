package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"klbot/pkg/config"
)

const (
	BackendOpenAI   = "openai"
	BackendOpenCode = "opencode"
)

// Backend produces replies within long-lived conversations, one per chat.
type Backend interface {
	NewConversation(ctx context.Context, title string) (string, error)
	Reply(ctx context.Context, conversationID string, prompt string) (string, error)
}

// NewBackend builds the backend named by the module configuration.
func NewBackend(cfg config.ChatModuleConfig, providers config.ProvidersConfig) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if name == "" {
		name = BackendOpenAI
	}

	slog.Default().With("component", "chat.backend").Debug("Resolving chat backend", "backend", name)

	switch name {
	case BackendOpenAI:
		return NewOpenAIBackend(providers.OpenAI, cfg.Model, cfg.Instructions)
	case BackendOpenCode:
		return NewOpenCodeBackend(providers.OpenCode, cfg.Model, cfg.Instructions)
	default:
		return nil, fmt.Errorf("unsupported chat backend: %s", name)
	}
}

// requestLog times one backend request.
type requestLog struct {
	log       *slog.Logger
	startedAt time.Time
}

func startRequest(component string, operation string, attrs ...any) requestLog {
	log := slog.Default().With("component", component, "operation", operation)
	log.Debug("backend request started", attrs...)
	return requestLog{log: log, startedAt: time.Now()}
}

func (r requestLog) failed(err any) {
	r.log.Debug("backend request failed", "duration_ms", time.Since(r.startedAt).Milliseconds(), "error", err)
}

func (r requestLog) completed(attrs ...any) {
	r.log.Debug("backend request completed", append([]any{"duration_ms", time.Since(r.startedAt).Milliseconds()}, attrs...)...)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, timeout)
}
