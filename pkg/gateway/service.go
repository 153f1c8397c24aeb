package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"klbot/pkg/bot"
	"klbot/pkg/bus"
	"klbot/pkg/channel"
	"klbot/pkg/config"
	"klbot/pkg/message"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
	shutdownTimeout   = 5 * time.Second
)

// Service runs the channel adapters, the fetch/dispatch loop and the outbound
// router around one bot.
type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	bot      *bot.Bot
	bus      *bus.MessageBus
	channels []channel.Adapter

	mu             sync.RWMutex
	startedAt      time.Time
	channelStates  map[string]channelState
	moduleFailures map[string]uint64
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Channels      map[string]channelState `json:"channels"`
}

type diagResponse struct {
	statusResponse
	Modules        []string          `json:"modules"`
	Diagnostics    bot.Diagnostics   `json:"diagnostics"`
	ModuleFailures map[string]uint64 `json:"module_failures,omitempty"`
	DroppedEvents  uint64            `json:"dropped_events"`
}

func NewService(cfg *config.Config, b *bot.Bot, mb *bus.MessageBus, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if b == nil || mb == nil {
		return nil, errors.New("bot and message bus are required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:            cfg,
		log:            log.With("component", "gateway.service"),
		bot:            b,
		bus:            mb,
		channels:       adapters,
		channelStates:  channelStates,
		moduleFailures: make(map[string]uint64),
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	failures, unsubscribe := s.bus.SubscribeEvents(ctx, 0, bus.EventModuleFailed)
	defer unsubscribe()
	go s.countFailures(failures)

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.bus.PublishInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	go s.routeOutbound(ctx)

	ticker := time.NewTicker(s.cfg.Bot.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flushSaves()
			return nil
		case err := <-serverErrors:
			s.flushSaves()
			return err
		case err := <-errCh:
			s.flushSaves()
			return err
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch runs one fetch/process round. A batch is never interrupted once
// started.
func (s *Service) dispatch(ctx context.Context) {
	msgs, err := s.bot.FetchMessages(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("Failed to fetch messages", "error", err)
		}
		return
	}
	if len(msgs) == 0 {
		return
	}

	s.log.Debug("Dispatching batch", "size", len(msgs))
	s.bot.ProcessMessages(context.WithoutCancel(ctx), msgs)
}

// routeOutbound hands every reply to the adapter named by its channel.
func (s *Service) routeOutbound(ctx context.Context) {
	adapters := make(map[string]channel.Adapter, len(s.channels))
	for _, adapter := range s.channels {
		adapters[adapter.Name()] = adapter
	}

	for {
		out, ok := s.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		adapter, found := adapters[out.Channel]
		if !found {
			s.log.Warn("Dropping reply for unknown channel", "channel", out.Channel, "module_id", out.ModuleID, "content", preview(out))
			continue
		}

		if err := adapter.Deliver(ctx, out); err != nil {
			s.log.Error("Failed to deliver reply", "channel", out.Channel, "module_id", out.ModuleID, "error", err)
		}
	}
}

// countFailures tallies module_failed events per module instance until the
// subscription closes.
func (s *Service) countFailures(events <-chan bus.Event) {
	for event := range events {
		s.mu.Lock()
		s.moduleFailures[event.ModuleID]++
		s.mu.Unlock()
	}
}

func (s *Service) flushSaves() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.bot.WaitSaved(ctx); err != nil {
		s.log.Error("Failed to flush module status", "error", err)
	}
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/diag", s.handleDiag)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.currentStatus("ok"))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respond(w, statusCode, s.currentStatus(status))
}

func (s *Service) handleDiag(w http.ResponseWriter, _ *http.Request) {
	modules := s.bot.Modules()
	ids := make([]string, 0, len(modules))
	for _, m := range modules {
		ids = append(ids, m.ID())
	}

	s.mu.RLock()
	failures := make(map[string]uint64, len(s.moduleFailures))
	for id, n := range s.moduleFailures {
		failures[id] = n
	}
	s.mu.RUnlock()

	s.respond(w, http.StatusOK, diagResponse{
		statusResponse: s.currentStatus("ok"),
		Modules:        ids,
		Diagnostics:    s.bot.Diagnostics(),
		ModuleFailures: failures,
		DroppedEvents:  s.bus.DroppedEvents(),
	})
}

func (s *Service) respond(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channels:      channels,
	}
}

// isReady reports whether at least one channel is receiving messages.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

const previewRunes = 80

func preview(out message.Outbound) string {
	runes := []rune(out.Chain.PlainText())
	if len(runes) > previewRunes {
		return string(runes[:previewRunes]) + "..."
	}

	return string(runes)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
