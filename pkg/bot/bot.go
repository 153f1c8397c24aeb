// Package bot routes inbound chat messages through an ordered chain of modules
// and persists module status after it changes.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"klbot/pkg/bus"
	"klbot/pkg/config"
	"klbot/pkg/faults"
	"klbot/pkg/message"
	"klbot/pkg/module"
	"klbot/pkg/persist"
	"klbot/pkg/state"
)

// Server is the relay the bot fetches messages from and sends replies to.
type Server interface {
	Fetch(ctx context.Context) ([]message.Message, error)
	Send(ctx context.Context, out message.Outbound) error
}

// EventPublisher receives dispatch events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

type Option func(*Bot)

// WithLogger sets the logger of the bot and every attached module.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bot) {
		if log != nil {
			b.log = log
		}
	}
}

// WithEvents publishes dispatch events to p.
func WithEvents(p EventPublisher) Option {
	return func(b *Bot) {
		b.events = p
	}
}

// Bot owns the module registry and drives dispatch.
type Bot struct {
	cfg    config.BotConfig
	server Server
	events EventPublisher
	log    *slog.Logger

	// mu never waits on a module's own lock; instance IDs are read from ids.
	mu        sync.RWMutex
	modules   []module.Module
	ids       map[module.Module]string
	snapshots map[module.Module][]byte

	diag     counters
	saver    *persist.Writer
	commands module.Module
}

// New creates a bot with its command module attached.
func New(cfg config.BotConfig, server Server, opts ...Option) (*Bot, error) {
	if server == nil {
		return nil, errors.New("bot server is required")
	}

	defaults := config.Default().Bot
	if strings.TrimSpace(cfg.CommandPrefix) == "" {
		cfg.CommandPrefix = defaults.CommandPrefix
	}
	if cfg.ModulesSaveDir == "" {
		cfg.ModulesSaveDir = defaults.ModulesSaveDir
	}
	if cfg.ModulesSetupDir == "" {
		cfg.ModulesSetupDir = defaults.ModulesSetupDir
	}
	if cfg.ModulesCacheDir == "" {
		cfg.ModulesCacheDir = defaults.ModulesCacheDir
	}

	b := &Bot{
		cfg:       cfg,
		server:    server,
		log:       slog.Default(),
		ids:       make(map[module.Module]string),
		snapshots: make(map[module.Module][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "bot")
	b.diag.startedAt = time.Now().UTC()
	b.saver = persist.NewWriter(cfg.ModulesSaveDir, b.log)

	b.commands = module.Typed[message.Text](newCommandModule(b, cfg.CommandPrefix))
	if err := b.AddModule(b.commands); err != nil {
		return nil, fmt.Errorf("attach command module: %w", err)
	}

	return b, nil
}

// AddModule attaches m, then imports its setup and status documents when they
// exist. Import failures are logged and leave the module attached.
func (b *Bot) AddModule(m module.Module) error {
	if err := module.AttachTo(m, b); err != nil {
		return err
	}

	b.loadState(m)

	snapshot, err := state.Snapshot(m)
	if err != nil {
		b.log.Warn("status snapshot failed", "module_id", m.ID(), "error", err)
		return nil
	}

	b.mu.Lock()
	if _, attached := b.ids[m]; attached {
		b.snapshots[m] = snapshot
	}
	b.mu.Unlock()

	b.log.Info("module attached", "module_id", m.ID())
	return nil
}

// RemoveModule detaches m. The command module cannot be removed.
func (b *Bot) RemoveModule(m module.Module) error {
	b.mu.RLock()
	owned := b.indexOf(m) >= 0
	b.mu.RUnlock()
	if !owned {
		return faults.New(faults.KindModuleAttachment, m.Name(), "module is not attached to this bot")
	}

	id := m.ID()
	if err := module.Detach(m); err != nil {
		return err
	}

	b.log.Info("module detached", "module_id", id)
	return nil
}

// Insert implements module.Registry. The rank is the number of attached
// modules of the same name, bumped past any ID still in use.
func (b *Bot) Insert(m module.Module, bind func(id string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rank := 0
	for _, existing := range b.modules {
		if existing.Name() == m.Name() {
			rank++
		}
	}

	id := instanceID(m.Name(), rank)
	for b.idTaken(id) {
		rank++
		id = instanceID(m.Name(), rank)
	}

	b.modules = append(b.modules, m)
	b.ids[m] = id
	bind(id)
	return nil
}

// Remove implements module.Registry.
func (b *Bot) Remove(m module.Module, unbind func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m == b.commands {
		return faults.New(faults.KindModuleAttachment, m.Name(), "command module cannot be detached")
	}

	idx := b.indexOf(m)
	if idx < 0 {
		return faults.New(faults.KindModuleAttachment, m.Name(), "module is not attached to this bot")
	}

	b.modules = append(b.modules[:idx:idx], b.modules[idx+1:]...)
	delete(b.ids, m)
	delete(b.snapshots, m)
	unbind()
	return nil
}

// ModuleCacheDir returns the private directory of an instance.
func (b *Bot) ModuleCacheDir(id string) string {
	return filepath.Join(b.cfg.ModulesCacheDir, id)
}

// ModulesSaveDir returns the directory holding status documents.
func (b *Bot) ModulesSaveDir() string {
	return b.cfg.ModulesSaveDir
}

// ModulesSetupDir returns the directory holding setup documents.
func (b *Bot) ModulesSetupDir() string {
	return b.cfg.ModulesSetupDir
}

// Logger is the logger modules derive theirs from.
func (b *Bot) Logger() *slog.Logger {
	return b.log
}

// Modules returns the attached modules in dispatch order.
func (b *Bot) Modules() []module.Module {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]module.Module, len(b.modules))
	copy(out, b.modules)
	return out
}

// ModuleCount includes the command module.
func (b *Bot) ModuleCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.modules)
}

// Module looks an attached module up by instance ID or by name, ignoring case
// and a trailing "module" or "mod". IDs win over names; the first module in
// dispatch order wins among equal names.
func (b *Bot) Module(idOrName string) (module.Module, error) {
	key := strings.TrimSpace(idOrName)
	modules := b.Modules()

	for _, m := range modules {
		if strings.EqualFold(m.ID(), key) {
			return m, nil
		}
	}
	for _, m := range modules {
		if strings.EqualFold(m.Name(), key) {
			return m, nil
		}
	}

	alias := moduleAlias(key)
	if alias != "" {
		for _, m := range modules {
			if moduleAlias(m.Name()) == alias {
				return m, nil
			}
		}
	}

	return nil, faults.Newf(faults.KindMissingModule, "", "no module matches %q", idOrName)
}

func (b *Bot) loadState(m module.Module) {
	log := b.log.With("module_id", m.ID())

	docs := []struct {
		kind string
		path string
	}{
		{kind: "setup", path: persist.SetupPath(b.cfg.ModulesSetupDir, m.ID())},
		{kind: "status", path: persist.StatusPath(b.cfg.ModulesSaveDir, m.ID())},
	}

	for _, doc := range docs {
		data, err := os.ReadFile(doc.path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			log.Error("read module document failed", "kind", doc.kind, "path", doc.path, "error", err)
			continue
		}

		warnings, err := state.LoadJSON(m, data)
		for _, warning := range warnings {
			log.Warn("module document has unknown key", "kind", doc.kind, "detail", warning)
		}
		if err != nil {
			log.Error("import module document failed", "kind", doc.kind, "path", doc.path, "error", err)
			continue
		}

		log.Debug("module document imported", "kind", doc.kind, "path", doc.path)
	}
}

func (b *Bot) indexOf(m module.Module) int {
	for i, existing := range b.modules {
		if existing == m {
			return i
		}
	}

	return -1
}

func (b *Bot) idTaken(id string) bool {
	for _, taken := range b.ids {
		if taken == id {
			return true
		}
	}

	return false
}

func instanceID(name string, rank int) string {
	return fmt.Sprintf("%s[%d]", name, rank)
}

func moduleAlias(name string) string {
	alias := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(alias, '['); i >= 0 {
		alias = alias[:i]
	}
	for _, suffix := range []string{"module", "mod"} {
		if trimmed, ok := strings.CutSuffix(alias, suffix); ok && trimmed != "" {
			return trimmed
		}
	}

	return alias
}
