package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"klbot/pkg/bot"
	"klbot/pkg/config"
	"klbot/pkg/message"
	"klbot/pkg/module"
	"klbot/pkg/modules/chat"
	"klbot/pkg/modules/follow"
)

// newBot builds a bot on server and attaches the leaf modules enabled in cfg.
func newBot(cfg *config.Config, server bot.Server, log *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	opts = append([]bot.Option{bot.WithLogger(log)}, opts...)
	b, err := bot.New(cfg.Bot, server, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.Modules.Follow.Enabled {
		if err := b.AddModule(module.Typed[message.Text](follow.New())); err != nil {
			return nil, fmt.Errorf("attach follow module: %w", err)
		}
	}

	if cfg.Modules.Chat.Enabled {
		backend, err := chat.NewBackend(cfg.Modules.Chat, cfg.Providers)
		if err != nil {
			return nil, fmt.Errorf("configure chat module: %w", err)
		}

		selfID := resolveSelfID(cfg)
		if selfID == 0 {
			log.Warn("Chat module has no bot identity and will stay silent", "hint", "set bot.self_id")
		}
		if err := b.AddModule(module.Typed[message.Text](chat.New(backend, selfID))); err != nil {
			return nil, fmt.Errorf("attach chat module: %w", err)
		}
	}

	return b, nil
}

// resolveSelfID returns the configured bot identity, falling back to the
// numeric prefix of the Telegram token, which is the bot's user ID.
func resolveSelfID(cfg *config.Config) int64 {
	if cfg.Bot.SelfID != 0 {
		return cfg.Bot.SelfID
	}

	prefix, _, found := strings.Cut(strings.TrimSpace(cfg.Channels.Telegram.Token), ":")
	if !found {
		return 0
	}

	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0
	}

	return id
}

func moduleIDs(b *bot.Bot) string {
	modules := b.Modules()
	ids := make([]string, 0, len(modules))
	for _, m := range modules {
		ids = append(ids, m.ID())
	}

	return strings.Join(ids, ",")
}
