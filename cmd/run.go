package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"klbot/pkg/bot"
	"klbot/pkg/bus"
	"klbot/pkg/channel"
	"klbot/pkg/channel/telegram"
	"klbot/pkg/config"
	"klbot/pkg/gateway"
	"klbot/pkg/logger"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot on its chat channels",
	Long:  "Connects the enabled chat channels, dispatches incoming messages through the module chain and serves health, readiness and diagnostics endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		if _, err := logger.Install(cfg.Logging); err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		log := slog.Default().With("component", "cmd.run")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Channel configuration invalid", "error", err)
			return
		}

		mb := bus.NewMessageBus()
		defer mb.Close()

		b, err := newBot(cfg, mb, slog.Default(), bot.WithEvents(mb))
		if err != nil {
			log.Error("Failed to initialize bot", "error", err)
			return
		}

		svc, err := gateway.NewService(cfg, b, mb, adapters, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Bot started", "channels", enabledChannelNames(adapters), "modules", moduleIDs(b))
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Bot runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
