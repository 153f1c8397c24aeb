package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"klbot/pkg/config"
	"klbot/pkg/logger"
	"klbot/pkg/ui/console"

	"github.com/spf13/cobra"
)

var (
	consoleLogFile  string
	consoleSenderID int64
	consoleGroupID  int64
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Talk to the bot modules from the terminal",
	Long:  "Builds the configured modules without any chat channel and dispatches every typed line as a message, showing the replies.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfigOrDefault()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		logFile, err := os.OpenFile(consoleLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Printf("failed to open log file: %v\n", err)
			return
		}
		defer logFile.Close()

		appLogger, err := logger.NewTo(cfg.Logging, logFile)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)

		outbox := console.NewOutbox()
		b, err := newBot(cfg, outbox, appLogger)
		if err != nil {
			fmt.Printf("failed to initialize bot: %v\n", err)
			return
		}

		ctx := context.Background()
		who := console.Identity{SelfID: resolveSelfID(cfg), SenderID: consoleSenderID, GroupID: consoleGroupID}
		if err := console.Run(ctx, b, outbox, who); err != nil {
			fmt.Printf("console failed: %v\n", err)
		}

		saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := b.WaitSaved(saveCtx); err != nil {
			fmt.Printf("failed to save module status: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "klbot-console.log", "file receiving log output while the console runs")
	consoleCmd.Flags().Int64Var(&consoleSenderID, "sender", 1, "sender id of typed messages")
	consoleCmd.Flags().Int64Var(&consoleGroupID, "group", -1, "group id of typed group messages")
}

// loadConfigOrDefault runs with built-in defaults when no config file exists.
func loadConfigOrDefault() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if errors.Is(err, config.ErrNotFound) {
		return config.Default(), nil
	}

	return cfg, err
}
