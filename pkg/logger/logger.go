package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"klbot/pkg/config"
)

const (
	envFormat    = "KLBOT_LOG_FORMAT"
	envLevel     = "KLBOT_LOG_LEVEL"
	envAddSource = "KLBOT_LOG_ADD_SOURCE"
)

// Settings is a logging configuration after environment overrides.
type Settings struct {
	Format    string
	Level     slog.Level
	AddSource bool
}

// Resolve applies the KLBOT_LOG_* variables on top of cfg and validates the
// result. Empty values fall back to text output at info level.
func Resolve(cfg config.LoggingConfig) (Settings, error) {
	format := pick(envFormat, cfg.Format, "text")
	if format != "text" && format != "json" {
		return Settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	levelName := pick(envLevel, cfg.Level, "info")
	if levelName == "warning" {
		levelName = "warn"
	}
	level, err := charmLog.ParseLevel(levelName)
	if err != nil || level == charmLog.FatalLevel {
		return Settings{}, fmt.Errorf("unsupported log level %q", levelName)
	}

	addSource := cfg.AddSource
	if raw, ok := os.LookupEnv(envAddSource); ok && strings.TrimSpace(raw) != "" {
		addSource = isTruthy(raw)
	}

	// charm levels share slog's numeric scale.
	return Settings{Format: format, Level: slog.Level(level), AddSource: addSource}, nil
}

func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewTo(cfg, os.Stderr)
}

// NewTo builds a logger writing to w.
func NewTo(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	settings, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}

	return slog.New(settings.Handler(w)), nil
}

// Install builds a stderr logger and makes it the process default.
func Install(cfg config.LoggingConfig) (*slog.Logger, error) {
	log, err := New(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(log)
	return log, nil
}

// Handler returns the slog handler for the resolved format.
func (s Settings) Handler(w io.Writer) slog.Handler {
	if s.Format == "json" {
		return newEntryHandler(w, s)
	}

	return charmLog.NewWithOptions(w, charmLog.Options{
		Level:           charmLog.Level(s.Level),
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		ReportCaller:    s.AddSource,
		Formatter:       charmLog.TextFormatter,
	})
}

func pick(env string, configured string, fallback string) string {
	for _, candidate := range []string{os.Getenv(env), configured} {
		if value := strings.ToLower(strings.TrimSpace(candidate)); value != "" {
			return value
		}
	}

	return fallback
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}

	return false
}
