package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath        = "KLBOT_CONFIG"
	envSaveDir           = "KLBOT_SAVE_DIR"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// ErrNotFound is returned when no config file exists at any default location.
var ErrNotFound = errors.New("config file not found")

// Config is the root runtime configuration loaded from config.json or config.yaml.
type Config struct {
	Bot       BotConfig       `json:"bot" yaml:"bot"`
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	Modules   ModulesConfig   `json:"modules" yaml:"modules"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
}

// BotConfig configures the dispatcher and where module state lives.
type BotConfig struct {
	CommandPrefix   string `json:"command_prefix" yaml:"command_prefix"`
	SelfID          int64  `json:"self_id" yaml:"self_id"`
	ModulesSaveDir  string `json:"modules_save_dir" yaml:"modules_save_dir"`
	ModulesSetupDir string `json:"modules_setup_dir" yaml:"modules_setup_dir"`
	ModulesCacheDir string `json:"modules_cache_dir" yaml:"modules_cache_dir"`
	PollIntervalMS  int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// PollInterval is the delay between two fetches of the gateway loop.
func (c BotConfig) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return 200 * time.Millisecond
	}

	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ModulesConfig selects the leaf modules attached at startup.
type ModulesConfig struct {
	Follow FollowModuleConfig `json:"follow" yaml:"follow"`
	Chat   ChatModuleConfig   `json:"chat" yaml:"chat"`
}

// FollowModuleConfig configures the crowd-follow module.
type FollowModuleConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ChatModuleConfig configures the mention-triggered chatter module.
type ChatModuleConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Backend      string `json:"backend" yaml:"backend"`
	Model        string `json:"model" yaml:"model"`
	Instructions string `json:"instructions" yaml:"instructions"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode" yaml:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai" yaml:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Username              string `json:"username" yaml:"username"`
	PasswordEnv           string `json:"password_env" yaml:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env"`
	Organization          string `json:"organization" yaml:"organization"`
	Project               string `json:"project" yaml:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	Proxy     string   `json:"proxy" yaml:"proxy"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from"`
}

// GatewayConfig configures the health endpoint bind settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			CommandPrefix:   "##",
			ModulesSaveDir:  filepath.Join("data", "save"),
			ModulesSetupDir: filepath.Join("data", "setup"),
			ModulesCacheDir: filepath.Join("data", "cache"),
			PollIntervalMS:  200,
		},
		Modules: ModulesConfig{
			Follow: FollowModuleConfig{Enabled: true},
			Chat:   ChatModuleConfig{Backend: "openai"},
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIProviderConfig{APIKeyEnv: "OPENAI_API_KEY"},
		},
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 18790},
	}
}

// LoadConfig resolves the config file, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile reads one config file. Files ending in .yaml or .yml are YAML,
// anything else is JSON.
func LoadFile(configPath string) (*Config, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if saveDir := strings.TrimSpace(os.Getenv(envSaveDir)); saveDir != "" {
		cfg.Bot.ModulesSaveDir = saveDir
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is KLBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s)", ErrNotFound, strings.Join(candidates, ", "))
}
