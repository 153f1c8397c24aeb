package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "bot": {"command_prefix": "!!", "self_id": 10001, "modules_save_dir": "/var/klbot/save"},
	  "channels": {"telegram": {}},
	  "modules": {"chat": {"enabled": true, "backend": "opencode"}},
	  "providers": {"opencode": {"base_url": "http://127.0.0.1:4096"}},
	  "gateway": {"host": "0.0.0.0", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("KLBOT_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Bot.CommandPrefix != "!!" || cfg.Bot.SelfID != 10001 {
		t.Fatalf("bot = %+v", cfg.Bot)
	}
	if cfg.Modules.Chat.Backend != "opencode" {
		t.Fatalf("modules.chat.backend = %q, want opencode", cfg.Modules.Chat.Backend)
	}
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"gateway": {"port": 9000}}`), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Bot.CommandPrefix != "##" {
		t.Fatalf("command_prefix = %q, want ##", cfg.Bot.CommandPrefix)
	}
	if cfg.Gateway.Port != 9000 || cfg.Gateway.Host != "127.0.0.1" {
		t.Fatalf("gateway = %+v", cfg.Gateway)
	}
	if !cfg.Modules.Follow.Enabled {
		t.Fatal("modules.follow.enabled = false, want default true")
	}
	if cfg.Bot.PollInterval() != 200*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 200ms", cfg.Bot.PollInterval())
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
bot:
  command_prefix: "%%"
  modules_cache_dir: /tmp/klbot-cache
  poll_interval_ms: 50
channels:
  telegram:
    enabled: true
    allow_from: ["1", "2"]
modules:
  follow:
    enabled: false
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Bot.CommandPrefix != "%%" {
		t.Fatalf("command_prefix = %q, want %%%%", cfg.Bot.CommandPrefix)
	}
	if cfg.Bot.PollInterval() != 50*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 50ms", cfg.Bot.PollInterval())
	}
	if !cfg.Channels.Telegram.Enabled || len(cfg.Channels.Telegram.AllowFrom) != 2 {
		t.Fatalf("telegram = %+v", cfg.Channels.Telegram)
	}
	if cfg.Modules.Follow.Enabled {
		t.Fatal("modules.follow.enabled = true, want false")
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("logging.level = %q, want warn", cfg.Logging.Level)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"channels": {"telegram": {"token": "file"}}}`), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_ALLOW_FROM", " 7, ,8 ")
	t.Setenv("KLBOT_SAVE_DIR", "/srv/save")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Channels.Telegram.Token != "env-token" {
		t.Fatalf("token = %q, want env-token", cfg.Channels.Telegram.Token)
	}
	if got := cfg.Channels.Telegram.AllowFrom; len(got) != 2 || got[0] != "7" || got[1] != "8" {
		t.Fatalf("allow_from = %v, want [7 8]", got)
	}
	if cfg.Bot.ModulesSaveDir != "/srv/save" {
		t.Fatalf("modules_save_dir = %q, want /srv/save", cfg.Bot.ModulesSaveDir)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("KLBOT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigNotFound(t *testing.T) {
	t.Setenv("KLBOT_CONFIG", "")
	t.Chdir(t.TempDir())

	_, err := LoadConfig()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
