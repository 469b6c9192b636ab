package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./homepulse.db
  busy_timeout: 5s
telegram:
  token: secret
  chat_id: 42
  poll_timeout: 10s
  rate_per_sec: 3
notifications:
  quiet_start: "22:00"
  quiet_end: "07:30"
  weekly_limit: 4
  style: gentle
optimizer:
  spec: "0 9 * * 0"
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if cfg.Telegram.ChatID != 42 || cfg.Telegram.PollTimeout != "10s" {
		t.Fatalf("telegram: %+v", cfg.Telegram)
	}
	if cfg.Notifications.QuietStart != "22:00" || cfg.Notifications.WeeklyLimit != 4 {
		t.Fatalf("notifications: %+v", cfg.Notifications)
	}
	if !cfg.OptimizerEnabled() {
		t.Fatalf("optimizer should default to enabled")
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get did not return the committed snapshot")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
notifcations:
  weekly_limit: 3
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("misspelled section accepted")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad quiet hours": "notifications:\n  quiet_start: \"25:00\"\n",
		"bad style":       "notifications:\n  style: loud\n",
		"bad driver":      "storage:\n  driver: redis\n  path: x\n",
		"bad duration":    "telegram:\n  token: t\n  poll_timeout: soon\n",
		"bad rate":        "engagement:\n  exploration_rate: 1.5\n",
	}
	for name, body := range cases {
		path := writeConfig(t, "config.yaml", body)
		if _, err := NewManager(path).Load(); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
}

func TestSummarizeChangeDetectsTelegram(t *testing.T) {
	oldCfg := &Config{}
	newCfg := &Config{Telegram: TelegramConfig{Token: "secret", ChatID: 1}}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "telegram" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestSummarizeChangeDetectsSections(t *testing.T) {
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging:    LoggingConfig{Level: "debug"},
		Engagement: EngagementConfig{MaxRecords: 500},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"engagement", "logging"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
}
