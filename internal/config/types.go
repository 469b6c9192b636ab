package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram,omitempty"`

	// Storage controls the persistence layer. Nil means in-memory only:
	// schedules and engagement data do not survive a restart.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Notifications seeds the preference defaults used until the user
	// stores their own.
	Notifications NotificationsConfig `json:"notifications,omitempty"`

	Engagement EngagementConfig `json:"engagement,omitempty"`
	Optimizer  OptimizerConfig  `json:"optimizer,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TelegramConfig configures the Telegram delivery channel. An empty
// token disables the channel; deliveries then go to the log.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig mirrors store.Config.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./homepulse.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotificationsConfig overrides the built-in preference defaults.
// Pointer fields distinguish "omitted" from an explicit zero value.
type NotificationsConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	QuietStart  string `json:"quiet_start,omitempty"` // "HH:MM"
	QuietEnd    string `json:"quiet_end,omitempty"`   // "HH:MM"
	WeeklyLimit int    `json:"weekly_limit,omitempty"`
	Style       string `json:"style,omitempty"`  // gentle | standard | persistent
	Timing      string `json:"timing,omitempty"` // immediate | optimal
}

type EngagementConfig struct {
	MaxRecords      int     `json:"max_records,omitempty"`
	ExplorationRate float64 `json:"exploration_rate,omitempty"`
}

type OptimizerConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
	// Spec is a standard 5-field cron expression.
	Spec string `json:"spec,omitempty"`
}

// OptimizerEnabled resolves the pointer against its default.
func (c *Config) OptimizerEnabled() bool {
	return c.Optimizer.Enabled == nil || *c.Optimizer.Enabled
}

var validStyles = map[string]struct{}{"": {}, "gentle": {}, "standard": {}, "persistent": {}}
var validTimings = map[string]struct{}{"": {}, "immediate": {}, "optimal": {}}

// Validate checks field formats without touching the filesystem or
// network. It is safe to call from the reload path.
func (c *Config) Validate() error {
	if _, err := ParseDuration("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if c.Telegram.RatePerSec < 0 {
		return fmt.Errorf("telegram.rate_per_sec: must be >= 0")
	}
	if c.Storage != nil {
		switch strings.TrimSpace(c.Storage.Driver) {
		case "", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDuration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	for path, raw := range map[string]string{
		"notifications.quiet_start": c.Notifications.QuietStart,
		"notifications.quiet_end":   c.Notifications.QuietEnd,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.Parse("15:04", raw); err != nil {
			return fmt.Errorf("%s: want HH:MM, got %q", path, raw)
		}
	}
	if l := c.Notifications.WeeklyLimit; l < 0 || l > 10 {
		return fmt.Errorf("notifications.weekly_limit: must be in 0..10")
	}
	if _, ok := validStyles[c.Notifications.Style]; !ok {
		return fmt.Errorf("notifications.style: unknown style %q", c.Notifications.Style)
	}
	if _, ok := validTimings[c.Notifications.Timing]; !ok {
		return fmt.Errorf("notifications.timing: unknown timing %q", c.Notifications.Timing)
	}
	if c.Engagement.MaxRecords < 0 {
		return fmt.Errorf("engagement.max_records: must be >= 0")
	}
	if r := c.Engagement.ExplorationRate; r < 0 || r > 1 {
		return fmt.Errorf("engagement.exploration_rate: must be in 0..1")
	}
	return nil
}

// ParseDuration parses an optional duration field. Empty means zero;
// negative values are rejected. path names the field in errors.
func ParseDuration(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration", path)
	}
	return d, nil
}

// ParseDurationDefault is ParseDuration with a fallback for fields left
// empty or zero.
func ParseDurationDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
