package config

import (
	"reflect"
	"sort"
	"strings"

	logx "homepulse/pkg/logx"
)

// SummarizeChange returns the changed section names plus structured
// attrs safe for logging. Secrets (the Telegram token) are reported as
// set/unset only.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldTok := strings.TrimSpace(oldCfg.Telegram.Token) != ""
	newTok := strings.TrimSpace(newCfg.Telegram.Token) != ""
	tg := oldCfg.Telegram
	tg.Token = ""
	ntg := newCfg.Telegram
	ntg.Token = ""
	if oldTok != newTok || tg != ntg {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", newTok),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
		)
	}

	// Nil storage means disabled; surface it as an empty driver.
	var oldStore, newStore StorageConfig
	if oldCfg.Storage != nil {
		oldStore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newStore = *newCfg.Storage
	}
	if oldStore != newStore {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newStore.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newStore.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifications, newCfg.Notifications) {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.Int("notifications.weekly_limit", newCfg.Notifications.WeeklyLimit),
			logx.String("notifications.style", newCfg.Notifications.Style),
		)
	}

	if oldCfg.Engagement != newCfg.Engagement {
		changed = append(changed, "engagement")
		attrs = append(attrs,
			logx.Int("engagement.max_records", newCfg.Engagement.MaxRecords),
			logx.Float64("engagement.exploration_rate", newCfg.Engagement.ExplorationRate),
		)
	}

	if !reflect.DeepEqual(oldCfg.Optimizer, newCfg.Optimizer) {
		changed = append(changed, "optimizer")
		attrs = append(attrs,
			logx.Bool("optimizer.enabled", newCfg.OptimizerEnabled()),
			logx.String("optimizer.spec", strings.TrimSpace(newCfg.Optimizer.Spec)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
