package store

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (one JSON blob per key)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the engine runs
// purely in-memory (nothing survives a restart).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Well-known storage keys. Each key is its own write-queue domain.
const (
	KeyPreferences       = "notification_preferences"
	KeySchedules         = "notification_schedules"
	KeyAnalytics         = "notification_analytics"
	KeyEngagementProfile = "engagement_profile"
	KeyWeeklyCount       = "notification_weekly_count"
	KeyWeeklyStats       = "weekly_notification_stats"
	KeyTasks             = "tasks"
	KeyEquipment         = "equipment"
	KeyHomes             = "homes"
)
