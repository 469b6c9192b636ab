package prefs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Style picks the tone of generated content.
type Style string

const (
	StyleGentle     Style = "gentle"
	StyleStandard   Style = "standard"
	StylePersistent Style = "persistent"
)

// DeliveryTiming selects when deliveries are targeted.
type DeliveryTiming string

const (
	TimingImmediate DeliveryTiming = "immediate"
	TimingOptimal   DeliveryTiming = "optimal"
)

// QuietHours is the daily window during which delivery is deferred to
// the window's end. The window may wrap midnight (21:00-08:00).
type QuietHours struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
}

// Frequency holds per-category toggles and the weekly send cap.
type Frequency struct {
	TaskReminders   bool `json:"taskReminders"`
	EquipmentAlerts bool `json:"equipmentAlerts"`
	Achievements    bool `json:"achievements"`
	Suggestions     bool `json:"suggestions"`
	WeeklyLimit     int  `json:"weeklyLimit"`
}

// Preferences is the per-user notification settings singleton.
type Preferences struct {
	Enabled        bool           `json:"enabled"`
	QuietHours     QuietHours     `json:"quietHours"`
	Frequency      Frequency      `json:"frequency"`
	Style          Style          `json:"style"`
	DeliveryTiming DeliveryTiming `json:"deliveryTiming"`
}

// Defaults returns the documented default preferences used until the
// user saves their own.
func Defaults() Preferences {
	return Preferences{
		Enabled:    true,
		QuietHours: QuietHours{Start: "21:00", End: "08:00"},
		Frequency: Frequency{
			TaskReminders:   true,
			EquipmentAlerts: true,
			Achievements:    true,
			Suggestions:     true,
			WeeklyLimit:     3,
		},
		Style:          StyleStandard,
		DeliveryTiming: TimingOptimal,
	}
}

// ParseHHMM parses "HH:MM" into minutes since midnight.
func ParseHHMM(raw string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", raw)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hh*60 + mm, nil
}

// Contains reports whether t falls inside the [Start, End) window,
// handling windows that wrap midnight.
func (q QuietHours) Contains(t time.Time) bool {
	start, err1 := ParseHHMM(q.Start)
	end, err2 := ParseHHMM(q.End)
	if err1 != nil || err2 != nil || start == end {
		return false
	}
	min := t.Hour()*60 + t.Minute()
	if start < end {
		return min >= start && min < end
	}
	// Wrapping window, e.g. 21:00-08:00.
	return min >= start || min < end
}

// Defer returns t moved out of the quiet window: same-day window end,
// or the next day's end when that instant has already passed.
func (q QuietHours) Defer(t time.Time) time.Time {
	if !q.Contains(t) {
		return t
	}
	end, err := ParseHHMM(q.End)
	if err != nil {
		return t
	}
	candidate := time.Date(t.Year(), t.Month(), t.Day(), end/60, end%60, 0, 0, t.Location())
	if !candidate.After(t) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}

func (p Preferences) validate() error {
	if _, err := ParseHHMM(p.QuietHours.Start); err != nil {
		return fmt.Errorf("quietHours.start: %w", err)
	}
	if _, err := ParseHHMM(p.QuietHours.End); err != nil {
		return fmt.Errorf("quietHours.end: %w", err)
	}
	if p.Frequency.WeeklyLimit < 1 || p.Frequency.WeeklyLimit > 10 {
		return fmt.Errorf("frequency.weeklyLimit %d out of range [1,10]", p.Frequency.WeeklyLimit)
	}
	switch p.Style {
	case StyleGentle, StyleStandard, StylePersistent:
	default:
		return fmt.Errorf("unknown style %q", p.Style)
	}
	switch p.DeliveryTiming {
	case TimingImmediate, TimingOptimal:
	default:
		return fmt.Errorf("unknown deliveryTiming %q", p.DeliveryTiming)
	}
	return nil
}
