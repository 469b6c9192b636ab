package prefs

import (
	"context"
	"encoding/json"
	"sync"

	"homepulse/internal/eventbus"
	"homepulse/internal/store"
	logx "homepulse/pkg/logx"
)

// Patch is a partial preferences update; nil fields are left untouched.
type Patch struct {
	Enabled        *bool           `json:"enabled,omitempty"`
	QuietHours     *QuietHours     `json:"quietHours,omitempty"`
	Frequency      *FrequencyPatch `json:"frequency,omitempty"`
	Style          *Style          `json:"style,omitempty"`
	DeliveryTiming *DeliveryTiming `json:"deliveryTiming,omitempty"`
}

type FrequencyPatch struct {
	TaskReminders   *bool `json:"taskReminders,omitempty"`
	EquipmentAlerts *bool `json:"equipmentAlerts,omitempty"`
	Achievements    *bool `json:"achievements,omitempty"`
	Suggestions     *bool `json:"suggestions,omitempty"`
	WeeklyLimit     *int  `json:"weeklyLimit,omitempty"`
}

// Service owns the preferences singleton. The in-memory copy is the
// session authority; persistence goes through the write queue and is
// best-effort.
type Service struct {
	log logx.Logger
	q   *store.Queue
	bus eventbus.Bus

	mu  sync.Mutex
	cur Preferences
}

func NewService(q *store.Queue, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, q: q, bus: bus, cur: Defaults()}
}

// Load reads stored preferences, falling back to defaults when the key
// is absent or unreadable.
func (s *Service) Load(ctx context.Context) {
	st := s.q.Store()
	if st == nil {
		return
	}
	raw, ok, err := st.Get(ctx, store.KeyPreferences)
	if err != nil {
		s.log.Warn("preferences load failed, using defaults", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	var p Preferences
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.log.Warn("preferences unreadable, using defaults", logx.Err(err))
		return
	}
	if err := p.validate(); err != nil {
		s.log.Warn("stored preferences invalid, using defaults", logx.Err(err))
		return
	}
	s.mu.Lock()
	s.cur = p
	s.mu.Unlock()
}

// Get returns the current preferences snapshot.
func (s *Service) Get() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func merge(base Preferences, p Patch) Preferences {
	if p.Enabled != nil {
		base.Enabled = *p.Enabled
	}
	if p.QuietHours != nil {
		base.QuietHours = *p.QuietHours
	}
	if p.Frequency != nil {
		if p.Frequency.TaskReminders != nil {
			base.Frequency.TaskReminders = *p.Frequency.TaskReminders
		}
		if p.Frequency.EquipmentAlerts != nil {
			base.Frequency.EquipmentAlerts = *p.Frequency.EquipmentAlerts
		}
		if p.Frequency.Achievements != nil {
			base.Frequency.Achievements = *p.Frequency.Achievements
		}
		if p.Frequency.Suggestions != nil {
			base.Frequency.Suggestions = *p.Frequency.Suggestions
		}
		if p.Frequency.WeeklyLimit != nil {
			base.Frequency.WeeklyLimit = *p.Frequency.WeeklyLimit
		}
	}
	if p.Style != nil {
		base.Style = *p.Style
	}
	if p.DeliveryTiming != nil {
		base.DeliveryTiming = *p.DeliveryTiming
	}
	return base
}

// Update merges the patch, validates, persists, and publishes
// prefs.updated. The merged result is returned.
func (s *Service) Update(p Patch) (Preferences, error) {
	s.mu.Lock()
	next := merge(s.cur, p)
	if err := next.validate(); err != nil {
		s.mu.Unlock()
		return s.Get(), err
	}
	s.cur = next
	s.persistLocked()
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypePrefsUpdated, Data: next})
	}
	return next, nil
}

// SeedDefaults merges configured defaults into the in-memory copy
// without persisting or publishing. Call before Load so stored
// preferences still win.
func (s *Service) SeedDefaults(p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := merge(s.cur, p)
	if err := next.validate(); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// SetWeeklyLimit replaces only the weekly cap. Used by the frequency
// optimizer.
func (s *Service) SetWeeklyLimit(n int) (Preferences, error) {
	return s.Update(Patch{Frequency: &FrequencyPatch{WeeklyLimit: &n}})
}

// persistLocked queues a write of the current preferences. The enqueue
// happens under s.mu, so snapshots reach the write queue in the order
// they were committed. Call with s.mu held.
func (s *Service) persistLocked() {
	b, err := json.Marshal(s.cur)
	if err != nil {
		s.log.Error("preferences marshal failed", logx.Err(err))
		return
	}
	s.q.Set(store.KeyPreferences, string(b))
}
