package engage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"homepulse/internal/eventbus"
	"homepulse/internal/services/content"
	"homepulse/internal/store"
	logx "homepulse/pkg/logx"
)

var ErrNotFound = errors.New("analytics record not found")

// Record is one notification's analytics row, created at send and
// updated at resolution.
type Record struct {
	NotificationID string       `json:"notificationId"`
	Type           content.Type `json:"type"`
	SentAt         time.Time    `json:"sentAt"`
	OpenedAt       *time.Time   `json:"openedAt,omitempty"`
	DismissedAt    *time.Time   `json:"dismissedAt,omitempty"`
	ActionTaken    string       `json:"actionTaken,omitempty"`
	Score          int          `json:"engagementScore"`
}

// WeekStats aggregates sends and opens for one ISO week.
type WeekStats struct {
	Sent   int            `json:"sent"`
	Opened int            `json:"opened"`
	ByType map[string]int `json:"byType"`
}

// Profile is the rolling user-engagement singleton, updated
// incrementally from each analytics event.
type Profile struct {
	OptimalDeliveryTime *int           `json:"optimalDeliveryTime,omitempty"` // hour 0..23
	PreferredDays       []time.Weekday `json:"preferredDays"`
	ResponseRate        float64        `json:"responseRate"`        // [0,1]
	AvgResponseTimeMin  float64        `json:"averageResponseTime"` // minutes
	LastActiveHour      int            `json:"lastActiveHour"`
	FrequencyTolerance  int            `json:"frequencyTolerance"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// WeekKey formats t's ISO week as "YYYY-Www".
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// Config tunes the tracker.
type Config struct {
	// MaxRecords caps the retained analytics list; oldest entries are
	// evicted first. 0 means the default of 1000.
	MaxRecords int
	// ExplorationRate is the chance an open updates the profile's
	// optimal delivery time to that open's hour (explore/exploit).
	// 0 means the default of 0.3.
	ExplorationRate float64
	// Now and Seed are test hooks.
	Now  func() time.Time
	Seed int64
}

// Tracker records send/open/dismiss/action outcomes. Every method is
// best-effort: failures are logged, never returned to the flow that
// triggered them.
type Tracker struct {
	log logx.Logger
	q   *store.Queue
	bus eventbus.Bus

	maxRecords      int
	explorationRate float64
	now             func() time.Time

	mu      sync.Mutex
	records []Record
	stats   map[string]*WeekStats
	profile Profile
	rng     *rand.Rand
}

func NewTracker(cfg Config, q *store.Queue, bus eventbus.Bus, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 1000
	}
	if cfg.ExplorationRate <= 0 {
		cfg.ExplorationRate = 0.3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	now := cfg.Now()
	return &Tracker{
		log:             log,
		q:               q,
		bus:             bus,
		maxRecords:      cfg.MaxRecords,
		explorationRate: cfg.ExplorationRate,
		now:             cfg.Now,
		stats:           map[string]*WeekStats{},
		profile:         Profile{FrequencyTolerance: 3, CreatedAt: now, UpdatedAt: now},
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Load restores analytics, weekly stats and the profile from storage.
func (t *Tracker) Load(ctx context.Context) {
	st := t.q.Store()
	if st == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if raw, ok, err := st.Get(ctx, store.KeyAnalytics); err == nil && ok {
		if err := json.Unmarshal([]byte(raw), &t.records); err != nil {
			t.log.Warn("analytics unreadable", logx.Err(err))
		}
	}
	if raw, ok, err := st.Get(ctx, store.KeyWeeklyStats); err == nil && ok {
		if err := json.Unmarshal([]byte(raw), &t.stats); err != nil {
			t.log.Warn("weekly stats unreadable", logx.Err(err))
		}
	}
	if raw, ok, err := st.Get(ctx, store.KeyEngagementProfile); err == nil && ok {
		if err := json.Unmarshal([]byte(raw), &t.profile); err != nil {
			t.log.Warn("engagement profile unreadable", logx.Err(err))
		}
	}
	if t.stats == nil {
		t.stats = map[string]*WeekStats{}
	}
}

// TrackSent creates the analytics record for a delivered notification
// and bumps the week's sent counters.
func (t *Tracker) TrackSent(id string, typ content.Type, at time.Time) {
	if at.IsZero() {
		at = t.now()
	}
	t.mu.Lock()
	t.records = append(t.records, Record{NotificationID: id, Type: typ, SentAt: at})
	if len(t.records) > t.maxRecords {
		t.records = t.records[len(t.records)-t.maxRecords:]
	}
	ws := t.week(at)
	ws.Sent++
	ws.ByType[string(typ)]++
	t.persistRecordsLocked()
	t.persistStatsLocked()
	t.mu.Unlock()
}

// TrackOpened records an open and its response latency, scores the
// engagement, and folds the event into the rolling profile.
func (t *Tracker) TrackOpened(id string, responseTime time.Duration) {
	now := t.now()
	t.mu.Lock()
	rec := t.find(id)
	if rec == nil {
		t.mu.Unlock()
		t.log.Warn("open for unknown notification", logx.String("id", id))
		return
	}
	opened := now
	rec.OpenedAt = &opened
	rec.Score = clampScore(50 + latencyBonus(responseTime) + typeBonus(rec.Type))

	ws := t.week(rec.SentAt)
	ws.Opened++

	t.updateProfileLocked(now)
	t.persistRecordsLocked()
	t.persistStatsLocked()
	t.persistProfileLocked()
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyOpened, Data: eventbus.ScheduleEvent{ScheduleID: id}})
	}
}

// TrackDismissed records a dismissal. A dismissal never raises a score.
func (t *Tracker) TrackDismissed(id string) {
	now := t.now()
	t.mu.Lock()
	rec := t.find(id)
	if rec == nil {
		t.mu.Unlock()
		t.log.Warn("dismiss for unknown notification", logx.String("id", id))
		return
	}
	rec.DismissedAt = &now
	rec.Score -= 20
	if rec.Score < 0 {
		rec.Score = 0
	}
	t.persistRecordsLocked()
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyDismissed, Data: eventbus.ScheduleEvent{ScheduleID: id}})
	}
}

// TrackAction records that the user took an in-app action from the
// notification. The +30 bonus is applied without re-clamping; scores
// above 100 are read as max engagement downstream.
func (t *Tracker) TrackAction(id, action string) {
	t.mu.Lock()
	rec := t.find(id)
	if rec == nil {
		t.mu.Unlock()
		t.log.Warn("action for unknown notification", logx.String("id", id), logx.String("action", action))
		return
	}
	rec.ActionTaken = action
	rec.Score += 30
	t.persistRecordsLocked()
	t.mu.Unlock()
}

// Profile returns the current engagement profile snapshot.
func (t *Tracker) Profile() Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.profile
	p.PreferredDays = append([]time.Weekday(nil), t.profile.PreferredDays...)
	return p
}

// Records returns a snapshot of the retained analytics rows.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.records...)
}

// find locates a record by notification id. Call with t.mu held.
func (t *Tracker) find(id string) *Record {
	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].NotificationID == id {
			return &t.records[i]
		}
	}
	return nil
}

// week returns the stats bucket for t's ISO week. Call with t.mu held.
func (t *Tracker) week(at time.Time) *WeekStats {
	key := WeekKey(at)
	ws, ok := t.stats[key]
	if !ok {
		ws = &WeekStats{ByType: map[string]int{}}
		t.stats[key] = ws
	}
	if ws.ByType == nil {
		ws.ByType = map[string]int{}
	}
	return ws
}

// updateProfileLocked folds one open event into the rolling profile.
// Call with t.mu held.
func (t *Tracker) updateProfileLocked(openedAt time.Time) {
	var sent, opened int
	for _, ws := range t.stats {
		sent += ws.Sent
		opened += ws.Opened
	}
	if sent > 0 {
		t.profile.ResponseRate = float64(opened) / float64(sent)
	}

	var totalMin float64
	var n int
	for _, r := range t.records {
		if r.OpenedAt != nil {
			totalMin += r.OpenedAt.Sub(r.SentAt).Minutes()
			n++
		}
	}
	if n > 0 {
		t.profile.AvgResponseTimeMin = totalMin / float64(n)
	}

	hour := openedAt.Hour()
	t.profile.LastActiveHour = hour
	if t.rng.Float64() < t.explorationRate {
		h := hour
		t.profile.OptimalDeliveryTime = &h
	}

	day := openedAt.Weekday()
	found := false
	for _, d := range t.profile.PreferredDays {
		if d == day {
			found = true
			break
		}
	}
	if !found {
		t.profile.PreferredDays = append(t.profile.PreferredDays, day)
		sort.Slice(t.profile.PreferredDays, func(i, j int) bool {
			return t.profile.PreferredDays[i] < t.profile.PreferredDays[j]
		})
	}

	// Tolerance tracks how many sends per week the user appears to absorb.
	tol := int(t.profile.ResponseRate*5 + 0.5)
	if tol < 1 {
		tol = 1
	}
	t.profile.FrequencyTolerance = tol
	t.profile.UpdatedAt = t.now()
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func latencyBonus(d time.Duration) int {
	switch {
	case d < time.Minute:
		return 30
	case d < 5*time.Minute:
		return 20
	case d < 15*time.Minute:
		return 10
	default:
		return 0
	}
}

func typeBonus(typ content.Type) int {
	switch typ {
	case content.TypeTaskReminder:
		return 20
	case content.TypeAchievement:
		return 15
	case content.TypeEquipmentAttention:
		return 25
	default:
		return 10
	}
}

// The persist helpers enqueue while t.mu is held, so snapshots reach
// the write queue in the order they were committed. Call with t.mu
// held.

func (t *Tracker) persistRecordsLocked() {
	b, err := json.Marshal(t.records)
	if err != nil {
		t.log.Error("analytics marshal failed", logx.Err(err))
		return
	}
	t.q.Set(store.KeyAnalytics, string(b))
}

func (t *Tracker) persistStatsLocked() {
	b, err := json.Marshal(t.stats)
	if err != nil {
		t.log.Error("weekly stats marshal failed", logx.Err(err))
		return
	}
	t.q.Set(store.KeyWeeklyStats, string(b))
}

func (t *Tracker) persistProfileLocked() {
	b, err := json.Marshal(t.profile)
	if err != nil {
		t.log.Error("profile marshal failed", logx.Err(err))
		return
	}
	t.q.Set(store.KeyEngagementProfile, string(b))
}
