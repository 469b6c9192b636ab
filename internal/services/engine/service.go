package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"homepulse/internal/eventbus"
	"homepulse/internal/platform"
	"homepulse/internal/services/content"
	"homepulse/internal/services/engage"
	"homepulse/internal/services/prefs"
	"homepulse/internal/store"
	logx "homepulse/pkg/logx"
)

// Deps wires the engine's collaborators. All services are explicit,
// constructed objects; main owns the composition.
type Deps struct {
	Prefs    *prefs.Service
	Content  *content.Generator
	Notifier platform.Notifier
	Tracker  Tracker
	Queue    *store.Queue
	Bus      eventbus.Bus
	Log      logx.Logger
	Now      func() time.Time // test hook; defaults to time.Now
}

// Service is the notification scheduler. It owns the schedule list and
// the weekly send count; both are mirrored in memory and persisted
// through the write queue.
//
// The weekly-count increment is queued as its own write after the
// platform call, so a crash between the two under-counts by one. That
// loss mode is accepted: at worst one extra send next week.
type Service struct {
	log      logx.Logger
	prefs    *prefs.Service
	content  *content.Generator
	notifier platform.Notifier
	tracker  Tracker
	q        *store.Queue
	bus      eventbus.Bus
	now      func() time.Time

	mu        sync.Mutex
	schedules []Schedule
	weekly    WeeklyCount
}

func New(d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Service{
		log:      d.Log,
		prefs:    d.Prefs,
		content:  d.Content,
		notifier: d.Notifier,
		tracker:  d.Tracker,
		q:        d.Queue,
		bus:      d.Bus,
		now:      d.Now,
	}
	if s.notifier != nil {
		s.notifier.SetOutcomeHandler(s.onOutcome)
	}
	return s
}

// Load restores the schedule list and weekly count from storage.
// Schedules whose fire time already passed while the app was down are
// dropped: delivery is best-effort across restarts.
func (s *Service) Load(ctx context.Context) {
	st := s.q.Store()
	if st == nil {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if raw, ok, err := st.Get(ctx, store.KeySchedules); err == nil && ok {
		var all []Schedule
		if err := json.Unmarshal([]byte(raw), &all); err != nil {
			s.log.Warn("schedules unreadable", logx.Err(err))
		} else {
			kept := all[:0]
			for _, sch := range all {
				if sch.Delivered || sch.ScheduledFor.After(now) {
					kept = append(kept, sch)
				}
			}
			s.schedules = kept
		}
	}
	if raw, ok, err := st.Get(ctx, store.KeyWeeklyCount); err == nil && ok {
		if err := json.Unmarshal([]byte(raw), &s.weekly); err != nil {
			s.log.Warn("weekly count unreadable", logx.Err(err))
		}
	}

	// Re-arm timers for restored pending schedules.
	for _, sch := range s.schedules {
		if sch.Delivered {
			continue
		}
		if _, err := s.notifier.ScheduleAt(ctx, s.requestFor(sch)); err != nil {
			s.log.Warn("re-arm failed", logx.String("id", sch.ID), logx.Err(err))
		}
	}
}

// Scheduled returns a snapshot of all known schedules.
func (s *Service) Scheduled() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Schedule(nil), s.schedules...)
}

func (s *Service) requestFor(sch Schedule) platform.Request {
	msg := platform.Message{
		Title:    sch.Content.Title,
		Body:     sch.Content.Body,
		Emoji:    sch.Content.Emoji,
		Priority: sch.Priority.platform(),
		Meta:     sch.Content.Meta,
	}
	return platform.Request{ID: sch.ID, Message: msg, At: sch.ScheduledFor}
}

// onOutcome routes platform outcomes onto the schedule record and into
// the engagement tracker. Best-effort: unknown ids are logged only.
func (s *Service) onOutcome(o platform.Outcome) {
	s.mu.Lock()
	var sch *Schedule
	for i := range s.schedules {
		if s.schedules[i].ID == o.RequestID {
			sch = &s.schedules[i]
			break
		}
	}
	if sch == nil {
		s.mu.Unlock()
		s.log.Warn("outcome for unknown schedule", logx.String("id", o.RequestID), logx.String("kind", string(o.Kind)))
		return
	}

	typ := sch.Type
	var latency time.Duration
	switch o.Kind {
	case platform.OutcomeDelivered:
		at := o.At
		sch.Delivered = true
		sch.DeliveredAt = &at
	case platform.OutcomeOpened:
		sch.Opened = true
		if sch.DeliveredAt != nil {
			latency = o.At.Sub(*sch.DeliveredAt)
		}
	case platform.OutcomeDismissed:
		sch.Dismissed = true
	}
	sch.UpdatedAt = s.now()
	s.persistSchedulesLocked()
	s.mu.Unlock()

	switch o.Kind {
	case platform.OutcomeDelivered:
		s.tracker.TrackSent(o.RequestID, typ, o.At)
		s.publish(eventbus.TypeNotifyDelivered, o.RequestID, typ)
	case platform.OutcomeOpened:
		if latency < 0 {
			latency = 0
		}
		s.tracker.TrackOpened(o.RequestID, latency)
	case platform.OutcomeDismissed:
		s.tracker.TrackDismissed(o.RequestID)
	case platform.OutcomeAction:
		s.tracker.TrackAction(o.RequestID, o.Action)
	}
}

func (s *Service) publish(typ string, id string, ctype content.Type) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.ScheduleEvent{ScheduleID: id, Type: string(ctype)}})
}

// persistSchedulesLocked queues a write of the schedule list. The
// enqueue happens under s.mu, so snapshots reach the write queue in
// the order they were committed. Call with s.mu held.
func (s *Service) persistSchedulesLocked() {
	b, err := json.Marshal(s.schedules)
	if err != nil {
		s.log.Error("schedules marshal failed", logx.Err(err))
		return
	}
	s.q.Set(store.KeySchedules, string(b))
}

// persistWeeklyLocked queues a write of the weekly counter. Call with
// s.mu held.
func (s *Service) persistWeeklyLocked() {
	b, err := json.Marshal(s.weekly)
	if err != nil {
		s.log.Error("weekly count marshal failed", logx.Err(err))
		return
	}
	s.q.Set(store.KeyWeeklyCount, string(b))
}

// capReachedLocked reports whether this ISO week's cap is hit, rolling
// the counter over when the week changed. Call with s.mu held.
func (s *Service) capReachedLocked(limit int) bool {
	week := engage.WeekKey(s.now())
	if s.weekly.Week != week {
		s.weekly = WeeklyCount{Week: week}
	}
	return s.weekly.Count >= limit
}

// WeeklyCount returns the current week's send count snapshot.
func (s *Service) WeeklyCount() WeeklyCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weekly
}
