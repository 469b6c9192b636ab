package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"homepulse/internal/eventbus"
	"homepulse/internal/services/content"
	"homepulse/internal/services/engage"
	"homepulse/internal/services/prefs"
	logx "homepulse/pkg/logx"
)

// immediatePad keeps "now" schedules slightly in the future; some
// platforms reject same-instant scheduling.
const immediatePad = 2 * time.Second

// ScheduleTaskReminder schedules one reminder for a task.
//
// Target times: advance = due-3d, due = due-1d, overdue = due date.
// Returns (nil, nil) when the target already passed; reminders never
// fire retroactively. Quiet hours defer the target to the window end.
func (s *Service) ScheduleTaskReminder(ctx context.Context, task Task, kind ReminderKind) (*Schedule, error) {
	p := s.prefs.Get()
	if !p.Enabled || !p.Frequency.TaskReminders {
		return nil, ErrDisabled
	}

	target := task.DueDate.Add(-reminderOffset(kind))
	if !target.After(s.now()) {
		return nil, nil
	}

	priority := PriorityNormal
	if kind == ReminderOverdue {
		priority = PriorityHigh
	}
	return s.schedule(ctx, scheduleSpec{
		typ:      content.TypeTaskReminder,
		at:       target,
		timing:   TimingExact,
		priority: priority,
		vars: content.Vars{
			content.VarTaskName: task.Name,
			content.VarDueDate:  task.DueDate.Format("Jan 2"),
		},
		relatedTask: task.ID,
		prefs:       p,
	})
}

// ScheduleTaskReminders computes the full reminder set for a task, in
// fixed order advance, due, overdue, keeping only future-dated ones.
//
// The set is recomputed from the due date on every call; it does NOT
// cancel previously scheduled reminders. After a due-date edit use
// RescheduleTaskReminders, or duplicates result.
func (s *Service) ScheduleTaskReminders(ctx context.Context, task Task) ([]*Schedule, error) {
	var out []*Schedule
	for _, kind := range reminderOrder {
		sch, err := s.ScheduleTaskReminder(ctx, task, kind)
		if err != nil {
			return out, err
		}
		if sch != nil {
			out = append(out, sch)
		}
	}
	return out, nil
}

// RescheduleTaskReminders is the supported path after a due-date edit:
// cancel everything bound to the task, then recompute the set.
func (s *Service) RescheduleTaskReminders(ctx context.Context, task Task) ([]*Schedule, error) {
	if err := s.CancelForTask(ctx, task.ID); err != nil {
		return nil, err
	}
	return s.ScheduleTaskReminders(ctx, task)
}

// ScheduleEquipmentAlert schedules a service-due or attention alert.
// service_due fires 7 days before the next service date;
// attention_needed fires near-immediately.
func (s *Service) ScheduleEquipmentAlert(ctx context.Context, eq Equipment, kind EquipmentAlertKind) (*Schedule, error) {
	p := s.prefs.Get()
	if !p.Enabled || !p.Frequency.EquipmentAlerts {
		return nil, ErrDisabled
	}

	spec := scheduleSpec{
		relatedEquipment: eq.ID,
		prefs:            p,
		vars: content.Vars{
			content.VarEquipmentName: eq.Name,
		},
	}
	switch kind {
	case AlertServiceDue:
		target := eq.NextServiceDue.Add(-7 * 24 * time.Hour)
		if !target.After(s.now()) {
			return nil, nil
		}
		spec.typ = content.TypeEquipmentService
		spec.at = target
		spec.timing = TimingExact
		spec.priority = PriorityNormal
		days := int(eq.NextServiceDue.Sub(s.now()).Hours() / 24)
		if days > 0 {
			spec.vars[content.VarDaysLeft] = fmt.Sprint(days)
		}
	case AlertAttentionNeeded:
		spec.typ = content.TypeEquipmentAttention
		spec.at = s.now().Add(immediatePad)
		spec.timing = TimingImmediate
		spec.priority = PriorityHigh
	default:
		return nil, fmt.Errorf("unknown equipment alert kind %q", kind)
	}
	return s.schedule(ctx, spec)
}

// ScheduleAchievement schedules a near-immediate achievement
// notification (achievement, money-saved, or streak type).
func (s *Service) ScheduleAchievement(ctx context.Context, typ content.Type, vars content.Vars) (*Schedule, error) {
	switch typ {
	case content.TypeAchievement, content.TypeMoneySaved, content.TypeStreak:
	default:
		return nil, fmt.Errorf("type %s is not an achievement notification", typ)
	}
	p := s.prefs.Get()
	if !p.Enabled || !p.Frequency.Achievements {
		return nil, ErrDisabled
	}
	return s.schedule(ctx, scheduleSpec{
		typ:      typ,
		at:       s.now().Add(immediatePad),
		timing:   TimingImmediate,
		priority: PriorityLow,
		vars:     vars,
		prefs:    p,
	})
}

// ScheduleSuggestion schedules a seasonal or weather suggestion.
// Season and weather are injected context, never fetched.
func (s *Service) ScheduleSuggestion(ctx context.Context, typ content.Type, rctx content.Context) (*Schedule, error) {
	switch typ {
	case content.TypeSeasonalSuggestion, content.TypeWeatherOpportunity:
	default:
		return nil, fmt.Errorf("type %s is not a suggestion notification", typ)
	}
	p := s.prefs.Get()
	if !p.Enabled || !p.Frequency.Suggestions {
		return nil, ErrDisabled
	}
	return s.schedule(ctx, scheduleSpec{
		typ:      typ,
		at:       s.now().Add(immediatePad),
		timing:   TimingImmediate,
		priority: PriorityLow,
		rctx:     rctx,
		prefs:    p,
	})
}

// ScheduleTaskNotifications iterates tasks, checking the weekly cap
// before each individual reminder. Once the cap is reached the
// remaining entities are skipped; already-scheduled ones stand.
func (s *Service) ScheduleTaskNotifications(ctx context.Context, tasks []Task) (int, error) {
	p := s.prefs.Get()
	if !p.Enabled || !p.Frequency.TaskReminders {
		return 0, ErrDisabled
	}

	scheduled := 0
	for _, task := range tasks {
		if s.batchCapReached(p.Frequency.WeeklyLimit) {
			break
		}
		for _, kind := range reminderOrder {
			if s.batchCapReached(p.Frequency.WeeklyLimit) {
				break
			}
			sch, err := s.ScheduleTaskReminder(ctx, task, kind)
			if err != nil {
				return scheduled, err
			}
			if sch != nil {
				scheduled++
				s.incrementWeekly()
			}
		}
	}
	return scheduled, nil
}

// ScheduleEquipmentNotifications is the equipment batch: a service-due
// alert per item plus an attention alert for flagged ones, under the
// same cap rules as the task batch.
func (s *Service) ScheduleEquipmentNotifications(ctx context.Context, items []Equipment) (int, error) {
	p := s.prefs.Get()
	if !p.Enabled || !p.Frequency.EquipmentAlerts {
		return 0, ErrDisabled
	}

	scheduled := 0
	for _, eq := range items {
		if s.batchCapReached(p.Frequency.WeeklyLimit) {
			break
		}
		kinds := []EquipmentAlertKind{AlertServiceDue}
		if eq.NeedsAttention {
			kinds = append(kinds, AlertAttentionNeeded)
		}
		for _, kind := range kinds {
			if s.batchCapReached(p.Frequency.WeeklyLimit) {
				break
			}
			sch, err := s.ScheduleEquipmentAlert(ctx, eq, kind)
			if err != nil {
				return scheduled, err
			}
			if sch != nil {
				scheduled++
				s.incrementWeekly()
			}
		}
	}
	return scheduled, nil
}

func (s *Service) batchCapReached(limit int) bool {
	s.mu.Lock()
	reached := s.capReachedLocked(limit)
	s.mu.Unlock()
	if reached && s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeWeeklyCapReached, Data: s.WeeklyCount()})
	}
	return reached
}

// incrementWeekly bumps the in-memory counter and queues its write.
// Deliberately a separate write from the schedule list (see Service doc).
func (s *Service) incrementWeekly() {
	s.mu.Lock()
	week := engage.WeekKey(s.now())
	if s.weekly.Week != week {
		s.weekly = WeeklyCount{Week: week}
	}
	s.weekly.Count++
	s.persistWeeklyLocked()
	s.mu.Unlock()
}

type scheduleSpec struct {
	typ              content.Type
	at               time.Time
	timing           TimingMode
	priority         Priority
	vars             content.Vars
	rctx             content.Context
	relatedTask      string
	relatedEquipment string
	prefs            prefs.Preferences
}

// schedule is the single path every operation funnels through: quiet
// hour deferral, content rendering, the platform call, then the record.
func (s *Service) schedule(ctx context.Context, spec scheduleSpec) (*Schedule, error) {
	now := s.now()
	at := spec.prefs.QuietHours.Defer(spec.at)

	rctx := spec.rctx
	if rctx.Now.IsZero() {
		rctx.Now = now
	}
	msg, err := s.content.Generate(spec.typ, spec.vars, rctx, spec.prefs.Style)
	if err != nil {
		return nil, err
	}

	sch := Schedule{
		ID:                 uuid.NewString(),
		Type:               spec.typ,
		Priority:           spec.priority,
		Timing:             spec.timing,
		ScheduledFor:       at,
		Content:            msg,
		RelatedTaskID:      spec.relatedTask,
		RelatedEquipmentID: spec.relatedEquipment,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if _, err := s.notifier.ScheduleAt(ctx, s.requestFor(sch)); err != nil {
		// Permission failures block the whole feature and propagate;
		// anything else is logged and surfaces as "not scheduled".
		s.log.Warn("platform schedule failed", logx.String("type", string(spec.typ)), logx.Err(err))
		return nil, err
	}

	s.mu.Lock()
	s.schedules = append(s.schedules, sch)
	s.persistSchedulesLocked()
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleCreated, Data: eventbus.ScheduleEvent{
			ScheduleID:  sch.ID,
			Type:        string(sch.Type),
			ScheduledAt: sch.ScheduledFor,
			RelatedTask: sch.RelatedTaskID,
			RelatedEq:   sch.RelatedEquipmentID,
		}})
	}
	return &sch, nil
}
