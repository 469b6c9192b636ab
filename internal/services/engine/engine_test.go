package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"homepulse/internal/eventbus"
	"homepulse/internal/platform"
	"homepulse/internal/services/content"
	"homepulse/internal/services/engage"
	"homepulse/internal/services/prefs"
	"homepulse/internal/store"
	logx "homepulse/pkg/logx"
)

type fakeNotifier struct {
	mu        sync.Mutex
	scheduled map[string]platform.Request
	cancelled []string
	handler   func(platform.Outcome)
	err       error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{scheduled: map[string]platform.Request{}}
}

func (f *fakeNotifier) ScheduleAt(ctx context.Context, req platform.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.scheduled[req.ID] = req
	return req.ID, nil
}

func (f *fakeNotifier) Cancel(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	delete(f.scheduled, id)
	return nil
}

func (f *fakeNotifier) ListPending(ctx context.Context) ([]platform.Pending, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.Pending, 0, len(f.scheduled))
	for _, r := range f.scheduled {
		out = append(out, platform.Pending{ID: r.ID, At: r.At})
	}
	return out, nil
}

func (f *fakeNotifier) SetOutcomeHandler(fn func(platform.Outcome)) { f.handler = fn }

func (f *fakeNotifier) emit(o platform.Outcome) { f.handler(o) }

type fakeTracker struct {
	mu        sync.Mutex
	sent      []string
	opened    map[string]time.Duration
	dismissed []string
	actions   map[string]string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{opened: map[string]time.Duration{}, actions: map[string]string{}}
}

func (f *fakeTracker) TrackSent(id string, typ content.Type, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
}

func (f *fakeTracker) TrackOpened(id string, rt time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened[id] = rt
}

func (f *fakeTracker) TrackDismissed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, id)
}

func (f *fakeTracker) TrackAction(id, action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions[id] = action
}

// testNow is noon on a Tuesday, well clear of default quiet hours.
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *Service
	prefs    *prefs.Service
	notifier *fakeNotifier
	tracker  *fakeTracker
	bus      eventbus.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	q := store.NewQueue(nil, logx.Nop())
	ps := prefs.NewService(q, nil, logx.Nop())
	gen, err := content.NewGenerator(logx.Nop())
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	fn := newFakeNotifier()
	ft := newFakeTracker()
	bus := eventbus.New()
	svc := New(Deps{
		Prefs:    ps,
		Content:  gen,
		Notifier: fn,
		Tracker:  ft,
		Queue:    q,
		Bus:      bus,
		Log:      logx.Nop(),
		Now:      func() time.Time { return testNow },
	})
	return &testEnv{svc: svc, prefs: ps, notifier: fn, tracker: ft, bus: bus}
}

func TestTaskReminderOffsets(t *testing.T) {
	env := newTestEnv(t)
	due := testNow.AddDate(0, 0, 10).Add(3 * time.Hour) // 15:00, 10 days out
	task := Task{ID: "t1", Name: "Clean gutters", DueDate: due}

	wants := map[ReminderKind]time.Time{
		ReminderAdvance: due.Add(-72 * time.Hour),
		ReminderDue:     due.Add(-24 * time.Hour),
		ReminderOverdue: due,
	}
	for kind, want := range wants {
		sch, err := env.svc.ScheduleTaskReminder(context.Background(), task, kind)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if !sch.ScheduledFor.Equal(want) {
			t.Fatalf("%s scheduled for %s, want %s", kind, sch.ScheduledFor, want)
		}
		if kind != ReminderOverdue && !sch.ScheduledFor.Before(due) {
			t.Fatalf("%s not strictly before due date", kind)
		}
		q := env.prefs.Get().QuietHours
		if q.Contains(sch.ScheduledFor) {
			t.Fatalf("%s landed inside quiet hours: %s", kind, sch.ScheduledFor)
		}
	}
}

func TestTaskReminderQuietHourDeferral(t *testing.T) {
	env := newTestEnv(t)
	// due-1d lands at 22:30, inside the default 21:00-08:00 window.
	due := time.Date(2026, 3, 12, 22, 30, 0, 0, time.UTC)
	sch, err := env.svc.ScheduleTaskReminder(context.Background(), Task{ID: "t1", Name: "x", DueDate: due}, ReminderDue)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	want := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)
	if !sch.ScheduledFor.Equal(want) {
		t.Fatalf("deferred to %s, want %s", sch.ScheduledFor, want)
	}
}

func TestTaskReminderSkipsPastTargets(t *testing.T) {
	env := newTestEnv(t)
	due := testNow.Add(6 * time.Hour) // advance and due targets are in the past
	task := Task{ID: "t1", Name: "x", DueDate: due}

	sch, err := env.svc.ScheduleTaskReminder(context.Background(), task, ReminderAdvance)
	if err != nil || sch != nil {
		t.Fatalf("past advance target: sch=%v err=%v, want silent skip", sch, err)
	}

	out, err := env.svc.ScheduleTaskReminders(context.Background(), task)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(out) != 1 || out[0].Type != content.TypeTaskReminder {
		t.Fatalf("expected only the overdue reminder, got %d", len(out))
	}
	if !out[0].ScheduledFor.Equal(due) {
		t.Fatalf("overdue reminder at %s, want %s", out[0].ScheduledFor, due)
	}
}

func TestDisabledGating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := Task{ID: "t1", Name: "x", DueDate: testNow.AddDate(0, 0, 10)}

	off := false
	if _, err := env.prefs.Update(prefs.Patch{Enabled: &off}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.svc.ScheduleTaskReminder(ctx, task, ReminderDue); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: got %v", err)
	}

	on := true
	if _, err := env.prefs.Update(prefs.Patch{
		Enabled:   &on,
		Frequency: &prefs.FrequencyPatch{TaskReminders: &off},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.svc.ScheduleTaskReminder(ctx, task, ReminderDue); !errors.Is(err, ErrDisabled) {
		t.Fatalf("category off: got %v", err)
	}
	if _, err := env.svc.ScheduleAchievement(ctx, content.TypeAchievement, nil); err != nil {
		t.Fatalf("achievements category must still be on: %v", err)
	}
}

func TestEquipmentServiceDueOffset(t *testing.T) {
	env := newTestEnv(t)
	next := testNow.AddDate(0, 0, 30)
	sch, err := env.svc.ScheduleEquipmentAlert(context.Background(), Equipment{ID: "e1", Name: "Furnace", NextServiceDue: next}, AlertServiceDue)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	want := next.Add(-7 * 24 * time.Hour)
	if !sch.ScheduledFor.Equal(want) {
		t.Fatalf("service_due at %s, want %s", sch.ScheduledFor, want)
	}
}

func TestEquipmentAttentionIsNearImmediate(t *testing.T) {
	env := newTestEnv(t)
	sch, err := env.svc.ScheduleEquipmentAlert(context.Background(), Equipment{ID: "e1", Name: "Sump pump"}, AlertAttentionNeeded)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if sch.Timing != TimingImmediate {
		t.Fatalf("timing = %s", sch.Timing)
	}
	if got := sch.ScheduledFor.Sub(testNow); got != immediatePad {
		t.Fatalf("pad = %s, want %s", got, immediatePad)
	}
	if sch.Priority != PriorityHigh {
		t.Fatalf("priority = %s", sch.Priority)
	}
}

func TestBatchRespectsWeeklyCap(t *testing.T) {
	env := newTestEnv(t)

	// Cap already reached: zero new schedules, count untouched.
	env.svc.mu.Lock()
	env.svc.weekly = WeeklyCount{Week: engage.WeekKey(testNow), Count: 3}
	env.svc.mu.Unlock()

	n, err := env.svc.ScheduleTaskNotifications(context.Background(), []Task{
		{ID: "t1", Name: "x", DueDate: testNow.AddDate(0, 0, 10)},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if n != 0 {
		t.Fatalf("scheduled %d past the cap", n)
	}
	if wc := env.svc.WeeklyCount(); wc.Count != 3 {
		t.Fatalf("count changed: %+v", wc)
	}
}

func TestBatchStopsMidwayAtCap(t *testing.T) {
	env := newTestEnv(t)
	env.svc.mu.Lock()
	env.svc.weekly = WeeklyCount{Week: engage.WeekKey(testNow), Count: 1} // room for 2 of limit 3
	env.svc.mu.Unlock()

	tasks := []Task{
		{ID: "t1", Name: "a", DueDate: testNow.AddDate(0, 0, 10)}, // 3 future reminders
		{ID: "t2", Name: "b", DueDate: testNow.AddDate(0, 0, 11)},
	}
	n, err := env.svc.ScheduleTaskNotifications(context.Background(), tasks)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if n != 2 {
		t.Fatalf("scheduled %d, want 2 (cap)", n)
	}
	if wc := env.svc.WeeklyCount(); wc.Count != 3 {
		t.Fatalf("count = %d, want 3", wc.Count)
	}
	// The already-scheduled ones are unaffected and visible.
	if got := len(env.svc.Scheduled()); got != 2 {
		t.Fatalf("scheduled list has %d entries", got)
	}
}

func TestWeeklyCapResetsOnISOWeekRollover(t *testing.T) {
	env := newTestEnv(t)
	env.svc.mu.Lock()
	env.svc.weekly = WeeklyCount{Week: "2026-W10", Count: 3}
	env.svc.mu.Unlock()

	// testNow (2026-03-10) is ISO week 11: the stale counter must reset.
	n, err := env.svc.ScheduleTaskNotifications(context.Background(), []Task{
		{ID: "t1", Name: "x", DueDate: testNow.AddDate(0, 0, 10)},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if n == 0 {
		t.Fatalf("stale week's count blocked a fresh week")
	}
	if wc := env.svc.WeeklyCount(); wc.Week != engage.WeekKey(testNow) {
		t.Fatalf("week not rolled over: %+v", wc)
	}
}

func TestCancelForTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := Task{ID: "t1", Name: "x", DueDate: testNow.AddDate(0, 0, 10)}
	other := Task{ID: "t2", Name: "y", DueDate: testNow.AddDate(0, 0, 10)}

	if _, err := env.svc.ScheduleTaskReminders(ctx, task); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := env.svc.ScheduleTaskReminders(ctx, other); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := env.svc.CancelForTask(ctx, "t1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, sch := range env.svc.Scheduled() {
		if sch.RelatedTaskID == "t1" {
			t.Fatalf("schedule for cancelled task survived: %+v", sch)
		}
	}
	if got := len(env.svc.Scheduled()); got != 3 {
		t.Fatalf("other task's schedules disturbed: %d left", got)
	}
	env.notifier.mu.Lock()
	cancelled := len(env.notifier.cancelled)
	env.notifier.mu.Unlock()
	if cancelled != 3 {
		t.Fatalf("platform cancel called %d times, want 3", cancelled)
	}
}

func TestRescheduleCancelsFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := Task{ID: "t1", Name: "x", DueDate: testNow.AddDate(0, 0, 10)}

	if _, err := env.svc.ScheduleTaskReminders(ctx, task); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	task.DueDate = testNow.AddDate(0, 0, 20)
	out, err := env.svc.RescheduleTaskReminders(ctx, task)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("reschedule produced %d reminders", len(out))
	}
	// No duplicates: exactly the new set remains.
	if got := len(env.svc.Scheduled()); got != 3 {
		t.Fatalf("%d schedules after reschedule, want 3", got)
	}
}

func TestOutcomeRouting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sch, err := env.svc.ScheduleAchievement(ctx, content.TypeAchievement, content.Vars{content.VarAchievementName: "First Fix"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	deliveredAt := testNow.Add(2 * time.Second)
	env.notifier.emit(platform.Outcome{RequestID: sch.ID, Kind: platform.OutcomeDelivered, At: deliveredAt})
	env.notifier.emit(platform.Outcome{RequestID: sch.ID, Kind: platform.OutcomeOpened, At: deliveredAt.Add(90 * time.Second)})
	env.notifier.emit(platform.Outcome{RequestID: sch.ID, Kind: platform.OutcomeAction, At: deliveredAt.Add(2 * time.Minute), Action: "view"})

	env.tracker.mu.Lock()
	defer env.tracker.mu.Unlock()
	if len(env.tracker.sent) != 1 || env.tracker.sent[0] != sch.ID {
		t.Fatalf("TrackSent calls: %v", env.tracker.sent)
	}
	if rt, ok := env.tracker.opened[sch.ID]; !ok || rt != 90*time.Second {
		t.Fatalf("TrackOpened latency = %v ok=%v", rt, ok)
	}
	if env.tracker.actions[sch.ID] != "view" {
		t.Fatalf("TrackAction: %v", env.tracker.actions)
	}

	got := env.svc.Scheduled()[0]
	if !got.Delivered || !got.Opened {
		t.Fatalf("flags not set: %+v", got)
	}
}

func TestLifecycleBinderCancelsOnEntityEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.svc.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let the subscriber attach

	task := Task{ID: "t1", Name: "x", DueDate: testNow.AddDate(0, 0, 10)}
	if _, err := env.svc.ScheduleTaskReminders(ctx, task); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	env.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskCompleted, Data: eventbus.EntityEvent{ID: "t1"}})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(env.svc.Scheduled()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("binder did not cancel task schedules: %d left", len(env.svc.Scheduled()))
}

func TestPermissionErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = platform.ErrPermission

	_, err := env.svc.ScheduleAchievement(context.Background(), content.TypeAchievement, nil)
	if !errors.Is(err, platform.ErrPermission) {
		t.Fatalf("got %v, want ErrPermission", err)
	}
	if got := len(env.svc.Scheduled()); got != 0 {
		t.Fatalf("failed schedule was recorded: %d", got)
	}
}
