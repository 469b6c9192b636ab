package optimizer

import (
	"testing"

	"github.com/robfig/cron/v3"

	"homepulse/internal/eventbus"
	"homepulse/internal/services/engage"
	"homepulse/internal/services/prefs"
	"homepulse/internal/store"
	logx "homepulse/pkg/logx"
)

type fixedProfile struct{ rate float64 }

func (f fixedProfile) Profile() engage.Profile {
	return engage.Profile{ResponseRate: f.rate}
}

func newOptimizer(t *testing.T, rate float64) (*Service, *prefs.Service) {
	t.Helper()
	q := store.NewQueue(nil, logx.Nop())
	ps := prefs.NewService(q, nil, logx.Nop())
	return New(Config{}, ps, fixedProfile{rate: rate}, nil, logx.Nop()), ps
}

func TestOptimizeStepsDownOnLowRate(t *testing.T) {
	svc, ps := newOptimizer(t, 0.2)
	limit, changed := svc.Optimize()
	if !changed || limit != 2 {
		t.Fatalf("limit=%d changed=%v, want 2 true", limit, changed)
	}
	if got := ps.Get().Frequency.WeeklyLimit; got != 2 {
		t.Fatalf("persisted limit = %d", got)
	}
}

func TestOptimizeFloorsAtOne(t *testing.T) {
	svc, ps := newOptimizer(t, 0.0)
	if _, err := ps.SetWeeklyLimit(1); err != nil {
		t.Fatalf("setup: %v", err)
	}
	limit, changed := svc.Optimize()
	if changed || limit != 1 {
		t.Fatalf("limit=%d changed=%v, want 1 false", limit, changed)
	}
}

func TestOptimizeStepsUpOnHighRate(t *testing.T) {
	svc, ps := newOptimizer(t, 0.8)
	limit, changed := svc.Optimize()
	if !changed || limit != 4 {
		t.Fatalf("limit=%d changed=%v, want 4 true", limit, changed)
	}
	if got := ps.Get().Frequency.WeeklyLimit; got != 4 {
		t.Fatalf("persisted limit = %d", got)
	}
}

func TestOptimizeCeilsAtFive(t *testing.T) {
	svc, ps := newOptimizer(t, 0.9)
	if _, err := ps.SetWeeklyLimit(5); err != nil {
		t.Fatalf("setup: %v", err)
	}
	limit, changed := svc.Optimize()
	if changed || limit != 5 {
		t.Fatalf("limit=%d changed=%v, want 5 false", limit, changed)
	}
}

func TestOptimizeHoldsInMiddleBand(t *testing.T) {
	svc, ps := newOptimizer(t, 0.5)
	limit, changed := svc.Optimize()
	if changed || limit != ps.Get().Frequency.WeeklyLimit {
		t.Fatalf("mid-band rate should not adjust: limit=%d changed=%v", limit, changed)
	}
}

func TestOptimizePublishesAdjustment(t *testing.T) {
	q := store.NewQueue(nil, logx.Nop())
	ps := prefs.NewService(q, nil, logx.Nop())
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	svc := New(Config{}, ps, fixedProfile{rate: 0.1}, bus, logx.Nop())
	if _, changed := svc.Optimize(); !changed {
		t.Fatalf("expected an adjustment")
	}

	ev := <-ch
	if ev.Type != eventbus.TypeLimitAdjusted {
		t.Fatalf("event type = %s", ev.Type)
	}
	le, ok := ev.Data.(eventbus.LimitEvent)
	if !ok {
		t.Fatalf("event data %T", ev.Data)
	}
	if le.OldLimit != 3 || le.NewLimit != 2 || le.ResponseRate != 0.1 {
		t.Fatalf("unexpected event payload: %+v", le)
	}
}

func TestDefaultCronSpecParses(t *testing.T) {
	if _, err := cron.ParseStandard(defaultSpec); err != nil {
		t.Fatalf("default spec invalid: %v", err)
	}
}
