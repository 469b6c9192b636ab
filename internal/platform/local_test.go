package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "homepulse/pkg/logx"
)

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []Request
	err       error
	permErr   error
	handler   func(Outcome)
}

func (f *fakeDeliverer) Deliver(ctx context.Context, req Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, req)
	return nil
}

func (f *fakeDeliverer) Permitted(ctx context.Context) error { return f.permErr }

func (f *fakeDeliverer) SetOutcomeHandler(fn func(Outcome)) { f.handler = fn }

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestLocalDeliversAndEmitsOutcome(t *testing.T) {
	fd := &fakeDeliverer{}
	l := NewLocal(fd, logx.Nop())
	defer l.Stop()

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	l.SetOutcomeHandler(func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	_, err := l.ScheduleAt(context.Background(), Request{
		ID: "n1", At: time.Now().Add(10 * time.Millisecond),
		Message: Message{Title: "t", Body: "b"},
	})
	if err != nil {
		t.Fatalf("scheduleAt: %v", err)
	}

	waitFor(t, func() bool { return fd.count() == 1 })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 1 && outcomes[0].Kind == OutcomeDelivered && outcomes[0].RequestID == "n1"
	})
}

func TestLocalCancelPreventsDelivery(t *testing.T) {
	fd := &fakeDeliverer{}
	l := NewLocal(fd, logx.Nop())
	defer l.Stop()

	_, err := l.ScheduleAt(context.Background(), Request{ID: "n1", At: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("scheduleAt: %v", err)
	}
	if err := l.Cancel(context.Background(), "n1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	pending, err := l.ListPending(context.Background())
	if err != nil {
		t.Fatalf("listPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending after cancel, got %d", len(pending))
	}
}

func TestLocalUpsertReplacesTimer(t *testing.T) {
	fd := &fakeDeliverer{}
	l := NewLocal(fd, logx.Nop())
	defer l.Stop()

	ctx := context.Background()
	if _, err := l.ScheduleAt(ctx, Request{ID: "n1", At: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("scheduleAt: %v", err)
	}
	if _, err := l.ScheduleAt(ctx, Request{ID: "n1", At: time.Now().Add(10 * time.Millisecond)}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	waitFor(t, func() bool { return fd.count() == 1 })
	// The replaced hour-out timer must not fire a second delivery.
	time.Sleep(30 * time.Millisecond)
	if fd.count() != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", fd.count())
	}
}

func TestLocalPermissionDeniedBlocksScheduling(t *testing.T) {
	fd := &fakeDeliverer{permErr: ErrPermission}
	l := NewLocal(fd, logx.Nop())
	defer l.Stop()

	_, err := l.ScheduleAt(context.Background(), Request{ID: "n1", At: time.Now()})
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestLocalDeliveryFailureDoesNotEmitDelivered(t *testing.T) {
	fd := &fakeDeliverer{err: errors.New("send failed")}
	l := NewLocal(fd, logx.Nop())
	defer l.Stop()

	var emitted int
	var mu sync.Mutex
	l.SetOutcomeHandler(func(Outcome) {
		mu.Lock()
		emitted++
		mu.Unlock()
	})

	if _, err := l.ScheduleAt(context.Background(), Request{ID: "n1", At: time.Now()}); err != nil {
		t.Fatalf("scheduleAt: %v", err)
	}
	waitFor(t, func() bool {
		pending, _ := l.ListPending(context.Background())
		return len(pending) == 0
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if emitted != 0 {
		t.Fatalf("expected no outcomes on failed delivery, got %d", emitted)
	}
}
