package platform

import (
	"context"
	"sync"
	"time"

	logx "homepulse/pkg/logx"
)

// Local is the in-process Notifier: one-shot timers keyed by request
// id, firing a Deliverer. Timers are runtime-only; a request scheduled
// while the process is down is never delivered (best-effort contract).
type Local struct {
	log       logx.Logger
	deliverer Deliverer

	callTimeout time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]Request
	// ver ignores stale timer callbacks after an upsert replaces a
	// request with the same id.
	ver     map[string]uint64
	handler func(Outcome)
	stopped bool
}

// NewLocal builds the timer-backed notifier. If the deliverer reports
// outcomes (taps), they are forwarded to the handler installed via
// SetOutcomeHandler.
func NewLocal(d Deliverer, log logx.Logger) *Local {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Local{
		log:         log,
		deliverer:   d,
		callTimeout: 10 * time.Second,
		timers:      map[string]*time.Timer{},
		pending:     map[string]Request{},
		ver:         map[string]uint64{},
	}
	if src, ok := d.(OutcomeSource); ok {
		src.SetOutcomeHandler(l.emit)
	}
	return l
}

func (l *Local) SetOutcomeHandler(fn func(Outcome)) {
	l.mu.Lock()
	l.handler = fn
	l.mu.Unlock()
}

func (l *Local) emit(o Outcome) {
	l.mu.Lock()
	fn := l.handler
	l.mu.Unlock()
	if fn != nil {
		fn(o)
	}
}

func (l *Local) ScheduleAt(ctx context.Context, req Request) (string, error) {
	if pc, ok := l.deliverer.(PermissionChecker); ok {
		if err := pc.Permitted(ctx); err != nil {
			return "", err
		}
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return "", ErrStopped
	}
	// Upsert: stop any existing timer with the same id and bump the
	// version so its callback becomes a no-op.
	if t, ok := l.timers[req.ID]; ok {
		_ = t.Stop()
		delete(l.timers, req.ID)
	}
	ver := l.ver[req.ID] + 1
	l.ver[req.ID] = ver
	l.pending[req.ID] = req

	delay := time.Until(req.At)
	if delay < 0 {
		delay = 0
	}
	id := req.ID
	l.timers[id] = time.AfterFunc(delay, func() { l.fire(id, ver) })
	l.mu.Unlock()

	return id, nil
}

func (l *Local) fire(id string, ver uint64) {
	l.mu.Lock()
	if l.stopped || l.ver[id] != ver {
		l.mu.Unlock()
		return
	}
	req, ok := l.pending[id]
	delete(l.timers, id)
	delete(l.pending, id)
	delete(l.ver, id)
	l.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.callTimeout)
	err := l.deliverer.Deliver(ctx, req)
	cancel()
	if err != nil {
		// No retries: the schedule record stays undelivered and only a
		// reschedule can revive it.
		l.log.Warn("delivery failed", logx.String("id", id), logx.Err(err))
		return
	}
	l.emit(Outcome{RequestID: id, Kind: OutcomeDelivered, At: time.Now()})
}

func (l *Local) Cancel(ctx context.Context, id string) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[id]; ok {
		_ = t.Stop()
		delete(l.timers, id)
	}
	delete(l.pending, id)
	delete(l.ver, id)
	return nil
}

func (l *Local) ListPending(ctx context.Context) ([]Pending, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Pending, 0, len(l.pending))
	for _, req := range l.pending {
		out = append(out, Pending{ID: req.ID, At: req.At})
	}
	return out, nil
}

// Stop cancels every armed timer. Pending requests are dropped, not
// delivered.
func (l *Local) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	for id, t := range l.timers {
		_ = t.Stop()
		delete(l.timers, id)
	}
	l.pending = map[string]Request{}
	l.ver = map[string]uint64{}
}
