package store

import (
	"context"
	"sync"
	"time"

	logx "homepulse/pkg/logx"
)

// Queue serializes writes per storage domain.
//
// Each domain (one per Key* constant) gets its own FIFO worker; writes
// enqueued against a domain apply in strict call order regardless of
// which underlying I/O completes first. A failed write is logged and
// swallowed so later writes still run; callers keep an in-memory
// mirror and never depend on read-after-write store consistency.
type Queue struct {
	store Store
	log   logx.Logger

	writeTimeout time.Duration

	mu      sync.Mutex
	domains map[string]chan queuedWrite
	closed  bool
	wg      sync.WaitGroup
}

type queuedWrite struct {
	label string
	fn    func(ctx context.Context) error
	done  chan struct{} // non-nil only for flush sentinels
}

const queueDepth = 256

// NewQueue wraps a store with per-domain write serialization.
// The store may be nil (storage disabled); writes then become no-ops.
func NewQueue(st Store, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		store:        st,
		log:          log,
		writeTimeout: 5 * time.Second,
		domains:      map[string]chan queuedWrite{},
	}
}

// Store returns the underlying store (nil when storage is disabled).
// Reads intentionally bypass the queue.
func (q *Queue) Store() Store { return q.store }

// Do appends a write to the domain's FIFO. It blocks only when the
// domain backlog is full, which preserves ordering under bursts.
func (q *Queue) Do(domain, label string, fn func(ctx context.Context) error) {
	if q == nil || q.store == nil || fn == nil {
		return
	}
	ch := q.domain(domain)
	if ch == nil {
		return
	}
	ch <- queuedWrite{label: label, fn: fn}
}

// Set is the common case: queue a full-value write for a key, using the
// key itself as the domain.
func (q *Queue) Set(key, value string) {
	q.Do(key, "set "+key, func(ctx context.Context) error {
		return q.store.Set(ctx, key, value)
	})
}

// Remove queues removal of the given keys under the given domain.
func (q *Queue) Remove(domain string, keys ...string) {
	q.Do(domain, "remove", func(ctx context.Context) error {
		return q.store.MultiRemove(ctx, keys)
	})
}

func (q *Queue) domain(name string) chan queuedWrite {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	ch, ok := q.domains[name]
	if ok {
		return ch
	}
	ch = make(chan queuedWrite, queueDepth)
	q.domains[name] = ch
	q.wg.Add(1)
	go q.worker(name, ch)
	return ch
}

func (q *Queue) worker(domain string, ch chan queuedWrite) {
	defer q.wg.Done()
	for w := range ch {
		if w.done != nil {
			close(w.done)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), q.writeTimeout)
		err := w.fn(ctx)
		cancel()
		if err != nil {
			// The queue never halts on a failed write; in-memory state is
			// the session authority and the next write may still succeed.
			q.log.Error("queued write failed",
				logx.String("domain", domain),
				logx.String("write", w.label),
				logx.Err(err))
		}
	}
}

// Flush blocks until every write enqueued before the call has been
// applied (or failed). Used by tests and shutdown.
func (q *Queue) Flush(ctx context.Context) error {
	if q == nil || q.store == nil {
		return nil
	}
	q.mu.Lock()
	chs := make([]chan queuedWrite, 0, len(q.domains))
	for _, ch := range q.domains {
		chs = append(chs, ch)
	}
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil
	}

	for _, ch := range chs {
		done := make(chan struct{})
		select {
		case ch <- queuedWrite{done: done}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close drains all domains best-effort until ctx expires, then stops
// accepting writes.
func (q *Queue) Close(ctx context.Context) error {
	if q == nil {
		return nil
	}
	err := q.Flush(ctx)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return err
	}
	q.closed = true
	for _, ch := range q.domains {
		close(ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
