// Package batch coalesces fine-grained write operations issued within a
// short window into a single aggregated call, then fans the result back out
// to each original caller.
//
// The window is a reset-on-arrival debounce: every Add pushes the flush
// further out, and the flush fires only after a quiet period. Once the window
// elapses the batch is irrevocable; there is no cancellation after flush
// begins.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/tagcache"
)

var ErrClosed = errors.New("batch: batcher is closed")

// Func performs one aggregated write for every operation collected in a
// window. Any opID missing from the returned map is treated as a per-item
// failure for that operation, not a failure of the whole batch.
type Func[I, O any] func(ctx context.Context, inputs map[string]I) (map[string]O, error)

// FlushError is delivered to every caller of a flushed batch when Func itself
// fails: no partial success is inferred, and callers re-issue failed
// operations themselves.
type FlushError struct {
	Ops int
	Err error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("batch: flush of %d op(s) failed: %v", e.Ops, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// MissingResultError reports an operation the aggregated call returned no
// output for.
type MissingResultError struct {
	OpID string
}

func (e *MissingResultError) Error() string {
	return fmt.Sprintf("batch: no result for op %q", e.OpID)
}

// Options tune a Batcher. Only Fn is required.
type Options struct {
	// Window is the debounce duration; each Add resets it. 0 => 50ms.
	Window time.Duration

	// FlushTimeout bounds the aggregated call. 0 => 5s.
	FlushTimeout time.Duration

	// Scheduler drives the debounce timer. Nil => system timers.
	Scheduler Scheduler

	Logger tagcache.Logger // if nil, logging is disabled
}

type op[I, O any] struct {
	input   I
	waiters []chan outcome[O]
}

type outcome[O any] struct {
	out O
	err error
}

// Batcher collects operations keyed by opID and flushes them in one call per
// quiet period. Safe for concurrent use.
type Batcher[I, O any] struct {
	fn           Func[I, O]
	window       time.Duration
	flushTimeout time.Duration
	sched        Scheduler
	log          tagcache.Logger

	mu     sync.Mutex
	queue  map[string]*op[I, O]
	timer  Timer
	closed bool
}

func New[I, O any](fn Func[I, O], opts Options) (*Batcher[I, O], error) {
	if fn == nil {
		return nil, errors.New("batch: fn is required")
	}
	b := &Batcher[I, O]{
		fn:           fn,
		window:       opts.Window,
		flushTimeout: opts.FlushTimeout,
		sched:        opts.Scheduler,
		log:          opts.Logger,
		queue:        make(map[string]*op[I, O]),
	}
	if b.window == 0 {
		b.window = 50 * time.Millisecond
	}
	if b.flushTimeout == 0 {
		b.flushTimeout = 5 * time.Second
	}
	if b.sched == nil {
		b.sched = System
	}
	if b.log == nil {
		b.log = tagcache.NopLogger{}
	}
	return b, nil
}

// Add enqueues input under opID into the open window, resets the window
// timer, and blocks until the batch containing the operation flushes.
//
// A second Add with the same opID in one window replaces the input; all
// callers for that opID resolve with the same output. If ctx ends first, Add
// returns ctx.Err() but the operation stays in the batch and is still
// flushed; only the wait is abandoned.
func (b *Batcher[I, O]) Add(ctx context.Context, opID string, input I) (O, error) {
	var zero O
	ch := make(chan outcome[O], 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return zero, ErrClosed
	}
	e, ok := b.queue[opID]
	if !ok {
		e = &op[I, O]{}
		b.queue[opID] = e
	}
	e.input = input
	e.waiters = append(e.waiters, ch)
	if b.timer == nil {
		b.timer = b.sched.AfterFunc(b.window, b.flush)
	} else {
		b.timer.Reset(b.window)
	}
	b.mu.Unlock()

	select {
	case o := <-ch:
		return o.out, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Pending reports how many operations are waiting in the open window.
func (b *Batcher[I, O]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops accepting operations and flushes the open window synchronously.
func (b *Batcher[I, O]) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	q := b.queue
	b.queue = make(map[string]*op[I, O])
	b.mu.Unlock()

	b.run(ctx, q)
	return nil
}

// flush fires when the debounce timer elapses with no further arrivals: it
// snapshots and clears the queue, then executes the aggregated call.
func (b *Batcher[I, O]) flush() {
	b.mu.Lock()
	q := b.queue
	b.queue = make(map[string]*op[I, O])
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	b.run(context.Background(), q)
}

func (b *Batcher[I, O]) run(ctx context.Context, q map[string]*op[I, O]) {
	if len(q) == 0 {
		return
	}
	inputs := make(map[string]I, len(q))
	for id, e := range q {
		inputs[id] = e.input
	}

	fctx, cancel := context.WithTimeout(ctx, b.flushTimeout)
	defer cancel()

	outs, err := b.fn(fctx, inputs)
	if err != nil {
		b.log.Warn("batch flush failed", tagcache.Fields{"ops": len(q), "err": err})
		shared := &FlushError{Ops: len(q), Err: err}
		for _, e := range q {
			resolve(e, outcome[O]{err: shared})
		}
		return
	}

	b.log.Debug("batch flushed", tagcache.Fields{"ops": len(q), "results": len(outs)})
	for id, e := range q {
		if out, ok := outs[id]; ok {
			resolve(e, outcome[O]{out: out})
		} else {
			resolve(e, outcome[O]{err: &MissingResultError{OpID: id}})
		}
	}
}

func resolve[I, O any](e *op[I, O], o outcome[O]) {
	for _, ch := range e.waiters {
		ch <- o // buffered; never blocks
	}
}
