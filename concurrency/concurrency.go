// Package concurrency is the substrate the executors schedule
// intrinsic work on: parallel_map fan-out and executor.Remote's
// CreateCall round-trip go through a Scheduler rather than
// spawning goroutines directly, so a host can supply its own pool
// without touching executor code (spec §6 "Concurrency Substrate").
//
// Grounded on original_source/genc/cc/runtime/concurrency.h (the
// ConcurrencyInterface / FutureInterface / WaitableInterface triad and
// its generic RunAsync), threading.cc (the default thread-per-task
// Schedule implementation), and concurrency_helpers.h (CallbackTracker
// and ConcurrencyManagerWithCallbackTracker's wait-all teardown). Go
// has no templates-over-virtual-dispatch, so FutureInterface's
// type-erased Get becomes a generic Future[T]; the rest translates
// directly: C++ absl::Status becomes a Go error, std::thread+detach
// becomes a goroutine, and std::shared_future's .wait() becomes a
// close-on-done channel.
package concurrency

import (
	"context"
	"sync"

	"github.com/opal-lang/genc/errkind"
)

// Waitable is something a caller can block on until a scheduled task
// finishes, honoring ctx cancellation.
type Waitable interface {
	Wait(ctx context.Context) error
}

// Scheduler runs a callback asynchronously and returns a Waitable for
// it. Implementations decide how ("thread per task", a bounded pool, a
// host-supplied queue) — callers never assume anything beyond "task
// runs, then Wait unblocks".
type Scheduler interface {
	Schedule(ctx context.Context, task func()) (Waitable, error)
}

// Future is the result of RunAsync: a task's eventual (T, error),
// obtained by waiting on its Waitable.
type Future[T any] struct {
	waitable Waitable
	result   T
	err      error
}

// RunAsync schedules fn on s and returns a Future for its result. The
// Future captures fn's return even if Get is never called — fn always
// runs to completion once scheduled, matching the C++ original's
// detached-thread semantics.
func RunAsync[T any](ctx context.Context, s Scheduler, fn func() (T, error)) (*Future[T], error) {
	f := &Future[T]{}
	w, err := s.Schedule(ctx, func() {
		f.result, f.err = fn()
	})
	if err != nil {
		return nil, err
	}
	f.waitable = w
	return f, nil
}

// Get blocks until the task completes (or ctx is done) and returns its
// result.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	if err := f.waitable.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return f.result, f.err
}

// chanWaitable is the Waitable a goroutine-based Scheduler hands back:
// closing done is the goroutine's last act.
type chanWaitable struct {
	done chan struct{}
}

func (w *chanWaitable) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ThreadPerTaskScheduler is the default Scheduler: every Schedule call
// spawns a new goroutine, mirroring the C++ original's
// ThreadBasedConcurrencyManager (one std::thread per task, detached).
// A host supplies a bounded strategy through executor.Config.Scheduler.
type ThreadPerTaskScheduler struct{}

func (ThreadPerTaskScheduler) Schedule(ctx context.Context, task func()) (Waitable, error) {
	w := &chanWaitable{done: make(chan struct{})}
	go func() {
		defer close(w.done)
		task()
	}()
	return w, nil
}

// CallbackTracker counts callbacks scheduled versus completed and lets
// a caller block until every callback scheduled so far has finished —
// even ones that complete before they are registered, a race the
// completedEarly set exists to close (ported from the C++
// CallbackTracker's completed_early_ handling).
type CallbackTracker struct {
	mu             sync.Mutex
	nextID         int
	scheduled      int
	completed      int
	completedEarly map[int]bool
	pending        map[int]Waitable
}

// NewCallbackTracker creates an empty tracker.
func NewCallbackTracker() *CallbackTracker {
	return &CallbackTracker{
		completedEarly: make(map[int]bool),
		pending:        make(map[int]Waitable),
	}
}

// NewCallbackID reserves the next callback id.
func (t *CallbackTracker) NewCallbackID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.scheduled++
	return t.nextID
}

// RegisterCallback records the Waitable a Schedule call produced for
// callbackID, unless that callback already finished before
// registration happened (the completedEarly race).
func (t *CallbackTracker) RegisterCallback(callbackID int, w Waitable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completedEarly[callbackID] {
		delete(t.completedEarly, callbackID)
		return
	}
	t.pending[callbackID] = w
}

// IgnoreCallback marks a callback as completed without ever having a
// Waitable (the underlying Schedule call itself failed).
func (t *CallbackTracker) IgnoreCallback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
}

// RunCallback runs callback and then marks callbackID complete.
func (t *CallbackTracker) RunCallback(callback func(), callbackID int) {
	callback()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[callbackID]; ok {
		delete(t.pending, callbackID)
	} else {
		t.completedEarly[callbackID] = true
	}
	t.completed++
}

// WaitUntilAllCompleted blocks until every callback scheduled so far
// has completed. Callers must not schedule new callbacks concurrently
// with a call to this method and expect it to account for them
// deterministically — as in the original, it waits on whatever is
// pending at each check and loops until scheduled == completed.
func (t *CallbackTracker) WaitUntilAllCompleted(ctx context.Context) error {
	for {
		t.mu.Lock()
		pending := t.scheduled - t.completed
		if pending <= 0 {
			t.mu.Unlock()
			return nil
		}
		var w Waitable
		for _, candidate := range t.pending {
			w = candidate
			break
		}
		t.mu.Unlock()

		if w == nil {
			return errkind.New(errkind.FailedPrecondition,
				"no waitable callbacks found while %d remain pending; "+
					"this usually means activities are still being scheduled concurrently with the wait", pending)
		}
		if err := w.Wait(ctx); err != nil {
			return err
		}
	}
}

// ManagerWithCallbackTracker wraps a base Scheduler so that
// WaitUntilAllCompleted can block until every task scheduled through it
// (transitively, including ones scheduled by those tasks themselves)
// has finished — the teardown discipline the control-flow executor
// needs before it can safely Dispose its handles.
type ManagerWithCallbackTracker struct {
	base    Scheduler
	tracker *CallbackTracker
}

// NewManagerWithCallbackTracker wraps base.
func NewManagerWithCallbackTracker(base Scheduler) *ManagerWithCallbackTracker {
	return &ManagerWithCallbackTracker{base: base, tracker: NewCallbackTracker()}
}

func (m *ManagerWithCallbackTracker) Schedule(ctx context.Context, task func()) (Waitable, error) {
	id := m.tracker.NewCallbackID()
	w, err := m.base.Schedule(ctx, func() {
		m.tracker.RunCallback(task, id)
	})
	if err != nil {
		m.tracker.IgnoreCallback()
		return nil, err
	}
	m.tracker.RegisterCallback(id, w)
	return w, nil
}

// WaitUntilAllCompleted blocks until every task scheduled through this
// manager has finished.
func (m *ManagerWithCallbackTracker) WaitUntilAllCompleted(ctx context.Context) error {
	return m.tracker.WaitUntilAllCompleted(ctx)
}
