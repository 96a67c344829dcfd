package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrRunnerStopping is delivered for work submitted while Stop is waiting
// for earlier work to return.
var ErrRunnerStopping = errors.New("background runner is stopping")

// Runner executes work off the executor goroutine and posts results back to
// it. Each stage owns one Runner; its cancellation context is threaded through
// every work item so cancellation is cooperative.
type Runner struct {
	exec *Executor
	log  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active int
	// stopping counts Stop calls still waiting on wg.
	stopping int
}

// NewRunner returns a runner that marshals results onto exec.
func NewRunner(exec *Executor, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		exec:   exec,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RunBackground spawns work immediately and returns without blocking. When
// work returns, deliver is posted to the runner's executor with its result.
// An error or a panic inside work is logged and delivered as (zero, err) so
// the stage always observes exactly one completion per submission.
func RunBackground[P, R any](
	r *Runner,
	payload P,
	work func(ctx context.Context, payload P) (R, error),
	deliver func(result R, err error),
) {
	ctx, ok := r.acquire()
	if !ok {
		r.log.Warn("refusing background work while stopping")

		if deliver != nil {
			var zero R
			r.exec.Post(func() { deliver(zero, ErrRunnerStopping) })
		}

		return
	}

	go func() {
		defer r.release()

		res, err := safeCall(ctx, payload, work)
		if err != nil {
			r.log.Error("background work failed", slog.String("error", err.Error()))
		}

		if deliver == nil {
			return
		}

		if !r.exec.Post(func() { deliver(res, err) }) {
			r.log.Debug("dropping background result: executor closed")
		}
	}()
}

// Context returns the context the next submitted work item will observe.
func (r *Runner) Context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.ctx
}

// Active reports the number of work items that have not yet returned.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active
}

// Cancel signals cancellation to every in-flight work item without waiting
// and arms a fresh context for later submissions.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancel()
	r.ctx, r.cancel = context.WithCancel(context.Background())
}

// Stop cancels in-flight work and blocks until every work item has returned
// or ctx is done. Results of cancelled work are still posted to the executor.
// Work submitted before the last item returns is refused with
// ErrRunnerStopping; the runner accepts work again afterwards.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopping++
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()

		r.mu.Lock()
		r.stopping--
		r.mu.Unlock()

		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop background work: %w", ctx.Err())
	}
}

func (r *Runner) acquire() (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping > 0 {
		return nil, false
	}

	r.wg.Add(1)
	r.active++

	return r.ctx, true
}

func (r *Runner) release() {
	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	r.wg.Done()
}

func safeCall[P, R any](ctx context.Context, payload P, work func(context.Context, P) (R, error)) (res R, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero R
			res = zero
			err = fmt.Errorf("panic in background work: %v\n%s", p, debug.Stack())
		}
	}()

	return work(ctx, payload)
}
