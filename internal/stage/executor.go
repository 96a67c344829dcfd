package stage

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrExecutorClosed is returned when a task is posted after the executor stopped.
var ErrExecutorClosed = errors.New("executor is closed")

// Executor is a single-consumer task queue. Every task posted to it runs on
// the one goroutine executing Run, in posting order, so tasks never race
// with each other. The queue is unbounded: Post never blocks, which lets
// background workers hand back results while the consumer is itself waiting
// on those workers.
type Executor struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	running bool
	done    chan struct{}
	log     *slog.Logger
}

// NewExecutor creates an executor. Call Run to start draining it.
func NewExecutor(log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}

	return &Executor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  log.With(slog.String("component", "executor")),
	}
}

// Post enqueues fn. It reports false when the executor is closed.
func (e *Executor) Post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}

	return true
}

// Do posts fn and waits for it to finish. Calling Do from inside an executor
// task deadlocks; tasks call each other directly instead.
func (e *Executor) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !e.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrExecutorClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrExecutorClosed
		}
	}
}

// Run drains the queue until ctx is done or Close is called. Tasks still
// queued at that point are dropped.
func (e *Executor) Run(ctx context.Context) {
	e.mu.Lock()
	if e.running || e.closed {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	defer e.shutdown()

	for {
		fn, ok := e.next()
		if ok {
			e.runTask(fn)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-e.wake:
		}
	}
}

// Close stops the executor. Pending tasks are discarded.
func (e *Executor) Close() {
	e.shutdown()
}

// Done is closed once the executor has stopped.
func (e *Executor) Done() <-chan struct{} { return e.done }

func (e *Executor) next() (func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || len(e.queue) == 0 {
		return nil, false
	}

	fn := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]

	return fn, true
}

func (e *Executor) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("executor task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	fn()
}

func (e *Executor) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.closed = true
	e.queue = nil
	close(e.done)
}
