package stage

import (
	"context"
	"errors"
)

// ErrNotLoaded is returned when work is requested from a stage whose engine
// has not finished loading.
var ErrNotLoaded = errors.New("engine not loaded")

// Load moves m from Init to Loading and runs load on r. On success commit
// receives the engine on the executor and the stage becomes Ready; on
// failure the stage returns to Init with the error recorded. Must be called
// from the executor goroutine.
func Load[E any](m *Machine, r *Runner, load func(ctx context.Context) (E, error), commit func(E)) error {
	if err := m.Initialize(); err != nil {
		return err
	}

	RunBackground(r, struct{}{},
		func(ctx context.Context, _ struct{}) (E, error) { return load(ctx) },
		func(engine E, err error) {
			if err != nil {
				_ = m.LoadFailed(err)
				return
			}

			commit(engine)
			_ = m.LoadSucceeded()
		})

	return nil
}

// Take clears *slot and returns its previous value. It runs on the executor
// while the executor is alive and directly once it has stopped.
func Take[E any](ctx context.Context, exec *Executor, slot *E) (E, error) {
	var (
		out  E
		zero E
	)

	err := exec.Do(ctx, func() { out, *slot = *slot, zero })
	if errors.Is(err, ErrExecutorClosed) {
		out, *slot = *slot, zero
		return out, nil
	}

	return out, err
}
