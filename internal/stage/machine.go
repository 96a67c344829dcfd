package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrInvalidTransition is returned when an operation is requested while the
// machine is not in the state the operation requires.
var ErrInvalidTransition = errors.New("invalid status transition")

// Machine is the status state machine owned by one stage.
//
// Mutating methods must only be called from the executor goroutine. Status
// and Await may be called from anywhere.
type Machine struct {
	name    string
	status  *Notifier[Status]
	log     *slog.Logger
	errMu   sync.Mutex
	lastErr error
}

// NewMachine returns a machine in StatusInit.
func NewMachine(name string, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}

	return &Machine{
		name:   name,
		status: NewNotifier(StatusInit),
		log:    log.With(slog.String("stage", name)),
	}
}

// Name returns the stage name.
func (m *Machine) Name() string { return m.name }

// Status returns the current status.
func (m *Machine) Status() Status { return m.status.Get() }

// Err returns the error recorded by the last failed load or fault.
func (m *Machine) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()

	return m.lastErr
}

func (m *Machine) setErr(err error) {
	m.errMu.Lock()
	m.lastErr = err
	m.errMu.Unlock()
}

// Subscribe registers an observer that is called synchronously after every
// committed transition.
func (m *Machine) Subscribe(fn func(Status)) (unsubscribe func()) {
	return m.status.Subscribe(fn)
}

// Await blocks until pred holds for the current status or ctx is done.
func (m *Machine) Await(ctx context.Context, pred func(Status) bool) (Status, error) {
	return m.status.Await(ctx, pred)
}

// Initialize moves Init to Loading.
func (m *Machine) Initialize() error {
	return m.transition("initialize", StatusLoading, StatusInit)
}

// LoadSucceeded moves Loading to Ready.
func (m *Machine) LoadSucceeded() error {
	return m.transition("load succeeded", StatusReady, StatusLoading)
}

// LoadFailed moves Loading back to Init and records err.
func (m *Machine) LoadFailed(err error) error {
	if m.status.Get() == StatusLoading {
		m.setErr(err)
		m.log.Error("stage load failed", slog.String("error", errString(err)))
	}

	return m.transition("load failed", StatusInit, StatusLoading)
}

// BeginWork moves Ready to Generating. A stage that is already generating
// rejects the request.
func (m *Machine) BeginWork() error {
	return m.transition("begin work", StatusGenerating, StatusReady)
}

// JoinWork accepts work while Ready or already Generating. Stages that
// pipeline submissions use it instead of BeginWork.
func (m *Machine) JoinWork() error {
	return m.transition("join work", StatusGenerating, StatusReady, StatusGenerating)
}

// EndWork moves Generating to Ready.
func (m *Machine) EndWork() error {
	return m.transition("end work", StatusReady, StatusGenerating)
}

// Fail moves the machine to Error from any state. Error is terminal until Reset.
func (m *Machine) Fail(err error) {
	m.setErr(err)
	if m.status.Set(StatusError) {
		m.log.Error("stage fault", slog.String("error", errString(err)))
	}
}

// Reset returns the machine to Init from any state.
func (m *Machine) Reset() {
	m.setErr(nil)
	m.status.Set(StatusInit)
}

func (m *Machine) transition(op string, to Status, from ...Status) error {
	current := m.status.Get()
	for _, f := range from {
		if current == f {
			m.status.Set(to)
			return nil
		}
	}

	m.log.Warn("rejected transition",
		slog.String("op", op),
		slog.String("status", current.String()),
	)

	return fmt.Errorf("%s %s while %s: %w", m.name, op, current, ErrInvalidTransition)
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
