package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// GraphRunner is the contract the stage engines run models through. Tests
// substitute fakes; production uses Runner.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// Session names one ONNX graph file.
type Session struct {
	Name string
	Path string
}

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
	// MaxConcurrent bounds how many graphs run at once across every runner
	// on the same library. Zero means no bound. The first runner to open a
	// library decides.
	MaxConcurrent int
}

// Runner wraps an ORT session for a single ONNX graph. Run calls are
// serialised; each stage owns its runner exclusively.
type Runner struct {
	name    string
	mu      sync.Mutex
	lib     *library
	session *ort.Session
}

var _ GraphRunner = (*Runner)(nil)

// NewRunner creates a runner for a single ONNX graph session.
func NewRunner(meta Session, cfg RunnerConfig) (*Runner, error) {
	lib, err := openLibrary(cfg)
	if err != nil {
		return nil, fmt.Errorf("ort for %q: %w", meta.Name, err)
	}

	session, err := lib.runtime.NewSession(lib.env, meta.Path, nil)
	if err != nil {
		lib.release()
		return nil, fmt.Errorf("ort session for %q (%s): %w", meta.Name, meta.Path, err)
	}

	r := &Runner{name: meta.Name, lib: lib, session: session}
	track(r)

	return r, nil
}

// Run executes the ONNX graph with the given named input tensors.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil, fmt.Errorf("run %q: runner is closed", r.name)
	}

	leave, err := r.lib.enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer leave()

	ortInputs := make(map[string]*ort.Value, len(inputs))
	defer closeORTValues(ortInputs)

	for name, t := range inputs {
		v, err := tensorToORT(r.lib.runtime, t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}

		ortInputs[name] = v
	}

	ortOutputs, err := r.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer closeORTValues(ortOutputs)

	results := make(map[string]*Tensor, len(ortOutputs))
	for name, v := range ortOutputs {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}

		results[name] = t
	}

	return results, nil
}

// Close releases the session and, with the last runner, the library.
// Safe to call multiple times.
func (r *Runner) Close() {
	untrack(r)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return
	}

	r.session.Close()
	r.session = nil

	if r.lib != nil {
		r.lib.release()
		r.lib = nil
	}
}

// Name returns the graph name.
func (r *Runner) Name() string {
	return r.name
}

func tensorToORT(runtime *ort.Runtime, t *Tensor) (*ort.Value, error) {
	switch data := t.Data().(type) {
	case []float32:
		return ort.NewTensorValue(runtime, data, t.Shape())
	case []int64:
		return ort.NewTensorValue(runtime, data, t.Shape())
	case []int32:
		return ort.NewTensorValue(runtime, data, t.Shape())
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %T", data)
	}
}

func ortToTensor(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("get element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		return fromORT[float32](v)
	case ort.ONNXTensorElementDataTypeInt64:
		return fromORT[int64](v)
	case ort.ONNXTensorElementDataTypeInt32:
		return fromORT[int32](v)
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func fromORT[T float32 | int64 | int32](v *ort.Value) (*Tensor, error) {
	data, shape, err := ort.GetTensorData[T](v)
	if err != nil {
		return nil, err
	}

	return NewTensor(data, shape)
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
