package onnx

import (
	"context"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

type libraryKey struct {
	path       string
	apiVersion uint32
}

// library is one loaded ORT runtime and environment, shared by every
// runner opened against the same shared object.
type library struct {
	key     libraryKey
	refs    int
	runtime *ort.Runtime
	env     *ort.Env
	gate    chan struct{}
}

var libraries = struct {
	sync.Mutex
	open map[libraryKey]*library
}{open: map[libraryKey]*library{}}

func openLibrary(cfg RunnerConfig) (*library, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 23
	}

	key := libraryKey{path: cfg.LibraryPath, apiVersion: cfg.APIVersion}

	libraries.Lock()
	defer libraries.Unlock()

	if lib, ok := libraries.open[key]; ok {
		lib.refs++
		return lib, nil
	}

	rt, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, err
	}

	env, err := rt.NewEnv("neutts", ort.LoggingLevelWarning)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	lib := &library{key: key, refs: 1, runtime: rt, env: env}
	if cfg.MaxConcurrent > 0 {
		lib.gate = make(chan struct{}, cfg.MaxConcurrent)
	}

	libraries.open[key] = lib

	return lib, nil
}

func (l *library) release() {
	libraries.Lock()
	defer libraries.Unlock()

	l.refs--
	if l.refs > 0 {
		return
	}

	delete(libraries.open, l.key)

	if l.env != nil {
		l.env.Close()
	}

	if l.runtime != nil {
		_ = l.runtime.Close()
	}
}

// enter waits for a free slot under MaxConcurrent. The returned func gives
// the slot back.
func (l *library) enter(ctx context.Context) (func(), error) {
	if l.gate == nil {
		return func() {}, nil
	}

	select {
	case l.gate <- struct{}{}:
		return func() { <-l.gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
