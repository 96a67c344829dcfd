package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"sync"

	"github.com/example/go-neutts/internal/config"
)

// RuntimeInfo describes the ONNX Runtime shared library the process uses.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
	// Source names where the path came from: config, an environment
	// variable, or search.
	Source string
}

// ortLibEnv is set once the library is found so later lookups agree.
const ortLibEnv = "NEUTTS_ORT_LIB"

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var (
	bootstrapOnce sync.Once
	bootstrapInfo RuntimeInfo
	errBootstrap  error
)

// Bootstrap detects the runtime library once per process. Later calls return
// the first result regardless of cfg.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	bootstrapOnce.Do(func() {
		info, err := DetectRuntime(cfg)
		if err != nil {
			errBootstrap = err
			return
		}

		if err := os.Setenv(ortLibEnv, info.LibraryPath); err != nil {
			errBootstrap = fmt.Errorf("set %s: %w", ortLibEnv, err)
			return
		}

		bootstrapInfo = info
	})

	return bootstrapInfo, errBootstrap
}

// DetectRuntime locates the ONNX Runtime library. The configured path wins,
// then NEUTTS_ORT_LIB, then ORT_LIBRARY_PATH, then the platform's usual
// install locations. The first source that names a path decides; a named
// path that does not exist is an error.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	info, err := locateLibrary(cfg.ORTLibraryPath)
	if err != nil {
		return info, err
	}

	info.Version = firstNonEmpty(cfg.ORTVersion, os.Getenv("ORT_VERSION"), inferVersion(info.LibraryPath), "unknown")

	return info, nil
}

func locateLibrary(configured string) (RuntimeInfo, error) {
	sources := []struct{ name, path string }{
		{"config", configured},
		{"env " + ortLibEnv, os.Getenv(ortLibEnv)},
		{"env ORT_LIBRARY_PATH", os.Getenv("ORT_LIBRARY_PATH")},
	}

	for _, s := range sources {
		if s.path == "" {
			continue
		}

		info := RuntimeInfo{LibraryPath: s.path, Version: "unknown", Source: s.name}
		if _, err := os.Stat(s.path); err != nil {
			return info, fmt.Errorf("onnx runtime library from %s: %w", s.name, err)
		}

		return info, nil
	}

	for _, c := range libraryCandidates(runtime.GOOS) {
		if _, err := os.Stat(c); err == nil {
			return RuntimeInfo{LibraryPath: c, Source: "search"}, nil
		}
	}

	return RuntimeInfo{LibraryPath: "not found", Version: "unknown"}, errors.New("unable to detect ONNX Runtime library path")
}

func libraryCandidates(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"/opt/homebrew/lib/libonnxruntime.dylib", "/usr/local/lib/libonnxruntime.dylib"}
	case "windows":
		return []string{"C:/onnxruntime/lib/onnxruntime.dll"}
	default:
		return []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
			"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
		}
	}
}

// inferVersion reads a x.y.z suffix from the library file name, following
// the usual libonnxruntime.so -> libonnxruntime.so.1.22.0 symlink.
func inferVersion(path string) string {
	names := []string{path}
	if real, err := filepath.EvalSymlinks(path); err == nil && real != path {
		names = append(names, real)
	}

	for _, n := range names {
		if m := versionPattern.FindStringSubmatch(filepath.Base(n)); len(m) == 2 {
			return m[1]
		}
	}

	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}

var live = struct {
	sync.Mutex
	runners map[*Runner]struct{}
}{runners: map[*Runner]struct{}{}}

func track(r *Runner) {
	live.Lock()
	live.runners[r] = struct{}{}
	live.Unlock()
}

func untrack(r *Runner) {
	live.Lock()
	delete(live.runners, r)
	live.Unlock()
}

// Shutdown closes runners that were never closed and returns their graph
// names, sorted.
func Shutdown() []string {
	live.Lock()
	leaked := make([]*Runner, 0, len(live.runners))
	for r := range live.runners {
		leaked = append(leaked, r)
	}
	live.Unlock()

	names := make([]string, 0, len(leaked))
	for _, r := range leaked {
		names = append(names, r.Name())
		r.Close()
	}

	slices.Sort(names)

	return names
}
