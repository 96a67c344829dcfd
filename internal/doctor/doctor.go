// Package doctor provides environment preflight checks for neutts.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Minimum ONNX Runtime release the inference sessions are built against.
const (
	minORTMajor = 1
	minORTMinor = 17
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// File is one asset the pipeline needs on disk.
type File struct {
	Label string
	Path  string
	// Optional files pass when Path is empty.
	Optional bool
	// Validate runs after the stat succeeds.
	Validate func(path string) error
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RuntimeVersion returns the ONNX Runtime version string (e.g. "1.23.0").
	RuntimeVersion VersionFunc
	// SkipRuntime skips the ONNX Runtime check.
	SkipRuntime bool
	// Files lists model, tokenizer and reference assets.
	Files []File
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- onnx runtime ----------------------------------------------------
	switch {
	case cfg.SkipRuntime:
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	case cfg.RuntimeVersion == nil:
		res.fail("onnx runtime: no detector configured")
		fmt.Fprintf(w, "%s onnx runtime: no detector configured\n", FailMark)
	default:
		ver, err := cfg.RuntimeVersion()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		} else if verErr := checkRuntimeVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
			fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	// ---- assets -----------------------------------------------------------
	for _, f := range cfg.Files {
		checkFile(&res, w, f)
	}

	return res
}

func checkFile(res *Result, w io.Writer, f File) {
	if f.Path == "" {
		if f.Optional {
			fmt.Fprintf(w, "%s %s: not configured\n", PassMark, f.Label)
			return
		}

		res.fail(fmt.Sprintf("%s: path not configured", f.Label))
		fmt.Fprintf(w, "%s %s: path not configured\n", FailMark, f.Label)

		return
	}

	if _, err := os.Stat(f.Path); err != nil {
		res.fail(fmt.Sprintf("%s %q: %v", f.Label, f.Path, err))
		fmt.Fprintf(w, "%s %s %s: not found\n", FailMark, f.Label, f.Path)

		return
	}

	if f.Validate != nil {
		if err := f.Validate(f.Path); err != nil {
			res.fail(fmt.Sprintf("%s validation: %v", f.Label, err))
			fmt.Fprintf(w, "%s %s %s: %v\n", FailMark, f.Label, f.Path, err)

			return
		}
	}

	fmt.Fprintf(w, "%s %s: %s\n", PassMark, f.Label, f.Path)
}

// checkRuntimeVersion returns an error if ver is older than 1.17.
// ver is expected to be a string like "1.23.0".
func checkRuntimeVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != minORTMajor {
		return fmt.Errorf("requires ONNX Runtime %d.x, got %d", minORTMajor, major)
	}
	if minor < minORTMinor {
		return fmt.Errorf("requires ONNX Runtime >=%d.%d, got %d.%d", minORTMajor, minORTMinor, major, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
