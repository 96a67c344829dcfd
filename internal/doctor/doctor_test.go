package doctor_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-neutts/internal/doctor"
)

func runtimeOK() (string, error) { return "1.23.0", nil }

func writeFile(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}

	return path
}

// ---------------------------------------------------------------------------
// all-pass scenario
// ---------------------------------------------------------------------------

func TestRun_AllChecksPass(t *testing.T) {
	cfg := doctor.Config{
		RuntimeVersion: runtimeOK,
		Files: []doctor.File{
			{Label: "lm model", Path: writeFile(t, "lm.onnx")},
			{Label: "reference codes", Optional: true},
		},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Errorf("expected all checks to pass; failures: %v", result.Failures())
	}

	if !strings.Contains(out.String(), "onnx runtime: 1.23.0") {
		t.Errorf("output should report the runtime version, got:\n%s", out.String())
	}

	if !strings.Contains(out.String(), "reference codes: not configured") {
		t.Errorf("output should report the optional file, got:\n%s", out.String())
	}
}

// ---------------------------------------------------------------------------
// onnx runtime
// ---------------------------------------------------------------------------

func TestRun_RuntimeChecks(t *testing.T) {
	tests := []struct {
		name    string
		cfg     doctor.Config
		wantErr bool
	}{
		{"missing", doctor.Config{RuntimeVersion: func() (string, error) { return "", errLibraryNotFound }}, true},
		{"too old", doctor.Config{RuntimeVersion: func() (string, error) { return "1.14.1", nil }}, true},
		{"no detector", doctor.Config{}, true},
		{"skipped", doctor.Config{SkipRuntime: true}, false},
		{"ok", doctor.Config{RuntimeVersion: runtimeOK}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			result := doctor.Run(tt.cfg, &out)

			if result.Failed() != tt.wantErr {
				t.Fatalf("Failed() = %v, want %v; failures: %v", result.Failed(), tt.wantErr, result.Failures())
			}

			if tt.wantErr && !hasFailureContaining(result.Failures(), "onnx runtime") {
				t.Errorf("expected failure mentioning onnx runtime, got: %v", result.Failures())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// assets
// ---------------------------------------------------------------------------

func TestRun_MissingFileFails(t *testing.T) {
	cfg := doctor.Config{
		SkipRuntime: true,
		Files: []doctor.File{
			{Label: "decoder model", Path: filepath.Join(t.TempDir(), "missing.onnx")},
		},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for missing decoder model")
	}

	if !hasFailureContaining(result.Failures(), "decoder model") {
		t.Errorf("expected failure mentioning decoder model, got: %v", result.Failures())
	}
}

func TestRun_RequiredFileUnconfiguredFails(t *testing.T) {
	cfg := doctor.Config{
		SkipRuntime: true,
		Files:       []doctor.File{{Label: "lm tokenizer"}},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "lm tokenizer: path not configured") {
		t.Errorf("failures = %v", result.Failures())
	}
}

func TestRun_ValidateCallback(t *testing.T) {
	path := writeFile(t, "codes.txt")

	var seen string

	cfg := doctor.Config{
		SkipRuntime: true,
		Files: []doctor.File{{
			Label: "reference codes",
			Path:  path,
			Validate: func(p string) error {
				seen = p
				return errors.New("no codes")
			},
		}},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if seen != path {
		t.Fatalf("validator saw %q, want %q", seen, path)
	}

	if !hasFailureContaining(result.Failures(), "validation") {
		t.Errorf("expected validation failure, got: %v", result.Failures())
	}
}

func TestRun_OutputContainsPassAndFailMarkers(t *testing.T) {
	cfg := doctor.Config{
		RuntimeVersion: func() (string, error) { return "", errLibraryNotFound },
		Files:          []doctor.File{{Label: "lm model", Path: writeFile(t, "lm.onnx")}},
	}

	var out strings.Builder
	doctor.Run(cfg, &out)

	text := out.String()
	if !strings.Contains(text, doctor.PassMark) {
		t.Errorf("output missing pass marker:\n%s", text)
	}

	if !strings.Contains(text, doctor.FailMark) {
		t.Errorf("output missing fail marker:\n%s", text)
	}
}

func TestResult_AddFailure(t *testing.T) {
	var r doctor.Result
	r.AddFailure("external check")

	if !r.Failed() || r.Failures()[0] != "external check" {
		t.Fatalf("Failures() = %v", r.Failures())
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

var errLibraryNotFound = sentinelError("library not found")

func hasFailureContaining(failures []string, substr string) bool {
	for _, f := range failures {
		if strings.Contains(f, substr) {
			return true
		}
	}

	return false
}
