// Package testutil provides shared skip helpers and assertions for tests.
//
// Each Require helper calls Skip with a readable reason when the named
// prerequisite is absent, so integration tests stay runnable in partial
// environments.
//
//	func TestDecoderIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    model := testutil.RequireFile(t, "NEUTTS_TEST_DECODER_MODEL")
//	    ...
//	}
package testutil

import (
	"os"
	"testing"
)

// ortEnvVars are consulted in order by RequireONNXRuntime.
var ortEnvVars = []string{"NEUTTS_ORT_LIB", "ORT_LIBRARY_PATH"}

var ortCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
}

// RequireONNXRuntime returns the ONNX Runtime shared library path or skips.
// Explicit environment variables win over system locations; an explicit
// path that does not exist skips rather than falling through.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range ortEnvVars {
		p := os.Getenv(env)
		if p == "" {
			continue
		}

		if _, err := os.Stat(p); err == nil {
			return p
		}

		tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

		return ""
	}

	for _, p := range ortCandidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set NEUTTS_ORT_LIB or ORT_LIBRARY_PATH")

	return ""
}

// RequireFile returns the path named by envVar or skips when it is unset or
// missing on disk.
func RequireFile(tb testing.TB, envVar string) string {
	tb.Helper()

	p := os.Getenv(envVar)
	if p == "" {
		tb.Skipf("%s not set", envVar)
		return ""
	}

	if _, err := os.Stat(p); err != nil {
		tb.Skipf("%s=%q: %v", envVar, p, err)
		return ""
	}

	return p
}
