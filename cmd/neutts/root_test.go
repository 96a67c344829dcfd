package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/example/go-neutts/internal/config"
)

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"synth", "serve", "health", "doctor", "download"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}

	if root.PersistentFlags().Lookup("chunk-size") == nil || root.PersistentFlags().Lookup("log-level") == nil {
		t.Error("expected config flags to be registered on the root")
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	log := newLogger("warn", "json", &buf)
	log.Info("hidden")
	log.Warn("shown", "stage", "decoder")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one record above warn, got %q", buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("json output: %v", err)
	}

	if rec["msg"] != "shown" || rec["stage"] != "decoder" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	log := newLogger("not-a-level", "text", &buf)
	log.Debug("hidden")
	log.Info("ready", "phase", "idle")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("invalid level should fall back to info, got %q", out)
	}

	if !strings.Contains(out, "ready") || !strings.Contains(out, "phase=idle") {
		t.Errorf("text output = %q", out)
	}
}

func TestRequireConfig(t *testing.T) {
	origCfg, origLoaded := activeCfg, cfgLoaded

	t.Cleanup(func() { activeCfg, cfgLoaded = origCfg, origLoaded })

	cfgLoaded = false
	if _, err := requireConfig(); err == nil {
		t.Fatal("expected error when config is not loaded")
	}

	activeCfg = config.DefaultConfig()
	activeCfg.Paths.Root = "/srv/neutts"
	cfgLoaded = true

	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig returned unexpected error: %v", err)
	}

	if got.Paths.Root != "/srv/neutts" {
		t.Errorf("unexpected root: %q", got.Paths.Root)
	}
}

func TestRootCmd_RejectsInvalidConfig(t *testing.T) {
	origCfg, origLoaded := activeCfg, cfgLoaded

	t.Cleanup(func() { activeCfg, cfgLoaded = origCfg, origLoaded })

	root := NewRootCmd()
	root.SetArgs([]string{"health", "--overlap=-1"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	if err := root.Execute(); err == nil {
		t.Fatal("expected validation error for negative overlap")
	}
}
