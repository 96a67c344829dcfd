package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/go-neutts/internal/config"
	"github.com/example/go-neutts/internal/onnx"
	"github.com/example/go-neutts/internal/pipeline"
)

func TestGenerationParams(t *testing.T) {
	g := config.DefaultConfig().Generation
	g.Seed = 42

	p := generationParams(g)
	if p.Temperature != g.Temperature || p.TopK != g.TopK || p.MaxTokens != g.MaxTokens || p.Seed != 42 {
		t.Fatalf("params = %+v", p)
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.Root = "/srv/neutts"
	cfg.Stream.ChunkSize = 25
	cfg.Stream.Overlap = 5
	cfg.Phonemizer.Language = "de"

	opts := pipelineOptions(context.Background(), cfg, onnx.RunnerConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if opts.ChunkSize != 25 || opts.Overlap != 5 || opts.HopLength != cfg.Codec.HopLength || opts.Language != "de" {
		t.Fatalf("opts = %+v", opts)
	}

	ref, ok := opts.Reference.(pipeline.FileReference)
	if !ok {
		t.Fatalf("reference = %T", opts.Reference)
	}

	if got := ref.Resolver.Resolve(ref.CodesPath); got != filepath.Join("/srv/neutts", cfg.Paths.RefCodes) {
		t.Errorf("codes path = %q", got)
	}

	if opts.Loaders.Phonemizer == nil || opts.Loaders.Generator == nil || opts.Loaders.Decoder == nil {
		t.Fatal("all loaders must be set")
	}
}

func TestPipelineOptions_LoadersReportMissingAssets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.Root = t.TempDir()

	opts := pipelineOptions(context.Background(), cfg, onnx.RunnerConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Both loaders read their text assets before touching the runtime.
	if _, err := opts.Loaders.Phonemizer(context.Background()); err == nil {
		t.Error("phonemizer loader should fail without its config")
	}

	if _, err := opts.Loaders.Generator(context.Background()); err == nil {
		t.Error("generator loader should fail without its tokenizer")
	}
}
