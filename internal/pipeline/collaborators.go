package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/go-neutts/internal/codec"
	"github.com/example/go-neutts/internal/stage"
)

// Sink consumes ordered PCM for one utterance. WriteSamples is called from
// the executor and should only buffer; Drain blocks until everything
// written has been played or stored.
type Sink interface {
	WriteSamples(samples []float32) error
	Drain(ctx context.Context) error
}

// DiscardSink drops all audio.
type DiscardSink struct{}

func (DiscardSink) WriteSamples([]float32) error { return nil }
func (DiscardSink) Drain(context.Context) error { return nil }

// BufferSink collects every sample in memory.
type BufferSink struct {
	Samples []float32
}

func (b *BufferSink) WriteSamples(s []float32) error {
	b.Samples = append(b.Samples, s...)
	return nil
}

func (b *BufferSink) Drain(context.Context) error { return nil }

// PathResolver maps configured asset paths to readable locations.
type PathResolver interface {
	Resolve(path string) string
}

// RootResolver joins relative paths onto Root. Absolute paths and an empty
// Root pass through.
type RootResolver struct {
	Root string
}

func (r RootResolver) Resolve(path string) string {
	if path == "" || r.Root == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(r.Root, path)
}

// ReferenceSource supplies the voice-clone reference, read once at
// initialization.
type ReferenceSource interface {
	Codes(ctx context.Context) ([]int, error)
	Transcript(ctx context.Context) (string, error)
}

// FileReference reads a JSON code list and a plain-text transcript.
type FileReference struct {
	CodesPath      string
	TranscriptPath string
	Resolver       PathResolver
}

func (f FileReference) resolve(path string) string {
	if f.Resolver == nil {
		return path
	}

	return f.Resolver.Resolve(path)
}

func (f FileReference) Codes(context.Context) ([]int, error) {
	data, err := os.ReadFile(f.resolve(f.CodesPath))
	if err != nil {
		return nil, fmt.Errorf("read reference codes: %w", err)
	}

	return codec.ParseReferenceCodes(data)
}

func (f FileReference) Transcript(context.Context) (string, error) {
	data, err := os.ReadFile(f.resolve(f.TranscriptPath))
	if err != nil {
		return "", fmt.Errorf("read reference transcript: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// StaticReference is an in-memory ReferenceSource.
type StaticReference struct {
	CodeList []int
	Text     string
}

func (s StaticReference) Codes(context.Context) ([]int, error) { return s.CodeList, nil }
func (s StaticReference) Transcript(context.Context) (string, error) { return s.Text, nil }

// Report summarises a finished utterance.
type Report struct {
	ID       string
	Text     string
	Outcome  Outcome
	Frames   int
	Samples  int
	Tokens   int
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Outcome classifies how an utterance ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// Observer receives pipeline events. All calls happen on the executor
// goroutine and must not block.
type Observer interface {
	StageChanged(name string, status stage.Status)
	PhaseChanged(phase Phase)
	DecodeSubmitted(index uint64, tokens int)
	FrameDelivered(index uint64, samples int)
	UtteranceFinished(r Report)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) StageChanged(string, stage.Status) {}
func (NopObserver) PhaseChanged(Phase) {}
func (NopObserver) DecodeSubmitted(uint64, int) {}
func (NopObserver) FrameDelivered(uint64, int) {}
func (NopObserver) UtteranceFinished(Report) {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) StageChanged(name string, s stage.Status) {
	for _, x := range o {
		x.StageChanged(name, s)
	}
}

func (o Observers) PhaseChanged(p Phase) {
	for _, x := range o {
		x.PhaseChanged(p)
	}
}

func (o Observers) DecodeSubmitted(index uint64, tokens int) {
	for _, x := range o {
		x.DecodeSubmitted(index, tokens)
	}
}

func (o Observers) FrameDelivered(index uint64, samples int) {
	for _, x := range o {
		x.FrameDelivered(index, samples)
	}
}

func (o Observers) UtteranceFinished(r Report) {
	for _, x := range o {
		x.UtteranceFinished(r)
	}
}
