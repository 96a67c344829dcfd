package phonemizer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/example/go-neutts/internal/stage"
	"github.com/example/go-neutts/internal/text"
)

// Stage runs an Engine under the stage state machine. One request is in
// flight at a time. Close and Reset must be called
// from outside the executor; every other method from inside.
type Stage struct {
	machine *stage.Machine
	runner  *stage.Runner
	exec    *stage.Executor
	log     *slog.Logger
	lang    string

	engine  Engine
	results stage.Broadcaster[string]
}

// NewStage returns an unloaded phonemizer stage.
func NewStage(exec *stage.Executor, lang string, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}

	if lang == "" {
		lang = DefaultLanguage
	}

	log = log.With(slog.String("component", "phonemizer"))

	return &Stage{
		machine: stage.NewMachine("phonemizer", log),
		runner:  stage.NewRunner(exec, log),
		exec:    exec,
		log:     log,
		lang:    lang,
	}
}

// Machine exposes the stage status.
func (s *Stage) Machine() *stage.Machine { return s.machine }

// Initialize loads the engine in the background.
func (s *Stage) Initialize(load func(ctx context.Context) (Engine, error)) error {
	return stage.Load(s.machine, s.runner, load, func(e Engine) { s.engine = e })
}

// OnPhonemes registers fn for every finished request. A failed request
// delivers the empty string.
func (s *Stage) OnPhonemes(fn func(string)) (unsubscribe func()) {
	return s.results.Subscribe(fn)
}

// Phonemize submits input. It is rejected unless the stage is Ready.
func (s *Stage) Phonemize(input string) error {
	if strings.TrimSpace(input) == "" {
		s.log.Warn("empty phonemize request")
		return text.ErrEmptyText
	}

	if s.engine == nil {
		s.log.Error("phonemize before load")
		return stage.ErrNotLoaded
	}

	if err := s.machine.BeginWork(); err != nil {
		return err
	}

	engine, lang := s.engine, s.lang

	stage.RunBackground(s.runner, input,
		func(ctx context.Context, in string) (string, error) {
			return engine.Phonemize(ctx, in, lang)
		},
		func(phonemes string, err error) {
			if err != nil {
				phonemes = ""
			}

			s.results.Publish(phonemes)
			_ = s.machine.EndWork()
		})

	return nil
}

// Cancel signals cancellation to in-flight work without waiting.
func (s *Stage) Cancel() { s.runner.Cancel() }

// Close stops in-flight work and releases the engine.
func (s *Stage) Close(ctx context.Context) error {
	if err := s.runner.Stop(ctx); err != nil {
		return err
	}

	engine, err := stage.Take(ctx, s.exec, &s.engine)
	if err != nil || engine == nil {
		return err
	}

	return engine.Close()
}

// Reset releases the engine and returns the stage to Init so it can be
// initialized again.
func (s *Stage) Reset(ctx context.Context) error {
	if err := s.Close(ctx); err != nil {
		return err
	}

	return s.exec.Do(ctx, func() {
		s.machine.Reset()
	})
}
