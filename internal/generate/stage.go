package generate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/example/go-neutts/internal/stage"
)

// Result is the outcome of one generation request.
type Result struct {
	Text      string
	Tokens    int
	Cancelled bool
	Err       error
}

// Stage runs the language model under the stage state machine. Sampled
// token texts are streamed to OnToken observers as they are produced and
// the whole text is published to OnGenerated at the end. Close and Reset
// must be called from outside the executor; every other method from inside.
type Stage struct {
	machine *stage.Machine
	runner  *stage.Runner
	exec    *stage.Executor
	log     *slog.Logger
	params  Params

	engine    *Engine
	streamed  stage.Broadcaster[string]
	generated stage.Broadcaster[Result]
}

// NewStage returns an unloaded generator stage.
func NewStage(exec *stage.Executor, params Params, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}

	log = log.With(slog.String("component", "generator"))

	return &Stage{
		machine: stage.NewMachine("generator", log),
		runner:  stage.NewRunner(exec, log),
		exec:    exec,
		log:     log,
		params:  params,
	}
}

// Machine exposes the stage status.
func (s *Stage) Machine() *stage.Machine { return s.machine }

// Initialize loads the engine in the background.
func (s *Stage) Initialize(load func(ctx context.Context) (*Engine, error)) error {
	return stage.Load(s.machine, s.runner, load, func(e *Engine) { s.engine = e })
}

// OnToken registers fn for every streamed token text.
func (s *Stage) OnToken(fn func(string)) (unsubscribe func()) {
	return s.streamed.Subscribe(fn)
}

// OnGenerated registers fn for the end of every request. It fires after
// the last OnToken notification of that request.
func (s *Stage) OnGenerated(fn func(Result)) (unsubscribe func()) {
	return s.generated.Subscribe(fn)
}

// PromptWithClone starts generation for req.
func (s *Stage) PromptWithClone(req CloneRequest) error {
	if err := req.Validate(); err != nil {
		s.log.Warn("invalid prompt", slog.String("error", err.Error()))
		return err
	}

	if s.engine == nil {
		s.log.Error("prompt before load")
		return stage.ErrNotLoaded
	}

	if err := s.machine.BeginWork(); err != nil {
		return err
	}

	engine, params := s.engine, s.params

	stage.RunBackground(s.runner, req,
		func(ctx context.Context, req CloneRequest) (Result, error) {
			return s.generate(ctx, engine, params, req)
		},
		func(res Result, err error) {
			if err != nil {
				res.Err = err
			}

			s.log.Debug("generation finished",
				slog.Int("tokens", res.Tokens),
				slog.Bool("cancelled", res.Cancelled),
			)

			s.generated.Publish(res)
			_ = s.machine.EndWork()
		})

	return nil
}

func (s *Stage) generate(ctx context.Context, engine *Engine, params Params, req CloneRequest) (Result, error) {
	prompt, err := engine.Vocab.Encode(req.Text())
	if err != nil {
		return Result{}, err
	}

	var text strings.Builder

	tokens, err := Loop(ctx, engine.Model, NewSampler(params), prompt, params.MaxTokens, engine.Stop,
		func(token int64) {
			piece, ok := engine.Vocab.Piece(token)
			if !ok {
				return
			}

			text.WriteString(piece)
			s.exec.Post(func() { s.streamed.Publish(piece) })
		})

	res := Result{Text: text.String(), Tokens: len(tokens)}

	if errors.Is(err, context.Canceled) {
		res.Cancelled = true
		return res, nil
	}

	return res, err
}

// Stop cancels a running generation. It reports false when nothing is
// being generated.
func (s *Stage) Stop() bool {
	if s.machine.Status() != stage.StatusGenerating {
		s.log.Debug("stop ignored: not generating")
		return false
	}

	s.runner.Cancel()

	return true
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
