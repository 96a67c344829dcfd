package codec

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/go-neutts/internal/reorder"
	"github.com/example/go-neutts/internal/stage"
)

// ErrNoCodeText is returned for an empty decode submission.
var ErrNoCodeText = errors.New("empty code text")

// Frame is one decoded window of audio.
type Frame struct {
	Index   uint64
	Samples []float32
	// Codes is the number of speech codes the frame was decoded from.
	Codes int
}

type request struct {
	index uint64
	text  string
}

// Stage accepts overlapping decode submissions and delivers their frames in
// submission order. It is Generating while any submission is pending and
// returns to Ready when the last one has been delivered. Close and Reset
// must be called from outside the executor; every other method from inside.
type Stage struct {
	machine *stage.Machine
	runner  *stage.Runner
	exec    *stage.Executor
	log     *slog.Logger

	decoder Decoder
	order   *reorder.Buffer[Frame]
	frames  stage.Broadcaster[Frame]
}

// NewStage returns an unloaded decoder stage.
func NewStage(exec *stage.Executor, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}

	log = log.With(slog.String("component", "decoder"))

	return &Stage{
		machine: stage.NewMachine("decoder", log),
		runner:  stage.NewRunner(exec, log),
		exec:    exec,
		log:     log,
		order:   reorder.New[Frame](16),
	}
}

// Machine exposes the stage status.
func (s *Stage) Machine() *stage.Machine { return s.machine }

// Initialize loads the decoder in the background.
func (s *Stage) Initialize(load func(ctx context.Context) (Decoder, error)) error {
	return stage.Load(s.machine, s.runner, load, func(d Decoder) { s.decoder = d })
}

// OnFrame registers fn for every frame, called in submission order.
func (s *Stage) OnFrame(fn func(Frame)) (unsubscribe func()) {
	return s.frames.Subscribe(fn)
}

// Pending reports submissions not yet delivered.
func (s *Stage) Pending() int { return s.order.Pending() }

// Decode submits code text and returns its sequence index. Submissions are
// accepted while Ready or while earlier ones are still in flight. Text with
// no speech markers, a decoder fault and a cancelled decode all yield an
// empty frame so later frames are not held back.
func (s *Stage) Decode(codeText string) (uint64, error) {
	if codeText == "" {
		s.log.Warn("empty decode submission")
		return 0, ErrNoCodeText
	}

	if s.decoder == nil {
		s.log.Error("decode before load")
		return 0, stage.ErrNotLoaded
	}

	if err := s.machine.JoinWork(); err != nil {
		return 0, err
	}

	idx := s.order.Reserve()
	decoder := s.decoder

	stage.RunBackground(s.runner, request{index: idx, text: codeText},
		func(ctx context.Context, req request) (Frame, error) {
			codes := ExtractCodes(req.text)
			frame := Frame{Index: req.index, Codes: len(codes)}

			if len(codes) == 0 {
				return frame, nil
			}

			samples, err := decoder.Decode(ctx, codes)
			if err != nil {
				return frame, err
			}

			frame.Samples = samples

			return frame, nil
		},
		func(frame Frame, err error) {
			if err != nil {
				frame = Frame{Index: idx}
			}

			s.complete(frame)
		})

	return idx, nil
}

func (s *Stage) complete(frame Frame) {
	ready, err := s.order.Complete(frame.Index, frame)
	if err != nil {
		s.log.Warn("dropping decode result", slog.Uint64("index", frame.Index), slog.String("error", err.Error()))
		return
	}

	for _, f := range ready {
		s.frames.Publish(f)
	}

	if s.order.Pending() == 0 && s.machine.Status() == stage.StatusGenerating {
		_ = s.machine.EndWork()
	}
}

// Cancel signals cancellation to in-flight decodes without waiting. They
// still complete and are delivered as empty frames.
func (s *Stage) Cancel() { s.runner.Cancel() }

// Close stops in-flight work and releases the decoder.
func (s *Stage) Close(ctx context.Context) error {
	if err := s.runner.Stop(ctx); err != nil {
		return err
	}

	decoder, err := stage.Take(ctx, s.exec, &s.decoder)
	if err != nil || decoder == nil {
		return err
	}

	return decoder.Close()
}

// Reset releases the engine and returns the stage to Init so it can be
// initialized again.
func (s *Stage) Reset(ctx context.Context) error {
	if err := s.Close(ctx); err != nil {
		return err
	}

	return s.exec.Do(ctx, func() {
		s.order.Reset()
		s.machine.Reset()
	})
}
