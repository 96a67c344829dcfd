package server

import (
	"context"
	"errors"
	"sync"

	"github.com/example/go-neutts/internal/audio"
	"github.com/example/go-neutts/internal/pipeline"
	"github.com/example/go-neutts/internal/stage"
	"github.com/example/go-neutts/internal/text"
)

// Speaker is the part of the pipeline the HTTP synthesizers drive.
type Speaker interface {
	SpeakTo(ctx context.Context, text string, sink pipeline.Sink) (pipeline.Report, error)
}

// PipelineSynthesizer speaks long text sentence by sentence through one
// pipeline. The pipeline handles one utterance at a time, so requests take
// turns.
type PipelineSynthesizer struct {
	speaker  Speaker
	maxRunes int
	hooks    []audio.Hook
	turn     chan struct{}
}

var (
	_ Synthesizer          = (*PipelineSynthesizer)(nil)
	_ StreamingSynthesizer = (*PipelineSynthesizer)(nil)
	_ Speaker              = (*PipelineSynthesizer)(nil)
)

// NewPipelineSynthesizer splits input into sentences of at most maxRunes
// runes. hooks post-process the whole waveform of Synthesize.
func NewPipelineSynthesizer(s Speaker, maxRunes int, hooks ...audio.Hook) *PipelineSynthesizer {
	return &PipelineSynthesizer{
		speaker:  s,
		maxRunes: maxRunes,
		hooks:    hooks,
		turn:     make(chan struct{}, 1),
	}
}

func (p *PipelineSynthesizer) acquire(ctx context.Context) error {
	select {
	case p.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipelineSynthesizer) release() { <-p.turn }

func (p *PipelineSynthesizer) speakAll(ctx context.Context, input string, sink pipeline.Sink) error {
	sentences := text.SplitSentences(input, p.maxRunes)
	if len(sentences) == 0 {
		return text.ErrEmptyText
	}

	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	for _, sentence := range sentences {
		if _, err := p.speaker.SpeakTo(ctx, sentence, sink); err != nil {
			return err
		}
	}

	return nil
}

// SpeakTo speaks one utterance while holding the turn, so other users of
// the same pipeline wait instead of failing with pipeline.ErrNotReady.
func (p *PipelineSynthesizer) SpeakTo(ctx context.Context, input string, sink pipeline.Sink) (pipeline.Report, error) {
	if err := p.acquire(ctx); err != nil {
		return pipeline.Report{}, err
	}
	defer p.release()

	return p.speaker.SpeakTo(ctx, input, sink)
}

// Synthesize returns the whole utterance as a WAV file.
func (p *PipelineSynthesizer) Synthesize(ctx context.Context, input string) ([]byte, error) {
	sink := &pipeline.BufferSink{}
	if err := p.speakAll(ctx, input, sink); err != nil {
		return nil, err
	}

	return audio.EncodeWAV(audio.ApplyHooks(sink.Samples, p.hooks...))
}

// SynthesizeStream calls emit on the caller's goroutine for every block of
// samples the pipeline delivers. Hooks are not applied.
func (p *PipelineSynthesizer) SynthesizeStream(ctx context.Context, input string, emit func([]float32) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := newPCMQueue()
	done := make(chan error, 1)

	go func() {
		err := p.speakAll(ctx, input, q)
		q.close()
		done <- err
	}()

	for {
		samples, ok := q.next(ctx)
		if !ok {
			break
		}

		if err := emit(samples); err != nil {
			cancel()
			return errors.Join(err, <-done)
		}
	}

	return <-done
}

// pcmQueue is an unbounded sample queue. WriteSamples never blocks the
// pipeline; the HTTP writer consumes it at network speed.
type pcmQueue struct {
	mu     sync.Mutex
	chunks [][]float32
	closed bool
	wake   chan struct{}
}

func newPCMQueue() *pcmQueue {
	return &pcmQueue{wake: make(chan struct{}, 1)}
}

func (q *pcmQueue) WriteSamples(samples []float32) error {
	q.mu.Lock()
	q.chunks = append(q.chunks, append([]float32(nil), samples...))
	q.mu.Unlock()
	q.signal()

	return nil
}

// Drain returns at once; the consumer drains the queue.
func (q *pcmQueue) Drain(context.Context) error { return nil }

func (q *pcmQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *pcmQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next returns the oldest block. It reports false once the queue is closed
// and empty, or ctx is done.
func (q *pcmQueue) next(ctx context.Context) ([]float32, bool) {
	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			c := q.chunks[0]
			q.chunks[0] = nil
			q.chunks = q.chunks[1:]
			q.mu.Unlock()

			return c, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// PhaseSource is the read side of the orchestrator.
type PhaseSource interface {
	Phase() pipeline.Phase
	StageStatus() map[string]stage.Status
}

// PipelineStatus adapts a PhaseSource to StatusReporter.
func PipelineStatus(src PhaseSource) StatusReporter {
	return pipelineStatus{src: src}
}

type pipelineStatus struct {
	src PhaseSource
}

func (p pipelineStatus) Status() Status {
	stages := make(map[string]string, 3)
	for name, s := range p.src.StageStatus() {
		stages[name] = s.String()
	}

	return Status{Phase: p.src.Phase().String(), Stages: stages}
}
