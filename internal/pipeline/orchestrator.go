// Package pipeline coordinates the phonemizer, generator and decoder stages
// into one streaming text-to-speech pipeline.
//
// All pipeline state is owned by a single executor goroutine. Stage
// observers, streamed tokens and decoded frames are handled there, so the
// orchestrator never locks its own fields.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-neutts/internal/codec"
	"github.com/example/go-neutts/internal/generate"
	"github.com/example/go-neutts/internal/phonemizer"
	"github.com/example/go-neutts/internal/stage"
	"github.com/example/go-neutts/internal/stream"
	"github.com/example/go-neutts/internal/text"
)

var (
	// ErrNotConfigured is returned by Initialize when a collaborator is missing.
	ErrNotConfigured = errors.New("pipeline not configured")
	// ErrStageLoad is returned when a stage fails to load.
	ErrStageLoad = errors.New("stage load failed")
	// ErrStageFault is reported when a stage enters Error.
	ErrStageFault = errors.New("stage fault")
	// ErrNotReady is returned for a prompt outside the Ready phase.
	ErrNotReady = errors.New("pipeline not ready")
	// ErrReference is returned when the reference voice cannot be encoded.
	ErrReference = errors.New("reference encoding failed")
	// ErrAlreadyInitialized is returned by Initialize outside the Idle phase.
	ErrAlreadyInitialized = errors.New("pipeline already initialized")
	// ErrStopped finishes an utterance abandoned by Reset or Close.
	ErrStopped = errors.New("pipeline stopped")
)

// Loaders build the stage engines. Each runs on a background goroutine.
type Loaders struct {
	Phonemizer func(ctx context.Context) (phonemizer.Engine, error)
	Generator  func(ctx context.Context) (*generate.Engine, error)
	Decoder    func(ctx context.Context) (codec.Decoder, error)
}

// Options configures an Orchestrator.
type Options struct {
	Loaders   Loaders
	Reference ReferenceSource
	Params    generate.Params
	Language  string
	// ChunkSize is the number of streamed tokens per decode submission.
	ChunkSize int
	// Overlap is the number of lookback tokens repeated in each submission
	// after the first. Zero concatenates frames.
	Overlap int
	// HopLength is the number of PCM samples per speech code.
	HopLength int
	// Sink receives audio for Speak. Nil discards it.
	Sink     Sink
	Log      *slog.Logger
	Observer Observer
}

// Orchestrator drives the three stages through the utterance lifecycle.
type Orchestrator struct {
	opts     Options
	log      *slog.Logger
	observer Observer

	exec     *stage.Executor
	stopExec context.CancelFunc

	phon *phonemizer.Stage
	gen  *generate.Stage
	dec  *codec.Stage

	phase  *stage.Notifier[Phase]
	unsubs []func()
	closed atomic.Bool

	// Executor-owned.
	transcript string
	audioText  string
	refWait    func(phonemes string, err error)
	current    *Utterance
}

// New wires the stages and starts the executor. Call Initialize before
// prompting.
func New(opts Options) *Orchestrator {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	if opts.Sink == nil {
		opts.Sink = DiscardSink{}
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = stream.DefaultChunkSize
	}

	if opts.HopLength <= 0 {
		opts.HopLength = 480
	}

	opts.Overlap = max(0, min(opts.Overlap, opts.ChunkSize-1))

	log := opts.Log.With(slog.String("component", "pipeline"))
	exec := stage.NewExecutor(opts.Log)

	o := &Orchestrator{
		opts:     opts,
		log:      log,
		observer: opts.Observer,
		exec:     exec,
		phon:     phonemizer.NewStage(exec, opts.Language, opts.Log),
		gen:      generate.NewStage(exec, opts.Params, opts.Log),
		dec:      codec.NewStage(exec, opts.Log),
		phase:    stage.NewNotifier(PhaseIdle),
	}

	for _, m := range o.machines() {
		o.unsubs = append(o.unsubs, m.Subscribe(func(s stage.Status) {
			o.onStageStatus(m.Name(), m, s)
		}))
	}

	o.unsubs = append(o.unsubs,
		o.phon.OnPhonemes(o.onPhonemes),
		o.gen.OnToken(o.onToken),
		o.gen.OnGenerated(o.onGenerated),
		o.dec.OnFrame(o.onFrame),
	)

	ctx, cancel := context.WithCancel(context.Background())
	o.stopExec = cancel

	go exec.Run(ctx)

	return o
}

func (o *Orchestrator) machines() []*stage.Machine {
	return []*stage.Machine{o.phon.Machine(), o.gen.Machine(), o.dec.Machine()}
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase { return o.phase.Get() }

// Subscribe registers fn for every phase change. fn runs on the executor.
func (o *Orchestrator) Subscribe(fn func(Phase)) (unsubscribe func()) {
	return o.phase.Subscribe(fn)
}

// Await blocks until pred holds for the current phase or ctx is done.
func (o *Orchestrator) Await(ctx context.Context, pred func(Phase) bool) (Phase, error) {
	return o.phase.Await(ctx, pred)
}

// StageStatus returns the status of every stage keyed by name.
func (o *Orchestrator) StageStatus() map[string]stage.Status {
	out := make(map[string]stage.Status, 3)
	for _, m := range o.machines() {
		out[m.Name()] = m.Status()
	}

	return out
}

func (o *Orchestrator) setPhase(p Phase) {
	if o.phase.Set(p) {
		o.log.Debug("phase changed", slog.String("phase", p.String()))
		o.observer.PhaseChanged(p)
	}
}

func (o *Orchestrator) configured() error {
	var missing []string

	if o.opts.Loaders.Phonemizer == nil {
		missing = append(missing, "phonemizer loader")
	}

	if o.opts.Loaders.Generator == nil {
		missing = append(missing, "generator loader")
	}

	if o.opts.Loaders.Decoder == nil {
		missing = append(missing, "decoder loader")
	}

	if o.opts.Reference == nil {
		missing = append(missing, "reference source")
	}

	if len(missing) == 0 {
		return nil
	}

	o.log.Error("pipeline not configured", slog.String("missing", strings.Join(missing, ", ")))

	return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
}

// Initialize loads all three stages concurrently and encodes the reference
// voice. On failure the stages are reset and the phase returns to Idle.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.configured(); err != nil {
		return err
	}

	var startErr error

	err := o.exec.Do(ctx, func() {
		if p := o.phase.Get(); p != PhaseIdle {
			startErr = fmt.Errorf("%w: phase %s", ErrAlreadyInitialized, p)
			return
		}

		o.setPhase(PhaseInitializing)

		startErr = errors.Join(
			o.phon.Initialize(o.opts.Loaders.Phonemizer),
			o.gen.Initialize(o.opts.Loaders.Generator),
			o.dec.Initialize(o.opts.Loaders.Decoder),
		)
	})
	if err != nil {
		return err
	}

	if startErr != nil {
		if errors.Is(startErr, ErrAlreadyInitialized) {
			return startErr
		}

		return o.abortInit(ctx, fmt.Errorf("%w: %w", ErrStageLoad, startErr))
	}

	if err := o.awaitLoaded(ctx); err != nil {
		return o.abortInit(ctx, err)
	}

	if err := o.encodeReference(ctx); err != nil {
		return o.abortInit(ctx, err)
	}

	o.log.Info("pipeline ready")

	return nil
}

func (o *Orchestrator) awaitLoaded(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, m := range o.machines() {
		g.Go(func() error {
			_, err := m.Await(gctx, func(s stage.Status) bool { return s != stage.StatusLoading })
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	var errs []error

	for _, m := range o.machines() {
		if m.Status() != stage.StatusReady {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), m.Err()))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrStageLoad, errors.Join(errs...))
	}

	return nil
}

type phonemeResult struct {
	phonemes string
	err      error
}

func (o *Orchestrator) encodeReference(ctx context.Context) error {
	codes, err := o.opts.Reference.Codes(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReference, err)
	}

	transcript, err := o.opts.Reference.Transcript(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReference, err)
	}

	if strings.TrimSpace(transcript) == "" {
		return fmt.Errorf("%w: empty transcript", ErrReference)
	}

	result := make(chan phonemeResult, 1)

	err = o.exec.Do(ctx, func() {
		o.setPhase(PhasePhonemizingReference)

		o.refWait = func(p string, err error) { result <- phonemeResult{phonemes: p, err: err} }
		if err := o.phon.Phonemize(transcript); err != nil {
			o.refWait = nil
			result <- phonemeResult{err: err}
		}
	})
	if err != nil {
		return err
	}

	var res phonemeResult

	select {
	case res = <-result:
	case <-ctx.Done():
		return ctx.Err()
	}

	if res.err != nil {
		return fmt.Errorf("%w: %w", ErrReference, res.err)
	}

	if res.phonemes == "" {
		return fmt.Errorf("%w: transcript phonemized to nothing", ErrReference)
	}

	if _, err := o.phon.Machine().Await(ctx, func(s stage.Status) bool { return s != stage.StatusGenerating }); err != nil {
		return err
	}

	var doneErr error

	err = o.exec.Do(ctx, func() {
		if o.phase.Get() == PhaseError {
			doneErr = ErrStageFault
			return
		}

		o.transcript = res.phonemes
		o.audioText = codec.MarkerText(codes)
		o.setPhase(PhaseReady)
	})
	if err != nil {
		return err
	}

	if doneErr == nil {
		o.log.Debug("reference encoded", slog.Int("codes", len(codes)), slog.String("transcript", res.phonemes))
	}

	return doneErr
}

func (o *Orchestrator) abortInit(ctx context.Context, cause error) error {
	o.log.Error("initialize failed", slog.String("error", cause.Error()))

	if err := o.Reset(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, err)
	}

	return cause
}

// Prompt starts speaking text into sink and returns the utterance handle
// immediately. A nil sink uses the configured one.
func (o *Orchestrator) Prompt(ctx context.Context, input string, sink Sink) (*Utterance, error) {
	if strings.TrimSpace(input) == "" {
		return nil, text.ErrEmptyText
	}

	if sink == nil {
		sink = o.opts.Sink
	}

	var (
		u      *Utterance
		subErr error
	)

	err := o.exec.Do(ctx, func() {
		if p := o.phase.Get(); p != PhaseReady {
			subErr = fmt.Errorf("%w: phase %s", ErrNotReady, p)
			return
		}

		u = newUtterance(input, sink, o.opts.ChunkSize, o.opts.Overlap)

		if err := o.phon.Phonemize(input); err != nil {
			subErr = err
			u = nil

			return
		}

		o.current = u
		o.setPhase(PhasePhonemizingPrompt)
		o.log.Info("utterance started", slog.String("id", u.ID), slog.Int("chars", len(input)))
	})
	if err != nil {
		return nil, err
	}

	return u, subErr
}

// Speak speaks text into the configured sink and waits for completion.
func (o *Orchestrator) Speak(ctx context.Context, input string) (Report, error) {
	return o.SpeakTo(ctx, input, nil)
}

// SpeakTo speaks text into sink and waits for completion. Cancelling ctx
// stops the utterance; audio already dispatched is still delivered.
func (o *Orchestrator) SpeakTo(ctx context.Context, input string, sink Sink) (Report, error) {
	u, err := o.Prompt(ctx, input, sink)
	if err != nil {
		return Report{}, err
	}

	select {
	case <-u.done:
		return u.report, u.report.Err
	case <-ctx.Done():
	}

	o.exec.Post(func() { o.cancel(u) })

	select {
	case <-u.done:
		return u.report, errors.Join(ctx.Err(), u.report.Err)
	case <-o.exec.Done():
		return Report{ID: u.ID, Text: u.Text}, errors.Join(ctx.Err(), ErrStopped)
	}
}

// Stop cancels the running generation. It reports false when the generator
// is not generating.
func (o *Orchestrator) Stop(ctx context.Context) (bool, error) {
	var stopped bool

	err := o.exec.Do(ctx, func() {
		stopped = o.gen.Stop()
		if stopped && o.current != nil {
			o.current.stopped = true
		}
	})

	return stopped, err
}

// cancel ends u early whatever phase it is in.
func (o *Orchestrator) cancel(u *Utterance) {
	if o.current != u {
		return
	}

	// While phonemizing, onPhonemes sees the flag and finishes u. Once
	// generation is over the utterance is left to drain.
	if o.gen.Stop() || o.phase.Get() == PhasePhonemizingPrompt {
		u.stopped = true
	}
}

// Reset abandons the current utterance, releases all engines and returns to
// Idle. It also clears a stage fault.
func (o *Orchestrator) Reset(ctx context.Context) error {
	err := o.exec.Do(ctx, func() {
		o.abandon(ErrStopped)
	})
	if err != nil {
		return err
	}

	err = errors.Join(
		o.gen.Reset(ctx),
		o.dec.Reset(ctx),
		o.phon.Reset(ctx),
	)

	doErr := o.exec.Do(ctx, func() {
		o.transcript, o.audioText = "", ""
		o.setPhase(PhaseIdle)
	})

	return errors.Join(err, doErr)
}

// Close stops all work, releases the engines and stops the executor.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}

	_ = o.exec.Do(ctx, func() {
		o.abandon(ErrStopped)
	})

	err := errors.Join(
		o.gen.Close(ctx),
		o.dec.Close(ctx),
		o.phon.Close(ctx),
	)

	for _, unsub := range o.unsubs {
		unsub()
	}

	o.exec.Close()
	o.stopExec()

	return err
}

func (o *Orchestrator) abandon(cause error) {
	if w := o.refWait; w != nil {
		o.refWait = nil
		w("", cause)
	}

	if u := o.current; u != nil {
		o.finish(u, cause)
	}
}

func (o *Orchestrator) onStageStatus(name string, m *stage.Machine, s stage.Status) {
	o.observer.StageChanged(name, s)

	if s == stage.StatusError {
		o.fault(name, m.Err())
		return
	}

	o.checkDone()
}

// fault cascades a stage error to the whole pipeline.
func (o *Orchestrator) fault(name string, cause error) {
	if o.phase.Get() == PhaseError {
		return
	}

	err := fmt.Errorf("%w: %s: %v", ErrStageFault, name, cause)
	o.log.Error("stage fault", slog.String("stage", name), slog.String("error", fmt.Sprint(cause)))

	o.setPhase(PhaseError)

	o.phon.Cancel()
	o.gen.Cancel()
	o.dec.Cancel()

	o.abandon(err)
}

func (o *Orchestrator) onPhonemes(phonemes string) {
	if w := o.refWait; w != nil {
		o.refWait = nil
		w(phonemes, nil)

		return
	}

	u := o.current
	if u == nil || o.phase.Get() != PhasePhonemizingPrompt {
		o.log.Debug("dropping unsolicited phonemes")
		return
	}

	if u.stopped {
		o.finish(u, nil)
		return
	}

	if phonemes == "" {
		o.finish(u, fmt.Errorf("%w: prompt phonemized to nothing", ErrStageFault))
		return
	}

	req := generate.CloneRequest{Prompt: phonemes, Transcript: o.transcript, AudioText: o.audioText}
	if err := o.gen.PromptWithClone(req); err != nil {
		o.finish(u, err)
		return
	}

	o.setPhase(PhaseGenerating)
}

func (o *Orchestrator) onToken(piece string) {
	u := o.current
	if u == nil || u.genDone {
		return
	}

	if chunk, ok := u.asm.Push(piece); ok {
		o.submit(u, chunk)
	}
}

func (o *Orchestrator) submit(u *Utterance, chunk stream.Chunk) {
	idx, err := o.dec.Decode(chunk.Text)
	if err != nil {
		// A decoder that cannot accept work while the pipeline is live is a
		// stage fault.
		o.dec.Machine().Fail(fmt.Errorf("decode submission: %w", err))
		return
	}

	u.overlaps[idx] = chunk.Overlap * o.opts.HopLength
	o.observer.DecodeSubmitted(idx, chunk.Tokens)
}

func (o *Orchestrator) onGenerated(res generate.Result) {
	u := o.current
	if u == nil || u.genDone {
		return
	}

	u.genDone = true
	u.tokens = res.Tokens

	switch {
	case res.Err != nil:
		u.asm.Reset()
		o.gen.Machine().Fail(res.Err)

		return
	case res.Cancelled:
		u.stopped = true
		u.asm.Reset()
	default:
		if chunk, ok := u.asm.End(); ok {
			o.submit(u, chunk)
		}
	}

	if o.phase.Get() == PhaseGenerating {
		o.setPhase(PhaseDecoding)
	}

	o.checkDone()
}

func (o *Orchestrator) onFrame(f codec.Frame) {
	u := o.current
	if u == nil {
		o.log.Debug("dropping frame without utterance", slog.Uint64("index", f.Index))
		return
	}

	overlap, ok := u.overlaps[f.Index]
	if !ok {
		o.log.Debug("dropping frame of another utterance", slog.Uint64("index", f.Index))
		return
	}

	delete(u.overlaps, f.Index)

	u.frames++
	o.observer.FrameDelivered(f.Index, len(f.Samples))

	samples := f.Samples
	if o.opts.Overlap > 0 {
		if len(f.Samples) == 0 {
			// The next frame's lookback belongs to the missing window, so it
			// must not blend into the held tail. After the flush nothing is
			// held and Push appends the next frame without a crossfade.
			samples = u.recon.Flush()
		} else {
			samples = u.recon.Push(f.Samples, overlap)
		}
	}

	o.write(u, samples)
}

func (o *Orchestrator) write(u *Utterance, samples []float32) {
	if len(samples) == 0 || u.sinkErr != nil {
		return
	}

	if err := u.sink.WriteSamples(samples); err != nil {
		o.log.Warn("sink rejected samples", slog.String("id", u.ID), slog.String("error", err.Error()))
		u.sinkErr = err
		o.gen.Stop()

		return
	}

	u.samples += len(samples)
}

// checkDone declares playback once generation has finished, the generator
// and decoder are idle and every dispatched frame has been delivered.
func (o *Orchestrator) checkDone() {
	u := o.current
	if u == nil || !u.genDone || u.draining {
		return
	}

	if o.phon.Machine().Status() != stage.StatusReady ||
		o.gen.Machine().Status() != stage.StatusReady ||
		o.dec.Machine().Status() != stage.StatusReady ||
		o.dec.Pending() != 0 || len(u.overlaps) != 0 {
		return
	}

	if o.opts.Overlap > 0 {
		o.write(u, u.recon.Flush())
	}

	u.draining = true
	o.setPhase(PhasePlaying)

	sink := u.sink

	go func() {
		err := sink.Drain(context.Background())
		o.exec.Post(func() { o.finish(u, err) })
	}()
}

func (o *Orchestrator) finish(u *Utterance, err error) {
	if o.current != u {
		return
	}

	o.current = nil

	if err == nil {
		err = u.sinkErr
	}

	u.complete(err)

	if o.phase.Get() != PhaseError && !o.closed.Load() {
		o.setPhase(PhaseReady)
	}

	o.log.Info("utterance finished",
		slog.String("id", u.ID),
		slog.String("outcome", string(u.report.Outcome)),
		slog.Int("samples", u.report.Samples),
		slog.Duration("duration", u.report.Duration),
	)

	o.observer.UtteranceFinished(u.report)
	close(u.done)
}
