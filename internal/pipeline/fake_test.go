package pipeline

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/go-neutts/internal/codec"
	"github.com/example/go-neutts/internal/generate"
	"github.com/example/go-neutts/internal/phonemizer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

// slashPhonemizer wraps its input in slashes.
type slashPhonemizer struct {
	mu     sync.Mutex
	closed bool
}

func (p *slashPhonemizer) Phonemize(_ context.Context, text, _ string) (string, error) {
	return "/" + text + "/", nil
}

func (p *slashPhonemizer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	return nil
}

func (p *slashPhonemizer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

const (
	idEnd int64 = iota + 1
	idSpeech1
	idSpeech2
	idSpeech3
)

// markerVocab knows the end marker and three speech markers; every other
// rune encodes to id 0. It records the last encoded text.
type markerVocab struct {
	mu     sync.Mutex
	pieces []string
	last   string
}

func newMarkerVocab() *markerVocab {
	return &markerVocab{pieces: []string{
		"<unk>",
		generate.SpeechGenerationEnd,
		"<|speech_1|>",
		"<|speech_2|>",
		"<|speech_3|>",
	}}
}

func (v *markerVocab) Encode(text string) ([]int64, error) {
	v.mu.Lock()
	v.last = text
	v.mu.Unlock()

	var ids []int64

	for text != "" {
		id, n := int64(0), len(string([]rune(text)[0]))

		for i, p := range v.pieces[1:] {
			if strings.HasPrefix(text, p) {
				id, n = int64(i+1), len(p)
				break
			}
		}

		ids = append(ids, id)
		text = text[n:]
	}

	return ids, nil
}

func (v *markerVocab) Piece(id int64) (string, bool) {
	if id < 0 || int(id) >= len(v.pieces) {
		return "", false
	}

	return v.pieces[id], true
}

func (v *markerVocab) ID(piece string) (int64, bool) {
	for i, p := range v.pieces {
		if p == piece {
			return int64(i), true
		}
	}

	return 0, false
}

func (v *markerVocab) lastPrompt() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.last
}

// scriptLM returns one-hot logits for script entries in turn, then the end
// marker. With block set every call waits for ctx; with fail set every call
// errors.
type scriptLM struct {
	mu      sync.Mutex
	script  []int64
	next    int
	block   bool
	fail    bool
	started chan struct{}
	once    sync.Once
}

func newScriptLM(script ...int64) *scriptLM {
	return &scriptLM{script: script, started: make(chan struct{})}
}

func (m *scriptLM) Logits(ctx context.Context, _ []int64) ([]float32, error) {
	m.once.Do(func() { close(m.started) })

	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if m.fail {
		return nil, errors.New("model fault")
	}

	m.mu.Lock()
	id := idEnd
	if m.next < len(m.script) {
		id = m.script[m.next]
		m.next++
	}
	m.mu.Unlock()

	logits := make([]float32, 5)
	logits[id] = 10

	return logits, nil
}

func (m *scriptLM) Close() error { return nil }

// echoDecoder returns one sample per code equal to the code and records
// every request. requests sorts them by first code since decodes run
// concurrently. Requests matching fail return an error.
type echoDecoder struct {
	mu    sync.Mutex
	calls [][]int32
	fail  func(codes []int32) bool
}

func (d *echoDecoder) Decode(_ context.Context, codes []int32) ([]float32, error) {
	d.mu.Lock()
	d.calls = append(d.calls, append([]int32(nil), codes...))
	d.mu.Unlock()

	if d.fail != nil && d.fail(codes) {
		return nil, errors.New("decoder fault")
	}

	out := make([]float32, len(codes))
	for i, c := range codes {
		out[i] = float32(c)
	}

	return out, nil
}

func (d *echoDecoder) Close() error { return nil }

func (d *echoDecoder) requests() [][]int32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := append([][]int32(nil), d.calls...)
	slices.SortFunc(out, func(a, b []int32) int { return cmp.Compare(a[0], b[0]) })

	return out
}

// gateSink buffers samples and holds Drain until release is closed.
type gateSink struct {
	mu      sync.Mutex
	samples []float32
	release chan struct{}
	fail    error
}

func (s *gateSink) WriteSamples(samples []float32) error {
	if s.fail != nil {
		return s.fail
	}

	s.mu.Lock()
	s.samples = append(s.samples, samples...)
	s.mu.Unlock()

	return nil
}

func (s *gateSink) Drain(ctx context.Context) error {
	if s.release == nil {
		return nil
	}

	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *gateSink) written() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]float32(nil), s.samples...)
}

// recordingObserver counts events.
type recordingObserver struct {
	NopObserver

	mu      sync.Mutex
	phases  []Phase
	submits int
	frames  int
	reports []Report
}

func (r *recordingObserver) PhaseChanged(p Phase) {
	r.mu.Lock()
	r.phases = append(r.phases, p)
	r.mu.Unlock()
}

func (r *recordingObserver) DecodeSubmitted(uint64, int) {
	r.mu.Lock()
	r.submits++
	r.mu.Unlock()
}

func (r *recordingObserver) FrameDelivered(uint64, int) {
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
}

func (r *recordingObserver) UtteranceFinished(rep Report) {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
}

type harness struct {
	o     *Orchestrator
	phon  *slashPhonemizer
	vocab *markerVocab
	dec   *echoDecoder
	obs   *recordingObserver

	mu   sync.Mutex
	lm   *scriptLM
	mkLM func() *scriptLM
}

func (h *harness) model() *scriptLM {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lm
}

// newHarness builds an orchestrator over fake engines. Every generator load
// creates a fresh model from mkLM.
func newHarness(t *testing.T, mkLM func() *scriptLM, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		phon:  &slashPhonemizer{},
		vocab: newMarkerVocab(),
		dec:   &echoDecoder{},
		obs:   &recordingObserver{},
		mkLM:  mkLM,
	}

	params := generate.DefaultParams()
	params.Temperature = 0
	params.MaxTokens = 32

	opts := Options{
		Loaders: Loaders{
			Phonemizer: func(context.Context) (phonemizer.Engine, error) { return h.phon, nil },
			Generator: func(context.Context) (*generate.Engine, error) {
				lm := h.mkLM()

				h.mu.Lock()
				h.lm = lm
				h.mu.Unlock()

				return &generate.Engine{Model: lm, Vocab: h.vocab, Stop: generate.StopOnTokens(idEnd)}, nil
			},
			Decoder: func(context.Context) (codec.Decoder, error) { return h.dec, nil },
		},
		Reference: StaticReference{CodeList: []int{3, 7, 9}, Text: "hello world"},
		Params:    params,
		ChunkSize: 2,
		HopLength: 1,
		Log:       quietLogger(),
		Observer:  h.obs,
	}

	if mutate != nil {
		mutate(&opts)
	}

	h.o = New(opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = h.o.Close(ctx)
	})

	return h
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()

	if err := h.o.Initialize(testContext(t)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func scripted(script ...int64) func() *scriptLM {
	return func() *scriptLM { return newScriptLM(script...) }
}

func blocking() func() *scriptLM {
	return func() *scriptLM {
		lm := newScriptLM()
		lm.block = true

		return lm
	}
}
