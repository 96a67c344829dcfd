package phonemizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/go-neutts/internal/onnx"
	"github.com/example/go-neutts/internal/text"
)

// Engine converts text to a phoneme string.
type Engine interface {
	Phonemize(ctx context.Context, text, lang string) (string, error)
	Close() error
}

// Model is the ONNX-backed Engine.
type Model struct {
	runner  onnx.GraphRunner
	symbols *Symbols
	dict    *Dictionary
	log     *slog.Logger
}

var _ Engine = (*Model)(nil)

// NewModel wires a graph runner to its symbol table and dictionary.
// dict may be nil.
func NewModel(runner onnx.GraphRunner, symbols *Symbols, dict *Dictionary, log *slog.Logger) *Model {
	if log == nil {
		log = slog.Default()
	}

	if dict == nil {
		dict = NewDictionary(nil)
	}

	return &Model{
		runner:  runner,
		symbols: symbols,
		dict:    dict,
		log:     log.With(slog.String("component", "phonemizer")),
	}
}

// LoadOptions names the files a Model is built from.
type LoadOptions struct {
	ModelPath  string
	ConfigPath string
	DictPath   string
	Runtime    onnx.RunnerConfig
	Log        *slog.Logger
}

// Load reads the symbol table and dictionary, opens the ONNX session and
// runs one warm-up inference.
func Load(ctx context.Context, opts LoadOptions) (*Model, error) {
	symbols, err := LoadSymbols(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	dict, err := LoadDictionary(opts.DictPath, opts.Log)
	if err != nil {
		return nil, err
	}

	runner, err := onnx.NewRunner(onnx.Session{Name: "phonemizer", Path: opts.ModelPath}, opts.Runtime)
	if err != nil {
		return nil, err
	}

	m := NewModel(runner, symbols, dict, opts.Log)

	if _, err := m.infer(ctx, "warmup", DefaultLanguage); err != nil {
		runner.Close()
		return nil, fmt.Errorf("phonemizer warm-up: %w", err)
	}

	return m, nil
}

// Dictionary returns the override table so callers can watch it.
func (m *Model) Dictionary() *Dictionary { return m.dict }

// Phonemize segments s and phonemizes each word. Separators pass through;
// dictionary hits skip inference; a word whose inference fails is kept as
// written. ctx is checked before every word.
func (m *Model) Phonemize(ctx context.Context, s, lang string) (string, error) {
	if lang == "" {
		lang = DefaultLanguage
	}

	if !m.symbols.Supports(lang) {
		return "", fmt.Errorf("phonemizer: unsupported language %q", lang)
	}

	s, err := text.Normalize(s)
	if err != nil {
		return "", err
	}

	var out strings.Builder

	for _, part := range text.Segment(s) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if part.Sep {
			out.WriteString(part.Text)
			continue
		}

		if ph, ok := m.dict.Lookup(lang, part.Text); ok {
			out.WriteString(ph)
			continue
		}

		ph, err := m.infer(ctx, part.Text, lang)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			m.log.Error("word inference failed", slog.String("word", part.Text), slog.String("error", err.Error()))
			out.WriteString(part.Text)

			continue
		}

		out.WriteString(ph)
	}

	return out.String(), nil
}

func (m *Model) infer(ctx context.Context, word, lang string) (string, error) {
	ids := m.symbols.Encode(word, lang)

	input, err := onnx.NewTensor(ids, []int64{1, int64(len(ids))})
	if err != nil {
		return "", err
	}

	outputs, err := m.runner.Run(ctx, map[string]*onnx.Tensor{"text": input})
	if err != nil {
		return "", err
	}

	logits, ok := outputs["logits"]
	if !ok {
		for _, t := range outputs {
			logits = t
			break
		}
	}

	best, err := argmaxDedup(logits)
	if err != nil {
		return "", err
	}

	return m.symbols.Decode(best), nil
}

// argmaxDedup takes the best class per position of a [1,T,V] tensor and
// collapses consecutive repeats.
func argmaxDedup(logits *onnx.Tensor) ([]int64, error) {
	data, err := onnx.ExtractFloat32(logits)
	if err != nil {
		return nil, fmt.Errorf("phonemizer logits: %w", err)
	}

	shape := logits.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[2] <= 0 {
		return nil, fmt.Errorf("phonemizer logits: unexpected shape %v", shape)
	}

	steps, vocab := int(shape[1]), int(shape[2])
	out := make([]int64, 0, steps)

	for t := range steps {
		row := data[t*vocab : (t+1)*vocab]

		best := 0
		for v := 1; v < vocab; v++ {
			if row[v] > row[best] {
				best = v
			}
		}

		if len(out) == 0 || out[len(out)-1] != int64(best) {
			out = append(out, int64(best))
		}
	}

	return out, nil
}

// Close releases the ONNX session.
func (m *Model) Close() error {
	m.runner.Close()
	return nil
}
