package generate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/go-neutts/internal/onnx"
	"github.com/example/go-neutts/internal/tokenizer"
)

// ONNXModel runs a causal LM graph with input "input_ids" [1,T] int64 and
// output "logits" [1,T,V]. The full sequence is re-run every step.
type ONNXModel struct {
	runner onnx.GraphRunner
}

var _ LanguageModel = (*ONNXModel)(nil)

// NewONNXModel wraps runner.
func NewONNXModel(runner onnx.GraphRunner) *ONNXModel {
	return &ONNXModel{runner: runner}
}

// Logits returns the logits of the last position.
func (m *ONNXModel) Logits(ctx context.Context, tokens []int64) ([]float32, error) {
	input, err := onnx.NewTensor(tokens, []int64{1, int64(len(tokens))})
	if err != nil {
		return nil, err
	}

	outputs, err := m.runner.Run(ctx, map[string]*onnx.Tensor{"input_ids": input})
	if err != nil {
		return nil, err
	}

	logits, ok := outputs["logits"]
	if !ok {
		return nil, fmt.Errorf("%s: missing logits output", m.runner.Name())
	}

	data, err := onnx.ExtractFloat32(logits)
	if err != nil {
		return nil, err
	}

	shape := logits.Shape()
	if len(shape) != 3 || shape[1] < 1 || shape[2] < 1 {
		return nil, fmt.Errorf("%s: unexpected logits shape %v", m.runner.Name(), shape)
	}

	vocab := int(shape[2])
	last := len(data) - vocab

	return data[last:], nil
}

// Close releases the session.
func (m *ONNXModel) Close() error {
	m.runner.Close()
	return nil
}

// Vocabulary encodes prompts and maps sampled ids back to text.
type Vocabulary interface {
	Encode(text string) ([]int64, error)
	Piece(id int64) (string, bool)
	ID(piece string) (int64, bool)
}

// Engine bundles what the generator stage runs.
type Engine struct {
	Model LanguageModel
	Vocab Vocabulary
	Stop  StopFunc
}

// Close releases the model.
func (e *Engine) Close() error {
	if e.Model == nil {
		return nil
	}

	return e.Model.Close()
}

// endOfGeneration lists model-intrinsic end markers looked up in the vocab.
var endOfGeneration = []string{"</s>", "<|endoftext|>", "<|im_end|>", "<|eot_id|>"}

// SpeechEndStop stops on any end-of-generation piece present in vocab and on
// the first token of SpeechGenerationEnd.
func SpeechEndStop(vocab Vocabulary) (StopFunc, error) {
	var ids []int64

	for _, piece := range endOfGeneration {
		if id, ok := vocab.ID(piece); ok {
			ids = append(ids, id)
		}
	}

	end, err := vocab.Encode(SpeechGenerationEnd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", SpeechGenerationEnd, err)
	}

	if len(end) > 0 {
		ids = append(ids, end[0])
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("vocabulary has no end-of-generation token")
	}

	return StopOnTokens(ids...), nil
}

// LoadOptions names the files an Engine is built from.
type LoadOptions struct {
	ModelPath     string
	TokenizerPath string
	Runtime       onnx.RunnerConfig
	Log           *slog.Logger
}

// Load opens the tokenizer and the LM session.
func Load(_ context.Context, opts LoadOptions) (*Engine, error) {
	tok, err := tokenizer.NewSentencePieceTokenizer(opts.TokenizerPath)
	if err != nil {
		return nil, err
	}

	stop, err := SpeechEndStop(tok)
	if err != nil {
		return nil, err
	}

	runner, err := onnx.NewRunner(onnx.Session{Name: "lm", Path: opts.ModelPath}, opts.Runtime)
	if err != nil {
		return nil, err
	}

	if opts.Log != nil {
		opts.Log.Info("language model loaded",
			slog.String("component", "generator"),
			slog.String("model", opts.ModelPath),
			slog.Int("vocab", tok.Size()),
		)
	}

	return &Engine{Model: NewONNXModel(runner), Vocab: tok, Stop: stop}, nil
}
