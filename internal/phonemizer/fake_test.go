package phonemizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/example/go-neutts/internal/onnx"
)

const testSymbolsJSON = `{
  "text_symbols": {"<en_us>": 0, "<end>": 1, "a": 2, "b": 3, "c": 4},
  "phoneme_symbols": {"0": "<en_us>", "1": "<end>", "2": "ɑ", "3": "b", "4": "k", "5": "_"},
  "char_repeats": 2,
  "languages": ["en_us"]
}`

const testVocab = 6

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoRunner returns one-hot logits selecting each input id, so decoding
// reproduces the phoneme symbols of the input characters.
type echoRunner struct {
	mu     sync.Mutex
	calls  int
	fail   map[int]bool
	closed bool
}

func (r *echoRunner) Run(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()

	if r.fail[call] {
		return nil, errors.New("inference failed")
	}

	ids, err := onnx.ExtractInt64(inputs["text"])
	if err != nil {
		return nil, err
	}

	logits := make([]float32, len(ids)*testVocab)
	for t, id := range ids {
		logits[t*testVocab+int(id)] = 1
	}

	out, err := onnx.NewTensor(logits, []int64{1, int64(len(ids)), testVocab})
	if err != nil {
		return nil, err
	}

	return map[string]*onnx.Tensor{"logits": out}, nil
}

func (r *echoRunner) Name() string { return "echo" }

func (r *echoRunner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *echoRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}
