package generate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVocab tokenizes on known pieces, longest first, and maps every other
// rune to id 0.
type fakeVocab struct {
	pieces []string
}

func newFakeVocab(pieces ...string) *fakeVocab {
	return &fakeVocab{pieces: append([]string{"<unk>"}, pieces...)}
}

func (v *fakeVocab) Encode(text string) ([]int64, error) {
	var ids []int64

	for text != "" {
		best, bestLen := int64(0), 0

		for i, p := range v.pieces[1:] {
			if strings.HasPrefix(text, p) && len(p) > bestLen {
				best, bestLen = int64(i+1), len(p)
			}
		}

		if bestLen == 0 {
			bestLen = len(string([]rune(text)[0]))
		}

		ids = append(ids, best)
		text = text[bestLen:]
	}

	return ids, nil
}

func (v *fakeVocab) Piece(id int64) (string, bool) {
	if id < 0 || int(id) >= len(v.pieces) {
		return "", false
	}

	return v.pieces[id], true
}

func (v *fakeVocab) ID(piece string) (int64, bool) {
	for i, p := range v.pieces {
		if p == piece {
			return int64(i), true
		}
	}

	return 0, false
}

// scriptedModel emits script[i] at generation step i, then the last entry
// forever. block, when set, makes every call wait for ctx.
type scriptedModel struct {
	vocab  int
	prompt int
	script []int64
	block  bool
	failAt int

	mu     sync.Mutex
	steps  int
	closed bool
}

func (m *scriptedModel) Logits(ctx context.Context, tokens []int64) ([]float32, error) {
	m.mu.Lock()
	if m.prompt == 0 {
		m.prompt = len(tokens)
	}
	step := len(tokens) - m.prompt
	m.steps++
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if m.failAt > 0 && step+1 == m.failAt {
		return nil, errors.New("model fault")
	}

	next := m.script[min(step, len(m.script)-1)]
	logits := make([]float32, m.vocab)
	logits[next] = 10

	return logits, nil
}

func (m *scriptedModel) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	return nil
}

func greedy() Params {
	p := DefaultParams()
	p.Temperature = 0
	p.MaxTokens = 32

	return p
}
