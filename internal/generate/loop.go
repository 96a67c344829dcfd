package generate

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyPrompt is returned when the prompt encodes to no tokens.
var ErrEmptyPrompt = errors.New("prompt encodes to no tokens")

// LanguageModel returns next-token logits for a token sequence.
type LanguageModel interface {
	Logits(ctx context.Context, tokens []int64) ([]float32, error)
	Close() error
}

// StopFunc reports whether token ends generation. generated counts the
// tokens produced before it.
type StopFunc func(token int64, generated int) bool

// StopOnTokens stops on any of ids.
func StopOnTokens(ids ...int64) StopFunc {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return func(token int64, _ int) bool {
		_, ok := set[token]
		return ok
	}
}

// Loop runs autoregressive sampling from prompt until stop fires,
// maxTokens are produced or ctx ends. emit is called with every produced
// token; the stop token is neither emitted nor returned. On cancellation the
// tokens produced so far are returned with ctx's error.
func Loop(
	ctx context.Context,
	model LanguageModel,
	sampler *Sampler,
	prompt []int64,
	maxTokens int,
	stop StopFunc,
	emit func(token int64),
) ([]int64, error) {
	if len(prompt) == 0 {
		return nil, ErrEmptyPrompt
	}

	seq := append(make([]int64, 0, len(prompt)+maxTokens), prompt...)

	var out []int64

	for maxTokens <= 0 || len(out) < maxTokens {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		logits, err := model.Logits(ctx, seq)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}

			return out, fmt.Errorf("step %d: %w", len(out), err)
		}

		token := sampler.Sample(logits, seq)
		if token < 0 {
			return out, fmt.Errorf("step %d: model returned no logits", len(out))
		}

		if stop != nil && stop(token, len(out)) {
			return out, nil
		}

		seq = append(seq, token)
		out = append(out, token)

		if emit != nil {
			emit(token)
		}
	}

	return out, nil
}
