// Package generate drives the speech-token language model: it builds the
// clone-conditioned prompt, runs one autoregressive loop parameterised by a
// stop predicate, and streams every sampled token's text.
package generate

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Params configures sampling. Zero values disable the corresponding filter;
// Temperature <= 0 selects greedy decoding.
type Params struct {
	Temperature   float64
	TopK          int
	TopP          float64
	MinP          float64
	RepeatPenalty float64
	RepeatLastN   int
	MaxTokens     int
	Seed          uint64
}

// DefaultParams mirrors the config defaults.
func DefaultParams() Params {
	return Params{
		Temperature:   1.0,
		TopK:          50,
		TopP:          0.95,
		MinP:          0.05,
		RepeatPenalty: 1.0,
		RepeatLastN:   64,
		MaxTokens:     2048,
	}
}

// Sampler picks the next token from a logit vector. It is not safe for
// concurrent use.
type Sampler struct {
	params Params
	rng    *rand.Rand
}

// NewSampler seeds a sampler. Seed 0 draws a random seed.
func NewSampler(p Params) *Sampler {
	seed := p.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Sampler{params: p, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type candidate struct {
	id    int64
	logit float64
	prob  float64
}

// Sample applies, in order, the repeat penalty over the last RepeatLastN
// tokens of history, top-k, top-p, min-p and temperature, then draws.
func (s *Sampler) Sample(logits []float32, history []int64) int64 {
	if len(logits) == 0 {
		return -1
	}

	cands := make([]candidate, len(logits))
	for i, l := range logits {
		cands[i] = candidate{id: int64(i), logit: float64(l)}
	}

	s.penalize(cands, history)

	slices.SortStableFunc(cands, func(a, b candidate) int {
		switch {
		case a.logit > b.logit:
			return -1
		case a.logit < b.logit:
			return 1
		default:
			return 0
		}
	})

	if s.params.Temperature <= 0 {
		return cands[0].id
	}

	if k := s.params.TopK; k > 0 && k < len(cands) {
		cands = cands[:k]
	}

	if p := s.params.TopP; p > 0 && p < 1 {
		softmax(cands, 1)

		cum := 0.0
		keep := len(cands)

		for i, c := range cands {
			cum += c.prob
			if cum >= p {
				keep = i + 1
				break
			}
		}

		cands = cands[:keep]
	}

	if mp := s.params.MinP; mp > 0 && mp < 1 {
		floor := cands[0].logit + math.Log(mp)

		keep := 1
		for keep < len(cands) && cands[keep].logit >= floor {
			keep++
		}

		cands = cands[:keep]
	}

	softmax(cands, s.params.Temperature)

	r := s.rng.Float64()
	for _, c := range cands {
		r -= c.prob
		if r < 0 {
			return c.id
		}
	}

	return cands[len(cands)-1].id
}

// penalize divides positive and multiplies negative logits of recently seen
// tokens by RepeatPenalty.
func (s *Sampler) penalize(cands []candidate, history []int64) {
	penalty := s.params.RepeatPenalty
	if penalty <= 0 || penalty == 1 || len(history) == 0 {
		return
	}

	if n := s.params.RepeatLastN; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	seen := make(map[int64]struct{}, len(history))
	for _, id := range history {
		seen[id] = struct{}{}
	}

	for i := range cands {
		if _, ok := seen[cands[i].id]; !ok {
			continue
		}

		if cands[i].logit > 0 {
			cands[i].logit /= penalty
		} else {
			cands[i].logit *= penalty
		}
	}
}

func softmax(cands []candidate, temperature float64) {
	maxLogit := cands[0].logit
	for _, c := range cands[1:] {
		maxLogit = max(maxLogit, c.logit)
	}

	sum := 0.0
	for i := range cands {
		cands[i].prob = math.Exp((cands[i].logit - maxLogit) / temperature)
		sum += cands[i].prob
	}

	for i := range cands {
		cands[i].prob /= sum
	}
}
