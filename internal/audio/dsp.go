package audio

import "math"

// Hook is a post-processing step applied to a finished utterance.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks over samples in order.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// PostProcess selects the optional clean-up applied to a whole utterance.
type PostProcess struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
}

// Hooks returns the selected steps for audio at sampleRate, always in the
// order normalize, DC block, fade in, fade out.
func (p PostProcess) Hooks(sampleRate int) []Hook {
	var hooks []Hook

	if p.Normalize {
		hooks = append(hooks, PeakNormalize)
	}

	if p.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return DCBlock(s, sampleRate) })
	}

	if p.FadeInMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return FadeIn(s, sampleRate, p.FadeInMS) })
	}

	if p.FadeOutMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return FadeOut(s, sampleRate, p.FadeOutMS) })
	}

	return hooks
}

// PeakNormalize scales samples so the peak amplitude reaches 1.0. Silence is
// returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}

	out := make([]float32, len(samples))
	if peak == 0 {
		copy(out, samples)
		return out
	}

	gain := 1.0 / peak
	for i, s := range samples {
		out[i] = float32(float64(s) * gain)
	}

	return out
}

// dcBlockCutoff is the corner frequency of the DC blocking high-pass in Hz.
const dcBlockCutoff = 20.0

// DCBlock removes DC offset with a one-pole high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	out := make([]float32, len(samples))
	if sampleRate < 1 {
		copy(out, samples)
		return out
	}

	r := 1 - 2*math.Pi*dcBlockCutoff/float64(sampleRate)

	var prevIn, prevOut float64
	for i, s := range samples {
		x := float64(s)
		y := x - prevIn + r*prevOut
		out[i] = float32(y)
		prevIn, prevOut = x, y
	}

	return out
}

// FadeIn ramps the first ms milliseconds linearly up from zero.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	out := append([]float32(nil), samples...)

	n := min(fadeLength(sampleRate, ms), len(out))
	for i := range n {
		out[i] *= float32(i) / float32(n)
	}

	return out
}

// FadeOut ramps the last ms milliseconds linearly down to zero.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	out := append([]float32(nil), samples...)

	n := min(fadeLength(sampleRate, ms), len(out))
	start := len(out) - n
	for i := range n {
		out[start+i] *= float32(n-1-i) / float32(n)
	}

	return out
}

func fadeLength(sampleRate int, ms float64) int {
	if sampleRate < 1 || ms <= 0 {
		return 0
	}

	return int(ms / 1000.0 * float64(sampleRate))
}
