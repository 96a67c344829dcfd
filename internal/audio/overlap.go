package audio

import "math"

// frameWeight is the triangular crossfade weight for 0-based sample position
// i in a frame of length n. It peaks at the frame centre and stays positive
// at both edges.
func frameWeight(i, n int) float32 {
	t := float64(i+1) / float64(n+1)

	return float32(0.5 - math.Abs(t-0.5))
}

// OverlapAdd places frame i at sample offset stride*i, weights every sample
// with a triangular window and normalises by the accumulated weight. Positions
// covered by a single frame reproduce that frame exactly; positions covered by
// several frames become their weighted average.
func OverlapAdd(frames [][]float32, stride int) []float32 {
	if len(frames) == 0 {
		return nil
	}

	if stride < 0 {
		stride = 0
	}

	total := 0
	for i, f := range frames {
		total = max(total, stride*i+len(f))
	}

	out := make([]float32, total)
	weights := make([]float32, total)

	for i, f := range frames {
		offset := stride * i
		for j, s := range f {
			w := frameWeight(j, len(f))
			out[offset+j] += w * s
			weights[offset+j] += w
		}
	}

	for i, w := range weights {
		if w != 0 {
			out[i] /= w
		}
	}

	return out
}

// Reconstructor is the streaming form of OverlapAdd. Frames arrive one at a
// time with the number of leading samples that overlap the previous frame's
// tail; samples are released as soon as no later frame can reach them.
//
// With overlap 0 every frame passes through unchanged, which is plain
// concatenation.
type Reconstructor struct {
	acc     []float32
	weights []float32
}

// Push adds frame, overlapping its first overlap samples with the held tail,
// and returns the samples that are now final. overlap is clamped to the held
// tail and to the frame length.
func (r *Reconstructor) Push(frame []float32, overlap int) []float32 {
	if len(frame) == 0 {
		return nil
	}

	overlap = max(0, min(overlap, len(r.acc), len(frame)))

	// Anything before the overlap region is final.
	keep := len(r.acc) - overlap
	out := r.normalised(0, keep)

	acc := make([]float32, len(frame))
	weights := make([]float32, len(frame))
	copy(acc, r.acc[keep:])
	copy(weights, r.weights[keep:])

	for j, s := range frame {
		w := frameWeight(j, len(frame))
		acc[j] += w * s
		weights[j] += w
	}

	r.acc, r.weights = acc, weights

	return out
}

// Flush releases every held sample and resets the reconstructor.
func (r *Reconstructor) Flush() []float32 {
	out := r.normalised(0, len(r.acc))
	r.Reset()

	return out
}

// Held returns the number of samples waiting for a possible overlap.
func (r *Reconstructor) Held() int { return len(r.acc) }

// Reset discards held samples.
func (r *Reconstructor) Reset() {
	r.acc = nil
	r.weights = nil
}

func (r *Reconstructor) normalised(from, to int) []float32 {
	if to <= from {
		return nil
	}

	out := make([]float32, to-from)
	for i := range out {
		if w := r.weights[from+i]; w != 0 {
			out[i] = r.acc[from+i] / w
		}
	}

	return out
}
