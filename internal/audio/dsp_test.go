package audio

import (
	"math"
	"slices"
	"testing"
)

func maxAbs(s []float32) float64 {
	var m float64
	for _, v := range s {
		m = math.Max(m, math.Abs(float64(v)))
	}

	return m
}

func mean(s []float32) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v)
	}

	return sum / float64(len(s))
}

func TestPeakNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want []float32
	}{
		{"quiet", []float32{0.25, -0.125, 0}, []float32{1, -0.5, 0}},
		{"negative peak", []float32{-0.8, 0.4}, []float32{-1, 0.5}},
		{"silence", []float32{0, 0}, []float32{0, 0}},
		{"empty", nil, []float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := slices.Clone(tt.in)

			got := PeakNormalize(in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}

			for i := range tt.want {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}

			if !slices.Equal(in, tt.in) {
				t.Error("input was modified")
			}
		})
	}
}

func TestDCBlock_RemovesOffsetKeepsTone(t *testing.T) {
	n := SampleRate / 2
	in := make([]float32, n)

	for i := range in {
		in[i] = 0.3 + float32(0.2*math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}

	out := DCBlock(in, SampleRate)

	// Judge the second half, after the filter has settled.
	tail := out[n/2:]
	if m := mean(tail); math.Abs(m) > 0.01 {
		t.Errorf("residual DC = %f", m)
	}

	if p := maxAbs(tail); p < 0.18 || p > 0.22 {
		t.Errorf("tone peak = %f, want about 0.2", p)
	}

	if got := DCBlock(in[:3], 0); !slices.Equal(got, in[:3]) {
		t.Error("invalid sample rate should pass audio through")
	}
}

func TestFades(t *testing.T) {
	ones := func(n int) []float32 {
		s := make([]float32, n)
		for i := range s {
			s[i] = 1
		}

		return s
	}

	// 1 ms at 4 kHz is four samples.
	in := FadeIn(ones(6), 4000, 1)
	if want := []float32{0, 0.25, 0.5, 0.75, 1, 1}; !slices.Equal(in, want) {
		t.Errorf("FadeIn = %v, want %v", in, want)
	}

	out := FadeOut(ones(6), 4000, 1)
	if want := []float32{1, 1, 0.75, 0.5, 0.25, 0}; !slices.Equal(out, want) {
		t.Errorf("FadeOut = %v, want %v", out, want)
	}

	if got := FadeIn(ones(2), 4000, 10); got[0] != 0 || got[1] != 0.5 {
		t.Errorf("fade longer than input = %v", got)
	}

	if got := FadeOut(ones(3), 4000, 0); !slices.Equal(got, ones(3)) {
		t.Errorf("zero fade changed audio: %v", got)
	}
}

func TestApplyHooks_RunsInOrder(t *testing.T) {
	var trace []string

	step := func(name string) Hook {
		return func(s []float32) []float32 {
			trace = append(trace, name)
			return append(s, float32(len(trace)))
		}
	}

	got := ApplyHooks([]float32{0}, step("a"), step("b"))

	if !slices.Equal(trace, []string{"a", "b"}) || !slices.Equal(got, []float32{0, 1, 2}) {
		t.Fatalf("trace = %v, samples = %v", trace, got)
	}

	if got := ApplyHooks([]float32{7}); !slices.Equal(got, []float32{7}) {
		t.Fatalf("no hooks = %v", got)
	}
}

func TestPostProcessHooks(t *testing.T) {
	if hooks := (PostProcess{}).Hooks(SampleRate); len(hooks) != 0 {
		t.Fatalf("empty selection gave %d hooks", len(hooks))
	}

	p := PostProcess{Normalize: true, FadeInMS: 1, FadeOutMS: 1}

	hooks := p.Hooks(4000)
	if len(hooks) != 3 {
		t.Fatalf("hooks = %d, want 3", len(hooks))
	}

	in := []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	out := ApplyHooks(in, hooks...)

	if out[0] != 0 || out[len(out)-1] != 0 || out[4] != 1 {
		t.Fatalf("post-processed = %v", out)
	}
}
