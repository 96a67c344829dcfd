package testutil

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/example/go-neutts/internal/audio"
)

// Tone returns n samples of a 440 Hz sine at half scale.
func Tone(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}

	return out
}

// WAVSamples decodes a complete WAV body in the pipeline format or fails.
func WAVSamples(tb testing.TB, data []byte) []float32 {
	tb.Helper()

	samples, err := audio.DecodeWAV(data)
	if err != nil {
		tb.Fatalf("decode WAV: %v", err)
	}

	return samples
}

// PCM16Samples decodes little-endian int16 PCM back to floats.
func PCM16Samples(tb testing.TB, pcm []byte) []float32 {
	tb.Helper()

	if len(pcm)%2 != 0 {
		tb.Fatalf("PCM16 payload has odd length %d", len(pcm))
	}

	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32767
	}

	return out
}

// StreamedSamples checks the unknown-length header of a streamed WAV
// response and decodes the PCM that follows it.
func StreamedSamples(tb testing.TB, body []byte) []float32 {
	tb.Helper()

	if len(body) < audio.HeaderSize {
		tb.Fatalf("streamed WAV too short: %d bytes", len(body))
	}

	if string(body[0:4]) != "RIFF" || string(body[36:40]) != "data" {
		tb.Fatalf("streamed WAV header malformed: %q", body[:audio.HeaderSize])
	}

	if size := binary.LittleEndian.Uint32(body[40:44]); size != math.MaxUint32 {
		tb.Fatalf("streamed WAV data size = %#x, want unknown-length marker", size)
	}

	return PCM16Samples(tb, body[audio.HeaderSize:])
}

// AssertSamplesNear fails when got and want differ in length or any sample
// differs by more than tol.
func AssertSamplesNear(tb testing.TB, got, want []float32, tol float64) {
	tb.Helper()

	if len(got) != len(want) {
		tb.Fatalf("got %d samples, want %d", len(got), len(want))
	}

	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			tb.Fatalf("sample[%d] = %f, want %f (tol %g)", i, got[i], want[i], tol)
		}
	}
}
