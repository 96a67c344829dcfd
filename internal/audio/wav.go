package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// The decoder emits 24 kHz mono; every sink writes it as 16-bit PCM.
const (
	SampleRate = 24000
	Channels   = 1
	BitDepth   = 16
)

// HeaderSize is the length of the canonical RIFF header before PCM data.
const HeaderSize = 44

// ErrFormatMismatch is returned by DecodeWAV for audio the pipeline did not
// produce.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// Format describes interleaved integer PCM.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Output is the format of everything the pipeline writes.
var Output = Format{SampleRate: SampleRate, Channels: Channels, BitDepth: BitDepth}

func (f Format) BlockAlign() int { return f.Channels * f.BitDepth / 8 }

func (f Format) ByteRate() int { return f.SampleRate * f.BlockAlign() }

// Duration returns the play time of n bytes of PCM. Partial frames do not
// count.
func (f Format) Duration(n int) time.Duration {
	frames := max(n, 0) / f.BlockAlign()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// EncodeWAV wraps samples in a complete WAV file in the Output format.
func EncodeWAV(samples []float32) ([]byte, error) {
	f := &memFile{}

	enc := wav.NewEncoder(f, Output.SampleRate, Output.BitDepth, Output.Channels, 1)

	err := enc.Write(&goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: Output.SampleRate, NumChannels: Output.Channels},
		SourceBitDepth: Output.BitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finish wav: %w", err)
	}

	return f.data, nil
}

// DecodeWAV reads a WAV file back into float32 samples. Only the Output
// format is accepted.
func DecodeWAV(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("decode wav: empty input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("decode wav: not a WAV file")
	}

	got := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans), BitDepth: int(dec.BitDepth)}
	if got != Output {
		return nil, fmt.Errorf("%w: got %d Hz, %d ch, %d bit", ErrFormatMismatch, got.SampleRate, got.Channels, got.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	return buf.Data, nil
}

// WriteWAVHeaderStreaming writes a header whose RIFF and data sizes are the
// 0xFFFFFFFF "unknown length" marker, for responses streamed as they are
// synthesized.
func WriteWAVHeaderStreaming(w io.Writer) (int, error) {
	const unknown = 0xFFFFFFFF

	le := binary.LittleEndian

	hdr := make([]byte, 0, HeaderSize)
	hdr = append(hdr, "RIFF"...)
	hdr = le.AppendUint32(hdr, unknown)
	hdr = append(hdr, "WAVEfmt "...)
	hdr = le.AppendUint32(hdr, 16)
	hdr = le.AppendUint16(hdr, 1) // PCM
	hdr = le.AppendUint16(hdr, uint16(Output.Channels))
	hdr = le.AppendUint32(hdr, uint32(Output.SampleRate))
	hdr = le.AppendUint32(hdr, uint32(Output.ByteRate()))
	hdr = le.AppendUint16(hdr, uint16(Output.BlockAlign()))
	hdr = le.AppendUint16(hdr, uint16(Output.BitDepth))
	hdr = append(hdr, "data"...)
	hdr = le.AppendUint32(hdr, unknown)

	return w.Write(hdr)
}

// AppendPCM16 appends samples to dst as little-endian int16, clamped to
// [-1, 1] and scaled by 32767.
func AppendPCM16(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(v*32767)))
	}

	return dst
}

// WritePCM16Samples writes samples to w in the Output sample encoding.
func WritePCM16Samples(w io.Writer, samples []float32) (int, error) {
	return w.Write(AppendPCM16(make([]byte, 0, len(samples)*2), samples))
}

// memFile is the in-memory io.WriteSeeker the WAV encoder needs to patch
// chunk sizes after the data is written.
type memFile struct {
	data []byte
	pos  int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}

	n := copy(m.data[m.pos:], p)
	m.pos += n

	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = len(m.data)
	default:
		return 0, fmt.Errorf("seek: bad whence %d", whence)
	}

	next := base + int(offset)
	if next < 0 {
		return 0, errors.New("seek: before start of file")
	}

	m.pos = next

	return int64(next), nil
}
