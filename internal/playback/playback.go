// Package playback plays pipeline output on the default audio device.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/example/go-neutts/internal/audio"
)

// ErrClosed is returned by WriteSamples after Close.
var ErrClosed = errors.New("playback: sink closed")

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func deviceContext(bufferSize time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.SampleRate,
			ChannelCount: audio.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   bufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("create oto context: %w", err)
			return
		}

		<-ready
		otoCtx = ctx
	})

	return otoCtx, otoErr
}

// Sink streams samples to the speakers as they arrive. Drain blocks until
// everything written so far has been heard.
type Sink struct {
	stream *pcmStream
	player *oto.Player
	log    *slog.Logger
}

// Open starts a player on the shared device context. Gaps between writes
// play as silence.
func Open(log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}

	ctx, err := deviceContext(100 * time.Millisecond)
	if err != nil {
		return nil, err
	}

	stream := newPCMStream()
	player := ctx.NewPlayer(stream)
	player.Play()

	return &Sink{
		stream: stream,
		player: player,
		log:    log.With(slog.String("component", "playback")),
	}, nil
}

func (s *Sink) WriteSamples(samples []float32) error {
	return s.stream.write(samples)
}

// Drain waits for the queued samples to reach the device, then for the
// device buffer to play out.
func (s *Sink) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.stream.pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	tail := audio.Output.Duration(s.player.BufferedSize())
	s.log.Debug("draining device buffer", slog.Duration("tail", tail))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(tail):
		return nil
	}
}

// Close stops playback and discards queued audio.
func (s *Sink) Close() error {
	s.stream.close()
	s.player.Pause()

	return s.player.Close()
}

