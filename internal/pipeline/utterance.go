package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-neutts/internal/audio"
	"github.com/example/go-neutts/internal/stream"
)

// Utterance is one prompt travelling through the pipeline. Its fields are
// owned by the executor until Done is closed.
type Utterance struct {
	ID   string
	Text string

	sink    Sink
	started time.Time
	asm     *stream.Assembler
	recon   audio.Reconstructor

	// overlaps maps in-flight decode indices to their leading overlap in
	// samples.
	overlaps map[uint64]int

	frames   int
	samples  int
	tokens   int
	genDone  bool
	stopped  bool
	draining bool
	sinkErr  error

	report Report
	done   chan struct{}
}

func newUtterance(input string, sink Sink, chunkSize, overlap int) *Utterance {
	return &Utterance{
		ID:       uuid.NewString(),
		Text:     input,
		sink:     sink,
		started:  time.Now(),
		asm:      stream.New(chunkSize, overlap),
		overlaps: make(map[uint64]int),
		done:     make(chan struct{}),
	}
}

// Done is closed when the utterance has finished.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Wait blocks until the utterance finishes and returns its report.
func (u *Utterance) Wait(ctx context.Context) (Report, error) {
	select {
	case <-u.done:
		return u.report, u.report.Err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// complete fills in the report. The owner closes done afterwards.
func (u *Utterance) complete(err error) {
	outcome := OutcomeCompleted

	switch {
	case err != nil:
		outcome = OutcomeFailed
	case u.stopped:
		outcome = OutcomeStopped
	}

	u.report = Report{
		ID:       u.ID,
		Text:     u.Text,
		Outcome:  outcome,
		Frames:   u.frames,
		Samples:  u.samples,
		Tokens:   u.tokens,
		Started:  u.started,
		Duration: time.Since(u.started),
		Err:      err,
	}
}
