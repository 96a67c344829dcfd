// Package stream batches streamed generation tokens into decode requests.
package stream

import "strings"

// Chunk is one flushed batch of tokens.
type Chunk struct {
	// Text is the concatenation of every token in the batch, lookback
	// tokens first.
	Text string
	// Tokens is the number of tokens newly streamed since the previous flush.
	Tokens int
	// Overlap is the number of lookback tokens repeated from the previous
	// flush at the start of Text.
	Overlap int
}

// Assembler accumulates tokens and flushes them in batches of ChunkSize.
//
// With Overlap > 0 every batch after the first starts with the last Overlap
// tokens of the batch before it, so consecutive decoded frames overlap in
// time and can be crossfaded.
//
// Assembler is not safe for concurrent use.
type Assembler struct {
	ChunkSize int
	Overlap   int

	pending  []string
	lookback []string
}

// DefaultChunkSize is the flush threshold used when ChunkSize is not positive.
const DefaultChunkSize = 480

// New returns an assembler with the given threshold and lookback.
func New(chunkSize, overlap int) *Assembler {
	return &Assembler{ChunkSize: chunkSize, Overlap: overlap}
}

// Push appends token. When the number of buffered tokens reaches the
// threshold the batch is flushed and returned with ok set.
func (a *Assembler) Push(token string) (Chunk, bool) {
	a.pending = append(a.pending, token)
	if len(a.pending) < a.chunkSize() {
		return Chunk{}, false
	}

	return a.flush(), true
}

// End flushes whatever is left. It reports false when nothing new was
// buffered, so an empty batch is never produced.
func (a *Assembler) End() (Chunk, bool) {
	if len(a.pending) == 0 {
		a.lookback = a.lookback[:0]
		return Chunk{}, false
	}

	c := a.flush()
	a.lookback = a.lookback[:0]

	return c, true
}

// Buffered returns the number of tokens waiting for the next flush.
func (a *Assembler) Buffered() int { return len(a.pending) }

// Reset discards buffered and lookback tokens.
func (a *Assembler) Reset() {
	a.pending = a.pending[:0]
	a.lookback = a.lookback[:0]
}

func (a *Assembler) flush() Chunk {
	var sb strings.Builder
	for _, tok := range a.lookback {
		sb.WriteString(tok)
	}
	for _, tok := range a.pending {
		sb.WriteString(tok)
	}

	c := Chunk{Text: sb.String(), Tokens: len(a.pending), Overlap: len(a.lookback)}

	if a.Overlap > 0 {
		keep := min(a.Overlap, len(a.pending))
		a.lookback = append(a.lookback[:0], a.pending[len(a.pending)-keep:]...)
	}

	a.pending = a.pending[:0]

	return c
}

func (a *Assembler) chunkSize() int {
	if a.ChunkSize <= 0 {
		return DefaultChunkSize
	}

	return a.ChunkSize
}
