package playback

import (
	"bytes"
	"io"
	"sync"

	"github.com/example/go-neutts/internal/audio"
)

// pcmStream is the io.Reader handed to the oto player. Read never blocks:
// when nothing is queued it yields silence so the device keeps running.
type pcmStream struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func newPCMStream() *pcmStream { return &pcmStream{} }

func (p *pcmStream) write(samples []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	_, err := audio.WritePCM16Samples(&p.buf, samples)

	return err
}

func (p *pcmStream) Read(dst []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.EOF
	}

	// Keep reads sample aligned.
	n := len(dst) &^ 1
	if n == 0 {
		return 0, nil
	}

	got, _ := p.buf.Read(dst[:n])
	got &^= 1
	clear(dst[got:n])

	return n, nil
}

func (p *pcmStream) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.buf.Len()
}

func (p *pcmStream) close() {
	p.mu.Lock()
	p.closed = true
	p.buf.Reset()
	p.mu.Unlock()
}
