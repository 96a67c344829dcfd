package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-neutts/internal/server"
)

// ---------------------------------------------------------------------------
// request validation and limits
// ---------------------------------------------------------------------------

func TestTTS_OversizedTextRejectedAs413(t *testing.T) {
	h := server.NewHandler(&stubSynthesizer{}, server.WithMaxTextBytes(10))

	rec := postTTS(h, `{"text":"`+strings.Repeat("x", 11)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("want 413, got %d", rec.Code)
	}

	var errBody map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if errBody["error"] == "" {
		t.Error("want non-empty error field")
	}
}

func TestTTS_TextAtExactLimitIsAccepted(t *testing.T) {
	h := server.NewHandler(&stubSynthesizer{wav: []byte("RIFF")}, server.WithMaxTextBytes(5))

	if rec := postTTS(h, `{"text":"hello"}`); rec.Code != http.StatusOK {
		t.Fatalf("want 200 for exactly-limit text, got %d", rec.Code)
	}
}

func TestTTS_RequestTimeoutCancelsInFlight(t *testing.T) {
	// Synthesizer that blocks until its context is cancelled.
	synth := &blockingSynthesizer{blocked: make(chan struct{})}

	h := server.NewHandler(synth, server.WithRequestTimeout(20*time.Millisecond))

	rec := postTTS(h, `{"text":"Hello."}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("want 504 on timeout, got %d", rec.Code)
	}

	var errBody map[string]string

	_ = json.NewDecoder(rec.Body).Decode(&errBody)
	if errBody["error"] == "" {
		t.Error("want non-empty error field")
	}
}

func TestTTS_RateLimitRejectsBurstOverflow(t *testing.T) {
	// One token, refilled once a minute.
	h := server.NewHandler(&stubSynthesizer{wav: []byte("RIFF")}, server.WithRateLimit(1.0/60, 1))

	if rec := postTTS(h, `{"text":"one"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request: want 200, got %d", rec.Code)
	}

	if rec := postTTS(h, `{"text":"two"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: want 429, got %d", rec.Code)
	}
}

func TestTTS_RateLimitDisabledByZeroRate(t *testing.T) {
	h := server.NewHandler(&stubSynthesizer{wav: []byte("RIFF")}, server.WithRateLimit(0, 0))

	for i := range 5 {
		if rec := postTTS(h, `{"text":"again"}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d: want 200, got %d", i, rec.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// worker pool / concurrency throttling
// ---------------------------------------------------------------------------

func TestTTS_ConcurrencyThrottling(t *testing.T) {
	const workers = 2
	const totalRequests = 5

	// Synthesizer that counts concurrent executions.
	var (
		mu         sync.Mutex
		peak       int
		current    int32
		releaseAll = make(chan struct{})
	)
	synth := &countingSynthesizer{
		onEnter: func() {
			n := int(atomic.AddInt32(&current, 1))

			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			<-releaseAll
		},
		onExit: func() { atomic.AddInt32(&current, -1) },
		wav:    []byte("RIFF"),
	}

	h := server.NewHandler(synth, server.WithWorkers(workers))

	var wg sync.WaitGroup

	codes := make([]int, totalRequests)
	for i := range totalRequests {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			codes[idx] = postTTS(h, `{"text":"Hi."}`).Code
		}(i)
	}

	// Give goroutines time to enter the synthesizer.
	time.Sleep(50 * time.Millisecond)
	close(releaseAll)
	wg.Wait()

	mu.Lock()
	got := peak
	mu.Unlock()

	if got > workers {
		t.Errorf("peak concurrency %d exceeded worker limit %d", got, workers)
	}

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: want 200, got %d", i, code)
		}
	}
}

func TestTTS_WaiterCancelledWhileThrottled(t *testing.T) {
	release := make(chan struct{})
	synth := &blockingSynthesizer{blocked: release}

	h := server.NewHandler(synth, server.WithWorkers(1))

	// First request occupies the single worker slot.
	first := make(chan struct{})
	go func() {
		defer close(first)
		postTTS(h, `{"text":"First."}`)
	}()

	time.Sleep(20 * time.Millisecond)

	// Second request should be blocked waiting for a worker; cancel its context.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"Second."}`)).WithContext(ctx)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503 when waiter context cancelled, got %d", rec.Code)
	}

	close(release) // unblock the first request
	<-first
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// blockingSynthesizer blocks until blocked is closed.
type blockingSynthesizer struct {
	blocked chan struct{}
	wav     []byte
}

func (b *blockingSynthesizer) Synthesize(ctx context.Context, _ string) ([]byte, error) {
	select {
	case <-b.blocked:
		return b.wav, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// countingSynthesizer calls onEnter/onExit around the synthesize call.
type countingSynthesizer struct {
	onEnter func()
	onExit  func()
	wav     []byte
}

func (c *countingSynthesizer) Synthesize(_ context.Context, _ string) ([]byte, error) {
	c.onEnter()
	defer c.onExit()

	return c.wav, nil
}
