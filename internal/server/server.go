package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/go-neutts/internal/audio"
	"github.com/example/go-neutts/internal/config"
	"github.com/example/go-neutts/internal/journal"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Synthesizer produces WAV bytes from text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// StreamingSynthesizer hands PCM to emit as it is produced.
type StreamingSynthesizer interface {
	SynthesizeStream(ctx context.Context, text string, emit func(samples []float32) error) error
}

// Status is the pipeline state reported by GET /status.
type Status struct {
	Phase  string            `json:"phase"`
	Stages map[string]string `json:"stages"`
}

// StatusReporter reports the current pipeline state.
type StatusReporter interface {
	Status() Status
}

// UtteranceLister returns the most recent journal entries.
type UtteranceLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
	limiter        *rate.Limiter
	streamer       StreamingSynthesizer
	status         StatusReporter
	utterances     UtteranceLister
	metrics        http.Handler
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		workers:        1,
		requestTimeout: 120 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes for POST /tts.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent synthesis calls.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRateLimit admits r synthesis requests per second with the given
// burst. r <= 0 disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(o *options) {
		if r <= 0 {
			o.limiter = nil
			return
		}

		o.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
	}
}

// WithStreamer enables POST /tts/stream.
func WithStreamer(s StreamingSynthesizer) Option {
	return func(o *options) { o.streamer = s }
}

// WithStatus enables GET /status.
func WithStatus(s StatusReporter) Option {
	return func(o *options) { o.status = s }
}

// WithUtterances enables GET /utterances.
func WithUtterances(u UtteranceLister) Option {
	return func(o *options) { o.utterances = u }
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	synth Synthesizer
	opts  options
	sem   chan struct{} // semaphore for worker pool
	log   *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /status,
// /utterances, /metrics, POST /tts and POST /tts/stream.
func NewHandler(synth Synthesizer, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	h := &handler{
		synth: synth,
		opts:  opts,
		log:   opts.logger.With(slog.String("component", "server")),
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/utterances", h.handleUtterances)
	mux.HandleFunc("/tts", h.handleTTS)
	mux.HandleFunc("/tts/stream", h.handleTTSStream)

	if opts.metrics != nil {
		mux.Handle("/metrics", opts.metrics)
	}

	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if h.opts.status == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline status unavailable")
		return
	}

	writeJSON(w, http.StatusOK, h.opts.status.Status())
}

func (h *handler) handleUtterances(w http.ResponseWriter, r *http.Request) {
	if h.opts.utterances == nil {
		writeError(w, http.StatusNotImplemented, "utterance journal disabled")
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 1000]")
			return
		}

		limit = n
	}

	entries, err := h.opts.utterances.Recent(r.Context(), limit)
	if err != nil {
		h.log.ErrorContext(r.Context(), "journal query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "journal query failed")

		return
	}

	if entries == nil {
		entries = []journal.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

type ttsRequest struct {
	Text string `json:"text"`
}

// admit validates a synthesis request, applies the rate limiter and takes a
// worker slot. On success the caller must call release.
func (h *handler) admit(w http.ResponseWriter, r *http.Request) (req ttsRequest, release func(), ok bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, nil, false
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return req, nil, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, nil, false
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return req, nil, false
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return req, nil, false
	}

	if h.opts.limiter != nil && !h.opts.limiter.Allow() {
		h.log.WarnContext(r.Context(), "rate limited", slog.String("remote", r.RemoteAddr))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")

		return req, nil, false
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem == nil {
		return req, func() {}, true
	}

	select {
	case h.sem <- struct{}{}:
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return req, nil, false
	}

	return req, func() { <-h.sem }, true
}

func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	req, release, ok := h.admit(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	wav, err := h.synth.Synthesize(ctx, req.Text)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.log.WarnContext(r.Context(), "synthesis timed out",
				slog.Int("text_len", len(req.Text)),
				slog.Int64("duration_ms", durationMS),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusGatewayTimeout, "synthesis timed out")
			return
		}
		h.log.ErrorContext(r.Context(), "synthesis failed",
			slog.Int("text_len", len(req.Text)),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "synthesis complete",
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// handleTTSStream writes a streaming WAV header followed by PCM as the
// pipeline delivers it. Errors after the header can only end the stream.
func (h *handler) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	if h.opts.streamer == nil {
		writeError(w, http.StatusNotImplemented, "streaming synthesis not available")
		return
	}

	req, release, ok := h.admit(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)

	if _, err := audio.WriteWAVHeaderStreaming(w); err != nil {
		return
	}

	flusher, _ := w.(http.Flusher)
	written := 0

	err := h.opts.streamer.SynthesizeStream(ctx, req.Text, func(samples []float32) error {
		n, err := audio.WritePCM16Samples(w, samples)
		written += n
		if err != nil {
			return err
		}

		if flusher != nil {
			flusher.Flush()
		}

		return nil
	})
	if err != nil {
		h.log.WarnContext(r.Context(), "stream ended early",
			slog.Int("text_len", len(req.Text)),
			slog.Int("pcm_bytes", written),
			slog.String("error", err.Error()),
		)

		return
	}

	h.log.InfoContext(r.Context(), "stream complete",
		slog.Int("text_len", len(req.Text)),
		slog.Int("pcm_bytes", written),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Deps are the collaborators the HTTP server exposes.
type Deps struct {
	Synth      Synthesizer
	Streamer   StreamingSynthesizer
	Status     StatusReporter
	Utterances UtteranceLister
	Metrics    http.Handler
	Log        *slog.Logger
}

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	deps            Deps
	shutdownTimeout time.Duration
}

func New(cfg config.Config, deps Deps) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		deps:            deps,
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) handlerOptions() []Option {
	opts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second),
		WithRateLimit(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst),
	}

	if s.deps.Log != nil {
		opts = append(opts, WithLogger(s.deps.Log))
	}

	if s.deps.Streamer != nil {
		opts = append(opts, WithStreamer(s.deps.Streamer))
	}

	if s.deps.Status != nil {
		opts = append(opts, WithStatus(s.deps.Status))
	}

	if s.deps.Utterances != nil {
		opts = append(opts, WithUtterances(s.deps.Utterances))
	}

	if s.deps.Metrics != nil {
		opts = append(opts, WithMetrics(s.deps.Metrics))
	}

	return opts
}

func (s *Server) Start(ctx context.Context) error {
	if s.deps.Synth == nil {
		return errors.New("server: no synthesizer configured")
	}

	h := NewHandler(s.deps.Synth, s.handlerOptions()...)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
