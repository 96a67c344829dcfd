// Package telemetry exports pipeline metrics through an OpenTelemetry meter
// backed by a Prometheus registry, and records one span per utterance.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/go-neutts/internal/pipeline"
	"github.com/example/go-neutts/internal/stage"
)

const instrumentation = "github.com/example/go-neutts/pipeline"

// Options configures Setup.
type Options struct {
	ServiceName string
	// SpanExporter receives utterance spans. Nil keeps spans in-process only.
	SpanExporter sdktrace.SpanExporter
	Log          *slog.Logger
}

// Provider owns the meter and tracer providers.
type Provider struct {
	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
	handler http.Handler
	tracer  trace.Tracer
	log     *slog.Logger

	submits     metric.Int64Counter
	frames      metric.Int64Counter
	samples     metric.Int64Counter
	transitions metric.Int64Counter
	utterances  metric.Int64Counter
	latency     metric.Float64Histogram

	phase atomic.Int64
}

// Setup builds the providers and registers the pipeline instruments.
func Setup(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	if opts.ServiceName == "" {
		opts.ServiceName = "neutts"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(opts.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	reg := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.SpanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(opts.SpanExporter))
	}

	p := &Provider{
		meters:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter), sdkmetric.WithResource(res)),
		tracers: sdktrace.NewTracerProvider(traceOpts...),
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		log:     opts.Log.With(slog.String("component", "telemetry")),
	}

	p.tracer = p.tracers.Tracer(instrumentation)

	if err := p.instruments(); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	p.log.Info("telemetry initialized", slog.String("exporter", "prometheus"), slog.String("service", opts.ServiceName))

	return p, nil
}

func (p *Provider) instruments() error {
	meter := p.meters.Meter(instrumentation)

	var err error

	if p.submits, err = meter.Int64Counter("neutts.decode.submissions",
		metric.WithDescription("Decode requests submitted to the decoder stage")); err != nil {
		return err
	}

	if p.frames, err = meter.Int64Counter("neutts.frames.delivered",
		metric.WithDescription("Decoded frames delivered in order")); err != nil {
		return err
	}

	if p.samples, err = meter.Int64Counter("neutts.samples.delivered",
		metric.WithDescription("PCM samples delivered by the decoder")); err != nil {
		return err
	}

	if p.transitions, err = meter.Int64Counter("neutts.stage.transitions",
		metric.WithDescription("Stage status transitions")); err != nil {
		return err
	}

	if p.utterances, err = meter.Int64Counter("neutts.utterances",
		metric.WithDescription("Finished utterances by outcome")); err != nil {
		return err
	}

	if p.latency, err = meter.Float64Histogram("neutts.utterance.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time from prompt to drained audio")); err != nil {
		return err
	}

	phase, err := meter.Int64ObservableGauge("neutts.pipeline.phase",
		metric.WithDescription("Current pipeline phase as its ordinal"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(phase, p.phase.Load())
		return nil
	}, phase)

	return err
}

// Handler serves the Prometheus scrape endpoint.
func (p *Provider) Handler() http.Handler { return p.handler }

// Tracer returns the utterance tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.meters.Shutdown(ctx), p.tracers.Shutdown(ctx))
}

// Observer feeds pipeline events into the instruments.
func (p *Provider) Observer() pipeline.Observer { return observer{p: p} }

type observer struct {
	p *Provider
}

func (o observer) StageChanged(name string, s stage.Status) {
	o.p.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("stage", name),
		attribute.String("status", s.String()),
	))
}

func (o observer) PhaseChanged(ph pipeline.Phase) {
	o.p.phase.Store(int64(ph))
}

func (o observer) DecodeSubmitted(uint64, int) {
	o.p.submits.Add(context.Background(), 1)
}

func (o observer) FrameDelivered(_ uint64, samples int) {
	ctx := context.Background()
	o.p.frames.Add(ctx, 1)
	o.p.samples.Add(ctx, int64(samples))
}

func (o observer) UtteranceFinished(r pipeline.Report) {
	ctx := context.Background()
	outcome := attribute.String("outcome", string(r.Outcome))

	o.p.utterances.Add(ctx, 1, metric.WithAttributes(outcome))
	o.p.latency.Record(ctx, r.Duration.Seconds(), metric.WithAttributes(outcome))

	_, span := o.p.tracer.Start(ctx, "utterance",
		trace.WithTimestamp(r.Started),
		trace.WithAttributes(
			attribute.String("utterance.id", r.ID),
			attribute.Int("utterance.chars", len(r.Text)),
			attribute.Int("utterance.tokens", r.Tokens),
			attribute.Int("utterance.frames", r.Frames),
			attribute.Int("utterance.samples", r.Samples),
			outcome,
		),
	)

	if r.Err != nil {
		span.RecordError(r.Err)
	}

	span.End(trace.WithTimestamp(r.Started.Add(r.Duration)))
}
