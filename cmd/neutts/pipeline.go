package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/go-neutts/internal/codec"
	"github.com/example/go-neutts/internal/config"
	"github.com/example/go-neutts/internal/generate"
	"github.com/example/go-neutts/internal/onnx"
	"github.com/example/go-neutts/internal/phonemizer"
	"github.com/example/go-neutts/internal/pipeline"
)

func generationParams(g config.GenerationConfig) generate.Params {
	return generate.Params{
		Temperature:   g.Temperature,
		TopK:          g.TopK,
		TopP:          g.TopP,
		MinP:          g.MinP,
		RepeatPenalty: g.RepeatPenalty,
		RepeatLastN:   g.RepeatLastN,
		MaxTokens:     g.MaxTokens,
		Seed:          g.Seed,
	}
}

// pipelineOptions maps the configuration onto orchestrator options. ctx
// bounds background work started by the loaders, such as the dictionary
// watcher.
func pipelineOptions(ctx context.Context, cfg config.Config, rc onnx.RunnerConfig, log *slog.Logger) pipeline.Options {
	res := pipeline.RootResolver{Root: cfg.Paths.Root}
	paths := cfg.Paths

	return pipeline.Options{
		Loaders: pipeline.Loaders{
			Phonemizer: func(loadCtx context.Context) (phonemizer.Engine, error) {
				m, err := phonemizer.Load(loadCtx, phonemizer.LoadOptions{
					ModelPath:  res.Resolve(paths.PhonemizerModel),
					ConfigPath: res.Resolve(paths.PhonemizerConfig),
					DictPath:   res.Resolve(paths.PhonemizerDict),
					Runtime:    rc,
					Log:        log,
				})
				if err != nil {
					return nil, err
				}

				if cfg.Phonemizer.WatchDict && paths.PhonemizerDict != "" {
					if err := m.Dictionary().Watch(ctx); err != nil {
						log.Warn("dictionary watch disabled", slog.String("error", err.Error()))
					}
				}

				return m, nil
			},
			Generator: func(loadCtx context.Context) (*generate.Engine, error) {
				return generate.Load(loadCtx, generate.LoadOptions{
					ModelPath:     res.Resolve(paths.LMModel),
					TokenizerPath: res.Resolve(paths.LMTokenizer),
					Runtime:       rc,
					Log:           log,
				})
			},
			Decoder: func(context.Context) (codec.Decoder, error) {
				return codec.Load(res.Resolve(paths.DecoderModel), rc)
			},
		},
		Reference: pipeline.FileReference{
			CodesPath:      paths.RefCodes,
			TranscriptPath: paths.RefTranscript,
			Resolver:       res,
		},
		Params:    generationParams(cfg.Generation),
		Language:  cfg.Phonemizer.Language,
		ChunkSize: cfg.Stream.ChunkSize,
		Overlap:   cfg.Stream.Overlap,
		HopLength: cfg.Codec.HopLength,
		Log:       log,
	}
}

// startPipeline loads every stage, encodes the reference voice and returns a
// Ready orchestrator.
func startPipeline(ctx context.Context, cfg config.Config, log *slog.Logger, observers ...pipeline.Observer) (*pipeline.Orchestrator, error) {
	info, err := onnx.Bootstrap(cfg.Runtime)
	if err != nil {
		return nil, fmt.Errorf("onnx runtime: %w", err)
	}

	log.Info("onnx runtime detected",
		slog.String("library", info.LibraryPath),
		slog.String("version", info.Version),
		slog.String("source", info.Source),
	)

	rc := onnx.RunnerConfig{
		LibraryPath:   info.LibraryPath,
		APIVersion:    cfg.Runtime.APIVersion,
		MaxConcurrent: cfg.Runtime.Threads,
	}

	opts := pipelineOptions(ctx, cfg, rc, log)
	if len(observers) > 0 {
		opts.Observer = pipeline.Observers(observers)
	}

	orch := pipeline.New(opts)

	if err := orch.Initialize(ctx); err != nil {
		_ = orch.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	return orch, nil
}
