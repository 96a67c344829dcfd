package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/go-neutts/internal/bus"
	"github.com/example/go-neutts/internal/journal"
	"github.com/example/go-neutts/internal/pipeline"
	"github.com/example/go-neutts/internal/server"
	"github.com/example/go-neutts/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var maxSentenceChars int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the NeuTTS HTTP server and optional NATS listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := slog.Default()
			cleanup := context.WithoutCancel(ctx)

			var observers []pipeline.Observer

			deps := server.Deps{Log: log}

			if cfg.Telemetry.Enabled {
				tel, err := telemetry.Setup(ctx, telemetry.Options{ServiceName: cfg.Telemetry.ServiceName, Log: log})
				if err != nil {
					return err
				}
				defer func() { _ = tel.Shutdown(cleanup) }()

				observers = append(observers, tel.Observer())
				deps.Metrics = tel.Handler()
			}

			if cfg.Journal.Path != "" {
				j, err := journal.Open(ctx, cfg.Journal.Path, log)
				if err != nil {
					return err
				}
				defer func() { _ = j.Close() }()

				observers = append(observers, j.Observer())
				deps.Utterances = j
			}

			orch, err := startPipeline(ctx, cfg, log, observers...)
			if err != nil {
				return err
			}
			defer func() { _ = orch.Close(cleanup) }()

			synth := server.NewPipelineSynthesizer(orch, maxSentenceChars)
			deps.Synth = synth
			deps.Streamer = synth
			deps.Status = server.PipelineStatus(orch)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return server.New(cfg, deps).Start(gctx)
			})

			if cfg.Bus.Enabled {
				conn, err := bus.Connect(cfg.Bus.URL, log)
				if err != nil {
					return err
				}
				defer conn.Close()

				listener := bus.New(conn, synth, cfg.Bus.SubjectPrefix, log)
				g.Go(func() error { return listener.Serve(gctx) })
			}

			log.Info("serving", slog.String("addr", cfg.Server.ListenAddr), slog.Bool("bus", cfg.Bus.Enabled))

			return g.Wait()
		},
	}

	cmd.Flags().IntVar(&maxSentenceChars, "max-sentence-chars", 220, "Maximum characters per spoken sentence group")

	return cmd
}
