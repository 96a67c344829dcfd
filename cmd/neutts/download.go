package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/go-neutts/internal/assets"
)

func newDownloadCmd() *cobra.Command {
	var (
		manifestPath string
		endpoint     string
		hfToken      string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch model and reference assets listed in a manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if manifestPath == "" {
				return errors.New("--manifest is required")
			}

			m, err := assets.LoadManifest(manifestPath)
			if err != nil {
				return err
			}

			if hfToken == "" {
				hfToken = os.Getenv("HF_TOKEN")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fetcher := assets.NewFetcher(assets.Options{
				Root:     cfg.Paths.Root,
				Endpoint: endpoint,
				Token:    hfToken,
				Progress: cmd.OutOrStdout(),
			})

			if err := fetcher.Fetch(ctx, m); err != nil {
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("download interrupted: %w", err)
				}

				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d assets ready under %s\n", len(m.Files), cfg.Paths.Root)

			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML manifest of assets to fetch")
	cmd.Flags().StringVar(&endpoint, "endpoint", assets.DefaultEndpoint, "Hugging Face compatible hub URL")
	cmd.Flags().StringVar(&hfToken, "hf-token", "", "Hugging Face token (falls back to HF_TOKEN env var)")

	return cmd
}
