package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/example/go-neutts/internal/audio"
	"github.com/example/go-neutts/internal/pipeline"
	"github.com/example/go-neutts/internal/playback"
	"github.com/example/go-neutts/internal/server"
	textpkg "github.com/example/go-neutts/internal/text"
)

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var play bool
	var maxChunkChars int
	var normalize bool
	var dcBlock bool
	var fadeInMS float64
	var fadeOutMS float64

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV or the speakers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			inputText, err := readSynthText(text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := slog.Default()

			orch, err := startPipeline(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = orch.Close(context.WithoutCancel(ctx)) }()

			if play {
				return playText(ctx, orch, inputText, maxChunkChars, log)
			}

			hooks := audio.PostProcess{
				Normalize: normalize,
				DCBlock:   dcBlock,
				FadeInMS:  fadeInMS,
				FadeOutMS: fadeOutMS,
			}.Hooks(audio.SampleRate)

			start := time.Now()

			wav, err := server.NewPipelineSynthesizer(orch, maxChunkChars, hooks...).Synthesize(ctx, inputText)
			if err != nil {
				return err
			}

			if err := writeSynthOutput(out, wav, cmd.OutOrStdout()); err != nil {
				return err
			}

			if out != "-" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, %s of audio) in %s\n",
					out,
					humanize.Bytes(uint64(len(wav))),
					wavDuration(len(wav)).Round(time.Millisecond),
					time.Since(start).Round(time.Millisecond),
				)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().BoolVar(&play, "play", false, "Play through the default audio device instead of writing a file")
	cmd.Flags().IntVar(&maxChunkChars, "max-chunk-chars", 220, "Maximum characters per spoken sentence group")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&dcBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&fadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&fadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")

	return cmd
}

func playText(ctx context.Context, orch *pipeline.Orchestrator, input string, maxChunkChars int, log *slog.Logger) error {
	sink, err := playback.Open(log)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	for _, sentence := range textpkg.SplitSentences(input, maxChunkChars) {
		report, err := orch.SpeakTo(ctx, sentence, sink)
		if err != nil {
			return err
		}

		log.Debug("sentence played",
			slog.String("id", report.ID),
			slog.Int("samples", report.Samples),
			slog.Duration("took", report.Duration),
		)
	}

	return nil
}

func wavDuration(size int) time.Duration {
	return audio.Output.Duration(size - audio.HeaderSize)
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --text or pipe text on stdin")
	}
	return input, nil
}
