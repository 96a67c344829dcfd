package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-neutts/internal/codec"
	"github.com/example/go-neutts/internal/config"
	"github.com/example/go-neutts/internal/doctor"
	"github.com/example/go-neutts/internal/onnx"
	"github.com/example/go-neutts/internal/phonemizer"
	"github.com/example/go-neutts/internal/pipeline"
	"github.com/example/go-neutts/internal/tokenizer"
)

func newDoctorCmd() *cobra.Command {
	var skipRuntime bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			return runDoctor(doctorConfig(cfg, skipRuntime), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&skipRuntime, "skip-runtime", false, "Skip the ONNX Runtime library check")

	return cmd
}

func runDoctor(dcfg doctor.Config, stdout, stderr io.Writer) error {
	result := doctor.Run(dcfg, stdout)

	if result.Failed() {
		for _, f := range result.Failures() {
			_, _ = fmt.Fprintf(stderr, "FAIL: %s\n", f)
		}

		return errors.New("doctor checks failed")
	}

	_, _ = fmt.Fprintln(stdout, "doctor checks passed")

	return nil
}

// doctorConfig lists every asset the pipeline loads, resolved against the
// configured root.
func doctorConfig(cfg config.Config, skipRuntime bool) doctor.Config {
	res := pipeline.RootResolver{Root: cfg.Paths.Root}
	p := cfg.Paths

	return doctor.Config{
		RuntimeVersion: func() (string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			if err != nil {
				return "", err
			}

			return info.Version, nil
		},
		SkipRuntime: skipRuntime,
		Files: []doctor.File{
			{Label: "lm model", Path: res.Resolve(p.LMModel)},
			{Label: "lm tokenizer", Path: res.Resolve(p.LMTokenizer), Validate: validateTokenizer},
			{Label: "decoder model", Path: res.Resolve(p.DecoderModel)},
			{Label: "phonemizer model", Path: res.Resolve(p.PhonemizerModel)},
			{Label: "phonemizer config", Path: res.Resolve(p.PhonemizerConfig), Validate: validateSymbols},
			{Label: "phonemizer dictionary", Path: res.Resolve(p.PhonemizerDict), Optional: true, Validate: validateDictionary},
			{Label: "reference codes", Path: res.Resolve(p.RefCodes), Validate: validateReferenceCodes},
			{Label: "reference transcript", Path: res.Resolve(p.RefTranscript)},
		},
	}
}

func validateTokenizer(path string) error {
	_, err := tokenizer.NewSentencePieceTokenizer(path)
	return err
}

func validateSymbols(path string) error {
	_, err := phonemizer.LoadSymbols(path)
	return err
}

func validateDictionary(path string) error {
	_, err := phonemizer.LoadDictionary(path, nil)
	return err
}

func validateReferenceCodes(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	_, err = codec.ParseReferenceCodes(data)

	return err
}
