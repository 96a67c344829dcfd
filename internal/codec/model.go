package codec

import (
	"context"
	"fmt"

	"github.com/example/go-neutts/internal/onnx"
)

// Decoder turns speech codes into PCM samples.
type Decoder interface {
	Decode(ctx context.Context, codes []int32) ([]float32, error)
	Close() error
}

// ONNXDecoder runs a codec graph with input "codes" int32 [1,1,F] and a
// single float PCM output.
type ONNXDecoder struct {
	runner onnx.GraphRunner
}

var _ Decoder = (*ONNXDecoder)(nil)

// NewONNXDecoder wraps runner.
func NewONNXDecoder(runner onnx.GraphRunner) *ONNXDecoder {
	return &ONNXDecoder{runner: runner}
}

// Load opens the decoder graph at path.
func Load(path string, cfg onnx.RunnerConfig) (*ONNXDecoder, error) {
	runner, err := onnx.NewRunner(onnx.Session{Name: "decoder", Path: path}, cfg)
	if err != nil {
		return nil, err
	}

	return NewONNXDecoder(runner), nil
}

// Decode returns the flattened PCM output for codes.
func (d *ONNXDecoder) Decode(ctx context.Context, codes []int32) ([]float32, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	input, err := onnx.NewTensor(codes, []int64{1, 1, int64(len(codes))})
	if err != nil {
		return nil, err
	}

	outputs, err := d.runner.Run(ctx, map[string]*onnx.Tensor{"codes": input})
	if err != nil {
		return nil, err
	}

	if len(outputs) != 1 {
		return nil, fmt.Errorf("%s: expected one output, got %d", d.runner.Name(), len(outputs))
	}

	for _, t := range outputs {
		return onnx.ExtractFloat32(t)
	}

	return nil, nil
}

// Close releases the session.
func (d *ONNXDecoder) Close() error {
	d.runner.Close()
	return nil
}
