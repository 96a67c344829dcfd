package codec

import (
	"context"
	"reflect"
	"testing"

	"github.com/example/go-neutts/internal/onnx"
)

type pcmRunner struct {
	shape []int64
	calls int
}

func (r *pcmRunner) Run(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	r.calls++

	codes, err := onnx.ExtractInt32(inputs["codes"])
	if err != nil {
		return nil, err
	}

	r.shape = inputs["codes"].Shape()

	pcm := make([]float32, 0, len(codes)*2)
	for _, c := range codes {
		pcm = append(pcm, float32(c), -float32(c))
	}

	out, err := onnx.NewTensor(pcm, []int64{1, 1, int64(len(pcm))})
	if err != nil {
		return nil, err
	}

	return map[string]*onnx.Tensor{"audio": out}, nil
}

func (r *pcmRunner) Name() string { return "decoder" }
func (r *pcmRunner) Close()       {}

func TestONNXDecoder(t *testing.T) {
	runner := &pcmRunner{}
	d := NewONNXDecoder(runner)

	got, err := d.Decode(context.Background(), []int32{1, 2})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !reflect.DeepEqual(runner.shape, []int64{1, 1, 2}) {
		t.Errorf("input shape = %v; want [1 1 2]", runner.shape)
	}

	if !reflect.DeepEqual(got, []float32{1, -1, 2, -2}) {
		t.Errorf("Decode = %v", got)
	}

	if out, err := d.Decode(context.Background(), nil); err != nil || out != nil || runner.calls != 1 {
		t.Errorf("Decode(nil) = %v, %v after %d calls; want no inference", out, err, runner.calls)
	}
}
