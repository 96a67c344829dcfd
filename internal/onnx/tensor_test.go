package onnx

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("float32 ok", func(t *testing.T) {
		tt, err := NewTensor([]float32{1, 2, 3, 4}, []int64{2, 2})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		if tt.DType() != DTypeFloat32 {
			t.Fatalf("expected dtype float32, got %s", tt.DType())
		}

		if !reflect.DeepEqual(tt.Shape(), []int64{2, 2}) {
			t.Fatalf("unexpected shape: %v", tt.Shape())
		}

		got, err := ExtractFloat32(tt)
		if err != nil {
			t.Fatalf("ExtractFloat32 failed: %v", err)
		}

		if !reflect.DeepEqual(got, []float32{1, 2, 3, 4}) {
			t.Fatalf("unexpected data: %v", got)
		}
	})

	t.Run("int32 codes", func(t *testing.T) {
		tt, err := NewTensor([]int32{7, 9, 11}, []int64{1, 1, 3})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		if tt.DType() != DTypeInt32 {
			t.Fatalf("expected dtype int32, got %s", tt.DType())
		}

		got, err := ExtractInt32(tt)
		if err != nil {
			t.Fatalf("ExtractInt32 failed: %v", err)
		}

		if !reflect.DeepEqual(got, []int32{7, 9, 11}) {
			t.Fatalf("unexpected data: %v", got)
		}
	})

	t.Run("empty sequence dimension", func(t *testing.T) {
		tt, err := NewTensor([]int64{}, []int64{1, 0})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		if got, _ := ExtractInt64(tt); len(got) != 0 {
			t.Fatalf("expected no elements, got %v", got)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		_, err := NewTensor([]int64{1, 2, 3}, []int64{2, 2})
		if err == nil {
			t.Fatal("expected shape mismatch error")
		}

		if !strings.Contains(err.Error(), "expects 4 elements, got 3") {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("negative dimension", func(t *testing.T) {
		_, err := NewTensor([]float32{1}, []int64{-1})
		if err == nil || !strings.Contains(err.Error(), "negative") {
			t.Fatalf("expected negative dimension error, got %v", err)
		}
	})
}

func TestTensorDataIsCopied(t *testing.T) {
	src := []float32{1, 2}

	tt, err := NewTensor(src, []int64{2})
	if err != nil {
		t.Fatal(err)
	}

	src[0] = 99

	data := tt.Data().([]float32)
	if data[0] != 1 {
		t.Fatalf("tensor aliases caller slice: %v", data)
	}

	data[1] = 42

	again, _ := ExtractFloat32(tt)
	if again[1] != 2 {
		t.Fatalf("Data() exposes backing slice: %v", again)
	}
}

func TestExtractorsRejectWrongDType(t *testing.T) {
	floats, _ := NewTensor([]float32{1}, []int64{1})
	ints, _ := NewTensor([]int64{1}, []int64{1})

	if _, err := ExtractInt64(floats); err == nil {
		t.Error("ExtractInt64(float tensor) succeeded")
	}

	if _, err := ExtractFloat32(ints); err == nil {
		t.Error("ExtractFloat32(int tensor) succeeded")
	}

	if _, err := ExtractInt32(ints); err == nil {
		t.Error("ExtractInt32(int64 tensor) succeeded")
	}

	if _, err := ExtractFloat32(nil); err == nil {
		t.Error("ExtractFloat32(nil) succeeded")
	}
}
