package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/example/go-neutts/internal/onnx"
)

func main() {
	err := NewRootCmd().Execute()

	if leaked := onnx.Shutdown(); len(leaked) > 0 {
		slog.Warn("closed onnx sessions left open at exit", slog.Any("graphs", leaked))
	}

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(1)
	}
}
