package generate

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestLoopStopsOnStopToken(t *testing.T) {
	model := &scriptedModel{vocab: 8, script: []int64{3, 4, 5, 7, 6}}

	var emitted []int64

	out, err := Loop(context.Background(), model, NewSampler(greedy()), []int64{1, 2}, 32,
		StopOnTokens(7), func(tok int64) { emitted = append(emitted, tok) })
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}

	want := []int64{3, 4, 5}
	if !reflect.DeepEqual(out, want) || !reflect.DeepEqual(emitted, want) {
		t.Errorf("out = %v, emitted = %v; want %v", out, emitted, want)
	}
}

func TestLoopHonoursMaxTokens(t *testing.T) {
	model := &scriptedModel{vocab: 4, script: []int64{2}}

	out, err := Loop(context.Background(), model, NewSampler(greedy()), []int64{1}, 5, StopOnTokens(3), nil)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}

	if len(out) != 5 {
		t.Errorf("produced %d tokens; want 5", len(out))
	}
}

func TestLoopStopFuncSeesCount(t *testing.T) {
	model := &scriptedModel{vocab: 4, script: []int64{2}}

	stopAfter := func(_ int64, generated int) bool { return generated == 3 }

	out, err := Loop(context.Background(), model, NewSampler(greedy()), []int64{1}, 10, stopAfter, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(out) != 3 {
		t.Errorf("produced %d tokens; want 3", len(out))
	}
}

func TestLoopErrors(t *testing.T) {
	if _, err := Loop(context.Background(), &scriptedModel{vocab: 2}, NewSampler(greedy()), nil, 4, nil, nil); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("empty prompt: err = %v", err)
	}

	model := &scriptedModel{vocab: 4, script: []int64{2}, failAt: 3}

	out, err := Loop(context.Background(), model, NewSampler(greedy()), []int64{1}, 10, nil, nil)
	if err == nil || len(out) != 2 {
		t.Errorf("model fault: out = %v, err = %v; want 2 tokens and an error", out, err)
	}
}

func TestLoopChecksContextEachStep(t *testing.T) {
	model := &scriptedModel{vocab: 4, script: []int64{2}}
	ctx, cancel := context.WithCancel(context.Background())

	out, err := Loop(ctx, model, NewSampler(greedy()), []int64{1}, 100, nil, func(int64) {
		model.mu.Lock()
		steps := model.steps
		model.mu.Unlock()

		if steps == 4 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}

	if len(out) != 4 {
		t.Errorf("kept %d tokens; want the 4 produced before cancellation", len(out))
	}
}
