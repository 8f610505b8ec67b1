package shutdown_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/common/shutdown"
)

func TestGraceful_FreshContext(t *testing.T) {
	err := shutdown.Graceful("thing", time.Second, func(ctx context.Context) error {
		if ctx.Err() != nil {
			t.Errorf("context already done: %v", ctx.Err())
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected deadline")
		}
		return nil
	}, logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGraceful_ReturnsError(t *testing.T) {
	want := errors.New("close failed")
	got := shutdown.Graceful("thing", time.Second, func(context.Context) error { return want }, logger.Nop())
	if !errors.Is(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSignalContext_ParentCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := shutdown.SignalContext(parent, logger.Nop())
	defer cancel()
	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with parent")
	}
}
