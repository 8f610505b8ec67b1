package safe_test

import (
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/common/safe"
)

func TestRun_RecoversPanic(t *testing.T) {
	var got *safe.PanicError
	safe.Run(logger.Nop(), func() { panic("boom") }, func(pe *safe.PanicError) { got = pe })
	if got == nil {
		t.Fatal("onPanic was not called")
	}
	if got.Value != "boom" || len(got.Stack) == 0 {
		t.Errorf("unexpected panic error: %+v", got)
	}
	if got.Unwrap() != nil {
		t.Errorf("string panic must not unwrap to an error")
	}
}

func TestRun_ErrorValueUnwraps(t *testing.T) {
	sentinel := errors.New("sentinel")
	var got error
	safe.Run(logger.Nop(), func() { panic(sentinel) }, func(pe *safe.PanicError) { got = pe })
	if !errors.Is(got, sentinel) {
		t.Errorf("expected sentinel in chain, got %v", got)
	}
}

func TestGo_NoPanic(t *testing.T) {
	done := make(chan struct{})
	safe.Go(logger.Nop(), func() { close(done) }, func(*safe.PanicError) {
		t.Error("onPanic must not be called")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGo_NilOnPanic(t *testing.T) {
	done := make(chan struct{})
	safe.Go(logger.Nop(), func() {
		defer close(done)
		panic("ignored")
	}, nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
