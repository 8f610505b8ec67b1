package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/feedbridge/common/backoff"
	"github.com/YaganovValera/feedbridge/common/logger"
)

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	cfg := backoff.Config{MaxElapsedTime: time.Second}
	called := 0
	err := backoff.Execute(context.Background(), cfg, logger.Nop(), func(ctx context.Context) error {
		called++
		return nil
	})
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if called != 1 {
		t.Errorf("expected 1 attempt, got %d", called)
	}
}

func TestExecute_EventualSuccess(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 5 * time.Millisecond, Multiplier: 1, MaxElapsedTime: time.Second}
	attemptsBeforeSuccess := 3
	called := 0
	err := backoff.Execute(context.Background(), cfg, logger.Nop(), func(ctx context.Context) error {
		called++
		if called < attemptsBeforeSuccess {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if called != attemptsBeforeSuccess {
		t.Errorf("expected %d attempts, got %d", attemptsBeforeSuccess, called)
	}
}

func TestExecute_MaxRetriesExceeded(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 10 * time.Millisecond, Multiplier: 1, MaxElapsedTime: 50 * time.Millisecond}
	called := 0
	err := backoff.Execute(context.Background(), cfg, logger.Nop(), func(ctx context.Context) error {
		called++
		return errors.New("always fail")
	})
	var maxErr *backoff.ErrMaxRetries
	if !errors.As(err, &maxErr) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if maxErr.Attempts != called {
		t.Errorf("attempts mismatch: ErrMaxRetries.Attempts=%d, actual=%d", maxErr.Attempts, called)
	}
}

func TestExecute_PermanentStops(t *testing.T) {
	sentinel := errors.New("not found")
	cfg := backoff.Config{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}
	called := 0
	err := backoff.Execute(context.Background(), cfg, logger.Nop(), func(ctx context.Context) error {
		called++
		return backoff.Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel in chain, got %v", err)
	}
	if called != 1 {
		t.Errorf("expected a single attempt, got %d", called)
	}
}

func TestExecute_MaxAttempts(t *testing.T) {
	cfg := backoff.Config{InitialInterval: time.Millisecond, Multiplier: 1, MaxAttempts: 3}
	called := 0
	err := backoff.Execute(context.Background(), cfg, logger.Nop(), func(ctx context.Context) error {
		called++
		return errors.New("always fail")
	})
	var maxErr *backoff.ErrMaxRetries
	if !errors.As(err, &maxErr) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if called != 3 || maxErr.Attempts != 3 {
		t.Errorf("expected 3 attempts, got called=%d reported=%d", called, maxErr.Attempts)
	}
}

func TestExecute_PerAttemptTimeout(t *testing.T) {
	cfg := backoff.Config{InitialInterval: time.Millisecond, MaxAttempts: 2, PerAttemptTimeout: 10 * time.Millisecond}
	err := backoff.Execute(context.Background(), cfg, logger.Nop(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded in chain, got %v", err)
	}
}

func TestExecute_InvalidConfig(t *testing.T) {
	err := backoff.Execute(context.Background(), backoff.Config{MaxAttempts: -1}, logger.Nop(), func(context.Context) error {
		t.Fatal("fn must not run on invalid config")
		return nil
	})
	if err == nil {
		t.Fatal("expected config error")
	}
}
