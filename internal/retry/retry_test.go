package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
)

func init() {
	logging.InitNop()
}

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("unavailable"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), "test", fastConfig(5), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Errorf("expected one call returning sentinel, got %d calls, err %v", calls, err)
	}
}

func TestDo_ExhaustedReturnsCause(t *testing.T) {
	cause := errors.New("still down")
	calls := 0
	err := Do(context.Background(), "test", fastConfig(3), func() error {
		calls++
		return Retryable(cause)
	})
	if err != cause {
		t.Errorf("expected the unwrapped cause, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{InitialWait: time.Hour, Multiplier: 1}
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, "test", cfg, func() error { return Retryable(errors.New("x")) })
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDoWithResult(t *testing.T) {
	n, err := DoWithResult(context.Background(), "test", fastConfig(2), func() (int, error) {
		return 42, nil
	})
	if err != nil || n != 42 {
		t.Errorf("expected 42, got %d, %v", n, err)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := Config{InitialWait: time.Second, MaxWait: 3 * time.Second, Multiplier: 2}
	if got := backoff(cfg, 1); got != time.Second {
		t.Errorf("attempt 1: %v", got)
	}
	if got := backoff(cfg, 5); got != 3*time.Second {
		t.Errorf("attempt 5: %v", got)
	}
}
