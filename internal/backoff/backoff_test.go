package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 1 * time.Second, Factor: 2, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second}, // capped
		{0, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_JitterBounds(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.5}

	lo := p.delayWithRand(2, 0)
	hi := p.delayWithRand(2, 0.999)
	if lo != 200*time.Millisecond {
		t.Errorf("zero-random delay = %v, want 200ms", lo)
	}
	if hi <= lo || hi > 300*time.Millisecond {
		t.Errorf("jittered delay = %v, want in (200ms, 300ms]", hi)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}

	calls := 0
	got, err := Retry(context.Background(), p, 5, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}

	boom := errors.New("boom")
	calls := 0
	_, err := Retry(context.Background(), p, 3, func(int) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("err = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}

	fatal := errors.New("bad request")
	calls := 0
	_, err := Retry(context.Background(), p, 5, func(int) (int, error) {
		calls++
		return 0, Permanent(fatal)
	})
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want cause", err)
	}
	if errors.Is(err, ErrAttemptsExhausted) {
		t.Error("permanent error reported as exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	p := Policy{Initial: time.Hour, Max: time.Hour, Factor: 1}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, p, 3, func(int) (int, error) {
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSleep(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		if err := Sleep(context.Background(), time.Millisecond); err != nil {
			t.Errorf("Sleep: %v", err)
		}
	})
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
	t.Run("zero duration", func(t *testing.T) {
		if err := Sleep(context.Background(), 0); err != nil {
			t.Errorf("Sleep(0): %v", err)
		}
	})
}
