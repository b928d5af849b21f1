package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleeper returns a Sleeper that records delays without sleeping.
func recordingSleeper(delays *[]time.Duration) Sleeper {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestPolicyBaseDelay(t *testing.T) {
	t.Parallel()

	p := Policy{InitialDelay: time.Second, BackoffFactor: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, w := range want {
		if got := p.BaseDelay(attempt); got != w {
			t.Errorf("BaseDelay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestPolicyDelayJitterBound(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	for attempt := range 4 {
		base := p.BaseDelay(attempt)
		for range 50 {
			d := p.Delay(attempt)
			if d < base || d >= base+p.MaxJitter {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, d, base, base+p.MaxJitter)
			}
		}
	}
}

func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after failures with increasing delays", func(t *testing.T) {
		t.Parallel()

		var delays []time.Duration
		calls := 0
		got, err := Do(context.Background(), DefaultPolicy(), func(_ context.Context, _ int) (string, error) {
			calls++
			if calls <= 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		}, WithSleeper(recordingSleeper(&delays)))
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if got != "ok" {
			t.Errorf("Do() = %q, want ok", got)
		}
		if len(delays) != 3 {
			t.Fatalf("recorded %d delays, want 3", len(delays))
		}
		for i := 1; i < len(delays); i++ {
			if delays[i] <= delays[i-1] {
				t.Errorf("delays not strictly increasing: %v", delays)
			}
		}
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		t.Parallel()

		var delays []time.Duration
		attempts := 0
		_, err := Do(context.Background(), DefaultPolicy(), func(_ context.Context, attempt int) (int, error) {
			attempts++
			return 0, errors.New("fail " + string(rune('0'+attempt)))
		}, WithSleeper(recordingSleeper(&delays)))
		if err == nil || err.Error() != "fail 3" {
			t.Errorf("err = %v, want fail 3", err)
		}
		if attempts != 4 {
			t.Errorf("attempts = %d, want 4", attempts)
		}
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		t.Parallel()

		sentinel := errors.New("not found")
		attempts := 0
		_, err := Do(context.Background(), DefaultPolicy(), func(_ context.Context, _ int) (int, error) {
			attempts++
			return 0, Permanent(sentinel)
		}, WithSleeper(func(context.Context, time.Duration) error { return nil }))
		if !errors.Is(err, sentinel) || !errors.Is(err, ErrPermanent) {
			t.Errorf("err = %v, want wrapped sentinel", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("on retry hook sees every retry", func(t *testing.T) {
		t.Parallel()

		var seen []int
		_, _ = Do(context.Background(), Policy{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffFactor: 2},
			func(_ context.Context, _ int) (int, error) { return 0, errors.New("x") },
			WithSleeper(func(context.Context, time.Duration) error { return nil }),
			OnRetry(func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) }),
		)
		if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
			t.Errorf("retry hook attempts = %v, want [0 1]", seen)
		}
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		_, err := Do(ctx, DefaultPolicy(), func(_ context.Context, _ int) (int, error) {
			attempts++
			cancel()
			return 0, errors.New("x")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})
}

func TestSleepHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() = %v, want context.Canceled", err)
	}
}
