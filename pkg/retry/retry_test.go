package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_Success(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false, // Disable for predictable tests
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil // Success on third attempt
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel() // Cancel during retry
	}()

	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Less(t, attempts, 5) // Should not complete all attempts
}

func TestRetry_BackoffTiming(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	start := time.Now()
	attempts := 0

	_ = Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	elapsed := time.Since(start)

	// Should have delays: 10ms + 20ms + 40ms = 70ms minimum
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
	// Should not exceed 10ms + 20ms + 40ms + some overhead
	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.Equal(t, 4, attempts)
}

func TestRetry_MaxDelay(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond, // Low max delay
		Multiplier:   10.0,                  // High multiplier
		AddJitter:    false,
	}

	start := time.Now()

	_ = Do(ctx, cfg, func() error {
		return errors.New("error")
	})

	elapsed := time.Since(start)

	// Should have delays: 10ms + 25ms (capped) + 25ms (capped) = 60ms minimum
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	// Should not exceed reasonable overhead
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestRetry_WithResult(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	attempts := 0
	result, err := DoWithResult(ctx, cfg, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not ready")
		}
		return "success", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 3, attempts)
}

func TestRetry_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.True(t, cfg.AddJitter)
}

func TestRetry_NonRetryableStops(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	device := errors.New("device removed")
	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return NonRetryable(device)
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, device)
	assert.True(t, IsNonRetryable(err))
	assert.NoError(t, NonRetryable(nil))
}

func TestForDuration(t *testing.T) {
	for _, d := range []time.Duration{0, 5 * time.Millisecond, 100 * time.Millisecond, time.Second} {
		t.Run(d.String(), func(t *testing.T) {
			cfg := ForDuration(d)
			assert.False(t, cfg.AddJitter)
			assert.GreaterOrEqual(t, cfg.MaxAttempts, 1)

			// Sum the sleeps Do performs between attempts.
			var total time.Duration
			delay := cfg.InitialDelay
			for i := 1; i < cfg.MaxAttempts; i++ {
				total += delay
				delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
			}
			assert.GreaterOrEqual(t, total, d, "polling stops before the window closes")
			assert.Less(t, total, d+cfg.MaxDelay, "polling overruns the window by more than one step")
		})
	}

	assert.Equal(t, 1, ForDuration(0).MaxAttempts)
}

func TestPoll_ConditionMet(t *testing.T) {
	checks := 0
	err := Poll(context.Background(), ForDuration(time.Second), func() (bool, error) {
		checks++
		return checks == 3, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, checks)
}

func TestPoll_ErrorShortCircuits(t *testing.T) {
	fault := errors.New("peer invalidated")
	checks := 0
	err := Poll(context.Background(), ForDuration(time.Second), func() (bool, error) {
		checks++
		return false, fault
	})

	assert.Equal(t, 1, checks)
	assert.Equal(t, fault, err, "the condition's error is returned unwrapped")
}

func TestPoll_AttemptsExhausted(t *testing.T) {
	cfg := Config{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	checks := 0
	err := Poll(context.Background(), cfg, func() (bool, error) {
		checks++
		return false, nil
	})

	assert.Equal(t, 4, checks)
	assert.ErrorIs(t, err, ErrConditionNotMet)
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 1000, InitialDelay: 5 * time.Millisecond, MaxDelay: 5 * time.Millisecond}

	checks := 0
	start := time.Now()
	err := Poll(ctx, cfg, func() (bool, error) {
		checks++
		if checks == 2 {
			cancel()
		}
		return false, nil
	})

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 2, checks)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetry_ZeroAttempts(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts: 0, // Should still run once
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

// Benchmark to ensure performance
func BenchmarkRetry_Success(b *testing.B) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  1,
		InitialDelay: 1 * time.Millisecond,
		AddJitter:    false,
	}

	for i := 0; i < b.N; i++ {
		_ = Do(ctx, cfg, func() error {
			return nil
		})
	}
}

func ExamplePoll() {
	ctx := context.Background()
	populated := func() bool { return true }

	err := Poll(ctx, ForDuration(2*time.Second), func() (bool, error) {
		return populated(), nil
	})

	_ = err // ErrConditionNotMet when the window closes first
}
