package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestLake_Retry_DefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.BaseBackoff)
	require.Equal(t, 5*time.Second, cfg.MaxBackoff)
	require.Nil(t, cfg.Retryable)
}

func TestLake_Retry_Do(t *testing.T) {
	t.Parallel()

	t.Run("succeeds on first attempt", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("succeeds after retryable failures", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("dial tcp 127.0.0.1:5432: connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("wraps last error when attempts are exhausted", func(t *testing.T) {
		t.Parallel()
		orig := errors.New("connection reset by peer")
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			return orig
		})
		require.ErrorIs(t, err, orig)
		require.Contains(t, err.Error(), "failed after 3 attempts")
		require.Equal(t, 3, attempts)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		t.Parallel()
		orig := errors.New("syntax error at or near SELEC")
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			return orig
		})
		require.Equal(t, orig, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("custom retryable predicate", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		cfg := fastConfig(4)
		cfg.Retryable = func(err error) bool { return err.Error() == "again" }
		err := Do(context.Background(), cfg, func() error {
			attempts++
			if attempts < 4 {
				return errors.New("again")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 4, attempts)
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cfg := Config{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
		attempts := 0
		err := Do(ctx, cfg, func() error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("connection reset")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 2, attempts)
	})
}

func TestLake_Retry_DoValue(t *testing.T) {
	t.Parallel()

	attempts := 0
	v, err := DoValue(context.Background(), fastConfig(3), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("failed to ping: EOF")
		}
		return "ready", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ready", v)
	require.Equal(t, 2, attempts)
}

func TestLake_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"starting up", errors.New("FATAL: the database system is starting up"), true},
		{"container wait", errors.New("wait until ready: timeout"), true},
		{"query error", errors.New(`relation "raw.yellow_taxi_trip" does not exist`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestLake_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()

	for attempt := 1; attempt <= 6; attempt++ {
		b := calculateBackoff(100*time.Millisecond, time.Second, attempt)
		require.LessOrEqual(t, b, time.Second)
		require.Greater(t, b, time.Duration(0))
	}
}
