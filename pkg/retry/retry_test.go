package retry_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/HMasataka/mirror/pkg/retry"
	"github.com/stretchr/testify/assert"
)

var fast = retry.Config{Attempts: 4, BaseInterval: time.Millisecond, MaxBackoff: 4 * time.Millisecond}

func TestDo(t *testing.T) {
	t.Run("一時的なエラーは再試行する", func(t *testing.T) {
		calls := 0
		err := retry.Do(context.Background(), fast, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("unavailable")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("回数の上限", func(t *testing.T) {
		calls := 0
		want := errors.New("unavailable")
		err := retry.Do(context.Background(), fast, func(context.Context) error {
			calls++
			return want
		})

		assert.ErrorIs(t, err, want)
		assert.Equal(t, fast.Attempts, calls)
	})

	t.Run("Permanentは再試行しない", func(t *testing.T) {
		calls := 0
		want := errors.New("permission denied")
		err := retry.Do(context.Background(), fast, func(context.Context) error {
			calls++
			return retry.Permanent(want)
		})

		assert.Same(t, want, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("キャンセル済みのコンテキスト", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := retry.Do(ctx, fast, func(context.Context) error {
			calls++
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, calls)
	})

	t.Run("Attemptsが0でも一度は実行する", func(t *testing.T) {
		calls := 0
		err := retry.Do(context.Background(), retry.Config{}, func(context.Context) error {
			calls++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestShouldRetry(t *testing.T) {
	assert.False(t, retry.ShouldRetry(nil))
	assert.False(t, retry.ShouldRetry(io.EOF))
	assert.False(t, retry.ShouldRetry(context.DeadlineExceeded))
	assert.False(t, retry.ShouldRetry(retry.Permanent(errors.New("x"))))
	assert.True(t, retry.ShouldRetry(errors.New("x")))
	assert.Nil(t, retry.Permanent(nil))
}

func TestBackoff(t *testing.T) {
	for attempt := range 10 {
		d := retry.Backoff(attempt, 10*time.Millisecond, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
		assert.Greater(t, d, time.Duration(0))
	}
}
