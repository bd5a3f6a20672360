package cbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shrtyk/logstream-core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	fail := func(context.Context) (int, error) { return 0, boom }
	succeed := func(context.Context) (int, error) { return 1, nil }

	newBreaker := func() (*CircuitBreaker, *time.Time) {
		now := time.Unix(0, 0)
		cb := NewCircuitBreaker(api.CircuitBreakerCfg{
			FailureThreshold: 2,
			SuccessThreshold: 2,
			ResetTimeout:     time.Second,
		})
		cb.now = func() time.Time { return now }
		return cb, &now
	}

	t.Run("opens after consecutive failures", func(t *testing.T) {
		cb, _ := newBreaker()
		_, err := Do(ctx, cb, fail)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, Closed, cb.State())

		_, err = Do(ctx, cb, fail)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, Open, cb.State())
		assert.False(t, cb.IsClosed())

		_, err = Do(ctx, cb, succeed)
		assert.ErrorIs(t, err, ErrOpenState)
	})

	t.Run("success resets failure count", func(t *testing.T) {
		cb, _ := newBreaker()
		Do(ctx, cb, fail)
		Do(ctx, cb, succeed)
		Do(ctx, cb, fail)
		assert.Equal(t, Closed, cb.State())
	})

	t.Run("half open trial call", func(t *testing.T) {
		cb, now := newBreaker()
		Do(ctx, cb, fail)
		Do(ctx, cb, fail)
		require.Equal(t, Open, cb.State())

		*now = now.Add(time.Second)
		assert.True(t, cb.IsClosed())

		v, err := Do(ctx, cb, succeed)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		assert.Equal(t, HalfOpen, cb.State())

		Do(ctx, cb, succeed)
		assert.Equal(t, Closed, cb.State())
	})

	t.Run("failed trial call reopens", func(t *testing.T) {
		cb, now := newBreaker()
		Do(ctx, cb, fail)
		Do(ctx, cb, fail)
		*now = now.Add(time.Second)

		Do(ctx, cb, fail)
		assert.Equal(t, Open, cb.State())
		_, err := Do(ctx, cb, succeed)
		assert.ErrorIs(t, err, ErrOpenState)
	})

	t.Run("cancellation is not a failure", func(t *testing.T) {
		cb, _ := newBreaker()
		cancelled := func(context.Context) (int, error) { return 0, context.Canceled }
		Do(ctx, cb, cancelled)
		Do(ctx, cb, cancelled)
		Do(ctx, cb, cancelled)
		assert.Equal(t, Closed, cb.State())
	})
}
