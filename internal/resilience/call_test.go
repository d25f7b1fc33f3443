package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

func fastPolicy() Policy {
	return Policy{
		CallTimeout:       200 * time.Millisecond,
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestPolicy_ApplyDefaults(t *testing.T) {
	p := Policy{}
	p.ApplyDefaults()
	assert.Equal(t, DefaultPolicy(), p)

	p = Policy{MaxRetries: 7, CallTimeout: time.Second}
	p.ApplyDefaults()
	assert.Equal(t, 7, p.MaxRetries)
	assert.Equal(t, time.Second, p.CallTimeout)
	assert.Equal(t, 2.0, p.BackoffMultiplier)
}

func TestCall_Success(t *testing.T) {
	got, err := Call(context.Background(), fastPolicy(), "test.op", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	got, err := Call(context.Background(), fastPolicy(), "test.op", func(ctx context.Context) (int, error) {
		if calls.Add(1) < 3 {
			return 0, qa.Transient("test.op", errors.New("503"), "")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	_, err := Call(context.Background(), fastPolicy(), "test.op", func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, qa.Transient("test.op", errors.New("connection reset"), "")
	})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus MaxRetries")
	assert.Equal(t, qa.KindTransient, qa.KindOf(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestCall_DoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind qa.Kind
	}{
		{"not found", qa.NotFound("test.op", errors.New("404"), "PROJ-1"), qa.KindNotFound},
		{"invalid input", qa.InvalidInput("test.op", "bad"), qa.KindInvalidInput},
		{"plain error", errors.New("401 unauthorized"), qa.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			_, err := Call(context.Background(), fastPolicy(), "test.op", func(ctx context.Context) (int, error) {
				calls.Add(1)
				return 0, tt.err
			})
			require.Error(t, err)
			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, tt.kind, qa.KindOf(err))
		})
	}
}

func TestCall_PerCallTimeoutIsRetryable(t *testing.T) {
	var calls atomic.Int32
	p := fastPolicy()
	p.CallTimeout = 20 * time.Millisecond

	got, err := Call(context.Background(), p, "test.slow", func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "second try", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "second try", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan error, 1)
	go func() {
		_, err := Call(ctx, fastPolicy(), "test.op", func(ctx context.Context) (int, error) {
			calls.Add(1)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, qa.KindCancelled, qa.KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	case <-time.After(time.Second):
		t.Fatal("Call did not return after cancellation")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	t.Run("zero retries makes one attempt", func(t *testing.T) {
		cfg := config.Default().Orchestration
		cfg.Retry.MaxRetries = 0
		cfg.Retry.InitialBackoff = config.Duration(time.Millisecond)

		var calls atomic.Int32
		err := Do(context.Background(), PolicyFromConfig(cfg), "test.op", func(ctx context.Context) error {
			calls.Add(1)
			return qa.Transient("test.op", errors.New("503"), "")
		})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("configured retries kept", func(t *testing.T) {
		cfg := config.Default().Orchestration
		cfg.Retry.MaxRetries = 5
		p := PolicyFromConfig(cfg)
		assert.Equal(t, 5, p.MaxRetries)
		assert.Equal(t, cfg.CallTimeout.Duration(), p.CallTimeout)
	})
}

func TestNoRetry(t *testing.T) {
	var calls atomic.Int32
	err := Do(context.Background(), fastPolicy().NoRetry(), "test.op", func(ctx context.Context) error {
		calls.Add(1)
		return qa.Transient("test.op", errors.New("503"), "")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, qa.KindTransient, qa.KindOf(err))
}
