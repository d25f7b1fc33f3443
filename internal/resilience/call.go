// Package resilience runs backend port calls under a per-call timeout and a
// bounded retry policy. Ports do no retrying of their own; every call the
// orchestration core makes goes through Call.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/felixgeelhaar/fortify/timeout"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// Policy configures per-call timeout and retry behavior.
type Policy struct {
	// CallTimeout bounds a single attempt. Exceeding it is a transient failure.
	// Default: 15 seconds
	CallTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	// Default: 500 milliseconds
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	// Default: 10 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay between retries.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		CallTimeout:       15 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// PolicyFromConfig builds a Policy from orchestration settings.
func PolicyFromConfig(cfg config.OrchestrationConfig) Policy {
	p := Policy{
		CallTimeout:       cfg.CallTimeout.Duration(),
		MaxRetries:        cfg.Retry.MaxRetries,
		InitialBackoff:    cfg.Retry.InitialBackoff.Duration(),
		MaxBackoff:        cfg.Retry.MaxBackoff.Duration(),
		BackoffMultiplier: cfg.Retry.Multiplier,
	}
	if p.MaxRetries == 0 {
		// Zero in config means a single attempt; in a Policy it means default.
		p.MaxRetries = -1
	}
	p.ApplyDefaults()
	return p
}

// ApplyDefaults sets default values for unset fields.
func (p *Policy) ApplyDefaults() {
	defaults := DefaultPolicy()

	if p.CallTimeout == 0 {
		p.CallTimeout = defaults.CallTimeout
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = defaults.MaxRetries
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = defaults.MaxBackoff
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// NoRetry returns a copy of p that makes exactly one attempt.
func (p Policy) NoRetry() Policy {
	p.MaxRetries = -1
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff
	exp.Multiplier = p.BackoffMultiplier
	exp.RandomizationFactor = 0.2
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Call runs fn with a per-attempt timeout and retries transient failures.
//
// Errors are classified with qa.KindOf: transient failures and per-call
// timeouts are retried, everything else is returned immediately. When ctx is
// done the result is a qa.KindCancelled error. When retries are exhausted the
// last transient error is returned wrapped with the attempt count.
func Call[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	p.ApplyDefaults()
	logger := logging.FromContext(ctx)
	limiter := timeout.New[T](timeout.Config{DefaultTimeout: p.CallTimeout})

	var (
		result   T
		attempts int
		start    = time.Now()
	)

	attempt := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		defer cancel()

		v, err := limiter.Execute(attemptCtx, p.CallTimeout, fn)
		if err == nil {
			result = v
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if attemptCtx.Err() != nil {
			return qa.Transient(op, fmt.Errorf("call exceeded %s: %w", p.CallTimeout, err), "")
		}
		if qa.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		logger.Debug(ctx, "retrying backend call after transient error",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(attempt, p.backOff(ctx), notify)
	if err == nil {
		if attempts > 1 {
			logger.Info(ctx, "backend call recovered after retries",
				zap.String("op", op),
				zap.Int("attempts", attempts),
				zap.Duration("total_time", time.Since(start)),
			)
		}
		return result, nil
	}

	var zero T
	if ctx.Err() != nil {
		return zero, qa.NewError(op, qa.KindCancelled, ctx.Err(), "")
	}
	if errors.Is(err, qa.ErrTransient) && attempts > 1 {
		logger.Warn(ctx, "backend call failed after all retries exhausted",
			zap.String("op", op),
			zap.Int("total_attempts", attempts),
			zap.Duration("total_time", time.Since(start)),
			zap.Error(err),
		)
		return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
	}
	return zero, err
}

// Do is Call for operations without a result value.
func Do(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	_, err := Call(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
