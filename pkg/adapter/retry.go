package adapter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy defines retry and backoff behavior for transient provider errors.
type RetryPolicy struct {
	MaxRetries    int
	BaseBackoffMs int
	MaxBackoffMs  int
}

// DefaultRetryPolicy matches the config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000}
}

// Retrying wraps an adapter and retries transient failures with exponential backoff.
type Retrying struct {
	inner  Adapter
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps inner with the given policy. A nil logger disables logging.
func WithRetry(inner Adapter, policy RetryPolicy, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &Retrying{
		inner:  inner,
		policy: policy,
		logger: logger.Named("adapter"),
		sleep:  sleepWithContext,
	}
}

// Name returns the wrapped adapter's identifier.
func (r *Retrying) Name() string {
	return r.inner.Name()
}

// Models returns the wrapped adapter's models.
func (r *Retrying) Models() []string {
	return r.inner.Models()
}

// Unwrap returns the wrapped adapter.
func (r *Retrying) Unwrap() Adapter {
	return r.inner
}

// Generate calls the wrapped adapter, retrying transient errors.
func (r *Retrying) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		resp, err := r.inner.Generate(ctx, model, prompt)
		if err == nil {
			resp.Retries = attempt
			return resp, nil
		}

		lastErr = err
		if !IsTransient(err) || attempt == r.policy.MaxRetries {
			break
		}

		backoff := computeBackoff(r.policy.BaseBackoffMs, r.policy.MaxBackoffMs, attempt)
		r.logger.Debug("retrying transient provider error",
			zap.String("adapter", r.inner.Name()),
			zap.String("model", model),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := r.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("adapter call failed")
	}
	return nil, lastErr
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= time.Duration(maxMs)*time.Millisecond {
			return time.Duration(maxMs) * time.Millisecond
		}
	}
	if backoff > time.Duration(maxMs)*time.Millisecond {
		return time.Duration(maxMs) * time.Millisecond
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
