package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryProvider repeats calls that failed for a temporary reason. Rejected
// requests are returned at once; an empty reply gets one more try.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WithRetry wraps a Provider with retry logic.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryProvider{inner: p, config: cfg}
}

func (r *RetryProvider) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	emptyRetried := false

	for attempt := range r.config.MaxAttempts {
		out, err := r.attempt(ctx, req)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err

		if attempt == r.config.MaxAttempts-1 || !r.retryable(err, &emptyRetried) {
			break
		}

		wait := r.backoff(attempt, err)
		// Give up early when the caller's deadline would pass while waiting.
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

// attempt makes one call bounded by AttemptTimeout.
func (r *RetryProvider) attempt(ctx context.Context, req Request) (string, error) {
	if r.config.AttemptTimeout <= 0 {
		return r.inner.Complete(ctx, req)
	}
	actx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()
	out, err := r.inner.Complete(actx, req)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return "", unreachable(r.inner.ModelID(), err)
	}
	return out, err
}

func (r *RetryProvider) ModelID() string {
	return r.inner.ModelID()
}

// Unwrap returns the wrapped provider.
func (r *RetryProvider) Unwrap() Provider { return r.inner }

func (r *RetryProvider) retryable(err error, emptyRetried *bool) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Failure == FailEmptyReply {
		if *emptyRetried {
			return false
		}
		*emptyRetried = true
		return true
	}
	return pe.Temporary()
}

func (r *RetryProvider) backoff(attempt int, err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}

	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}
	// ±20% jitter.
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	return time.Duration(max(wait, 0))
}
