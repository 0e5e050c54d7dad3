package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vertexgw/vertex-gateway/internal/config"
	"github.com/vertexgw/vertex-gateway/internal/domain"
	"github.com/vertexgw/vertex-gateway/internal/metrics"
)

// PolicyConfig tunes the retry loop around the breaker gate.
type PolicyConfig struct {
	MaxRetries        int
	InitialWait       time.Duration
	MaxWait           time.Duration
	BackoffBase       float64
	PerAttemptTimeout time.Duration
	// RandomizationFactor jitters each wait to avoid thundering herds.
	RandomizationFactor float64
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxRetries:          3,
		InitialWait:         1 * time.Second,
		MaxWait:             60 * time.Second,
		BackoffBase:         2.0,
		PerAttemptTimeout:   60 * time.Second,
		RandomizationFactor: 0.2,
	}
}

// PolicyConfigFrom maps the application config onto policy knobs.
func PolicyConfigFrom(cfg *config.Config) PolicyConfig {
	p := DefaultPolicyConfig()
	p.MaxRetries = cfg.MaxRetries
	p.InitialWait = cfg.InitialWait
	p.MaxWait = cfg.MaxWait
	p.BackoffBase = cfg.BackoffBase
	p.PerAttemptTimeout = cfg.RequestTimeout
	return p
}

// Policy owns every retry/backoff decision: errors only surface to the
// caller once the retry budget is exhausted or the failure is fatal.
type Policy struct {
	breakers *Manager
	cfg      PolicyConfig
}

func NewPolicy(breakers *Manager, cfg PolicyConfig) *Policy {
	return &Policy{breakers: breakers, cfg: cfg}
}

// Breaker exposes the breaker for key, for callers (streaming) that gate a
// single attempt without the retry loop.
func (p *Policy) Breaker(key string) Breaker {
	return p.breakers.Get(key)
}

// BreakerStates reports the state of every breaker created so far.
func (p *Policy) BreakerStates(ctx context.Context) map[string]string {
	return p.breakers.States(ctx)
}

// Execute runs op behind the circuit breaker for key, retrying retryable
// failures with exponential backoff. The failure kind drives the decision:
//
//   - rate-limit and transient API errors are retried, each attempt counting
//     toward the breaker's failure tally; a retry-after hint overrides the
//     computed wait when larger
//   - authentication, model-not-found and invalid-request errors propagate
//     immediately and never touch the breaker
//   - cancellation propagates immediately and counts as neither success nor
//     failure
func Execute[T any](ctx context.Context, p *Policy, key string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	br := p.breakers.Get(key)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.InitialWait
	eb.Multiplier = p.cfg.BackoffBase
	eb.MaxInterval = p.cfg.MaxWait
	eb.RandomizationFactor = p.cfg.RandomizationFactor
	eb.MaxElapsedTime = 0 // the attempt budget is the only stop condition
	eb.Reset()

	attempts := p.cfg.MaxRetries + 1
	var lastErr error

	for try := 0; try < attempts; try++ {
		if err := br.Allow(ctx); err != nil {
			return zero, err
		}

		result, err := attempt(ctx, p.cfg.PerAttemptTimeout, op)
		if err == nil {
			br.RecordSuccess(ctx)
			return result, nil
		}

		e := classify(err)
		if e.Kind == domain.KindCancelled {
			// Indeterminate: drop without touching the breaker.
			return zero, e
		}
		if !e.Retryable {
			return zero, e
		}

		br.RecordFailure(ctx)
		lastErr = e

		if try == attempts-1 {
			break
		}

		wait := eb.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if e.RetryAfter > wait {
			wait = e.RetryAfter
		}
		if wait > p.cfg.MaxWait {
			wait = p.cfg.MaxWait
		}

		metrics.RecordRetry(key, string(e.Kind))
		slog.Warn("retrying after failure",
			"breaker_key", key,
			"attempt", try+1,
			"max_attempts", attempts,
			"wait", wait,
			"error_kind", e.Kind,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, domain.NewCancelledError().WithCause(ctx.Err())
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// attempt runs op under the per-attempt timeout, so one hung attempt cannot
// exceed it before the backoff logic re-evaluates.
func attempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := op(attemptCtx)
	if err == nil {
		return result, nil
	}

	var zero T
	if ctx.Err() != nil {
		return zero, domain.NewCancelledError().WithCause(ctx.Err())
	}
	if attemptCtx.Err() == context.DeadlineExceeded {
		return zero, domain.NewTransientAPIError("attempt exceeded the per-attempt timeout", 0).WithCause(err)
	}
	return zero, err
}

// classify normalizes foreign errors into the closed taxonomy. Transports
// classify their own failures; anything that reaches here unclassified is
// treated as fatal, since retrying an unknown failure would be guesswork.
func classify(err error) *domain.Error {
	if e, ok := domain.AsError(err); ok {
		return e
	}
	return (&domain.Error{
		Kind:        domain.KindInvalidRequest,
		Message:     err.Error(),
		Retryable:   false,
		Remediation: "inspect the underlying error; it was not produced by a known transport",
	}).WithCause(err)
}
