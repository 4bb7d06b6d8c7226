// pkg/resilient/resilient.go
package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrTimedOut is the terminal error after the retry budget is exhausted on
// per-attempt timeouts. The message is user-facing.
var ErrTimedOut = errors.New("the request took too long, please retry")

// ErrOverloaded is the terminal error after the retry budget is exhausted on
// upstream rate limiting. Distinct from ErrTimedOut so the UI can branch.
var ErrOverloaded = errors.New("the service is temporarily overloaded, try again in a few minutes")

// RateLimitError signals an upstream 429. RetryAfter may carry the
// server-supplied backoff; zero means "use the policy default".
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limited (retry after %s)", e.RetryAfter)
	}
	return "upstream rate limited"
}

// Policy bounds one logical call: a hard per-attempt timeout, a retry budget,
// a linear backoff unit for timeouts, and a fallback wait for rate limits.
//
// Backoff is deliberately linear for timeouts and server-directed for rate
// limits, not exponential; keep it that way unless the upstream rate-limit
// contract changes.
type Policy struct {
	MaxAttempts       int           // retries beyond the first attempt
	AttemptTimeout    time.Duration // hard cap per attempt
	TimeoutBackoff    time.Duration // wait = attempt x TimeoutBackoff
	DefaultRetryAfter time.Duration // when the 429 carries no Retry-After

	// OnAttempt, when set, observes each attempt outcome:
	// "ok" | "timeout" | "rate_limited" | "error".
	OnAttempt func(outcome string)
}

// DefaultPolicy mirrors the upstream AI contract: 45s attempts, two retries,
// 1s linear backoff, 5s default rate-limit wait.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       2,
		AttemptTimeout:    45 * time.Second,
		TimeoutBackoff:    1 * time.Second,
		DefaultRetryAfter: 5 * time.Second,
	}
}

func (p Policy) observe(outcome string) {
	if p.OnAttempt != nil {
		p.OnAttempt(outcome)
	}
}

// Do executes fn with the policy's timeout and retry semantics. Each attempt
// receives a context cancelled when its deadline fires, so the in-flight call
// releases its connection promptly. Only timeouts and rate limits are
// retried; every other failure propagates unchanged on the first occurrence.
//
// At most MaxAttempts+1 attempts run per logical call.
func Do[T any](ctx context.Context, p Policy, log *zap.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		out, err := fn(actx)
		cancel()

		if err == nil {
			p.observe("ok")
			return out, nil
		}

		// Caller cancellation is never retried.
		if ctx.Err() != nil {
			p.observe("error")
			return zero, ctx.Err()
		}

		var wait time.Duration
		var rle *RateLimitError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			p.observe("timeout")
			if attempt >= p.MaxAttempts {
				log.Warn("upstream call timed out, retries exhausted",
					zap.Int("attempts", attempt+1))
				return zero, ErrTimedOut
			}
			wait = time.Duration(attempt+1) * p.TimeoutBackoff
			log.Warn("upstream call timed out, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait))

		case errors.As(err, &rle):
			p.observe("rate_limited")
			if attempt >= p.MaxAttempts {
				log.Warn("upstream rate limited, retries exhausted",
					zap.Int("attempts", attempt+1))
				return zero, ErrOverloaded
			}
			wait = rle.RetryAfter
			if wait <= 0 {
				wait = p.DefaultRetryAfter
			}
			log.Warn("upstream rate limited, backing off",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait))

		default:
			p.observe("error")
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
}
