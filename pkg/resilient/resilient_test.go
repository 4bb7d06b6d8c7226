package resilient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:       2,
		AttemptTimeout:    50 * time.Millisecond,
		TimeoutBackoff:    5 * time.Millisecond,
		DefaultRetryAfter: 10 * time.Millisecond,
	}
}

func TestDoFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastPolicy(), zap.NewNop(), func(ctx context.Context) (string, error) {
		calls++
		return "result", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "result", out)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTimeoutsThenSucceeds(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastPolicy(), zap.NewNop(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "eventually", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "eventually", out)
	assert.Equal(t, 3, calls)
}

func TestDoTimeoutsExhaustBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), zap.NewNop(), func(ctx context.Context) (string, error) {
		calls++
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestDoRateLimitHonorsRetryAfter(t *testing.T) {
	p := fastPolicy()
	calls := 0
	var gap time.Duration
	var last time.Time

	out, err := Do(context.Background(), p, zap.NewNop(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			last = time.Now()
			return "", &RateLimitError{RetryAfter: 60 * time.Millisecond}
		}
		gap = time.Since(last)
		return "after backoff", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "after backoff", out)
	assert.GreaterOrEqual(t, gap, 60*time.Millisecond, "server-directed wait must be honored")
}

func TestDoRateLimitExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), zap.NewNop(), func(ctx context.Context) (string, error) {
		calls++
		return "", &RateLimitError{}
	})
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.Equal(t, 3, calls)
}

func TestDoOtherErrorsAreNotRetried(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), zap.NewNop(), func(ctx context.Context) (string, error) {
		calls++
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoParentCancellationWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, fastPolicy(), zap.NewNop(), func(ctx context.Context) (string, error) {
		calls++
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoObservesOutcomes(t *testing.T) {
	var outcomes []string
	p := fastPolicy()
	p.OnAttempt = func(o string) { outcomes = append(outcomes, o) }

	calls := 0
	_, err := Do(context.Background(), p, zap.NewNop(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"timeout", "ok"}, outcomes)
}

func TestRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/limited":
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/limited-no-header":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/limited")
	require.NoError(t, err)
	res.Body.Close()
	rle := RateLimited(res)
	require.NotNil(t, rle)
	assert.Equal(t, 2*time.Second, rle.RetryAfter)

	res, err = http.Get(srv.URL + "/limited-no-header")
	require.NoError(t, err)
	res.Body.Close()
	rle = RateLimited(res)
	require.NotNil(t, rle)
	assert.Zero(t, rle.RetryAfter)

	res, err = http.Get(srv.URL + "/ok")
	require.NoError(t, err)
	res.Body.Close()
	assert.Nil(t, RateLimited(res))
}
