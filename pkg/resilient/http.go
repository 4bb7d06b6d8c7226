package resilient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimited converts an HTTP 429 into a RateLimitError carrying the
// server-supplied Retry-After (seconds form only; HTTP-date is ignored).
// Returns nil for any other status.
func RateLimited(res *http.Response) *RateLimitError {
	if res == nil || res.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	var after time.Duration
	if v := strings.TrimSpace(res.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			after = time.Duration(secs) * time.Second
		}
	}
	return &RateLimitError{RetryAfter: after}
}
