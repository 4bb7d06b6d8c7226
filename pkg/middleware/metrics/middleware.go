package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Collect produces the HTTP middleware that records the counters/histogram.
// Identity counters are recorded at the handlers that resolve identity, not
// here: context values set by route-scoped middleware are invisible to an
// outer wrapper.
func Collect() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			startTime := time.Now()

			defer func() {
				// Skip self-scrape
				if r.URL.Path == "/metrics" {
					return
				}

				code := strconv.Itoa(ww.Status())
				uri := r.URL.Path // path only; avoid cardinality explosion

				totalHttpRequestsToUri.WithLabelValues(code, uri, r.Method).Inc()
				totalHttpRequests.WithLabelValues(code, r.Method).Inc()
				responseTime.Observe(time.Since(startTime).Seconds())
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// CountIdentity records one resolved caller identity ("verified" | "guest").
func CountIdentity(kind string) { totalCallerIdentities.WithLabelValues(kind).Inc() }
