// pkg/relay/forward.go
package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ForwardHandler relays any method and subpath under its mount point to the
// matching path on the downstream service. Unlike the chat relay it does not
// mint credentials: an incoming Authorization header is copied through as-is,
// and its absence is forwarded as-is too. The downstream decides.
type ForwardHandler struct {
	client *http.Client
	base   string // <base><forward_prefix>
	log    *zap.Logger
}

func NewForwardHandler(client *http.Client, baseURL, forwardPrefix string, log *zap.Logger) *ForwardHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &ForwardHandler{
		client: client,
		base:   baseURL + forwardPrefix,
		log:    log,
	}
}

func (h *ForwardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := chimd.GetReqID(r.Context())

	subPath := chi.URLParam(r, "*")
	target := h.base
	if subPath != "" {
		target += "/" + subPath
	}

	var outBody io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		raw, err := io.ReadAll(r.Body)
		if err == nil && json.Valid(raw) {
			outBody = bytes.NewReader(raw)
		}
		// A body that is not valid JSON is forwarded as no body at all.
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, outBody)
	if err != nil {
		h.log.Error("build downstream request failed", zap.String("requestId", reqID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorEnvelope{Error: "Internal server error"})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	if bearer := r.Header.Get("Authorization"); bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	if reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}

	res, err := h.client.Do(req)
	if err != nil {
		h.log.Error("downstream unreachable",
			zap.String("requestId", reqID),
			zap.String("target", target),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorEnvelope{Error: "Proxy error"})
		return
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		h.log.Error("read downstream response failed", zap.String("requestId", reqID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorEnvelope{Error: "Proxy error"})
		return
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		h.log.Warn("downstream error",
			zap.String("requestId", reqID),
			zap.String("target", target),
			zap.Int("status", res.StatusCode))
		// Structured downstream errors pass through verbatim so the caller
		// sees the service's own error shape. Anything else gets wrapped.
		if json.Valid(body) {
			writeJSON(w, res.StatusCode, body)
			return
		}
		writeError(w, res.StatusCode, ErrorEnvelope{
			Error:   "Backend error",
			Details: string(body),
		})
		return
	}

	writeJSON(w, res.StatusCode, body)
}
