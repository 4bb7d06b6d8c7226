// pkg/relay/chat.go
package relay

import (
	"errors"
	"io"
	"net/http"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sydworks/chat-edge/pkg/middleware/auth"
	"github.com/sydworks/chat-edge/pkg/middleware/metrics"
	"github.com/sydworks/chat-edge/pkg/token"
)

// ChatHandler relays chat requests to the downstream service. The caller's
// external credential never crosses the relay; each request gets a fresh
// short-lived internal credential instead, and the downstream response body
// is streamed back without buffering.
type ChatHandler struct {
	issuer *token.Issuer
	client *http.Client
	target string // <base><chat_path>
	log    *zap.Logger
}

func NewChatHandler(issuer *token.Issuer, client *http.Client, baseURL, chatPath string, log *zap.Logger) *ChatHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatHandler{
		issuer: issuer,
		client: client,
		target: baseURL + chatPath,
		log:    log,
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := chimd.GetReqID(r.Context())

	// Identity is resolved by auth.ResolveIdentity on this route; a missing
	// value means the middleware was not wired, which we treat as guest.
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		id = auth.NewGuest()
	}
	if id.Guest {
		metrics.CountIdentity("guest")
	} else {
		metrics.CountIdentity("verified")
	}

	internal, err := h.issuer.Issue(token.Subject{UID: id.Subject, Email: id.Email})
	if err != nil {
		if errors.Is(err, token.ErrNotConfigured) {
			h.log.Error("internal credential issuer not configured", zap.String("requestId", reqID))
		} else {
			h.log.Error("internal credential issue failed", zap.String("requestId", reqID), zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, ErrorEnvelope{Error: "Internal server error"})
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.target, r.Body)
	if err != nil {
		h.log.Error("build downstream request failed", zap.String("requestId", reqID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorEnvelope{Error: "Internal server error"})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+internal) // internal credential, never the external one
	if reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}

	res, err := h.client.Do(req)
	if err != nil {
		h.log.Error("downstream unreachable",
			zap.String("requestId", reqID),
			zap.String("target", h.target),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorEnvelope{Error: "Proxy error"})
		return
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(res.Body)
		h.log.Warn("downstream error",
			zap.String("requestId", reqID),
			zap.Int("status", res.StatusCode))
		writeError(w, res.StatusCode, ErrorEnvelope{
			Error:   "Backend error",
			Details: string(body),
			Status:  res.StatusCode,
		})
		return
	}

	h.stream(w, res.Body, reqID)
}

// stream copies the downstream body to the caller chunk by chunk, flushing
// after every write so the first bytes reach the browser before the
// downstream finishes. A write failure means the caller went away; the
// deferred close above tears down the downstream reader.
func (h *ChatHandler) stream(w http.ResponseWriter, body io.Reader, reqID string) {
	hdr := w.Header()
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("Cache-Control", "no-cache, no-transform, no-store")
	hdr.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.log.Warn("caller disconnected mid-stream", zap.String("requestId", reqID))
				return
			}
			metrics.AddStreamedBytes(int64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				h.log.Warn("downstream stream error", zap.String("requestId", reqID), zap.Error(rerr))
			}
			return
		}
	}
}
