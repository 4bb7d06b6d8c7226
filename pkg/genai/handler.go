// pkg/genai/handler.go
package genai

import (
	"encoding/json"
	"errors"
	"net/http"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sydworks/chat-edge/pkg/resilient"
)

// Handler exposes Client.Generate over HTTP. Terminal wrapper errors map to
// distinct status codes so callers can tell "try again now" from "back off".
type Handler struct {
	client *Client
	log    *zap.Logger
}

func NewHandler(client *Client, log *zap.Logger) *Handler {
	return &Handler{client: client, log: log}
}

type generateBody struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := chimd.GetReqID(r.Context())

	var body generateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Prompt == "" {
		writeJSONError(w, http.StatusBadRequest, "A non-empty prompt is required")
		return
	}

	text, err := h.client.Generate(r.Context(), body.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, resilient.ErrTimedOut):
			writeJSONError(w, http.StatusGatewayTimeout, err.Error())
		case errors.Is(err, resilient.ErrOverloaded):
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.log.Error("generate failed", zap.String("requestId", reqID), zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(GenerateResponse{Text: text})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
