// pkg/relay/envelope.go
package relay

import (
	"encoding/json"
	"net/http"
)

// ErrorEnvelope is the stable error shape both relays return when the
// downstream response cannot be passed through as-is.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Status  int    `json:"status,omitempty"`
}

func writeError(w http.ResponseWriter, status int, e ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
		return
	}
	_, _ = w.Write([]byte(`{}`))
}
