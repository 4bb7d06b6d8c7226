// pkg/genai/client.go
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/sydworks/chat-edge/pkg/resilient"
)

// Client talks to the generative AI upstream directly, without the chat
// relay in between. Every call runs under the resilient policy, so slow or
// rate-limited upstreams surface as the wrapper's terminal errors rather
// than hanging the caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	policy     resilient.Policy
	log        *zap.Logger
}

type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

func NewClient(httpClient *http.Client, baseURL, model string, policy resilient.Policy, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		model:      model,
		policy:     policy,
		log:        log,
	}
}

// Generate submits a prompt and returns the completed text. Retries and
// backoff are the policy's business; callers only ever see a result or a
// terminal error.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(GenerateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	return resilient.Do(ctx, c.policy, c.log, func(actx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(actx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := c.httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer res.Body.Close()

		if rle := resilient.RateLimited(res); rle != nil {
			io.Copy(io.Discard, res.Body)
			return "", rle
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			return "", fmt.Errorf("upstream status %d: %s", res.StatusCode, body)
		}

		var out GenerateResponse
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return out.Text, nil
	})
}
