// ABOUTME: Audit sink that POSTs {"content": line} to a webhook URL
// ABOUTME: Optionally signs each request with a short-lived HS256 bearer token

package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/vpsbot/internal/auth"
)

const defaultWebhookTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is quoted in the error.
const maxErrorBody = 512

// WebhookPayload is the JSON body posted for each record.
type WebhookPayload struct {
	Content string `json:"content"`
}

// WebhookSink posts audit records to an HTTP endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
	signer *auth.WebhookSigner
}

// WebhookOption customizes a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithSigner attaches a bearer token to every request.
func WithSigner(s *auth.WebhookSigner) WebhookOption {
	return func(w *WebhookSink) { w.signer = s }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookSink) { w.client = c }
}

// NewWebhookSink creates a sink for url. A zero timeout uses a 10s default.
func NewWebhookSink(url string, timeout time.Duration, opts ...WebhookOption) *WebhookSink {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	w := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record implements AuditSink.
func (w *WebhookSink) Record(ctx context.Context, line string) error {
	body, err := json.Marshal(WebhookPayload{Content: line})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if w.signer != nil {
		sum := sha256.Sum256(body)
		token, err := w.signer.Sign(uuid.NewString(), hex.EncodeToString(sum[:]))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
