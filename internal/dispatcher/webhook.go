package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/djlord-it/stepflow/internal/circuitbreaker"
	"github.com/djlord-it/stepflow/internal/domain"
)

const defaultTimeout = 30 * time.Second

// maxResponseBody caps how much of a channel response is read when
// extracting the delivery reference.
const maxResponseBody = 64 * 1024

// WebhookDispatcher delivers content by posting signed JSON to a
// per-channel HTTP endpoint.
type WebhookDispatcher struct {
	client    *http.Client
	endpoints map[domain.Channel]string
	secret    string
	timeout   time.Duration
	breaker   *circuitbreaker.CircuitBreaker // optional, nil = disabled
}

func NewWebhookDispatcher(endpoints map[domain.Channel]string, secret string, timeout time.Duration) *WebhookDispatcher {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &WebhookDispatcher{
		client:    &http.Client{},
		endpoints: endpoints,
		secret:    secret,
		timeout:   timeout,
	}
}

// WithCircuitBreaker guards each channel endpoint; open circuits fail
// fast without a network call.
func (d *WebhookDispatcher) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *WebhookDispatcher {
	d.breaker = cb
	return d
}

type webhookPayload struct {
	StepID    string `json:"step_id"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

type webhookResponse struct {
	Reference string `json:"reference"`
}

// Send posts the delivery payload with an HMAC signature.
// Headers: X-Stepflow-Step-ID, X-Stepflow-Signature.
func (d *WebhookDispatcher) Send(ctx context.Context, req Request) Result {
	endpoint, ok := d.endpoints[req.Channel]
	if !ok || endpoint == "" {
		return Result{Error: fmt.Errorf("no endpoint configured for channel %q", req.Channel)}
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(endpoint); err != nil {
			return Result{Error: fmt.Errorf("channel %s: %w", req.Channel, err)}
		}
	}

	body, err := json.Marshal(webhookPayload{
		StepID:    req.StepID,
		Channel:   string(req.Channel),
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
	})
	if err != nil {
		return Result{Error: fmt.Errorf("marshal: %w", err)}
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("create request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Stepflow-Step-ID", req.StepID)
	httpReq.Header.Set("X-Stepflow-Signature", computeSignature(d.secret, body))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		d.recordOutcome(endpoint, false)
		return Result{Error: fmt.Errorf("send: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.recordOutcome(endpoint, false)
		return Result{Error: fmt.Errorf("channel %s returned status %d", req.Channel, resp.StatusCode)}
	}

	d.recordOutcome(endpoint, true)

	// The channel may return its own message reference; fall back to
	// the step id so the record is never empty.
	reference := req.StepID
	var wr webhookResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&wr); err == nil && wr.Reference != "" {
		reference = wr.Reference
	}

	return Result{Reference: reference}
}

func (d *WebhookDispatcher) recordOutcome(endpoint string, success bool) {
	if d.breaker == nil {
		return
	}
	if success {
		d.breaker.RecordSuccess(endpoint)
	} else {
		d.breaker.RecordFailure(endpoint)
	}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for channel services to verify incoming payloads.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
