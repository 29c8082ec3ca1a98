// Package webhook is the outbound HTTP collaborator: it signs payloads and
// POSTs them to subscriber endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/circuitbreaker"
	"github.com/lalithlochan/pulse/internal/signer"
)

const (
	// SignatureHeader carries the lowercase-hex HMAC-SHA256 digest of the
	// exact body bytes.
	SignatureHeader = "X-Webhook-Signature"
	// TimestampHeader carries an ISO-8601 UTC timestamp.
	TimestampHeader = "X-Webhook-Timestamp"

	// maxBodyPreview bounds how much of the subscriber response is retained.
	maxBodyPreview = 1000
)

// ErrTimeout indicates the subscriber did not respond within the deadline.
var ErrTimeout = errors.New("webhook request timed out")

// Result is the classified outcome of a delivery attempt that reached the
// subscriber. Status codes below 400 count as success.
type Result struct {
	StatusCode int
	Body       string
}

// OK reports whether the attempt succeeded.
func (r *Result) OK() bool {
	return r.StatusCode < 400
}

// Client delivers signed payloads over HTTP.
type Client struct {
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// Config holds delivery settings.
type Config struct {
	Timeout time.Duration
}

// NewClient creates a webhook client. The breaker is optional; when set,
// deliveries fail fast while the downstream is considered unavailable.
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Post signs payload with the subscription secret and POSTs it to url.
// Network errors and timeouts return an error; any HTTP response returns a
// Result for the caller to classify.
func (c *Client) Post(ctx context.Context, url, secret string, payload any) (*Result, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, fmt.Errorf("%w: webhook endpoint unavailable", circuitbreaker.ErrCircuitOpen)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Pulse/1.0")
	req.Header.Set(SignatureHeader, signer.Sign(body, secret))
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))

	resp, err := c.http.Do(req)
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, url)
		}
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyPreview))

	result := &Result{
		StatusCode: resp.StatusCode,
		Body:       string(preview),
	}

	if c.breaker != nil {
		if result.OK() {
			c.breaker.RecordSuccess()
		} else {
			c.breaker.RecordFailure()
		}
	}

	c.logger.Debug("webhook posted",
		zap.String("url", url),
		zap.Int("status_code", resp.StatusCode),
	)

	return result, nil
}
