// Package httpqueue implements queue.Backend as a signed, retryable HTTP
// webhook: Enqueue POSTs the job to a worker's /internal/segment endpoint
// with an HMAC-SHA256 signature over the body, and Verify on the receiving
// side rejects anything that doesn't carry a matching signature. There is no
// signed-webhook library in the surrounding stack to reach for, so this uses
// crypto/hmac directly.
package httpqueue

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

	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/retry"
	"github.com/sagaworks/saga-engine/internal/telemetry"
)

const signatureHeader = "X-Saga-Signature"

// Backend posts jobs to a fixed worker URL.
type Backend struct {
	client     *http.Client
	url        string
	secret     []byte
	retryCfg   retry.Config
	log        telemetry.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient overrides the http.Client used to deliver jobs.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// WithRetryConfig overrides the delivery retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(b *Backend) { b.retryCfg = cfg }
}

// WithLogger sets the backend's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New constructs a Backend that delivers to url, signing bodies with secret.
func New(url string, secret []byte, opts ...Option) *Backend {
	b := &Backend{
		client:   http.DefaultClient,
		url:      url,
		secret:   secret,
		retryCfg: retry.DefaultToolConfig(),
		log:      telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) Enqueue(ctx context.Context, job queue.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("httpqueue: marshal job: %w", err)
	}
	sig := sign(b.secret, body)

	return retry.Do(ctx, b.retryCfg, isRetryableDeliveryError, func(ctx context.Context, attempt int) error {
		delay := time.Until(job.NotBefore)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("httpqueue: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(signatureHeader, sig)

		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("httpqueue: deliver job attempt %d: %w", attempt, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse

		if resp.StatusCode >= 500 {
			return fmt.Errorf("httpqueue: worker returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			b.log.Error(ctx, "httpqueue: worker rejected job", "status", resp.StatusCode, "execution_id", job.ExecutionID)
			return nil // non-retryable client error; drop rather than hot-loop
		}
		return nil
	})
}

func isRetryableDeliveryError(error) bool { return true }

// sign returns the hex-encoded HMAC-SHA256 of body under secret.
func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the correct HMAC-SHA256 of body under
// secret, using a constant-time comparison.
func Verify(secret, body []byte, signature string) bool {
	want := sign(secret, body)
	return hmac.Equal([]byte(want), []byte(signature))
}
