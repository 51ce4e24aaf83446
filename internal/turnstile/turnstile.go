// Package turnstile verifies Cloudflare Turnstile tokens with the siteverify
// API.
package turnstile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clickgate/internal/models"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultVerifyURL is Cloudflare's siteverify endpoint.
	DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

	// DefaultTimeout bounds a single verification call.
	DefaultTimeout = 10 * time.Second

	// MaxTokenLength is the longest token Turnstile issues.
	MaxTokenLength = models.MaxCaptchaTokenLength

	// maxResponseBytes caps how much of the siteverify reply is read.
	maxResponseBytes = 64 << 10
)

var (
	ErrInvalidToken     = errors.New("invalid token format")
	ErrTokenTooLong     = errors.New("token too long")
	ErrTimeout          = errors.New("verification timed out")
	ErrRejected         = errors.New("token rejected")
	ErrActionMismatch   = errors.New("action mismatch")
	ErrHostnameMismatch = errors.New("hostname mismatch")
	ErrUnavailable      = errors.New("verification service unavailable")
)

// Verifier checks a client supplied token.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Response, error)
}

// Request is a single verification attempt.
type Request struct {
	Token    string
	RemoteIP string
	// IdempotencyKey lets the same token be re-verified on retries.
	IdempotencyKey string
}

// Response mirrors the siteverify reply.
type Response struct {
	Success     bool           `json:"success"`
	ChallengeTS string         `json:"challenge_ts,omitempty"`
	Hostname    string         `json:"hostname,omitempty"`
	ErrorCodes  []string       `json:"error-codes,omitempty"`
	Action      string         `json:"action,omitempty"`
	CData       string         `json:"cdata,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Client calls the siteverify API.
// Zero value is not usable; use NewClient to create instances.
type Client struct {
	secret           string
	verifyURL        string
	timeout          time.Duration
	expectedAction   string
	expectedHostname string
	httpClient       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient creates a client from cfg. Empty URL and timeout fall back to
// the defaults.
func NewClient(cfg models.TurnstileConfig, opts ...Option) *Client {
	c := &Client{
		secret:           cfg.SecretKey,
		verifyURL:        cfg.VerifyURL,
		timeout:          cfg.Timeout,
		expectedAction:   cfg.ExpectedAction,
		expectedHostname: cfg.ExpectedHostname,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if c.verifyURL == "" {
		c.verifyURL = DefaultVerifyURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify validates the token. It returns the decoded reply alongside
// ErrRejected, ErrActionMismatch or ErrHostnameMismatch so callers can log
// what Turnstile said. A call that exceeds the timeout returns ErrTimeout.
func (c *Client) Verify(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Token) == "" {
		return nil, ErrInvalidToken
	}
	if len(req.Token) > MaxTokenLength {
		return nil, ErrTokenTooLong
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", req.Token)
	if req.RemoteIP != "" {
		form.Set("remoteip", req.RemoteIP)
	}
	if req.IdempotencyKey != "" {
		form.Set("idempotency_key", req.IdempotencyKey)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}
	defer httpResp.Body.Close()

	var result Response
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes)).Decode(&result); err != nil {
		if reqCtx.Err() != nil {
			return nil, c.classify(ctx, reqCtx, err)
		}
		return nil, fmt.Errorf("%w: status %d: decode reply: %w", ErrUnavailable, httpResp.StatusCode, err)
	}

	if !result.Success {
		return &result, fmt.Errorf("%w: %s", ErrRejected, strings.Join(result.ErrorCodes, ","))
	}
	if c.expectedAction != "" && result.Action != c.expectedAction {
		return &result, fmt.Errorf("%w: expected %q, received %q", ErrActionMismatch, c.expectedAction, result.Action)
	}
	if c.expectedHostname != "" && result.Hostname != c.expectedHostname {
		return &result, fmt.Errorf("%w: expected %q, received %q", ErrHostnameMismatch, c.expectedHostname, result.Hostname)
	}

	return &result, nil
}

// classify maps a transport error to ErrTimeout when our own deadline fired,
// and to ErrUnavailable otherwise.
func (c *Client) classify(parent, reqCtx context.Context, err error) error {
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, c.timeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
