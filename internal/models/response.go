// Package models - wire types returned by the HTTP API.
//
// Every error body carries a machine-readable code so clients can tell a
// rate limit apart from a failed verification or an outage.
package models

import (
	"time"
)

// ClickResponse is returned when a click passed every gate check and the
// counter was incremented.
type ClickResponse struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// CounterResponse reports the current value of a named counter.
type CounterResponse struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error     string            `json:"error"` // always "error"
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"` // e.g. retry_after_ms
	Timestamp time.Time         `json:"timestamp"`
}

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	}
}

// HealthCheckResponse aggregates component checks. The overall status is
// unhealthy as soon as one component is.
type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Error codes, upper-case with underscores. The comment names the HTTP
// status each one is sent with.
const (
	ErrorCodeNotFound           = "NOT_FOUND"                // 404
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"       // 405
	ErrorCodeMissingClientIP    = "MISSING_CLIENT_IP"        // 400
	ErrorCodeCaptchaMissing     = "CAPTCHA_MISSING"          // 400
	ErrorCodeNotClicked         = "NOT_CLICKED"              // 400
	ErrorCodeCaptchaInvalid     = "CAPTCHA_INVALID"          // 400
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"      // 429
	ErrorCodeInternalError      = "INTERNAL_ERROR"           // 500
	ErrorCodeLimiterUnavailable = "RATE_LIMITER_UNAVAILABLE" // 503
	ErrorCodeCaptchaTimeout     = "CAPTCHA_TIMEOUT"          // 504
)

func NewHealthCheckResponse() *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth),
	}
}

// Record stores the outcome of one component check. A non-nil err marks the
// component, and therefore the whole response, unhealthy.
func (h *HealthCheckResponse) Record(name string, latency time.Duration, err error) {
	c := ComponentHealth{
		Status:    StatusHealthy,
		Latency:   latency,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		c.Status = StatusUnhealthy
		c.Message = err.Error()
		h.Status = StatusUnhealthy
	}
	h.Components[name] = c
}

// Healthy reports whether every recorded component passed.
func (h *HealthCheckResponse) Healthy() bool {
	return h.Status == StatusHealthy
}
