// Package gate admits click attempts. Each attempt is charged against the
// client's token bucket first, then the Turnstile token is verified, and
// only then is the shared counter incremented.
package gate

import (
	"context"
	"errors"
	"log/slog"

	"clickgate/internal/models"
	"clickgate/internal/ratelimit"
	"clickgate/internal/turnstile"

	"github.com/google/uuid"
)

// Service handles the click gate business logic
type Service struct {
	limiter     ratelimit.Limiter
	verifier    turnstile.Verifier
	counter     Counter
	counterName string
}

// NewService creates a new gate service
func NewService(limiter ratelimit.Limiter, verifier turnstile.Verifier, counter Counter, counterName string) *Service {
	return &Service{
		limiter:     limiter,
		verifier:    verifier,
		counter:     counter,
		counterName: counterName,
	}
}

// Click processes a click attempt. Failures are returned as *ServiceError.
func (s *Service) Click(ctx context.Context, req *models.ClickRequest) (*models.ClickResponse, ratelimit.Info, error) {
	if req == nil {
		req = &models.ClickRequest{}
	}
	if req.RemoteIP == "" {
		return nil, ratelimit.Info{}, NewMissingClientIPError()
	}

	// Every attempt is charged, including ones that fail validation below.
	info, err := s.limiter.Acquire(ctx, req.RemoteIP)
	if err != nil {
		return nil, info, NewLimiterUnavailableError(err)
	}
	if !info.Allowed() {
		return nil, info, NewRateLimitedError(info.RetryAfter)
	}

	if err := req.Validate(); err != nil {
		if errors.Is(err, models.ErrNotClicked) {
			return nil, info, NewNotClickedError(err)
		}
		return nil, info, NewCaptchaMissingError(err)
	}

	_, err = s.verifier.Verify(ctx, turnstile.Request{
		Token:          req.CaptchaToken,
		RemoteIP:       req.RemoteIP,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, turnstile.ErrTimeout) {
			return nil, info, NewCaptchaTimeoutError(err)
		}
		slog.DebugContext(ctx, "Captcha verification failed", "client_ip", req.RemoteIP, "error", err)
		return nil, info, NewCaptchaInvalidError(err)
	}

	count, err := s.counter.IncrementCounter(ctx, s.counterName)
	if err != nil {
		return nil, info, NewInternalError("failed to increment counter", err)
	}

	return &models.ClickResponse{
		Message: "ok",
		Count:   count,
	}, info, nil
}

// Count returns the current counter value.
func (s *Service) Count(ctx context.Context) (*models.CounterResponse, error) {
	count, err := s.counter.GetCounter(ctx, s.counterName)
	if err != nil {
		return nil, NewInternalError("failed to read counter", err)
	}
	return &models.CounterResponse{
		Name:  s.counterName,
		Count: count,
	}, nil
}
