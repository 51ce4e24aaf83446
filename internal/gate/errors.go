package gate

import (
	"fmt"
	"net/http"
	"time"

	"clickgate/internal/models"
)

// ServiceError represents errors from the gate service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
	// RetryAfter is set on rate limit rejections.
	RetryAfter time.Duration
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewMissingClientIPError() *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeMissingClientIP,
		Message:    "IP address is missing",
		StatusCode: http.StatusBadRequest,
	}
}

func NewRateLimitedError(retryAfter time.Duration) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeRateLimitExceeded,
		Message:    "Rate limit exceeded",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func NewLimiterUnavailableError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeLimiterUnavailable,
		Message:    "Could not connect to rate limiter",
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewCaptchaMissingError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeCaptchaMissing,
		Message:    "Captcha token is missing",
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewNotClickedError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNotClicked,
		Message:    "Button not clicked",
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewCaptchaInvalidError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeCaptchaInvalid,
		Message:    "Captcha validation failed",
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewCaptchaTimeoutError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeCaptchaTimeout,
		Message:    "Captcha validation timed out",
		StatusCode: http.StatusGatewayTimeout,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
