package gate

import (
	"context"

	"clickgate/internal/models"
	"clickgate/internal/ratelimit"
)

// ServiceInterface defines the click gate operations
type ServiceInterface interface {
	// Click runs one click attempt through rate limiting and human
	// verification and increments the counter if both pass. The returned
	// Info is valid whenever the rate limiter was consulted.
	Click(ctx context.Context, req *models.ClickRequest) (*models.ClickResponse, ratelimit.Info, error)

	// Count returns the current counter value.
	Count(ctx context.Context) (*models.CounterResponse, error)
}

// Counter is the part of the store the gate increments.
type Counter interface {
	IncrementCounter(ctx context.Context, name string) (int64, error)
	GetCounter(ctx context.Context, name string) (int64, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
