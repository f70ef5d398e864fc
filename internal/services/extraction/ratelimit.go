package extraction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/healthpulse/pulse/internal/models"
)

// LimiterRegistry holds one token bucket per (tenant, integration, provider),
// shared across all extraction workers of the tenant. Buckets are in-memory
// state; they survive worker restarts within the process but are not shared
// across processes.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiterRegistry creates an empty registry.
func NewLimiterRegistry() *LimiterRegistry {
	return &LimiterRegistry{limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until the integration's bucket grants a token or the context
// is cancelled.
func (r *LimiterRegistry) Wait(ctx context.Context, integ *models.Integration) error {
	r.mu.Lock()
	key := fmt.Sprintf("%d:%d:%s", integ.TenantID, integ.IntegrationID, integ.Provider)
	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(bucketRate(integ), burst(integ))
		r.limiters[key] = limiter
	}
	r.mu.Unlock()

	return limiter.Wait(ctx)
}

func bucketRate(integ *models.Integration) rate.Limit {
	requests := integ.RateLimit
	if requests <= 0 {
		requests = 10
	}
	window := integ.RateWindowSec
	if window <= 0 {
		window = 1
	}
	return rate.Every(time.Duration(window) * time.Second / time.Duration(requests))
}

func burst(integ *models.Integration) int {
	if integ.RateLimit > 0 {
		return integ.RateLimit
	}
	return 10
}
