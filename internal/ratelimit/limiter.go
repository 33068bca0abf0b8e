package ratelimit

import "context"

// RateLimiter caps send throughput for a shared key across all in-flight batches.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
