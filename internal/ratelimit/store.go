// Package ratelimit enforces fixed-window request limits keyed by client
// identity (email or IP).
package ratelimit

import (
	"context"
	"time"
)

// Store counts hits per key within a fixed window.
type Store interface {
	// Incr records one hit for key and returns the hit count in the current
	// window along with the instant the window resets. The first hit of a
	// window starts it.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}
