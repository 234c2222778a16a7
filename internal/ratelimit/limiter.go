package ratelimit

import (
	"context"
	"log"
	"time"
)

// Policy names one limited flow and its budget per identifier per window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Result is the outcome of one limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter checks request budgets against a Store. When the store is
// unreachable the check allows the request and logs the failure, so the
// limiter degrades to no protection rather than an outage.
type Limiter struct {
	store Store
}

// NewLimiter returns a limiter backed by the given store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Check records one hit for id under the policy and reports whether the
// request is within budget. The hit counts even when the request is denied.
func (l *Limiter) Check(ctx context.Context, p Policy, id string) Result {
	count, resetAt, err := l.store.Incr(ctx, p.Name+":"+id, p.Window)
	if err != nil {
		log.Printf("ratelimit: store incr failed for %s: %v", p.Name, err)
		return Result{Allowed: true, Limit: p.Limit, Remaining: 0, ResetAt: time.Now().UTC().Add(p.Window)}
	}
	remaining := p.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if count > int64(p.Limit) {
		retryAfter := time.Until(resetAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, Limit: p.Limit, Remaining: 0, RetryAfter: retryAfter, ResetAt: resetAt}
	}
	return Result{Allowed: true, Limit: p.Limit, Remaining: remaining, ResetAt: resetAt}
}
