package middleware

import (
	"net/http"
	"strconv"

	"tripdeck/backend/internal/ratelimit"
	"tripdeck/backend/internal/server/respond"
)

// APIRateLimit applies the generic per-IP budget to every request. The auth
// flows apply their own stricter budgets on top of this one.
func APIRateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFrom(r.Context())
			if ip == "" {
				ip = resolveIP(r)
			}
			res := limiter.Check(r.Context(), policy, ip)
			SetRateLimitHeaders(w, res)
			if !res.Allowed {
				respond.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitHeaders writes the quota headers for a limiter outcome,
// including Retry-After when the request was denied.
func SetRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		secs := int(res.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}
