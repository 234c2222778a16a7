// Package server assembles the HTTP router from handlers and middleware.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	authhandler "tripdeck/backend/internal/auth/handler"
	authservice "tripdeck/backend/internal/auth/service"
	healthhandler "tripdeck/backend/internal/health/handler"
	"tripdeck/backend/internal/ratelimit"
	"tripdeck/backend/internal/security"
	"tripdeck/backend/internal/server/middleware"
)

// Deps holds the dependencies of the HTTP router.
type Deps struct {
	// Auth is the auth service behind /auth. Required.
	Auth *authservice.AuthService
	// Tokens validates Bearer access tokens on protected routes. Required.
	Tokens *security.TokenProvider
	// Limiter backs the global per-IP request limit. If nil, or if APIPolicy
	// has a zero limit, the global limit is disabled. The per-operation
	// limits inside the auth service are independent of this.
	Limiter *ratelimit.Limiter
	// APIPolicy is the global per-IP request budget (e.g. 100 per minute).
	APIPolicy ratelimit.Policy
	// HealthPinger is probed by /health/ready (e.g. *sql.DB). May be nil.
	HealthPinger healthhandler.Pinger
}

// NewRouter builds the HTTP handler: panic recovery, client IP resolution,
// global rate limiting, the health and auth routes, and OpenTelemetry
// instrumentation around the whole router.
func NewRouter(deps Deps) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recover)
	r.Use(middleware.ClientIP)
	if deps.Limiter != nil && deps.APIPolicy.Limit > 0 {
		r.Use(middleware.APIRateLimit(deps.Limiter, deps.APIPolicy))
	}

	healthhandler.NewHandler(deps.HealthPinger).RegisterRoutes(r)
	authhandler.NewHandler(deps.Auth).RegisterRoutes(r, middleware.RequireAuth(deps.Tokens, deps.Auth))

	return otelhttp.NewHandler(r, "tripdeck.http")
}
