// Package handler exposes the auth flows over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tripdeck/backend/internal/auth/service"
	"tripdeck/backend/internal/security"
	"tripdeck/backend/internal/server/middleware"
	"tripdeck/backend/internal/server/respond"
	sessiondomain "tripdeck/backend/internal/session/domain"
	userdomain "tripdeck/backend/internal/user/domain"
)

// Handler serves the /auth endpoints.
type Handler struct {
	svc *service.AuthService
}

// NewHandler returns an auth HTTP handler backed by svc.
func NewHandler(svc *service.AuthService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the auth endpoints on the router. requireAuth wraps
// the endpoints that need a valid access token and live session.
func (h *Handler) RegisterRoutes(r *mux.Router, requireAuth func(http.Handler) http.Handler) {
	r.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/forgot-password", h.ForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password", h.ResetPassword).Methods(http.MethodPost)
	r.Handle("/auth/logout", requireAuth(http.HandlerFunc(h.Logout))).Methods(http.MethodPost)
	r.Handle("/auth/me", requireAuth(http.HandlerFunc(h.Me))).Methods(http.MethodGet)
	r.Handle("/auth/sessions", requireAuth(http.HandlerFunc(h.Sessions))).Methods(http.MethodGet)
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type authResponse struct {
	User         *userResponse `json:"user"`
	SessionID    string        `json:"session_id"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

func toUserResponse(u *userdomain.User) *userResponse {
	return &userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func toAuthResponse(res *service.AuthResult) *authResponse {
	return &authResponse{
		User:         toUserResponse(res.User),
		SessionID:    res.SessionID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt,
	}
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	res, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name, clientInfo(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, toAuthResponse(res))
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toAuthResponse(res))
}

// Logout handles POST /auth/logout. With {"all": true} every session of the
// user is revoked.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "missing or invalid authorization")
		return
	}
	var req struct {
		All bool `json:"all"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means single logout
	}
	var err error
	if req.All {
		err = h.svc.LogoutAll(r.Context(), identity)
	} else {
		err = h.svc.Logout(r.Context(), identity)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	res, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toAuthResponse(res))
}

// ForgotPassword handles POST /auth/forgot-password. The response does not
// reveal whether the email is registered.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email, clientInfo(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{
		"message": "If that email is registered, a reset link has been sent.",
	})
}

// ResetPassword handles POST /auth/reset-password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	res, err := h.svc.ResetPassword(r.Context(), req.Token, req.Password, clientInfo(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toAuthResponse(res))
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "missing or invalid authorization")
		return
	}
	user, err := h.svc.Me(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"user": toUserResponse(user)})
}

type sessionResponse struct {
	ID         string     `json:"id"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Current    bool       `json:"current"`
}

// Sessions handles GET /auth/sessions, listing the caller's live sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "missing or invalid authorization")
		return
	}
	list, err := h.svc.Sessions(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]*sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s, identity.SessionID))
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func toSessionResponse(s *sessiondomain.Session, currentID string) *sessionResponse {
	return &sessionResponse{
		ID:         s.ID,
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
		CreatedAt:  s.CreatedAt,
		LastSeenAt: s.LastSeenAt,
		ExpiresAt:  s.ExpiresAt,
		Current:    s.ID == currentID,
	}
}

func clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{
		IP:          middleware.ClientIPFrom(r.Context()),
		UserAgent:   r.UserAgent(),
		Fingerprint: r.Header.Get("X-Device-Fingerprint"),
	}
}

// errorMappings translate service sentinels to transport codes. Order matters:
// the first match wins.
var errorMappings = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{service.ErrWeakPassword, http.StatusBadRequest, "WEAK_PASSWORD"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{service.ErrEmailAlreadyRegistered, http.StatusConflict, "USER_ALREADY_EXISTS"},
	{service.ErrAccountSuspended, http.StatusForbidden, "ACCOUNT_SUSPENDED"},
	{service.ErrSessionExpired, http.StatusUnauthorized, "SESSION_EXPIRED"},
	{service.ErrInvalidRefreshToken, http.StatusForbidden, "TOKEN_INVALID"},
	{service.ErrRefreshTokenReuse, http.StatusForbidden, "TOKEN_INVALID"},
	{security.ErrExpiredToken, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{security.ErrInvalidToken, http.StatusUnauthorized, "TOKEN_INVALID"},
}

// writeServiceError maps a service error to its HTTP response. Anything not
// in the table is an infrastructure failure and surfaces as a bare 500 with
// the detail logged, not returned.
func writeServiceError(w http.ResponseWriter, err error) {
	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		middleware.SetRateLimitHeaders(w, rle.Result)
		respond.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests")
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			respond.Error(w, m.status, m.code, err.Error())
			return
		}
	}
	log.Printf("auth: internal error: %v", err)
	respond.Error(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
}
