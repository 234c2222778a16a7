package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"tripdeck/backend/internal/audit"
	"tripdeck/backend/internal/events"
	"tripdeck/backend/internal/notification"
	resetdomain "tripdeck/backend/internal/passwordreset/domain"
	"tripdeck/backend/internal/ratelimit"
	"tripdeck/backend/internal/security"
	sessiondomain "tripdeck/backend/internal/session/domain"
	userdomain "tripdeck/backend/internal/user/domain"
	userrepo "tripdeck/backend/internal/user/repository"
)

// Sentinel errors for the auth service; the handler maps them to HTTP codes.
var (
	ErrValidation             = errors.New("invalid input")
	ErrWeakPassword           = errors.New("password does not meet policy")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountSuspended       = errors.New("account suspended")
	ErrSessionExpired         = errors.New("session expired or revoked")
	ErrInvalidRefreshToken    = errors.New("invalid refresh token")
	ErrRefreshTokenReuse      = errors.New("refresh token reuse detected; all sessions revoked")
)

// RateLimitError is returned when a flow exceeds its attempt budget. It
// carries the limiter outcome so the handler can set Retry-After and quota
// headers.
type RateLimitError struct {
	Result ratelimit.Result
}

func (e *RateLimitError) Error() string { return "rate limit exceeded" }

// ClientInfo is what the transport layer knows about the caller. All fields
// are informational; empty values are recorded as-is.
type ClientInfo struct {
	IP          string
	UserAgent   string
	Fingerprint string
}

// AuthResult holds the outcome of Register, Login, Refresh, or ResetPassword.
type AuthResult struct {
	User         *userdomain.User
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	UpdateRefreshToken(ctx context.Context, sessionID, jti, refreshTokenHash string) error
}

// ResetRepo is the minimal password reset repository needed by the auth service.
type ResetRepo interface {
	Create(ctx context.Context, r *resetdomain.Reset) error
	Consume(ctx context.Context, tokenHash string, at time.Time) (*resetdomain.Reset, error)
	InvalidateByUser(ctx context.Context, userID string, at time.Time) error
}

// Policies holds the attempt budgets per flow.
type Policies struct {
	Login         ratelimit.Policy
	Register      ratelimit.Policy
	PasswordReset ratelimit.Policy
}

// Deps are the collaborators of the auth service. Auditor, Emitter, and
// Notifier may be nil; the corresponding concern is then skipped.
type Deps struct {
	Users        UserRepo
	Sessions     SessionRepo
	Resets       ResetRepo
	Hasher       *security.Hasher
	Tokens       *security.TokenProvider
	Limiter      *ratelimit.Limiter
	Policies     Policies
	Notifier     notification.Sender
	Auditor      audit.AuditLogger
	Emitter      events.Emitter
	SessionTTL   time.Duration
	ResetTTL     time.Duration
	StoreTimeout time.Duration
	ResetURLBase string
}

// AuthService composes credential verification, sessions, tokens, reset
// tokens, and rate limiting into the register, login, logout, refresh, and
// password reset flows.
type AuthService struct {
	users        UserRepo
	sessions     SessionRepo
	resets       ResetRepo
	hasher       *security.Hasher
	tokens       *security.TokenProvider
	limiter      *ratelimit.Limiter
	policies     Policies
	notifier     notification.Sender
	auditor      audit.AuditLogger
	emitter      events.Emitter
	sessionTTL   time.Duration
	resetTTL     time.Duration
	storeTimeout time.Duration
	resetURLBase string

	// dummyHash is compared against when login hits an unknown email, so the
	// response time does not reveal whether the account exists.
	dummyHash string
}

// NewAuthService returns an AuthService with the given collaborators.
func NewAuthService(deps Deps) *AuthService {
	s := &AuthService{
		users:        deps.Users,
		sessions:     deps.Sessions,
		resets:       deps.Resets,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		limiter:      deps.Limiter,
		policies:     deps.Policies,
		notifier:     deps.Notifier,
		auditor:      deps.Auditor,
		emitter:      deps.Emitter,
		sessionTTL:   deps.SessionTTL,
		resetTTL:     deps.ResetTTL,
		storeTimeout: deps.StoreTimeout,
		resetURLBase: deps.ResetURLBase,
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 3 * time.Second
	}
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	if hash, err := s.hasher.Hash([]byte(hex.EncodeToString(buf))); err == nil {
		s.dummyHash = hash
	}
	return s
}

// Register creates a user with the given email and password, starts a session,
// and returns tokens. Two concurrent registrations with the same email yield
// exactly one success; the unique index on email is the arbiter.
func (s *AuthService) Register(ctx context.Context, email, password, name string, client ClientInfo) (*AuthResult, error) {
	if res := s.check(ctx, s.policies.Register, client.IP); res != nil {
		return nil, res
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := security.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         userdomain.RoleUser,
		Status:       userdomain.UserStatusActive,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	cctx, cancel := s.storeCtx(ctx)
	err = s.users.Create(cctx, user)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	result, err := s.startSession(ctx, user, client)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, user.ID, audit.ActionRegister, "")
	s.emit(ctx, &events.Event{Type: events.TypeUserRegistered, UserID: user.ID, SessionID: result.SessionID, IP: client.IP})
	return result, nil
}

// Login authenticates with email and password, starts a session, and returns
// tokens. An unknown email and a wrong password produce the same error and
// comparable timing.
func (s *AuthService) Login(ctx context.Context, email, password string, client ClientInfo) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if res := s.check(ctx, s.policies.Login, email); res != nil {
		return nil, res
	}
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	cctx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetByEmail(cctx, email)
	cancel()
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.Verify(s.dummyHash, []byte(password))
		s.loginFailed(ctx, "", email, client)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(user.PasswordHash, []byte(password)) {
		s.loginFailed(ctx, user.ID, email, client)
		return nil, ErrInvalidCredentials
	}
	if !user.Active() {
		return nil, ErrAccountSuspended
	}
	result, err := s.startSession(ctx, user, client)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, user.ID, audit.ActionLoginSuccess, "")
	s.emit(ctx, &events.Event{Type: events.TypeLoginSucceeded, UserID: user.ID, SessionID: result.SessionID, IP: client.IP})
	return result, nil
}

// Logout revokes the caller's session. Idempotent: revoking an already revoked
// or missing session succeeds.
func (s *AuthService) Logout(ctx context.Context, identity *security.Identity) error {
	cctx, cancel := s.storeCtx(ctx)
	err := s.sessions.Revoke(cctx, identity.SessionID, time.Now().UTC())
	cancel()
	if err != nil {
		return err
	}
	s.audit(ctx, identity.UserID, audit.ActionLogout, "")
	s.emit(ctx, &events.Event{Type: events.TypeSessionRevoked, UserID: identity.UserID, SessionID: identity.SessionID})
	return nil
}

// LogoutAll revokes every session of the caller.
func (s *AuthService) LogoutAll(ctx context.Context, identity *security.Identity) error {
	cctx, cancel := s.storeCtx(ctx)
	err := s.sessions.RevokeAllByUser(cctx, identity.UserID, time.Now().UTC())
	cancel()
	if err != nil {
		return err
	}
	s.audit(ctx, identity.UserID, audit.ActionLogoutAll, "")
	s.emit(ctx, &events.Event{Type: events.TypeSessionRevoked, UserID: identity.UserID})
	return nil
}

// Refresh validates the refresh token against the live session, rotates it,
// and returns a new token pair. Presenting a previously rotated-out token
// revokes every session of the user.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	sessionID, jti, userID, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, security.ErrExpiredToken
		}
		return nil, ErrInvalidRefreshToken
	}
	cctx, cancel := s.storeCtx(ctx)
	sess, err := s.sessions.GetByID(cctx, sessionID)
	cancel()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrInvalidRefreshToken
	}
	now := time.Now().UTC()
	if !sess.Live(now) {
		return nil, ErrSessionExpired
	}
	if sess.RefreshJti != jti {
		cctx, cancel := s.storeCtx(ctx)
		_ = s.sessions.RevokeAllByUser(cctx, userID, now)
		cancel()
		s.audit(ctx, userID, audit.ActionRefreshReuse, "")
		s.emit(ctx, &events.Event{Type: events.TypeRefreshReuseDetected, UserID: userID, SessionID: sessionID})
		return nil, ErrRefreshTokenReuse
	}
	if sess.RefreshTokenHash != "" && !security.TokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		return nil, ErrInvalidRefreshToken
	}
	cctx, cancel = s.storeCtx(ctx)
	if err := s.sessions.UpdateLastSeen(cctx, sessionID, now); err != nil {
		log.Printf("auth: update last seen for session %s: %v", sessionID, err)
	}
	cancel()
	cctx, cancel = s.storeCtx(ctx)
	user, err := s.users.GetByID(cctx, userID)
	cancel()
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidRefreshToken
	}
	if !user.Active() {
		return nil, ErrAccountSuspended
	}
	newRefresh, newJti, _, err := s.tokens.IssueRefresh(sessionID, userID)
	if err != nil {
		return nil, err
	}
	cctx, cancel = s.storeCtx(ctx)
	err = s.sessions.UpdateRefreshToken(cctx, sessionID, newJti, security.HashToken(newRefresh))
	cancel()
	if err != nil {
		return nil, err
	}
	accessToken, _, accessExp, err := s.tokens.IssueAccess(sessionID, userID, string(user.Role))
	if err != nil {
		return nil, err
	}
	s.audit(ctx, userID, audit.ActionTokenRefresh, "")
	s.emit(ctx, &events.Event{Type: events.TypeTokenRefreshed, UserID: userID, SessionID: sessionID})
	return &AuthResult{
		User:         user,
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    accessExp,
	}, nil
}

// ForgotPassword issues a single-use reset token and hands it to the mail
// sender. The outcome is identical whether or not the email is registered,
// and mail delivery failures never surface to the caller.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, client ClientInfo) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if res := s.check(ctx, s.policies.PasswordReset, email); res != nil {
		return res
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	cctx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetByEmail(cctx, email)
	cancel()
	if err != nil {
		return err
	}
	if user == nil || !user.Active() {
		return nil
	}
	now := time.Now().UTC()
	cctx, cancel = s.storeCtx(ctx)
	if err := s.resets.InvalidateByUser(cctx, user.ID, now); err != nil {
		cancel()
		return err
	}
	cancel()
	token, hash, err := security.GenerateToken()
	if err != nil {
		return err
	}
	reset := &resetdomain.Reset{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	cctx, cancel = s.storeCtx(ctx)
	err = s.resets.Create(cctx, reset)
	cancel()
	if err != nil {
		return err
	}
	s.sendResetMail(user.Email, token)
	s.audit(ctx, user.ID, audit.ActionResetRequested, "")
	s.emit(ctx, &events.Event{Type: events.TypePasswordResetRequested, UserID: user.ID, IP: client.IP})
	return nil
}

// ResetPassword redeems the reset token, replaces the password, revokes every
// existing session, and starts a fresh one. A token can be redeemed at most
// once even under concurrent submissions.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string, client ClientInfo) (*AuthResult, error) {
	if res := s.check(ctx, s.policies.PasswordReset, client.IP); res != nil {
		return nil, res
	}
	if token == "" {
		return nil, security.ErrInvalidToken
	}
	if err := security.ValidatePassword(newPassword); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	now := time.Now().UTC()
	cctx, cancel := s.storeCtx(ctx)
	reset, err := s.resets.Consume(cctx, security.HashToken(token), now)
	cancel()
	if err != nil {
		return nil, err
	}
	if reset == nil {
		return nil, security.ErrInvalidToken
	}
	if !now.Before(reset.ExpiresAt) {
		return nil, security.ErrExpiredToken
	}
	cctx, cancel = s.storeCtx(ctx)
	user, err := s.users.GetByID(cctx, reset.UserID)
	cancel()
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, security.ErrInvalidToken
	}
	if !user.Active() {
		return nil, ErrAccountSuspended
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return nil, err
	}
	cctx, cancel = s.storeCtx(ctx)
	err = s.users.UpdatePassword(cctx, user.ID, hashed)
	cancel()
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hashed
	cctx, cancel = s.storeCtx(ctx)
	if err := s.sessions.RevokeAllByUser(cctx, user.ID, now); err != nil {
		cancel()
		return nil, err
	}
	cancel()
	cctx, cancel = s.storeCtx(ctx)
	if err := s.resets.InvalidateByUser(cctx, user.ID, now); err != nil {
		log.Printf("auth: invalidate outstanding resets for user %s: %v", user.ID, err)
	}
	cancel()
	result, err := s.startSession(ctx, user, client)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, user.ID, audit.ActionResetCompleted, "")
	s.emit(ctx, &events.Event{Type: events.TypePasswordResetCompleted, UserID: user.ID, SessionID: result.SessionID, IP: client.IP})
	return result, nil
}

// Me returns the authenticated user's record.
func (s *AuthService) Me(ctx context.Context, userID string) (*userdomain.User, error) {
	cctx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetByID(cctx, userID)
	cancel()
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, security.ErrInvalidToken
	}
	return user, nil
}

// Sessions returns the caller's live sessions, newest first.
func (s *AuthService) Sessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.sessions.ListActiveByUser(cctx, userID, time.Now().UTC())
}

// SessionLive reports whether the session may still be used. Called by the
// auth middleware on every authenticated request; last-seen is updated
// best-effort.
func (s *AuthService) SessionLive(ctx context.Context, sessionID string) (bool, error) {
	cctx, cancel := s.storeCtx(ctx)
	sess, err := s.sessions.GetByID(cctx, sessionID)
	cancel()
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if sess == nil || !sess.Live(now) {
		return false, nil
	}
	cctx, cancel = s.storeCtx(ctx)
	if err := s.sessions.UpdateLastSeen(cctx, sessionID, now); err != nil {
		log.Printf("auth: update last seen for session %s: %v", sessionID, err)
	}
	cancel()
	return true, nil
}

// startSession creates a session for the user and issues the token pair.
func (s *AuthService) startSession(ctx context.Context, user *userdomain.User, client ClientInfo) (*AuthResult, error) {
	sessionID := uuid.New().String()
	now := time.Now().UTC()
	refreshToken, jti, _, err := s.tokens.IssueRefresh(sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	accessToken, _, accessExp, err := s.tokens.IssueAccess(sessionID, user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	sess := &sessiondomain.Session{
		ID:               sessionID,
		UserID:           user.ID,
		IPAddress:        client.IP,
		UserAgent:        client.UserAgent,
		Fingerprint:      client.Fingerprint,
		ExpiresAt:        now.Add(s.sessionTTL),
		RefreshJti:       jti,
		RefreshTokenHash: security.HashToken(refreshToken),
		CreatedAt:        now,
	}
	cctx, cancel := s.storeCtx(ctx)
	err = s.sessions.Create(cctx, sess)
	cancel()
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		User:         user,
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExp,
	}, nil
}

// check consults the limiter and returns a RateLimitError when over budget.
// A nil limiter disables limiting, used by tests that exercise other paths.
func (s *AuthService) check(ctx context.Context, p ratelimit.Policy, id string) error {
	if s.limiter == nil || id == "" {
		return nil
	}
	res := s.limiter.Check(ctx, p, id)
	if !res.Allowed {
		return &RateLimitError{Result: res}
	}
	return nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID, email string, client ClientInfo) {
	s.audit(ctx, userID, audit.ActionLoginFailure, email)
	s.emit(ctx, &events.Event{Type: events.TypeLoginFailed, UserID: userID, Email: email, IP: client.IP})
}

// sendResetMail delivers the reset link without blocking the flow. Failures
// are logged only; the caller already returned its generic success.
func (s *AuthService) sendResetMail(email, token string) {
	if s.notifier == nil {
		return
	}
	resetURL := s.resetURLBase + "?token=" + token
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.SendPasswordReset(sendCtx, email, resetURL); err != nil {
			log.Printf("auth: password reset email to %s failed: %v", email, err)
		}
	}()
}

func (s *AuthService) audit(ctx context.Context, userID, action, metadata string) {
	if s.auditor == nil {
		return
	}
	s.auditor.LogEvent(ctx, userID, action, audit.ResourceAuth, metadata)
}

func (s *AuthService) emit(ctx context.Context, event *events.Event) {
	if s.emitter == nil {
		return
	}
	event.At = time.Now().UTC()
	events.EmitAsync(s.emitter, ctx, event)
}

func (s *AuthService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	return nil
}
