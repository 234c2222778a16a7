package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	resetdomain "tripdeck/backend/internal/passwordreset/domain"
	"tripdeck/backend/internal/ratelimit"
	"tripdeck/backend/internal/security"
	sessiondomain "tripdeck/backend/internal/session/domain"
	userdomain "tripdeck/backend/internal/user/domain"
	userrepo "tripdeck/backend/internal/user/repository"
)

type memUserRepo struct {
	mu   sync.Mutex
	byID map[string]*userdomain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: make(map[string]*userdomain.User)}
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return userrepo.ErrDuplicateEmail
		}
	}
	u2 := *u
	r.byID[u.ID] = &u2
	return nil
}

func (r *memUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*sessiondomain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: make(map[string]*sessiondomain.Session)}
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id], nil
}

func (r *memSessionRepo) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range r.m {
		if s.UserID == userID && s.Live(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Create(ctx context.Context, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memSessionRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	return nil
}

func (r *memSessionRepo) RevokeAllByUser(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &at
		}
	}
	return nil
}

func (r *memSessionRepo) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastSeenAt = &at
	}
	return nil
}

func (r *memSessionRepo) UpdateRefreshToken(ctx context.Context, sessionID, jti, refreshTokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[sessionID]; ok {
		s.RefreshJti = jti
		s.RefreshTokenHash = refreshTokenHash
	}
	return nil
}

type memResetRepo struct {
	mu sync.Mutex
	m  map[string]*resetdomain.Reset // keyed by token hash
}

func newMemResetRepo() *memResetRepo {
	return &memResetRepo{m: make(map[string]*resetdomain.Reset)}
}

func (r *memResetRepo) Create(ctx context.Context, reset *resetdomain.Reset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r2 := *reset
	r.m[reset.TokenHash] = &r2
	return nil
}

func (r *memResetRepo) Consume(ctx context.Context, tokenHash string, at time.Time) (*resetdomain.Reset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset, ok := r.m[tokenHash]
	if !ok || reset.ConsumedAt != nil {
		return nil, nil
	}
	reset.ConsumedAt = &at
	r2 := *reset
	return &r2, nil
}

func (r *memResetRepo) InvalidateByUser(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reset := range r.m {
		if reset.UserID == userID && reset.ConsumedAt == nil {
			reset.ConsumedAt = &at
		}
	}
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sends []string // "email|url"
	err   error
}

func (n *recordingNotifier) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, email+"|"+resetURL)
	return n.err
}

func (n *recordingNotifier) sentTo(email string) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		for _, s := range n.sends {
			if strings.HasPrefix(s, email+"|") {
				n.mu.Unlock()
				return true
			}
		}
		n.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (n *recordingNotifier) resetURLFor(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sends {
		if strings.HasPrefix(s, email+"|") {
			return strings.TrimPrefix(s, email+"|")
		}
	}
	return ""
}

type testEnv struct {
	svc      *AuthService
	users    *memUserRepo
	sessions *memSessionRepo
	resets   *memResetRepo
	notifier *recordingNotifier
}

func testPolicies() Policies {
	return Policies{
		Login:         ratelimit.Policy{Name: "login", Limit: 5, Window: 15 * time.Minute},
		Register:      ratelimit.Policy{Name: "register", Limit: 3, Window: time.Hour},
		PasswordReset: ratelimit.Policy{Name: "password_reset", Limit: 3, Window: time.Hour},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	return newTestEnvWithTokens(t, tokens)
}

func newTestEnvWithTokens(t *testing.T, tokens *security.TokenProvider) *testEnv {
	t.Helper()
	env := &testEnv{
		users:    newMemUserRepo(),
		sessions: newMemSessionRepo(),
		resets:   newMemResetRepo(),
		notifier: &recordingNotifier{},
	}
	env.svc = NewAuthService(Deps{
		Users:        env.users,
		Sessions:     env.sessions,
		Resets:       env.resets,
		Hasher:       security.NewHasher(4),
		Tokens:       tokens,
		Limiter:      ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		Policies:     testPolicies(),
		Notifier:     env.notifier,
		SessionTTL:   24 * time.Hour,
		ResetTTL:     time.Hour,
		StoreTimeout: 3 * time.Second,
		ResetURLBase: "https://tripdeck.io/reset-password",
	})
	return env
}

func mustRegister(t *testing.T, env *testEnv, email, password string) *AuthResult {
	t.Helper()
	res, err := env.svc.Register(context.Background(), email, password, "Alice", ClientInfo{IP: "192.0.2.1"})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res
}

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.svc.Register(context.Background(), "Alice@Example.com", "Sup3r$ecret1", "Alice", ClientInfo{IP: "192.0.2.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.User == nil || res.User.Email != "alice@example.com" {
		t.Fatalf("user email should be normalized, got %+v", res.User)
	}
	if res.User.Role != userdomain.RoleUser {
		t.Errorf("role = %q, want %q", res.User.Role, userdomain.RoleUser)
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionID == "" {
		t.Fatal("tokens and session id should be set")
	}
	if res.User.PasswordHash == "Sup3r$ecret1" {
		t.Fatal("password must not be stored in plaintext")
	}
	sess, _ := env.sessions.GetByID(context.Background(), res.SessionID)
	if sess == nil {
		t.Fatal("session should be persisted")
	}
	if sess.UserAgent != "test" {
		t.Errorf("session user agent = %q, want %q", sess.UserAgent, "test")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	_, err := env.svc.Register(context.Background(), "ALICE@example.com", "Sup3r$ecret1", "Alice", ClientInfo{IP: "192.0.2.2"})
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrEmailAlreadyRegistered", err)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	env := newTestEnv(t)
	testCases := []struct {
		name     string
		password string
		ip       string
	}{
		{"too short", "Aa1!", "192.0.2.1"},
		{"no digit", "Password!", "192.0.2.2"},
		{"no symbol", "Password1", "192.0.2.3"},
		{"no uppercase", "password1!", "192.0.2.4"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Register(context.Background(), "bob@example.com", tc.password, "Bob", ClientInfo{IP: tc.ip})
			if !errors.Is(err, ErrWeakPassword) {
				t.Fatalf("err = %v, want ErrWeakPassword", err)
			}
		})
	}
}

func TestRegister_InvalidEmail(t *testing.T) {
	env := newTestEnv(t)
	for i, email := range []string{"", "not-an-email", "a@b", "spaces in@example.com"} {
		ip := fmt.Sprintf("192.0.2.%d", i+1)
		_, err := env.svc.Register(context.Background(), email, "Sup3r$ecret1", "Bob", ClientInfo{IP: ip})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Register(%q) err = %v, want ErrValidation", email, err)
		}
	}
}

func TestRegister_MalformedInputCountsTowardLimit(t *testing.T) {
	env := newTestEnv(t)
	client := ClientInfo{IP: "192.0.2.9"}

	// The limiter gates the flow before any input validation, so probing
	// with garbage emails spends the same budget as real attempts.
	for i := 0; i < 3; i++ {
		_, err := env.svc.Register(context.Background(), "not-an-email", "Sup3r$ecret1", "Bob", client)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("attempt %d err = %v, want ErrValidation", i+1, err)
		}
	}
	_, err := env.svc.Register(context.Background(), "bob@example.com", "Sup3r$ecret1", "Bob", client)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
}

func TestRegister_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	client := ClientInfo{IP: "192.0.2.9"}
	// Burn the register budget with weak passwords; the rate check precedes
	// the password policy check.
	for i := 0; i < 3; i++ {
		env.svc.Register(context.Background(), "bob@example.com", "weak", "Bob", client)
	}
	_, err := env.svc.Register(context.Background(), "bob@example.com", "Sup3r$ecret1", "Bob", client)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.Result.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", rle.Result.RetryAfter)
	}
	if rle.Result.Limit != 3 {
		t.Errorf("Limit = %d, want 3", rle.Result.Limit)
	}
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	res, err := env.svc.Login(context.Background(), "alice@example.com", "Sup3r$ecret1", ClientInfo{IP: "192.0.2.1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	identity, err := env.svc.tokens.ValidateAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if identity.UserID != res.User.ID {
		t.Errorf("token sub = %q, want %q", identity.UserID, res.User.ID)
	}
	if identity.SessionID != res.SessionID {
		t.Errorf("token session = %q, want %q", identity.SessionID, res.SessionID)
	}
}

func TestLogin_WrongPasswordAndUnknownEmailCollapse(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	_, errWrong := env.svc.Login(context.Background(), "alice@example.com", "WrongPass1!", ClientInfo{})
	_, errUnknown := env.svc.Login(context.Background(), "nobody@example.com", "WrongPass1!", ClientInfo{})

	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", errWrong)
	}
	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", errUnknown)
	}
}

func TestLogin_SuspendedAccount(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	env.users.byID[res.User.ID].Status = userdomain.UserStatusSuspended

	_, err := env.svc.Login(context.Background(), "alice@example.com", "Sup3r$ecret1", ClientInfo{})
	if !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("err = %v, want ErrAccountSuspended", err)
	}
}

func TestLogin_SixthAttemptRateLimited(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	for i := 0; i < 5; i++ {
		_, err := env.svc.Login(context.Background(), "alice@example.com", "WrongPass1!", ClientInfo{})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d err = %v, want ErrInvalidCredentials", i+1, err)
		}
	}
	// Even the correct password is refused once the window budget is spent.
	_, err := env.svc.Login(context.Background(), "alice@example.com", "Sup3r$ecret1", ClientInfo{})
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("6th attempt err = %v, want RateLimitError", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	identity := &security.Identity{UserID: res.User.ID, SessionID: res.SessionID}

	if err := env.svc.Logout(context.Background(), identity); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := env.svc.Logout(context.Background(), identity); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	live, err := env.svc.SessionLive(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("SessionLive: %v", err)
	}
	if live {
		t.Fatal("session should not be live after logout")
	}
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	res2, err := env.svc.Login(context.Background(), "alice@example.com", "Sup3r$ecret1", ClientInfo{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.svc.LogoutAll(context.Background(), &security.Identity{UserID: res.User.ID, SessionID: res.SessionID}); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	for _, id := range []string{res.SessionID, res2.SessionID} {
		if live, _ := env.svc.SessionLive(context.Background(), id); live {
			t.Errorf("session %s should be revoked", id)
		}
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	refreshed, err := env.svc.Refresh(context.Background(), res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken == res.RefreshToken {
		t.Fatal("refresh token should be rotated")
	}
	if refreshed.SessionID != res.SessionID {
		t.Errorf("session id should be preserved, got %q want %q", refreshed.SessionID, res.SessionID)
	}
	if _, err := env.svc.tokens.ValidateAccess(refreshed.AccessToken); err != nil {
		t.Fatalf("new access token should validate: %v", err)
	}
}

func TestRefresh_ReuseDetectionRevokesAllSessions(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	if _, err := env.svc.Refresh(context.Background(), res.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	// Replaying the rotated-out token is treated as theft.
	_, err := env.svc.Refresh(context.Background(), res.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenReuse) {
		t.Fatalf("err = %v, want ErrRefreshTokenReuse", err)
	}
	if live, _ := env.svc.SessionLive(context.Background(), res.SessionID); live {
		t.Fatal("all sessions should be revoked after reuse detection")
	}
}

func TestRefresh_RevokedSession(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	env.svc.Logout(context.Background(), &security.Identity{UserID: res.User.ID, SessionID: res.SessionID})

	_, err := env.svc.Refresh(context.Background(), res.RefreshToken)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestRefresh_GarbageToken(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := env.svc.Refresh(context.Background(), token)
		if !errors.Is(err, ErrInvalidRefreshToken) {
			t.Errorf("Refresh(%q) err = %v, want ErrInvalidRefreshToken", token, err)
		}
	}
}

func TestRefresh_ExpiredToken(t *testing.T) {
	tokens, err := security.NewTestTokenProviderTTL(15*time.Minute, -time.Minute)
	if err != nil {
		t.Fatalf("NewTestTokenProviderTTL: %v", err)
	}
	env := newTestEnvWithTokens(t, tokens)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	_, err = env.svc.Refresh(context.Background(), res.RefreshToken)
	if !errors.Is(err, security.ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestForgotPassword_UnknownEmailSucceedsWithoutMail(t *testing.T) {
	env := newTestEnv(t)

	if err := env.svc.ForgotPassword(context.Background(), "nobody@example.com", ClientInfo{}); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	if len(env.notifier.sends) != 0 {
		t.Fatal("no mail should be sent for an unknown email")
	}
}

func TestForgotPassword_KnownEmailSendsResetLink(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	if err := env.svc.ForgotPassword(context.Background(), "alice@example.com", ClientInfo{}); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if !env.notifier.sentTo("alice@example.com") {
		t.Fatal("reset mail should be sent")
	}
	url := env.notifier.resetURLFor("alice@example.com")
	if !strings.HasPrefix(url, "https://tripdeck.io/reset-password?token=") {
		t.Errorf("reset URL = %q, want prefix with token query", url)
	}
}

func TestForgotPassword_MailFailureStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("smtp down")
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	if err := env.svc.ForgotPassword(context.Background(), "alice@example.com", ClientInfo{}); err != nil {
		t.Fatalf("ForgotPassword should swallow delivery failures, got %v", err)
	}
}

func resetTokenFromMail(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	if !env.notifier.sentTo(email) {
		t.Fatal("reset mail was not sent")
	}
	url := env.notifier.resetURLFor(email)
	i := strings.Index(url, "token=")
	if i < 0 {
		t.Fatalf("no token in reset URL %q", url)
	}
	return url[i+len("token="):]
}

func TestResetPassword_Success(t *testing.T) {
	env := newTestEnv(t)
	first := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	if err := env.svc.ForgotPassword(context.Background(), "alice@example.com", ClientInfo{}); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := resetTokenFromMail(t, env, "alice@example.com")

	res, err := env.svc.ResetPassword(context.Background(), token, "N3w$ecret999", ClientInfo{IP: "192.0.2.1"})
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if res.AccessToken == "" || res.SessionID == "" {
		t.Fatal("reset should start a fresh session")
	}
	// Prior sessions are revoked; only the new one survives.
	if live, _ := env.svc.SessionLive(context.Background(), first.SessionID); live {
		t.Error("pre-reset session should be revoked")
	}
	if live, _ := env.svc.SessionLive(context.Background(), res.SessionID); !live {
		t.Error("fresh session should be live")
	}
	if _, err := env.svc.Login(context.Background(), "alice@example.com", "N3w$ecret999", ClientInfo{}); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, err := env.svc.Login(context.Background(), "alice@example.com", "Sup3r$ecret1", ClientInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("login with old password err = %v, want ErrInvalidCredentials", err)
	}
}

func TestResetPassword_TokenSingleUse(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	env.svc.ForgotPassword(context.Background(), "alice@example.com", ClientInfo{})
	token := resetTokenFromMail(t, env, "alice@example.com")

	if _, err := env.svc.ResetPassword(context.Background(), token, "N3w$ecret999", ClientInfo{}); err != nil {
		t.Fatalf("first ResetPassword: %v", err)
	}
	_, err := env.svc.ResetPassword(context.Background(), token, "An0ther$ecret", ClientInfo{})
	if !errors.Is(err, security.ErrInvalidToken) {
		t.Fatalf("second use err = %v, want ErrInvalidToken", err)
	}
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	token, hash, err := security.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	env.resets.Create(context.Background(), &resetdomain.Reset{
		ID:        "reset-1",
		UserID:    res.User.ID,
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	})

	_, err = env.svc.ResetPassword(context.Background(), token, "N3w$ecret999", ClientInfo{})
	if !errors.Is(err, security.ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestResetPassword_WeakPasswordDoesNotBurnToken(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	env.svc.ForgotPassword(context.Background(), "alice@example.com", ClientInfo{})
	token := resetTokenFromMail(t, env, "alice@example.com")

	_, err := env.svc.ResetPassword(context.Background(), token, "weak", ClientInfo{})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("err = %v, want ErrWeakPassword", err)
	}
	// The policy failure happened before consumption; the token still works.
	if _, err := env.svc.ResetPassword(context.Background(), token, "N3w$ecret999", ClientInfo{}); err != nil {
		t.Fatalf("ResetPassword after weak attempt: %v", err)
	}
}

func TestResetPassword_UnknownToken(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.ResetPassword(context.Background(), "nope", "N3w$ecret999", ClientInfo{})
	if !errors.Is(err, security.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")

	user, err := env.svc.Me(context.Background(), res.User.ID)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", user.Email)
	}

	if _, err := env.svc.Me(context.Background(), "missing"); !errors.Is(err, security.ErrInvalidToken) {
		t.Errorf("Me(missing) err = %v, want ErrInvalidToken", err)
	}
}

func TestSessions_ListsOnlyLive(t *testing.T) {
	env := newTestEnv(t)
	res := mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	res2, _ := env.svc.Login(context.Background(), "alice@example.com", "Sup3r$ecret1", ClientInfo{})
	env.svc.Logout(context.Background(), &security.Identity{UserID: res.User.ID, SessionID: res2.SessionID})

	list, err := env.svc.Sessions(context.Background(), res.User.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0].ID != res.SessionID {
		t.Errorf("session id = %q, want %q", list[0].ID, res.SessionID)
	}
}

func TestConcurrentRegistrations_OneWinner(t *testing.T) {
	env := newTestEnv(t)
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct IPs keep the register limiter out of the race.
			_, errs[i] = env.svc.Register(context.Background(), "alice@example.com", "Sup3r$ecret1", "Alice", ClientInfo{IP: "192.0.2." + string(rune('1'+i))})
		}(i)
	}
	wg.Wait()

	var wins, dups int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrEmailAlreadyRegistered):
			dups++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if dups != n-1 {
		t.Errorf("duplicates = %d, want %d", dups, n-1)
	}
}

func TestConcurrentResetConsumption_OneWinner(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice@example.com", "Sup3r$ecret1")
	env.svc.ForgotPassword(context.Background(), "alice@example.com", ClientInfo{})
	token := resetTokenFromMail(t, env, "alice@example.com")

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.ResetPassword(context.Background(), token, "N3w$ecret999", ClientInfo{})
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, security.ErrInvalidToken) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}
