package audit

// Audit actions recorded by the auth flows. Every entry uses ResourceAuth.
const (
	ActionRegister       = "register"
	ActionLoginSuccess   = "login_success"
	ActionLoginFailure   = "login_failure"
	ActionLogout         = "logout"
	ActionLogoutAll      = "logout_all"
	ActionTokenRefresh   = "token_refresh"
	ActionRefreshReuse   = "refresh_reuse_detected"
	ActionResetRequested = "password_reset_requested"
	ActionResetCompleted = "password_reset_completed"
)

// ResourceAuth is the resource name for all auth flow audit entries.
const ResourceAuth = "auth"
