package flows

import (
	"context"
	"strings"
	"time"
)

// Failure reasons recorded on login attempts and in audit details. They
// never reach API callers verbatim.
const (
	ReasonInvalidInput            = "invalid_input"
	ReasonRateLimited             = "rate_limited"
	ReasonUserNotFound            = "user_not_found"
	ReasonInvalidPassword         = "invalid_password"
	ReasonAccountInactive         = "account_inactive"
	ReasonOrganizationInactive    = "organization_inactive"
	ReasonTwoFactorRequired       = "two_factor_required"
	ReasonInvalidTOTP             = "invalid_totp"
	ReasonInvalidBackupCode       = "invalid_backup_code"
	ReasonBackendUnavailable      = "backend_unavailable"
	ReasonInternalError           = "internal_error"
	ReasonPasskeyChallengeInvalid = "passkey_challenge_invalid"
	ReasonPasskeyAssertionInvalid = "passkey_assertion_invalid"
	ReasonPasswordReuse           = "password_reuse"
	ReasonPasswordPolicy          = "password_policy"
)

// Login methods, matching session.Method names.
const (
	MethodPassword   = "password"
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
	MethodPasskey    = "passkey"
)

// LoginUser is the flow-local view of a user record.
type LoginUser struct {
	UserID             string
	Email              string
	PasswordHash       string
	Role               string
	OrganizationID     string
	Active             bool
	OrganizationActive bool
}

// TwoFactorState is the flow-local TOTP record.
type TwoFactorState struct {
	Secret          []byte
	Enabled         bool
	LastUsedCounter int64
}

// LoginAttemptRecord mirrors the host LoginAttempt.
type LoginAttemptRecord struct {
	ID            string
	Email         string
	IP            string
	UserAgent     string
	Success       bool
	FailureReason string
	UserID        string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// SessionRequest is what a completed login asks the session manager for.
type SessionRequest struct {
	UserID            string
	OrganizationID    string
	Role              string
	Method            string
	TwoFactorVerified bool
	RememberMe        bool
}

// IssuedSession is the session manager's answer.
type IssuedSession struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// LoginStatus tags the login outcome.
type LoginStatus uint8

const (
	LoginFailed LoginStatus = iota
	LoginSucceeded
	LoginRequiresTwoFactor
)

// LoginOutcome is the flow-local login result. Reason is set for every
// non-success outcome, including LoginRequiresTwoFactor.
type LoginOutcome struct {
	Status  LoginStatus
	User    LoginUser
	Session IssuedSession
	Method  string
	Reason  string
}

func failed(reason string, user LoginUser) LoginOutcome {
	return LoginOutcome{Status: LoginFailed, Reason: reason, User: user}
}

// NormalizeEmail lower-cases and trims an email used as a login identifier.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// attemptTracker owns the speculative LoginAttempt of one login call.
type attemptTracker struct {
	record  LoginAttemptRecord
	resolve func(context.Context, LoginAttemptRecord) error
	now     func() time.Time
	warn    func(string, error)
}

func beginAttempt(
	ctx context.Context,
	record LoginAttemptRecord,
	begin, resolve func(context.Context, LoginAttemptRecord) error,
	now func() time.Time,
	warn func(string, error),
	onWriteFailure func(),
) *attemptTracker {
	t := &attemptTracker{record: record, resolve: resolve, now: now, warn: warn}
	if begin == nil {
		return t
	}
	if err := begin(ctx, record); err != nil {
		onWriteFailure()
		warn("login attempt write failed", err)
	}
	return t
}

func (t *attemptTracker) finish(ctx context.Context, out LoginOutcome) {
	if t == nil || t.resolve == nil {
		return
	}
	rec := t.record
	rec.Success = out.Status == LoginSucceeded
	if !rec.Success {
		rec.FailureReason = out.Reason
		if rec.FailureReason == "" {
			rec.FailureReason = ReasonInternalError
		}
	}
	rec.UserID = out.User.UserID
	if rec.Email == "" {
		rec.Email = out.User.Email
	}
	at := t.now()
	rec.ResolvedAt = &at

	if err := t.resolve(context.WithoutCancel(ctx), rec); err != nil {
		t.warn("login attempt resolve failed", err)
	}
}
