package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/careauth/internal/audit"
)

// LoginInput is one password login request plus the client facts the
// attempt record needs.
type LoginInput struct {
	Email      string
	Password   string
	TOTPCode   string
	BackupCode string
	RememberMe bool
	IP         string
	UserAgent  string
}

type LoginMetrics struct {
	LoginSuccess            int
	LoginFailure            int
	LoginRateLimited        int
	LoginTwoFactorRequired  int
	SessionCreated          int
	LoginAttemptWriteFailed int
}

type LoginErrors struct {
	EngineNotReady       error
	InvalidInput         error
	InvalidCodeFormat    error
	ConflictingFactors   error
	InvalidCredentials   error
	InvalidCode          error
	AccountInactive      error
	OrganizationInactive error
	LoginRateLimited     error
	BackendUnavailable   error
	Internal             error
}

// LoginDeps captures the password login dependencies.
type LoginDeps struct {
	PasswordUpgradeOnLogin bool
	CodeFormat             CodeFormat

	Now   func() time.Time
	NewID func() string

	CheckRate     func(context.Context, string, string) error
	IncrementRate func(context.Context, string, string) error
	ResetRate     func(context.Context, string) error
	IsRateLimited func(error) bool

	BeginAttempt   func(context.Context, LoginAttemptRecord) error
	ResolveAttempt func(context.Context, LoginAttemptRecord) error

	GetUserByEmail       func(context.Context, string) (LoginUser, error)
	IsUserNotFound       func(error) bool
	VerifyPassword       func(string, string) (bool, error)
	VerifyDummyPassword  func(string)
	PasswordNeedsUpgrade func(string) bool
	HashPassword         func(string) (string, error)
	UpdatePasswordHash   func(context.Context, string, string) error

	GetTwoFactor       func(context.Context, string) (*TwoFactorState, error)
	VerifySecondFactor func(context.Context, SecondFactorInput) (string, string, error)

	CreateSession func(context.Context, SessionRequest) (IssuedSession, error)

	MetricInc func(int)
	Emit      func(context.Context, audit.Event)
	Warn      func(string, error)

	Metrics LoginMetrics
	Errors  LoginErrors
}

// RunLogin drives a password login from AwaitingCredentials to Completed,
// AwaitingSecondFactor or Failed. Every path past input validation and rate
// limiting resolves the speculative login attempt, including panics.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (out LoginOutcome, err error) {
	normalizeLoginDeps(&deps)

	if deps.GetUserByEmail == nil ||
		deps.VerifyPassword == nil ||
		deps.GetTwoFactor == nil ||
		deps.VerifySecondFactor == nil ||
		deps.CreateSession == nil {
		return failed(ReasonInternalError, LoginUser{}), deps.Errors.EngineNotReady
	}

	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return failed(ReasonInvalidInput, LoginUser{}), deps.Errors.InvalidInput
	}
	switch deps.CodeFormat.Check(in.TOTPCode, in.BackupCode) {
	case FormatConflict:
		return failed(ReasonInvalidInput, LoginUser{}), deps.Errors.ConflictingFactors
	case FormatMalformed:
		return failed(ReasonInvalidInput, LoginUser{}), deps.Errors.InvalidCodeFormat
	}

	if err := deps.CheckRate(ctx, email, in.IP); err != nil {
		if !deps.IsRateLimited(err) {
			return failed(ReasonBackendUnavailable, LoginUser{}), deps.Errors.BackendUnavailable
		}
		deps.MetricInc(deps.Metrics.LoginRateLimited)
		deps.Emit(ctx, audit.Event{
			Action:  audit.ActionRateLimited,
			Status:  audit.StatusFailed,
			Details: map[string]string{"email": email, "scope": "login"},
		})
		return failed(ReasonRateLimited, LoginUser{}), deps.Errors.LoginRateLimited
	}

	tracker := beginAttempt(ctx, LoginAttemptRecord{
		ID:        deps.NewID(),
		Email:     email,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		CreatedAt: deps.Now(),
	}, deps.BeginAttempt, deps.ResolveAttempt, deps.Now, deps.Warn, func() {
		deps.MetricInc(deps.Metrics.LoginAttemptWriteFailed)
	})

	var current LoginUser
	defer func() {
		if r := recover(); r != nil {
			deps.Warn("login flow panicked", fmt.Errorf("%v", r))
			out = failed(ReasonInternalError, current)
			err = deps.Errors.Internal
		}
		if out.Status == LoginFailed {
			deps.MetricInc(deps.Metrics.LoginFailure)
		}
		tracker.finish(ctx, out)
	}()

	user, lookupErr := deps.GetUserByEmail(ctx, email)
	if lookupErr != nil {
		if !deps.IsUserNotFound(lookupErr) {
			deps.Warn("user lookup failed", lookupErr)
			return failed(ReasonBackendUnavailable, current), deps.Errors.BackendUnavailable
		}
		deps.VerifyDummyPassword(in.Password)
		deps.Emit(ctx, audit.Event{
			Action:  audit.ActionFailedLogin,
			Status:  audit.StatusFailed,
			Details: map[string]string{"email": email, "reason": ReasonUserNotFound},
		})
		return failed(ReasonUserNotFound, current), passwordFailure(ctx, email, in.IP, deps)
	}
	current = user

	ok, verifyErr := deps.VerifyPassword(in.Password, user.PasswordHash)
	if verifyErr != nil || !ok {
		risk := audit.RiskLevel("")
		if !user.Active {
			risk = audit.RiskHigh
		}
		deps.Emit(ctx, loginFailureEvent(user, ReasonInvalidPassword, risk))
		return failed(ReasonInvalidPassword, current), passwordFailure(ctx, email, in.IP, deps)
	}

	if !user.Active {
		deps.Emit(ctx, loginFailureEvent(user, ReasonAccountInactive, audit.RiskHigh))
		return failed(ReasonAccountInactive, current), deps.Errors.AccountInactive
	}
	if !user.OrganizationActive {
		deps.Emit(ctx, loginFailureEvent(user, ReasonOrganizationInactive, ""))
		return failed(ReasonOrganizationInactive, current), deps.Errors.OrganizationInactive
	}

	if deps.PasswordUpgradeOnLogin && deps.PasswordNeedsUpgrade(user.PasswordHash) {
		if upgraded, hashErr := deps.HashPassword(in.Password); hashErr == nil {
			if updateErr := deps.UpdatePasswordHash(ctx, user.UserID, upgraded); updateErr != nil {
				deps.Warn("password hash upgrade update failed", updateErr)
			}
		} else {
			deps.Warn("password hash upgrade generation failed", hashErr)
		}
	}

	state, stateErr := deps.GetTwoFactor(ctx, user.UserID)
	if stateErr != nil {
		deps.Warn("two-factor lookup failed", stateErr)
		return failed(ReasonBackendUnavailable, current), deps.Errors.BackendUnavailable
	}

	method := MethodPassword
	twoFactor := state != nil && state.Enabled
	if twoFactor {
		totpCode := strings.TrimSpace(in.TOTPCode)
		backupCode := strings.TrimSpace(in.BackupCode)
		if totpCode == "" && backupCode == "" {
			deps.MetricInc(deps.Metrics.LoginTwoFactorRequired)
			return LoginOutcome{
				Status: LoginRequiresTwoFactor,
				User:   current,
				Reason: ReasonTwoFactorRequired,
			}, nil
		}

		proven, reason, factorErr := deps.VerifySecondFactor(ctx, SecondFactorInput{
			UserID:         user.UserID,
			OrganizationID: user.OrganizationID,
			TOTPCode:       totpCode,
			BackupCode:     backupCode,
			State:          state,
		})
		if factorErr != nil {
			deps.Emit(ctx, loginFailureEvent(user, reason, audit.RiskHigh))
			return failed(reason, current), factorErr
		}
		method = proven
	}

	if err := deps.ResetRate(ctx, email); err != nil {
		deps.Warn("login limiter reset failed", err)
	}

	issued, sessionErr := deps.CreateSession(ctx, SessionRequest{
		UserID:            user.UserID,
		OrganizationID:    user.OrganizationID,
		Role:              user.Role,
		Method:            method,
		TwoFactorVerified: twoFactor,
		RememberMe:        in.RememberMe,
	})
	if sessionErr != nil {
		deps.Warn("session creation failed", sessionErr)
		return failed(ReasonBackendUnavailable, current), sessionErr
	}
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.LoginSuccess)

	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionLogin,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		Status:         audit.StatusSuccess,
		SessionID:      issued.SessionID,
		Details:        map[string]string{"method": method},
	})

	return LoginOutcome{
		Status:  LoginSucceeded,
		User:    current,
		Session: issued,
		Method:  method,
	}, nil
}

// passwordFailure counts a wrong credential against the login window and
// picks the error the caller sees.
func passwordFailure(ctx context.Context, email, ip string, deps LoginDeps) error {
	if err := deps.IncrementRate(ctx, email, ip); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			return deps.Errors.LoginRateLimited
		}
		deps.Warn("login limiter increment failed", err)
	}
	return deps.Errors.InvalidCredentials
}

func loginFailureEvent(user LoginUser, reason string, risk audit.RiskLevel) audit.Event {
	return audit.Event{
		Action:         audit.ActionFailedLogin,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		Status:         audit.StatusFailed,
		Risk:           risk,
		Details:        map[string]string{"email": user.Email, "reason": reason},
	}
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return "" }
	}
	if deps.CheckRate == nil {
		deps.CheckRate = func(context.Context, string, string) error { return nil }
	}
	if deps.IncrementRate == nil {
		deps.IncrementRate = func(context.Context, string, string) error { return nil }
	}
	if deps.ResetRate == nil {
		deps.ResetRate = func(context.Context, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.VerifyDummyPassword == nil {
		deps.VerifyDummyPassword = func(string) {}
	}
	if deps.PasswordNeedsUpgrade == nil {
		deps.PasswordNeedsUpgrade = func(string) bool { return false }
	}
	if deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		deps.PasswordUpgradeOnLogin = false
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Emit == nil {
		deps.Emit = func(context.Context, audit.Event) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, error) {}
	}
}
