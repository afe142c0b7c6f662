package careauth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/careauth/internal/audit"
	"github.com/MrEthical07/careauth/internal/flows"
	"github.com/MrEthical07/careauth/internal/rate"
	"github.com/MrEthical07/careauth/internal/stores"
	"github.com/MrEthical07/careauth/jwt"
	"github.com/MrEthical07/careauth/logger"
	"github.com/MrEthical07/careauth/password"
	"github.com/MrEthical07/careauth/session"
)

// Engine runs login, second-factor, passkey, session, emergency access and
// audit operations. It is safe for concurrent use once built.
type Engine struct {
	config       Config
	flows        flows.Service
	users        UserProvider
	passkeys     PasskeyProvider
	attempts     LoginAttemptStore
	grants       GrantStore
	sessionStore *session.Store
	challenges   *stores.PasskeyChallengeStore
	rateLimiter  *rate.Limiter
	audit        *audit.Engine
	metrics      *Metrics
	passwordHash *password.Argon2
	totp         *totpManager
	jwtManager   *jwt.Manager
	logger       logger.Logger
	now          func() time.Time
}

// Close drains queued audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// MetricsSnapshot returns the in-process counters and audit pipeline health.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	snap := e.metrics.Snapshot()
	snap.Audit = e.AuditStats()
	return snap
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) flowMetricInc(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) warn(msg string, err error) {
	e.logger.Warn(msg, logger.Error(err))
}

// Login runs the password login state machine. Authentication failures come
// back as a LoginFailed result together with the error; a user with 2FA and
// no code gets LoginRequiresTwoFactor and a nil error.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if e == nil || !e.flows.Initialized() {
		return LoginResult{Status: LoginFailed, Reason: flows.ReasonInternalError}, ErrEngineNotReady
	}

	start := time.Now()
	out, err := e.flows.Login(ctx, flows.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		BackupCode: req.BackupCode,
		RememberMe: req.RememberMe,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
	})
	if e.metrics != nil {
		e.metrics.Observe(MetricLoginLatency, time.Since(start))
	}
	return loginResult(out), err
}

func loginResult(out flows.LoginOutcome) LoginResult {
	switch out.Status {
	case flows.LoginSucceeded:
		return LoginResult{
			Status:    LoginSucceeded,
			Token:     out.Session.Token,
			SessionID: out.Session.SessionID,
			ExpiresAt: out.Session.ExpiresAt,
			UserID:    out.User.UserID,
			User: &UserSummary{
				UserID:         out.User.UserID,
				Email:          out.User.Email,
				Role:           out.User.Role,
				OrganizationID: out.User.OrganizationID,
			},
		}
	case flows.LoginRequiresTwoFactor:
		return LoginResult{Status: LoginRequiresTwoFactor, UserID: out.User.UserID}
	default:
		return LoginResult{Status: LoginFailed, Reason: out.Reason}
	}
}

func (e *Engine) loginFlowDeps() flows.LoginDeps {
	deps := flows.LoginDeps{
		PasswordUpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		CodeFormat:             e.codeFormat(),
		Now:                    e.now,
		NewID:                  uuid.NewString,
		CheckRate:              e.rateLimiter.CheckLogin,
		IncrementRate:          e.rateLimiter.IncrementLogin,
		ResetRate:              e.rateLimiter.ResetLogin,
		IsRateLimited:          isRateLimited,
		GetUserByEmail:         e.loginUserByEmail,
		IsUserNotFound:         isUserNotFound,
		VerifyPassword:         e.passwordHash.Verify,
		VerifyDummyPassword:    e.passwordHash.VerifyDummy,
		PasswordNeedsUpgrade: func(hash string) bool {
			upgrade, err := e.passwordHash.NeedsUpgrade(hash)
			return err == nil && upgrade
		},
		HashPassword:       e.passwordHash.Hash,
		UpdatePasswordHash: e.users.UpdatePasswordHash,
		GetTwoFactor:       e.twoFactorState,
		VerifySecondFactor: func(ctx context.Context, in flows.SecondFactorInput) (string, string, error) {
			return e.flows.VerifySecondFactor(ctx, in)
		},
		CreateSession: e.createSession,
		MetricInc:     e.flowMetricInc,
		Emit:          e.emit,
		Warn:          e.warn,
		Metrics: flows.LoginMetrics{
			LoginSuccess:            int(MetricLoginSuccess),
			LoginFailure:            int(MetricLoginFailure),
			LoginRateLimited:        int(MetricLoginRateLimited),
			LoginTwoFactorRequired:  int(MetricLoginTwoFactorRequired),
			SessionCreated:          int(MetricSessionCreated),
			LoginAttemptWriteFailed: int(MetricLoginAttemptWriteFailed),
		},
		Errors: flows.LoginErrors{
			EngineNotReady:       ErrEngineNotReady,
			InvalidInput:         ErrInvalidInput,
			InvalidCodeFormat:    ErrInvalidCodeFormat,
			ConflictingFactors:   ErrConflictingFactors,
			InvalidCredentials:   ErrInvalidCredentials,
			InvalidCode:          ErrInvalidCode,
			AccountInactive:      ErrAccountInactive,
			OrganizationInactive: ErrOrganizationInactive,
			LoginRateLimited:     ErrLoginRateLimited,
			BackendUnavailable:   ErrBackendUnavailable,
			Internal:             ErrInternal,
		},
	}
	if e.attempts != nil {
		deps.BeginAttempt = func(ctx context.Context, rec flows.LoginAttemptRecord) error {
			return e.attempts.Begin(ctx, LoginAttempt(rec))
		}
		deps.ResolveAttempt = func(ctx context.Context, rec flows.LoginAttemptRecord) error {
			return e.attempts.Resolve(ctx, LoginAttempt(rec))
		}
	}
	return deps
}

func (e *Engine) secondFactorFlowDeps() flows.SecondFactorDeps {
	return flows.SecondFactorDeps{
		Now:                  e.now,
		GetTwoFactor:         e.twoFactorState,
		VerifyTOTP:           e.totp.VerifyCode,
		AdvanceTOTPCounter:   e.users.AdvanceTOTPCounter,
		ConsumeBackupCode:    e.users.ConsumeBackupCode,
		RecordFailure:        e.users.RecordTwoFactorFailure,
		CheckLimiter:         e.rateLimiter.CheckCode,
		RecordLimiterFailure: e.rateLimiter.RecordCodeFailure,
		ResetLimiter:         e.rateLimiter.ResetCode,
		IsRateLimited:        isRateLimited,
		MetricInc:            e.flowMetricInc,
		Emit:                 e.emit,
		Warn:                 e.warn,
		Metrics: flows.SecondFactorMetrics{
			TwoFactorSuccess:   int(MetricTwoFactorSuccess),
			TwoFactorFailure:   int(MetricTwoFactorFailure),
			TOTPReplayRejected: int(MetricTOTPReplayRejected),
			BackupCodeUsed:     int(MetricBackupCodeUsed),
			BackupCodeFailed:   int(MetricBackupCodeFailed),
		},
		Errors: flows.SecondFactorErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCode:        ErrInvalidCode,
			CodeRateLimited:    ErrCodeRateLimited,
			BackendUnavailable: ErrBackendUnavailable,
		},
	}
}

func (e *Engine) codeFormat() flows.CodeFormat {
	return flows.CodeFormat{
		TOTPWellFormed:   e.totp.WellFormed,
		BackupCodeLength: e.config.TwoFactor.BackupCodeLength,
	}
}

func (e *Engine) loginUserByEmail(ctx context.Context, email string) (flows.LoginUser, error) {
	rec, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return flows.LoginUser{}, err
	}
	return toLoginUser(rec), nil
}

func (e *Engine) loginUserByID(ctx context.Context, userID string) (flows.LoginUser, error) {
	rec, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return flows.LoginUser{}, err
	}
	return toLoginUser(rec), nil
}

func (e *Engine) twoFactorState(ctx context.Context, userID string) (*flows.TwoFactorState, error) {
	rec, err := e.users.GetTwoFactor(ctx, userID)
	if err != nil || rec == nil {
		return nil, err
	}
	return &flows.TwoFactorState{
		Secret:          rec.Secret,
		Enabled:         rec.Enabled,
		LastUsedCounter: rec.LastUsedCounter,
	}, nil
}

func toLoginUser(rec UserRecord) flows.LoginUser {
	return flows.LoginUser{
		UserID:             rec.UserID,
		Email:              rec.Email,
		PasswordHash:       rec.PasswordHash,
		Role:               rec.Role,
		OrganizationID:     rec.OrganizationID,
		Active:             rec.Active,
		OrganizationActive: rec.OrganizationActive,
	}
}

func isUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isRateLimited(err error) bool {
	return errors.Is(err, rate.ErrRateLimited)
}
