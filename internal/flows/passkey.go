package flows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/careauth/internal"
	"github.com/MrEthical07/careauth/internal/audit"
	"github.com/MrEthical07/careauth/internal/stores"
)

// PasskeyCredential is the flow-local passkey record.
type PasskeyCredential struct {
	CredentialID []byte
	UserID       string
	PublicKey    []byte
	SignCount    uint32
	Active       bool
}

// PasskeyAssertionInput is the authenticator response.
type PasskeyAssertionInput struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
	UserHandle        []byte
}

// IssuedPasskeyChallenge is what the browser needs to sign.
type IssuedPasskeyChallenge struct {
	Reference        string
	Challenge        []byte
	UserID           string
	AllowCredentials [][]byte
	ExpiresAt        time.Time
}

type PasskeyMetrics struct {
	PasskeyChallengeIssued  int
	PasskeyLoginSuccess     int
	PasskeyLoginFailure     int
	PasskeyCounterRejected  int
	SessionCreated          int
	LoginAttemptWriteFailed int
}

type PasskeyErrors struct {
	EngineNotReady       error
	Disabled             error
	InvalidInput         error
	InvalidCredentials   error
	ChallengeInvalid     error
	AssertionInvalid     error
	AccountInactive      error
	OrganizationInactive error
	BackendUnavailable   error
	Internal             error
}

type PasskeyDeps struct {
	Enabled      bool
	ChallengeTTL time.Duration

	Now          func() time.Time
	NewID        func() string
	NewReference func() (string, error)
	NewChallenge func() ([]byte, error)

	InsertChallenge  func(context.Context, string, *stores.PasskeyChallenge, time.Duration) error
	ConsumeChallenge func(context.Context, string) (*stores.PasskeyChallenge, error)

	GetUserByEmail func(context.Context, string) (LoginUser, error)
	GetUserByID    func(context.Context, string) (LoginUser, error)
	IsUserNotFound func(error) bool

	ListPasskeys     func(context.Context, string) ([]PasskeyCredential, error)
	GetPasskey       func(context.Context, []byte) (PasskeyCredential, error)
	IsPasskeyMissing func(error) bool
	// VerifyAssertion checks the signature over the challenge and returns
	// the authenticator's sign counter.
	VerifyAssertion  func(PasskeyAssertionInput, []byte, []byte) (uint32, error)
	AdvanceSignCount func(context.Context, []byte, uint32, time.Time) (bool, error)

	BeginAttempt         func(context.Context, LoginAttemptRecord) error
	ResolveAttempt       func(context.Context, LoginAttemptRecord) error
	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string

	CreateSession func(context.Context, SessionRequest) (IssuedSession, error)

	MetricInc func(int)
	Emit      func(context.Context, audit.Event)
	Warn      func(string, error)

	Metrics PasskeyMetrics
	Errors  PasskeyErrors
}

// RunBeginPasskeyLogin issues a single-use challenge bound to the user that
// owns email. Unknown users and users without an active passkey get
// Errors.InvalidCredentials.
func RunBeginPasskeyLogin(ctx context.Context, email string, deps PasskeyDeps) (IssuedPasskeyChallenge, error) {
	normalizePasskeyDeps(&deps)

	if !deps.Enabled {
		return IssuedPasskeyChallenge{}, deps.Errors.Disabled
	}
	if deps.GetUserByEmail == nil || deps.ListPasskeys == nil || deps.InsertChallenge == nil {
		return IssuedPasskeyChallenge{}, deps.Errors.EngineNotReady
	}
	email = NormalizeEmail(email)
	if email == "" {
		return IssuedPasskeyChallenge{}, deps.Errors.InvalidInput
	}

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if deps.IsUserNotFound(err) {
			return IssuedPasskeyChallenge{}, deps.Errors.InvalidCredentials
		}
		return IssuedPasskeyChallenge{}, deps.Errors.BackendUnavailable
	}
	keys, err := deps.ListPasskeys(ctx, user.UserID)
	if err != nil {
		return IssuedPasskeyChallenge{}, deps.Errors.BackendUnavailable
	}
	allow := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k.Active {
			allow = append(allow, k.CredentialID)
		}
	}
	if len(allow) == 0 {
		return IssuedPasskeyChallenge{}, deps.Errors.InvalidCredentials
	}

	ref, err := deps.NewReference()
	if err != nil {
		return IssuedPasskeyChallenge{}, deps.Errors.BackendUnavailable
	}
	challenge, err := deps.NewChallenge()
	if err != nil {
		return IssuedPasskeyChallenge{}, deps.Errors.BackendUnavailable
	}
	record := &stores.PasskeyChallenge{UserID: user.UserID, Challenge: challenge}
	if err := deps.InsertChallenge(ctx, ref, record, deps.ChallengeTTL); err != nil {
		deps.Warn("passkey challenge insert failed", err)
		return IssuedPasskeyChallenge{}, deps.Errors.BackendUnavailable
	}

	deps.MetricInc(deps.Metrics.PasskeyChallengeIssued)
	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionPasskeyChallenge,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		Status:         audit.StatusSuccess,
	})

	return IssuedPasskeyChallenge{
		Reference:        ref,
		Challenge:        challenge,
		UserID:           user.UserID,
		AllowCredentials: allow,
		ExpiresAt:        time.UnixMilli(record.ExpiresAt),
	}, nil
}

// RunCompletePasskeyLogin consumes the challenge behind ref whatever the
// outcome, verifies the assertion and advances the sign counter before a
// session is created.
func RunCompletePasskeyLogin(ctx context.Context, ref string, in PasskeyAssertionInput, deps PasskeyDeps) (out LoginOutcome, err error) {
	normalizePasskeyDeps(&deps)

	if !deps.Enabled {
		return failed(ReasonInternalError, LoginUser{}), deps.Errors.Disabled
	}
	if deps.ConsumeChallenge == nil ||
		deps.GetPasskey == nil ||
		deps.VerifyAssertion == nil ||
		deps.AdvanceSignCount == nil ||
		deps.GetUserByID == nil ||
		deps.CreateSession == nil {
		return failed(ReasonInternalError, LoginUser{}), deps.Errors.EngineNotReady
	}
	if ref == "" || len(in.CredentialID) == 0 {
		return failed(ReasonInvalidInput, LoginUser{}), deps.Errors.InvalidInput
	}

	tracker := beginAttempt(ctx, LoginAttemptRecord{
		ID:        deps.NewID(),
		IP:        deps.ClientIPFromContext(ctx),
		UserAgent: deps.UserAgentFromContext(ctx),
		CreatedAt: deps.Now(),
	}, deps.BeginAttempt, deps.ResolveAttempt, deps.Now, deps.Warn, func() {
		deps.MetricInc(deps.Metrics.LoginAttemptWriteFailed)
	})

	var current LoginUser
	defer func() {
		if r := recover(); r != nil {
			deps.Warn("passkey login panicked", fmt.Errorf("%v", r))
			out = failed(ReasonInternalError, current)
			err = deps.Errors.Internal
		}
		if out.Status != LoginSucceeded {
			deps.MetricInc(deps.Metrics.PasskeyLoginFailure)
		}
		tracker.finish(ctx, out)
	}()

	challenge, consumeErr := deps.ConsumeChallenge(ctx, ref)
	switch {
	case errors.Is(consumeErr, stores.ErrChallengeNotFound):
		deps.Emit(ctx, passkeyFailureEvent(LoginUser{}, ReasonPasskeyChallengeInvalid, "challenge_failure", "not_found"))
		return failed(ReasonPasskeyChallengeInvalid, current), deps.Errors.ChallengeInvalid
	case errors.Is(consumeErr, stores.ErrChallengeExpired):
		if challenge != nil {
			current.UserID = challenge.UserID
		}
		deps.Emit(ctx, passkeyFailureEvent(current, ReasonPasskeyChallengeInvalid, "challenge_failure", "expired"))
		return failed(ReasonPasskeyChallengeInvalid, current), deps.Errors.ChallengeInvalid
	case consumeErr != nil:
		deps.Warn("passkey challenge consume failed", consumeErr)
		return failed(ReasonBackendUnavailable, current), deps.Errors.BackendUnavailable
	}
	current.UserID = challenge.UserID

	credential, keyErr := deps.GetPasskey(ctx, in.CredentialID)
	if keyErr != nil {
		if !deps.IsPasskeyMissing(keyErr) {
			return failed(ReasonBackendUnavailable, current), deps.Errors.BackendUnavailable
		}
		deps.Emit(ctx, passkeyFailureEvent(current, ReasonPasskeyAssertionInvalid, "assertion_failure", "unknown_credential"))
		return failed(ReasonPasskeyAssertionInvalid, current), deps.Errors.AssertionInvalid
	}
	if credential.UserID != challenge.UserID ||
		(len(in.UserHandle) > 0 && !bytes.Equal(in.UserHandle, []byte(challenge.UserID))) {
		deps.Emit(ctx, passkeyFailureEvent(current, ReasonPasskeyChallengeInvalid, "challenge_failure", "user_mismatch"))
		return failed(ReasonPasskeyChallengeInvalid, current), deps.Errors.ChallengeInvalid
	}
	if !credential.Active {
		deps.Emit(ctx, passkeyFailureEvent(current, ReasonPasskeyAssertionInvalid, "assertion_failure", "inactive_credential"))
		return failed(ReasonPasskeyAssertionInvalid, current), deps.Errors.AssertionInvalid
	}

	signCount, verifyErr := deps.VerifyAssertion(in, challenge.Challenge, credential.PublicKey)
	if verifyErr != nil {
		deps.Emit(ctx, passkeyFailureEvent(current, ReasonPasskeyAssertionInvalid, "assertion_failure", verifyErr.Error()))
		return failed(ReasonPasskeyAssertionInvalid, current), deps.Errors.AssertionInvalid
	}

	now := deps.Now()
	advanced := false
	if signCount > credential.SignCount {
		var advanceErr error
		advanced, advanceErr = deps.AdvanceSignCount(ctx, credential.CredentialID, signCount, now)
		if advanceErr != nil {
			deps.Warn("passkey counter update failed", advanceErr)
			return failed(ReasonBackendUnavailable, current), deps.Errors.BackendUnavailable
		}
	}
	if !advanced {
		deps.MetricInc(deps.Metrics.PasskeyCounterRejected)
		deps.Emit(ctx, passkeyFailureEvent(current, ReasonPasskeyAssertionInvalid, "assertion_failure", "counter_not_increased"))
		return failed(ReasonPasskeyAssertionInvalid, current), deps.Errors.AssertionInvalid
	}

	user, userErr := deps.GetUserByID(ctx, challenge.UserID)
	if userErr != nil {
		if deps.IsUserNotFound(userErr) {
			return failed(ReasonUserNotFound, current), deps.Errors.InvalidCredentials
		}
		return failed(ReasonBackendUnavailable, current), deps.Errors.BackendUnavailable
	}
	current = user
	if !user.Active {
		deps.Emit(ctx, loginFailureEvent(user, ReasonAccountInactive, audit.RiskHigh))
		return failed(ReasonAccountInactive, current), deps.Errors.AccountInactive
	}
	if !user.OrganizationActive {
		deps.Emit(ctx, loginFailureEvent(user, ReasonOrganizationInactive, ""))
		return failed(ReasonOrganizationInactive, current), deps.Errors.OrganizationInactive
	}

	issued, sessionErr := deps.CreateSession(ctx, SessionRequest{
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
		Method:         MethodPasskey,
	})
	if sessionErr != nil {
		deps.Warn("session creation failed", sessionErr)
		return failed(ReasonBackendUnavailable, current), sessionErr
	}
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.PasskeyLoginSuccess)

	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionLogin,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		Status:         audit.StatusSuccess,
		SessionID:      issued.SessionID,
		Details:        map[string]string{"method": MethodPasskey},
	})

	return LoginOutcome{
		Status:  LoginSucceeded,
		User:    current,
		Session: issued,
		Method:  MethodPasskey,
	}, nil
}

func passkeyFailureEvent(user LoginUser, reason, key, value string) audit.Event {
	return audit.Event{
		Action:         audit.ActionFailedLogin,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		Status:         audit.StatusFailed,
		Details:        map[string]string{"method": MethodPasskey, "reason": reason, key: value},
	}
}

func normalizePasskeyDeps(deps *PasskeyDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return "" }
	}
	if deps.NewReference == nil {
		deps.NewReference = internal.NewReference
	}
	if deps.NewChallenge == nil {
		deps.NewChallenge = internal.NewChallenge
	}
	if deps.ChallengeTTL <= 0 {
		deps.ChallengeTTL = 5 * time.Minute
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.UserAgentFromContext == nil {
		deps.UserAgentFromContext = func(context.Context) string { return "" }
	}
	if deps.IsPasskeyMissing == nil {
		deps.IsPasskeyMissing = func(error) bool { return false }
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
