package careauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/careauth/internal"
	"github.com/MrEthical07/careauth/internal/audit"
	"github.com/MrEthical07/careauth/internal/flows"
	"github.com/MrEthical07/careauth/webauthn"
)

// BeginPasskeyLogin issues a single-use challenge for the account behind
// email. Unknown accounts and accounts without an active passkey both get
// ErrInvalidCredentials.
func (e *Engine) BeginPasskeyLogin(ctx context.Context, email string) (PasskeyChallenge, error) {
	if e == nil || !e.flows.Initialized() {
		return PasskeyChallenge{}, ErrEngineNotReady
	}
	issued, err := e.flows.BeginPasskeyLogin(ctx, email)
	if err != nil {
		return PasskeyChallenge{}, err
	}
	uv := "preferred"
	if e.config.Passkey.RequireUserVerification {
		uv = "required"
	}
	return PasskeyChallenge{
		Reference:        issued.Reference,
		Challenge:        issued.Challenge,
		RPID:             e.config.Passkey.RPID,
		AllowCredentials: issued.AllowCredentials,
		UserVerification: uv,
		ExpiresAt:        issued.ExpiresAt,
	}, nil
}

// CompletePasskeyLogin verifies the assertion for the challenge behind ref
// and creates a session. The challenge is gone afterwards whatever the
// outcome.
func (e *Engine) CompletePasskeyLogin(ctx context.Context, ref string, assertion PasskeyAssertion) (LoginResult, error) {
	if e == nil || !e.flows.Initialized() {
		return LoginResult{Status: LoginFailed, Reason: flows.ReasonInternalError}, ErrEngineNotReady
	}
	out, err := e.flows.CompletePasskeyLogin(ctx, ref, flows.PasskeyAssertionInput(assertion))
	return loginResult(out), err
}

// RegisterPasskey stores a credential created by the host's registration
// ceremony. The public key must be a COSE key this package can verify
// with.
func (e *Engine) RegisterPasskey(ctx context.Context, userID string, reg PasskeyRegistration) error {
	if e == nil || e.passkeys == nil {
		return ErrEngineNotReady
	}
	if !e.config.Passkey.Enabled {
		return ErrPasskeyDisabled
	}
	if userID == "" || len(reg.CredentialID) == 0 || len(reg.PublicKey) == 0 {
		return ErrInvalidInput
	}
	if _, err := webauthn.ParsePublicKey(reg.PublicKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if isUserNotFound(err) {
			return ErrInvalidInput
		}
		return ErrBackendUnavailable
	}
	if !user.Active {
		return ErrAccountInactive
	}

	err = e.passkeys.SavePasskey(ctx, PasskeyRecord{
		CredentialID: append([]byte(nil), reg.CredentialID...),
		UserID:       userID,
		PublicKey:    append([]byte(nil), reg.PublicKey...),
		SignCount:    reg.SignCount,
		DeviceName:   reg.DeviceName,
		Active:       true,
		CreatedAt:    e.now(),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return ErrInvalidInput
		}
		return ErrBackendUnavailable
	}

	e.emit(ctx, audit.Event{
		Action:         audit.ActionPasskeyRegistered,
		UserID:         userID,
		OrganizationID: user.OrganizationID,
		ResourceType:   "passkey",
		Status:         audit.StatusSuccess,
		Details:        map[string]string{"device_name": reg.DeviceName},
	})
	return nil
}

// SweepPasskeyChallenges drops expired challenges from the index and
// returns how many were removed.
func (e *Engine) SweepPasskeyChallenges(ctx context.Context) (int, error) {
	if e == nil || e.challenges == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.challenges.Sweep(ctx, time.Now())
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

func (e *Engine) verifyAssertion(in flows.PasskeyAssertionInput, challenge, publicKey []byte) (uint32, error) {
	res, err := webauthn.VerifyAssertion(webauthn.Assertion(in), webauthn.Expectation{
		Challenge:               challenge,
		RPID:                    e.config.Passkey.RPID,
		Origins:                 e.config.Passkey.Origins,
		RequireUserVerification: e.config.Passkey.RequireUserVerification,
	}, publicKey)
	if err != nil {
		return 0, err
	}
	return res.SignCount, nil
}

func toPasskeyCredential(rec PasskeyRecord) flows.PasskeyCredential {
	return flows.PasskeyCredential{
		CredentialID: rec.CredentialID,
		UserID:       rec.UserID,
		PublicKey:    rec.PublicKey,
		SignCount:    rec.SignCount,
		Active:       rec.Active,
	}
}

func (e *Engine) passkeyFlowDeps() flows.PasskeyDeps {
	deps := flows.PasskeyDeps{
		Enabled:              e.config.Passkey.Enabled,
		ChallengeTTL:         e.config.Passkey.ChallengeTTL,
		Now:                  e.now,
		NewID:                uuid.NewString,
		NewReference:         internal.NewReference,
		NewChallenge:         internal.NewChallenge,
		InsertChallenge:      e.challenges.Insert,
		ConsumeChallenge:     e.challenges.Consume,
		GetUserByEmail:       e.loginUserByEmail,
		GetUserByID:          e.loginUserByID,
		IsUserNotFound:       isUserNotFound,
		IsPasskeyMissing:     isNotFound,
		VerifyAssertion:      e.verifyAssertion,
		ClientIPFromContext:  clientIPFromContext,
		UserAgentFromContext: userAgentFromContext,
		CreateSession:        e.createSession,
		MetricInc:            e.flowMetricInc,
		Emit:                 e.emit,
		Warn:                 e.warn,
		Metrics: flows.PasskeyMetrics{
			PasskeyChallengeIssued:  int(MetricPasskeyChallengeIssued),
			PasskeyLoginSuccess:     int(MetricPasskeyLoginSuccess),
			PasskeyLoginFailure:     int(MetricPasskeyLoginFailure),
			PasskeyCounterRejected:  int(MetricPasskeyCounterRejected),
			SessionCreated:          int(MetricSessionCreated),
			LoginAttemptWriteFailed: int(MetricLoginAttemptWriteFailed),
		},
		Errors: flows.PasskeyErrors{
			EngineNotReady:       ErrEngineNotReady,
			Disabled:             ErrPasskeyDisabled,
			InvalidInput:         ErrInvalidInput,
			InvalidCredentials:   ErrInvalidCredentials,
			ChallengeInvalid:     ErrPasskeyChallengeInvalid,
			AssertionInvalid:     ErrPasskeyAssertionInvalid,
			AccountInactive:      ErrAccountInactive,
			OrganizationInactive: ErrOrganizationInactive,
			BackendUnavailable:   ErrBackendUnavailable,
			Internal:             ErrInternal,
		},
	}
	if e.passkeys != nil {
		deps.ListPasskeys = func(ctx context.Context, userID string) ([]flows.PasskeyCredential, error) {
			recs, err := e.passkeys.ListPasskeys(ctx, userID)
			if err != nil {
				return nil, err
			}
			out := make([]flows.PasskeyCredential, 0, len(recs))
			for _, rec := range recs {
				out = append(out, toPasskeyCredential(rec))
			}
			return out, nil
		}
		deps.GetPasskey = func(ctx context.Context, credentialID []byte) (flows.PasskeyCredential, error) {
			rec, err := e.passkeys.GetPasskey(ctx, credentialID)
			if err != nil {
				return flows.PasskeyCredential{}, err
			}
			return toPasskeyCredential(rec), nil
		}
		deps.AdvanceSignCount = e.passkeys.AdvanceSignCount
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
