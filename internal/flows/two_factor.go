package flows

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/careauth/internal/audit"
)

// TwoFactorEnrollment is the result of RunBeginTwoFactorSetup.
type TwoFactorEnrollment struct {
	SecretBase32 string
	URI          string
}

type TwoFactorMetrics struct {
	TwoFactorSuccess     int
	TwoFactorFailure     int
	BackupCodesGenerated int
}

type TwoFactorErrors struct {
	EngineNotReady     error
	InvalidInput       error
	InvalidCodeFormat  error
	InvalidCode        error
	AlreadyEnabled     error
	SetupMissing       error
	NotEnabled         error
	AccountInactive    error
	BackendUnavailable error
}

type TwoFactorDeps struct {
	BackupCodeCount  int
	BackupCodeLength int

	Now func() time.Time

	GetUser        func(context.Context, string) (LoginUser, error)
	IsUserNotFound func(error) bool
	GetTwoFactor   func(context.Context, string) (*TwoFactorState, error)

	GenerateSecret func() ([]byte, string, error)
	ProvisionURI   func(string, string) string
	SaveSecret     func(context.Context, string, []byte) error
	TOTPWellFormed func(string) bool
	VerifyTOTP     func([]byte, string, time.Time) (bool, int64, error)
	RecordFailure  func(context.Context, string) error

	EnableTwoFactor  func(context.Context, string, int64, [][32]byte) error
	DisableTwoFactor func(context.Context, string) error
	// VerifyProof runs the second-factor verifier for an enrolled user.
	VerifyProof func(context.Context, string, string, string) error

	RandomIndex func(int) (int, error)

	MetricInc func(int)
	Emit      func(context.Context, audit.Event)

	Metrics TwoFactorMetrics
	Errors  TwoFactorErrors
}

// RunBeginTwoFactorSetup stores a fresh pending secret. Calling it again
// before confirmation replaces the pending secret.
func RunBeginTwoFactorSetup(ctx context.Context, userID string, deps TwoFactorDeps) (TwoFactorEnrollment, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.GenerateSecret == nil || deps.ProvisionURI == nil || deps.SaveSecret == nil {
		return TwoFactorEnrollment{}, deps.Errors.EngineNotReady
	}
	user, state, err := twoFactorSubject(ctx, userID, deps)
	if err != nil {
		return TwoFactorEnrollment{}, err
	}
	if state != nil && state.Enabled {
		return TwoFactorEnrollment{}, deps.Errors.AlreadyEnabled
	}

	secret, secretBase32, err := deps.GenerateSecret()
	if err != nil {
		return TwoFactorEnrollment{}, deps.Errors.BackendUnavailable
	}
	if err := deps.SaveSecret(ctx, user.UserID, secret); err != nil {
		return TwoFactorEnrollment{}, deps.Errors.BackendUnavailable
	}

	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionTwoFactorSetup,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		ResourceType:   "user",
		ResourceID:     user.UserID,
		Status:         audit.StatusSuccess,
	})

	return TwoFactorEnrollment{
		SecretBase32: secretBase32,
		URI:          deps.ProvisionURI(secretBase32, user.Email),
	}, nil
}

// RunConfirmTwoFactorSetup proves possession of the pending secret, enables
// TOTP and returns the first backup-code batch.
func RunConfirmTwoFactorSetup(ctx context.Context, userID, code string, deps TwoFactorDeps) ([]string, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.VerifyTOTP == nil || deps.EnableTwoFactor == nil {
		return nil, deps.Errors.EngineNotReady
	}
	code = strings.TrimSpace(code)
	if deps.TOTPWellFormed != nil && !deps.TOTPWellFormed(code) {
		return nil, deps.Errors.InvalidCodeFormat
	}
	user, state, err := twoFactorSubject(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	if state == nil || len(state.Secret) == 0 {
		return nil, deps.Errors.SetupMissing
	}
	if state.Enabled {
		return nil, deps.Errors.AlreadyEnabled
	}

	ok, counter, err := deps.VerifyTOTP(state.Secret, code, deps.Now())
	if err != nil {
		return nil, deps.Errors.BackendUnavailable
	}
	if !ok {
		deps.MetricInc(deps.Metrics.TwoFactorFailure)
		_ = deps.RecordFailure(ctx, user.UserID)
		return nil, deps.Errors.InvalidCode
	}

	codes, hashes, err := NewBackupCodeBatch(user.UserID, deps.BackupCodeCount, deps.BackupCodeLength, deps.RandomIndex)
	if err != nil {
		return nil, deps.Errors.BackendUnavailable
	}
	if err := deps.EnableTwoFactor(ctx, user.UserID, counter, hashes); err != nil {
		return nil, deps.Errors.BackendUnavailable
	}

	deps.MetricInc(deps.Metrics.TwoFactorSuccess)
	deps.MetricInc(deps.Metrics.BackupCodesGenerated)
	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionTwoFactorEnabled,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		ResourceType:   "user",
		ResourceID:     user.UserID,
		Status:         audit.StatusSuccess,
	})
	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionBackupCodesGenerated,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		ResourceType:   "user",
		ResourceID:     user.UserID,
		Status:         audit.StatusSuccess,
		Details:        map[string]string{"count": strconv.Itoa(len(codes))},
	})
	return codes, nil
}

// RunDisableTwoFactor turns TOTP off after a fresh proof and discards the
// backup codes.
func RunDisableTwoFactor(ctx context.Context, userID, totpCode, backupCode string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)

	if deps.VerifyProof == nil || deps.DisableTwoFactor == nil {
		return deps.Errors.EngineNotReady
	}
	user, state, err := twoFactorSubject(ctx, userID, deps)
	if err != nil {
		return err
	}
	if state == nil || !state.Enabled {
		return deps.Errors.NotEnabled
	}
	if err := deps.VerifyProof(ctx, user.UserID, totpCode, backupCode); err != nil {
		return err
	}
	if err := deps.DisableTwoFactor(ctx, user.UserID); err != nil {
		return deps.Errors.BackendUnavailable
	}

	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionTwoFactorDisabled,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		ResourceType:   "user",
		ResourceID:     user.UserID,
		Status:         audit.StatusSuccess,
	})
	return nil
}

func twoFactorSubject(ctx context.Context, userID string, deps TwoFactorDeps) (LoginUser, *TwoFactorState, error) {
	if deps.GetUser == nil || deps.GetTwoFactor == nil {
		return LoginUser{}, nil, deps.Errors.EngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return LoginUser{}, nil, deps.Errors.InvalidInput
	}
	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		if deps.IsUserNotFound(err) {
			return LoginUser{}, nil, deps.Errors.InvalidInput
		}
		return LoginUser{}, nil, deps.Errors.BackendUnavailable
	}
	if !user.Active {
		return LoginUser{}, nil, deps.Errors.AccountInactive
	}
	state, err := deps.GetTwoFactor(ctx, userID)
	if err != nil {
		return LoginUser{}, nil, deps.Errors.BackendUnavailable
	}
	return user, state, nil
}

func normalizeTwoFactorDeps(deps *TwoFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.RecordFailure == nil {
		deps.RecordFailure = func(context.Context, string) error { return nil }
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Emit == nil {
		deps.Emit = func(context.Context, audit.Event) {}
	}
}
