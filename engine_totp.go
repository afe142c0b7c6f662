package careauth

import (
	"context"

	"github.com/MrEthical07/careauth/internal"
	"github.com/MrEthical07/careauth/internal/flows"
)

// BeginTwoFactorSetup stores a pending TOTP secret and returns it with an
// otpauth:// URI for the authenticator app. 2FA stays off until
// [Engine.ConfirmTwoFactorSetup] succeeds.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (TwoFactorSetup, error) {
	if e == nil || !e.flows.Initialized() {
		return TwoFactorSetup{}, ErrEngineNotReady
	}
	enrollment, err := e.flows.BeginTwoFactorSetup(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	return TwoFactorSetup(enrollment), nil
}

// ConfirmTwoFactorSetup enables 2FA once code matches the pending secret
// and returns the first batch of backup codes.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}
	return e.flows.ConfirmTwoFactorSetup(ctx, userID, code)
}

func (e *Engine) DisableTwoFactor(ctx context.Context, userID string, proof SecondFactorProof) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return e.flows.DisableTwoFactor(ctx, userID, proof.TOTPCode, proof.BackupCode)
}

func (e *Engine) twoFactorFlowDeps() flows.TwoFactorDeps {
	return flows.TwoFactorDeps{
		BackupCodeCount:  e.config.TwoFactor.BackupCodeCount,
		BackupCodeLength: e.config.TwoFactor.BackupCodeLength,
		Now:              e.now,
		GetUser:          e.loginUserByID,
		IsUserNotFound:   isUserNotFound,
		GetTwoFactor:     e.twoFactorState,
		GenerateSecret:   e.totp.GenerateSecret,
		ProvisionURI:     e.totp.ProvisionURI,
		SaveSecret:       e.users.SaveTwoFactorSecret,
		TOTPWellFormed:   e.totp.WellFormed,
		VerifyTOTP:       e.totp.VerifyCode,
		RecordFailure:    e.users.RecordTwoFactorFailure,
		EnableTwoFactor: func(ctx context.Context, userID string, counter int64, hashes [][32]byte) error {
			return e.users.EnableTwoFactor(ctx, userID, counter, backupCodeRecords(hashes))
		},
		DisableTwoFactor: e.users.DisableTwoFactor,
		VerifyProof:      e.verifyProof,
		RandomIndex:      internal.RandomIndex,
		MetricInc:        e.flowMetricInc,
		Emit:             e.emit,
		Metrics: flows.TwoFactorMetrics{
			TwoFactorSuccess:     int(MetricTwoFactorSuccess),
			TwoFactorFailure:     int(MetricTwoFactorFailure),
			BackupCodesGenerated: int(MetricBackupCodesGenerated),
		},
		Errors: flows.TwoFactorErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidInput:       ErrInvalidInput,
			InvalidCodeFormat:  ErrInvalidCodeFormat,
			InvalidCode:        ErrInvalidCode,
			AlreadyEnabled:     ErrTwoFactorAlreadyEnabled,
			SetupMissing:       ErrTwoFactorSetupMissing,
			NotEnabled:         ErrTwoFactorNotEnabled,
			AccountInactive:    ErrAccountInactive,
			BackendUnavailable: ErrBackendUnavailable,
		},
	}
}
