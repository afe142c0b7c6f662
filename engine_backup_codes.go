package careauth

import (
	"context"
	"strings"

	"github.com/MrEthical07/careauth/internal"
	"github.com/MrEthical07/careauth/internal/flows"
)

// GenerateBackupCodes issues the first batch for a user with 2FA enabled.
// Plaintext codes are returned once and never stored. It fails with
// ErrBackupCodesExist while unused codes remain.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}
	return e.flows.GenerateBackupCodes(ctx, userID)
}

// RegenerateBackupCodes replaces the whole batch after a fresh second
// factor. A backup code used as the proof is consumed.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string, proof SecondFactorProof) ([]string, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}
	return e.flows.RegenerateBackupCodes(ctx, userID, proof.TOTPCode, proof.BackupCode)
}

// RemainingBackupCodes counts the user's unused codes.
func (e *Engine) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	if e == nil || e.users == nil {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}
	n, err := e.users.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		if isUserNotFound(err) {
			return 0, ErrInvalidInput
		}
		return 0, ErrBackendUnavailable
	}
	return n, nil
}

// verifyProof checks a fresh TOTP or backup code for an already
// authenticated user.
func (e *Engine) verifyProof(ctx context.Context, userID, totpCode, backupCode string) error {
	switch e.codeFormat().Check(totpCode, backupCode) {
	case flows.FormatConflict:
		return ErrConflictingFactors
	case flows.FormatMalformed:
		return ErrInvalidCodeFormat
	}
	if strings.TrimSpace(totpCode) == "" && strings.TrimSpace(backupCode) == "" {
		return ErrInvalidInput
	}
	_, _, err := e.flows.VerifySecondFactor(ctx, flows.SecondFactorInput{
		UserID:         userID,
		OrganizationID: e.organizationOf(ctx, userID),
		TOTPCode:       totpCode,
		BackupCode:     backupCode,
	})
	return err
}

func backupCodeRecords(hashes [][32]byte) []BackupCodeRecord {
	out := make([]BackupCodeRecord, len(hashes))
	for i, h := range hashes {
		out[i] = BackupCodeRecord{Hash: h}
	}
	return out
}

func (e *Engine) backupCodeFlowDeps() flows.BackupCodeDeps {
	return flows.BackupCodeDeps{
		BackupCodeCount:  e.config.TwoFactor.BackupCodeCount,
		BackupCodeLength: e.config.TwoFactor.BackupCodeLength,
		GetUser: func(ctx context.Context, userID string) (string, error) {
			rec, err := e.users.GetUserByID(ctx, userID)
			if err != nil {
				return "", err
			}
			return rec.OrganizationID, nil
		},
		IsUserNotFound: isUserNotFound,
		GetTwoFactor:   e.twoFactorState,
		CountUnused:    e.users.CountUnusedBackupCodes,
		ReplaceBackupCodes: func(ctx context.Context, userID string, hashes [][32]byte) error {
			return e.users.ReplaceBackupCodes(ctx, userID, backupCodeRecords(hashes))
		},
		VerifyProof: e.verifyProof,
		RandomIndex: internal.RandomIndex,
		MetricInc:   e.flowMetricInc,
		Emit:        e.emit,
		Metrics: flows.BackupCodeMetrics{
			BackupCodesGenerated: int(MetricBackupCodesGenerated),
		},
		Errors: flows.BackupCodeErrors{
			EngineNotReady:      ErrEngineNotReady,
			InvalidInput:        ErrInvalidInput,
			TwoFactorNotEnabled: ErrTwoFactorNotEnabled,
			BackupCodesExist:    ErrBackupCodesExist,
			BackendUnavailable:  ErrBackendUnavailable,
		},
	}
}
