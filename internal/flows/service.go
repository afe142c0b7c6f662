package flows

import (
	"context"

	"github.com/MrEthical07/careauth/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.GetUserByEmail != nil && s.deps.Session.ParseToken != nil
}

func (s Service) Login(ctx context.Context, in LoginInput) (LoginOutcome, error) {
	return RunLogin(ctx, in, s.deps.Login)
}

func (s Service) VerifySecondFactor(ctx context.Context, in SecondFactorInput) (string, string, error) {
	return RunVerifySecondFactor(ctx, in, s.deps.SecondFactor)
}

func (s Service) BeginPasskeyLogin(ctx context.Context, email string) (IssuedPasskeyChallenge, error) {
	return RunBeginPasskeyLogin(ctx, email, s.deps.Passkey)
}

func (s Service) CompletePasskeyLogin(ctx context.Context, ref string, in PasskeyAssertionInput) (LoginOutcome, error) {
	return RunCompletePasskeyLogin(ctx, ref, in, s.deps.Passkey)
}

func (s Service) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	return RunGenerateBackupCodes(ctx, userID, s.deps.BackupCodes)
}

func (s Service) RegenerateBackupCodes(ctx context.Context, userID, totpCode, backupCode string) ([]string, error) {
	return RunRegenerateBackupCodes(ctx, userID, totpCode, backupCode, s.deps.BackupCodes)
}

func (s Service) BeginTwoFactorSetup(ctx context.Context, userID string) (TwoFactorEnrollment, error) {
	return RunBeginTwoFactorSetup(ctx, userID, s.deps.TwoFactor)
}

func (s Service) ConfirmTwoFactorSetup(ctx context.Context, userID, code string) ([]string, error) {
	return RunConfirmTwoFactorSetup(ctx, userID, code, s.deps.TwoFactor)
}

func (s Service) DisableTwoFactor(ctx context.Context, userID, totpCode, backupCode string) error {
	return RunDisableTwoFactor(ctx, userID, totpCode, backupCode, s.deps.TwoFactor)
}

func (s Service) ValidateSession(ctx context.Context, token string) (*session.Session, error) {
	return RunValidateSession(ctx, token, s.deps.Session)
}

func (s Service) Logout(ctx context.Context, sessionID string) error {
	return RunLogout(ctx, sessionID, s.deps.Session)
}

func (s Service) LogoutAll(ctx context.Context, userID, organizationID, reason string) (int, error) {
	return RunLogoutAll(ctx, userID, organizationID, reason, s.deps.Session)
}

func (s Service) RequestEmergencyAccess(ctx context.Context, in EmergencyInput) (GrantRecord, error) {
	return RunRequestEmergencyAccess(ctx, in, s.deps.Emergency)
}

func (s Service) RevokeEmergencyAccess(ctx context.Context, grantID, revokedBy string) (GrantRecord, error) {
	return RunRevokeEmergencyAccess(ctx, grantID, revokedBy, s.deps.Emergency)
}

func (s Service) IsEmergencyAccessUsable(ctx context.Context, grantID string) (bool, error) {
	return RunIsEmergencyAccessUsable(ctx, grantID, s.deps.Emergency)
}

func (s Service) ActiveEmergencyGrants(ctx context.Context, patientID string) ([]GrantRecord, error) {
	return RunActiveEmergencyGrants(ctx, patientID, s.deps.Emergency)
}

func (s Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	return RunChangePassword(ctx, userID, currentPassword, newPassword, s.deps.PasswordChange)
}
