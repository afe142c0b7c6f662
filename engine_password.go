package careauth

import (
	"context"

	"github.com/MrEthical07/careauth/internal/flows"
)

// ChangePassword replaces the password of userID after verifying the
// current one. The new password may not match the current password or any
// of the last Password.HistoryDepth ones. With
// Password.RevokeSessionsOnChange every session of the user ends.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return e.flows.ChangePassword(ctx, userID, currentPassword, newPassword)
}

func (e *Engine) passwordChangeFlowDeps() flows.PasswordChangeDeps {
	return flows.PasswordChangeDeps{
		HistoryDepth:    e.config.Password.HistoryDepth,
		RevokeSessions:  e.config.Password.RevokeSessionsOnChange,
		Now:             e.now,
		GetUser:         e.loginUserByID,
		IsUserNotFound:  isUserNotFound,
		VerifyPassword:  e.passwordHash.Verify,
		CheckPolicy:     e.passwordHash.CheckPolicy,
		HashPassword:    e.passwordHash.Hash,
		PasswordHistory: e.users.PasswordHistory,
		MatchesAny:      e.passwordHash.MatchesAny,
		PrepareEvent:    e.prepareEvent,
		ChangePassword: func(ctx context.Context, rec flows.PasswordChangeRecord) error {
			return e.users.ChangePassword(ctx, PasswordChange(rec))
		},
		LogoutAll: func(ctx context.Context, userID, organizationID string) error {
			_, err := e.flows.LogoutAll(ctx, userID, organizationID, "password_change")
			return err
		},
		MetricInc: e.flowMetricInc,
		Emit:      e.emit,
		Warn:      e.warn,
		Metrics: flows.PasswordChangeMetrics{
			Success:       int(MetricPasswordChangeSuccess),
			Failure:       int(MetricPasswordChangeFailure),
			ReuseRejected: int(MetricPasswordReuseRejected),
		},
		Errors: flows.PasswordChangeErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidInput:       ErrInvalidInput,
			InvalidCredentials: ErrInvalidCredentials,
			PasswordPolicy:     ErrPasswordPolicy,
			PasswordReuse:      ErrPasswordReuse,
			AccountInactive:    ErrAccountInactive,
			BackendUnavailable: ErrBackendUnavailable,
		},
	}
}
