package flows

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/careauth/internal/audit"
)

// CodeFormat describes what a syntactically valid second factor looks like.
type CodeFormat struct {
	TOTPWellFormed   func(string) bool
	BackupCodeLength int
}

// FormatProblem is the result of [CodeFormat.Check].
type FormatProblem uint8

const (
	FormatOK FormatProblem = iota
	FormatConflict
	FormatMalformed
)

// Check validates the shape of the supplied codes without touching any
// store. Supplying neither code is FormatOK.
func (f CodeFormat) Check(totpCode, backupCode string) FormatProblem {
	totpCode = strings.TrimSpace(totpCode)
	backupCode = strings.TrimSpace(backupCode)
	switch {
	case totpCode != "" && backupCode != "":
		return FormatConflict
	case totpCode != "":
		if f.TOTPWellFormed != nil && !f.TOTPWellFormed(totpCode) {
			return FormatMalformed
		}
	case backupCode != "":
		if !WellFormedBackupCode(backupCode, f.BackupCodeLength) {
			return FormatMalformed
		}
	}
	return FormatOK
}

// SecondFactorInput is one proof for one user. State may be preloaded by
// the caller; when nil it is fetched through GetTwoFactor.
type SecondFactorInput struct {
	UserID         string
	OrganizationID string
	TOTPCode       string
	BackupCode     string
	State          *TwoFactorState
}

type SecondFactorMetrics struct {
	TwoFactorSuccess   int
	TwoFactorFailure   int
	TOTPReplayRejected int
	BackupCodeUsed     int
	BackupCodeFailed   int
}

type SecondFactorErrors struct {
	EngineNotReady     error
	InvalidCode        error
	CodeRateLimited    error
	BackendUnavailable error
}

type SecondFactorDeps struct {
	Now func() time.Time

	GetTwoFactor       func(context.Context, string) (*TwoFactorState, error)
	VerifyTOTP         func([]byte, string, time.Time) (bool, int64, error)
	AdvanceTOTPCounter func(context.Context, string, int64, time.Time) (bool, error)
	ConsumeBackupCode  func(context.Context, string, [32]byte, time.Time) (bool, error)
	RecordFailure      func(context.Context, string) error

	CheckLimiter         func(context.Context, string) error
	RecordLimiterFailure func(context.Context, string) error
	ResetLimiter         func(context.Context, string) error
	IsRateLimited        func(error) bool

	MetricInc func(int)
	Emit      func(context.Context, audit.Event)
	Warn      func(string, error)

	Metrics SecondFactorMetrics
	Errors  SecondFactorErrors
}

// RunVerifySecondFactor checks a TOTP or backup code. It returns the login
// method proven on success, or the internal failure reason. Wrong codes,
// replays, lost races and users without 2FA all yield Errors.InvalidCode.
func RunVerifySecondFactor(ctx context.Context, in SecondFactorInput, deps SecondFactorDeps) (string, string, error) {
	normalizeSecondFactorDeps(&deps)

	if deps.VerifyTOTP == nil || deps.AdvanceTOTPCounter == nil || deps.ConsumeBackupCode == nil {
		return "", ReasonInternalError, deps.Errors.EngineNotReady
	}

	totpCode := strings.TrimSpace(in.TOTPCode)
	backupCode := strings.TrimSpace(in.BackupCode)
	failReason := ReasonInvalidTOTP
	if totpCode == "" {
		failReason = ReasonInvalidBackupCode
	}
	if in.UserID == "" || (totpCode == "") == (backupCode == "") {
		deps.MetricInc(deps.Metrics.TwoFactorFailure)
		return "", failReason, deps.Errors.InvalidCode
	}

	if err := deps.CheckLimiter(ctx, in.UserID); err != nil {
		if deps.IsRateLimited(err) {
			return "", ReasonRateLimited, deps.Errors.CodeRateLimited
		}
		return "", ReasonBackendUnavailable, deps.Errors.BackendUnavailable
	}

	state := in.State
	if state == nil && deps.GetTwoFactor != nil {
		loaded, err := deps.GetTwoFactor(ctx, in.UserID)
		if err != nil {
			return "", ReasonBackendUnavailable, deps.Errors.BackendUnavailable
		}
		state = loaded
	}

	now := deps.Now()
	var (
		ok     bool
		method string
		err    error
	)
	if state != nil && state.Enabled {
		if totpCode != "" {
			method = MethodTOTP
			ok, err = verifyTOTP(ctx, in.UserID, totpCode, state, now, deps)
		} else {
			method = MethodBackupCode
			ok, err = deps.ConsumeBackupCode(ctx, in.UserID, BackupCodeHash(in.UserID, CanonicalizeBackupCode(backupCode)), now)
		}
	}
	if err != nil {
		return "", ReasonBackendUnavailable, deps.Errors.BackendUnavailable
	}

	if !ok {
		deps.MetricInc(deps.Metrics.TwoFactorFailure)
		if backupCode != "" {
			deps.MetricInc(deps.Metrics.BackupCodeFailed)
		}
		if state != nil && state.Enabled {
			if err := deps.RecordFailure(ctx, in.UserID); err != nil {
				deps.Warn("two-factor failure counter update failed", err)
			}
		}
		if err := deps.RecordLimiterFailure(ctx, in.UserID); err != nil && deps.IsRateLimited(err) {
			return "", failReason, deps.Errors.CodeRateLimited
		}
		return "", failReason, deps.Errors.InvalidCode
	}

	if err := deps.ResetLimiter(ctx, in.UserID); err != nil {
		deps.Warn("code limiter reset failed", err)
	}
	deps.MetricInc(deps.Metrics.TwoFactorSuccess)
	if method == MethodBackupCode {
		deps.MetricInc(deps.Metrics.BackupCodeUsed)
		deps.Emit(ctx, audit.Event{
			Action:         audit.ActionBackupCodeUsed,
			UserID:         in.UserID,
			OrganizationID: in.OrganizationID,
			ResourceType:   "user",
			ResourceID:     in.UserID,
			Status:         audit.StatusSuccess,
		})
	}
	return method, "", nil
}

func verifyTOTP(ctx context.Context, userID, code string, state *TwoFactorState, now time.Time, deps SecondFactorDeps) (bool, error) {
	if len(state.Secret) == 0 {
		return false, nil
	}
	ok, counter, err := deps.VerifyTOTP(state.Secret, code, now)
	if err != nil || !ok {
		return false, err
	}
	if counter <= state.LastUsedCounter {
		deps.MetricInc(deps.Metrics.TOTPReplayRejected)
		return false, nil
	}
	advanced, err := deps.AdvanceTOTPCounter(ctx, userID, counter, now)
	if err != nil {
		return false, err
	}
	if !advanced {
		deps.MetricInc(deps.Metrics.TOTPReplayRejected)
		return false, nil
	}
	state.LastUsedCounter = counter
	return true, nil
}

func normalizeSecondFactorDeps(deps *SecondFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RecordFailure == nil {
		deps.RecordFailure = func(context.Context, string) error { return nil }
	}
	if deps.CheckLimiter == nil {
		deps.CheckLimiter = func(context.Context, string) error { return nil }
	}
	if deps.RecordLimiterFailure == nil {
		deps.RecordLimiterFailure = func(context.Context, string) error { return nil }
	}
	if deps.ResetLimiter == nil {
		deps.ResetLimiter = func(context.Context, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
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
