package flows

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/careauth/internal/audit"
)

// PasswordChangeRecord is handed to the store as one transaction.
type PasswordChangeRecord struct {
	UserID       string
	OldHash      string
	NewHash      string
	ChangedAt    time.Time
	HistoryDepth int
	Event        audit.Event
}

type PasswordChangeMetrics struct {
	Success       int
	Failure       int
	ReuseRejected int
}

type PasswordChangeErrors struct {
	EngineNotReady     error
	InvalidInput       error
	InvalidCredentials error
	PasswordPolicy     error
	PasswordReuse      error
	AccountInactive    error
	BackendUnavailable error
}

type PasswordChangeDeps struct {
	HistoryDepth   int
	RevokeSessions bool

	Now func() time.Time

	GetUser         func(context.Context, string) (LoginUser, error)
	IsUserNotFound  func(error) bool
	VerifyPassword  func(string, string) (bool, error)
	CheckPolicy     func(string) error
	HashPassword    func(string) (string, error)
	PasswordHistory func(context.Context, string, int) ([]string, error)
	MatchesAny      func(string, []string) bool

	// PrepareEvent fills id, timestamp, enrichment and risk so the event can
	// be written inside the store transaction.
	PrepareEvent   func(context.Context, *audit.Event)
	ChangePassword func(context.Context, PasswordChangeRecord) error
	LogoutAll      func(context.Context, string, string) error

	MetricInc func(int)
	Emit      func(context.Context, audit.Event)
	Warn      func(string, error)

	Metrics PasswordChangeMetrics
	Errors  PasswordChangeErrors
}

// RunChangePassword verifies the current password, rejects reuse of the
// current or any of the last HistoryDepth passwords and swaps the hash.
func RunChangePassword(ctx context.Context, userID, currentPassword, newPassword string, deps PasswordChangeDeps) error {
	normalizePasswordChangeDeps(&deps)

	if deps.GetUser == nil ||
		deps.VerifyPassword == nil ||
		deps.HashPassword == nil ||
		deps.PasswordHistory == nil ||
		deps.MatchesAny == nil ||
		deps.ChangePassword == nil {
		return deps.Errors.EngineNotReady
	}
	if strings.TrimSpace(userID) == "" || currentPassword == "" || newPassword == "" {
		return deps.Errors.InvalidInput
	}

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		if deps.IsUserNotFound(err) {
			return deps.Errors.InvalidCredentials
		}
		return deps.Errors.BackendUnavailable
	}
	if !user.Active {
		return deps.Errors.AccountInactive
	}

	fail := func(reason string, err error) error {
		deps.MetricInc(deps.Metrics.Failure)
		deps.Emit(ctx, audit.Event{
			Action:         audit.ActionPasswordChange,
			UserID:         user.UserID,
			OrganizationID: user.OrganizationID,
			ResourceType:   "user",
			ResourceID:     user.UserID,
			Status:         audit.StatusFailed,
			Details:        map[string]string{"reason": reason},
		})
		return err
	}

	ok, err := deps.VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return fail(ReasonInvalidPassword, deps.Errors.InvalidCredentials)
	}
	if err := deps.CheckPolicy(newPassword); err != nil {
		return fail(ReasonPasswordPolicy, deps.Errors.PasswordPolicy)
	}

	history, err := deps.PasswordHistory(ctx, user.UserID, deps.HistoryDepth)
	if err != nil {
		return deps.Errors.BackendUnavailable
	}
	if len(history) > deps.HistoryDepth {
		history = history[:deps.HistoryDepth]
	}
	candidates := make([]string, 0, len(history)+1)
	candidates = append(candidates, user.PasswordHash)
	candidates = append(candidates, history...)
	if deps.MatchesAny(newPassword, candidates) {
		deps.MetricInc(deps.Metrics.ReuseRejected)
		return fail(ReasonPasswordReuse, deps.Errors.PasswordReuse)
	}

	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		return deps.Errors.BackendUnavailable
	}

	now := deps.Now()
	event := audit.Event{
		Action:         audit.ActionPasswordChange,
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		ResourceType:   "user",
		ResourceID:     user.UserID,
		Status:         audit.StatusSuccess,
		Details:        map[string]string{"history_depth": strconv.Itoa(deps.HistoryDepth)},
	}
	deps.PrepareEvent(ctx, &event)

	if err := deps.ChangePassword(ctx, PasswordChangeRecord{
		UserID:       user.UserID,
		OldHash:      user.PasswordHash,
		NewHash:      newHash,
		ChangedAt:    now,
		HistoryDepth: deps.HistoryDepth,
		Event:        event,
	}); err != nil {
		deps.Warn("password change transaction failed", err)
		return deps.Errors.BackendUnavailable
	}
	deps.MetricInc(deps.Metrics.Success)

	if deps.RevokeSessions && deps.LogoutAll != nil {
		if err := deps.LogoutAll(ctx, user.UserID, user.OrganizationID); err != nil {
			deps.Warn("session revocation after password change failed", err)
		}
	}
	return nil
}

func normalizePasswordChangeDeps(deps *PasswordChangeDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.HistoryDepth <= 0 {
		deps.HistoryDepth = 5
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.CheckPolicy == nil {
		deps.CheckPolicy = func(string) error { return nil }
	}
	if deps.PrepareEvent == nil {
		deps.PrepareEvent = func(context.Context, *audit.Event) {}
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
