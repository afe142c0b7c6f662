package flows

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/careauth/internal/audit"
	"github.com/MrEthical07/careauth/session"
)

// TokenClaims is the part of a session token the flows need.
type TokenClaims struct {
	UserID    string
	SessionID string
}

type SessionMetrics struct {
	SessionValidated int
	SessionRejected  int
	Logout           int
	LogoutAll        int
}

type SessionErrors struct {
	EngineNotReady       error
	InvalidInput         error
	SessionInvalid       error
	AccountInactive      error
	OrganizationInactive error
	BackendUnavailable   error
}

type SessionDeps struct {
	Now func() time.Time

	ParseToken        func(string) (TokenClaims, error)
	LoadSession       func(context.Context, string) (*session.Session, error)
	DeleteSession     func(context.Context, string) error
	DeleteAllForUser  func(context.Context, string) (int, error)
	IsSessionNotFound func(error) bool
	// GetUser is optional; when set, validation rejects sessions of users
	// or organizations deactivated after login.
	GetUser        func(context.Context, string) (LoginUser, error)
	IsUserNotFound func(error) bool

	MetricInc func(int)
	Emit      func(context.Context, audit.Event)

	Metrics SessionMetrics
	Errors  SessionErrors
}

// RunValidateSession resolves a token to its live session record.
func RunValidateSession(ctx context.Context, token string, deps SessionDeps) (*session.Session, error) {
	normalizeSessionDeps(&deps)

	if deps.ParseToken == nil || deps.LoadSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	sess, err := validateSession(ctx, token, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.SessionRejected)
		return nil, err
	}
	deps.MetricInc(deps.Metrics.SessionValidated)
	return sess, nil
}

func validateSession(ctx context.Context, token string, deps SessionDeps) (*session.Session, error) {
	if token == "" {
		return nil, deps.Errors.SessionInvalid
	}
	claims, err := deps.ParseToken(token)
	if err != nil {
		return nil, deps.Errors.SessionInvalid
	}

	sess, err := deps.LoadSession(ctx, claims.SessionID)
	if err != nil {
		if deps.IsSessionNotFound(err) {
			return nil, deps.Errors.SessionInvalid
		}
		return nil, deps.Errors.BackendUnavailable
	}
	if sess.UserID != claims.UserID || sess.ExpiresAt <= deps.Now().Unix() {
		return nil, deps.Errors.SessionInvalid
	}

	if deps.GetUser != nil {
		user, err := deps.GetUser(ctx, sess.UserID)
		if err != nil {
			if deps.IsUserNotFound(err) {
				return nil, deps.Errors.SessionInvalid
			}
			return nil, deps.Errors.BackendUnavailable
		}
		if !user.Active {
			return nil, deps.Errors.AccountInactive
		}
		if !user.OrganizationActive {
			return nil, deps.Errors.OrganizationInactive
		}
	}
	return sess, nil
}

// RunLogout deletes one session. Unknown sessions are not an error.
func RunLogout(ctx context.Context, sessionID string, deps SessionDeps) error {
	normalizeSessionDeps(&deps)

	if deps.LoadSession == nil || deps.DeleteSession == nil {
		return deps.Errors.EngineNotReady
	}
	if sessionID == "" {
		return deps.Errors.InvalidInput
	}

	sess, err := deps.LoadSession(ctx, sessionID)
	if err != nil && !deps.IsSessionNotFound(err) {
		return deps.Errors.BackendUnavailable
	}
	if err := deps.DeleteSession(ctx, sessionID); err != nil {
		return deps.Errors.BackendUnavailable
	}
	if sess == nil {
		return nil
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionLogout,
		UserID:         sess.UserID,
		OrganizationID: sess.OrganizationID,
		Status:         audit.StatusSuccess,
		SessionID:      sess.SessionID,
	})
	return nil
}

// RunLogoutAll deletes every session of userID and returns how many went.
func RunLogoutAll(ctx context.Context, userID, organizationID, reason string, deps SessionDeps) (int, error) {
	normalizeSessionDeps(&deps)

	if deps.DeleteAllForUser == nil {
		return 0, deps.Errors.EngineNotReady
	}
	if userID == "" {
		return 0, deps.Errors.InvalidInput
	}

	n, err := deps.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, deps.Errors.BackendUnavailable
	}

	deps.MetricInc(deps.Metrics.LogoutAll)
	details := map[string]string{"scope": "all", "sessions": strconv.Itoa(n)}
	if reason != "" {
		details["reason"] = reason
	}
	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionLogout,
		UserID:         userID,
		OrganizationID: organizationID,
		Status:         audit.StatusSuccess,
		Details:        details,
	})
	return n, nil
}

func normalizeSessionDeps(deps *SessionDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsSessionNotFound == nil {
		deps.IsSessionNotFound = func(error) bool { return false }
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Emit == nil {
		deps.Emit = func(context.Context, audit.Event) {}
	}
}
