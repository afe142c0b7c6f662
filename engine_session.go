package careauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/careauth/internal/flows"
	"github.com/MrEthical07/careauth/jwt"
	"github.com/MrEthical07/careauth/session"
)

// CreateSession stores a new session and signs its token. Login calls it
// for every completed login; hosts call it directly for flows the engine
// does not own.
func (e *Engine) CreateSession(ctx context.Context, data SessionData, rememberMe bool) (SessionHandle, error) {
	if e == nil || e.sessionStore == nil || e.jwtManager == nil {
		return SessionHandle{}, ErrEngineNotReady
	}
	if data.UserID == "" {
		return SessionHandle{}, ErrInvalidInput
	}
	issued, err := e.createSession(ctx, flows.SessionRequest{
		UserID:            data.UserID,
		OrganizationID:    data.OrganizationID,
		Role:              data.Role,
		Method:            data.Method,
		TwoFactorVerified: data.TwoFactorVerified,
		RememberMe:        rememberMe,
	})
	if err != nil {
		return SessionHandle{}, err
	}
	e.metricInc(MetricSessionCreated)
	return SessionHandle(issued), nil
}

func (e *Engine) createSession(ctx context.Context, req flows.SessionRequest) (flows.IssuedSession, error) {
	ttl := e.config.Session.TTL
	if req.RememberMe {
		ttl = e.config.Session.RememberMeTTL
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	sess := &session.Session{
		SessionID:         uuid.NewString(),
		UserID:            req.UserID,
		OrganizationID:    req.OrganizationID,
		Role:              req.Role,
		Method:            session.ParseMethod(req.Method),
		TwoFactorVerified: req.TwoFactorVerified,
		RememberMe:        req.RememberMe,
		CreatedAt:         now.Unix(),
		ExpiresAt:         expiresAt.Unix(),
	}

	token, err := e.jwtManager.CreateSessionToken(jwt.Subject{
		UserID:            sess.UserID,
		Role:              sess.Role,
		OrganizationID:    sess.OrganizationID,
		SessionID:         sess.SessionID,
		Method:            sess.Method.String(),
		TwoFactorVerified: sess.TwoFactorVerified,
	}, expiresAt)
	if err != nil {
		return flows.IssuedSession{}, fmt.Errorf("%w: sign session token: %v", ErrInternal, err)
	}

	if err := e.sessionStore.Save(ctx, sess, ttl); err != nil {
		return flows.IssuedSession{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return flows.IssuedSession{
		SessionID: sess.SessionID,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateSession verifies token, loads its session and checks the account
// and organization are still active.
func (e *Engine) ValidateSession(ctx context.Context, token string) (SessionInfo, error) {
	if e == nil || !e.flows.Initialized() {
		return SessionInfo{}, ErrEngineNotReady
	}
	sess, err := e.flows.ValidateSession(ctx, token)
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{
		SessionID:         sess.SessionID,
		UserID:            sess.UserID,
		OrganizationID:    sess.OrganizationID,
		Role:              sess.Role,
		Method:            sess.Method.String(),
		TwoFactorVerified: sess.TwoFactorVerified,
		RememberMe:        sess.RememberMe,
		CreatedAt:         time.Unix(sess.CreatedAt, 0),
		ExpiresAt:         time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// Logout ends one session. Ending an unknown session succeeds.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return e.flows.Logout(ctx, sessionID)
}

// LogoutAll ends every session of userID and returns how many existed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || !e.flows.Initialized() {
		return 0, ErrEngineNotReady
	}
	return e.flows.LogoutAll(ctx, userID, e.organizationOf(ctx, userID), "")
}

// organizationOf is best effort; audit events tolerate an empty org.
func (e *Engine) organizationOf(ctx context.Context, userID string) string {
	rec, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return ""
	}
	return rec.OrganizationID
}

func (e *Engine) sessionFlowDeps() flows.SessionDeps {
	return flows.SessionDeps{
		Now: time.Now,
		ParseToken: func(token string) (flows.TokenClaims, error) {
			claims, err := e.jwtManager.ParseSessionToken(token)
			if err != nil {
				return flows.TokenClaims{}, err
			}
			return flows.TokenClaims{UserID: claims.UID, SessionID: claims.SID}, nil
		},
		LoadSession:      e.sessionStore.Get,
		DeleteSession:    e.sessionStore.Delete,
		DeleteAllForUser: e.sessionStore.DeleteAllForUser,
		IsSessionNotFound: func(err error) bool {
			return errors.Is(err, session.ErrNotFound)
		},
		GetUser:        e.loginUserByID,
		IsUserNotFound: isUserNotFound,
		MetricInc:      e.flowMetricInc,
		Emit:           e.emit,
		Metrics: flows.SessionMetrics{
			SessionValidated: int(MetricSessionValidated),
			SessionRejected:  int(MetricSessionRejected),
			Logout:           int(MetricLogout),
			LogoutAll:        int(MetricLogoutAll),
		},
		Errors: flows.SessionErrors{
			EngineNotReady:       ErrEngineNotReady,
			InvalidInput:         ErrInvalidInput,
			SessionInvalid:       ErrSessionInvalid,
			AccountInactive:      ErrAccountInactive,
			OrganizationInactive: ErrOrganizationInactive,
			BackendUnavailable:   ErrBackendUnavailable,
		},
	}
}
