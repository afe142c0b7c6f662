// Package httpapi exposes the careauth Engine over HTTP with chi.
//
// Public routes (login and passkey login) sit behind a per-IP token bucket.
// Everything else requires a bearer session token.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/logger"
	"github.com/MrEthical07/careauth/middleware"
)

// Service is the Engine surface the handlers call. *careauth.Engine
// implements it.
type Service interface {
	middleware.SessionValidator

	Login(ctx context.Context, req careauth.LoginRequest) (careauth.LoginResult, error)
	BeginPasskeyLogin(ctx context.Context, email string) (careauth.PasskeyChallenge, error)
	CompletePasskeyLogin(ctx context.Context, ref string, assertion careauth.PasskeyAssertion) (careauth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	LogoutAll(ctx context.Context, userID string) (int, error)

	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	BeginTwoFactorSetup(ctx context.Context, userID string) (careauth.TwoFactorSetup, error)
	ConfirmTwoFactorSetup(ctx context.Context, userID, code string) ([]string, error)
	DisableTwoFactor(ctx context.Context, userID string, proof careauth.SecondFactorProof) error
	RegenerateBackupCodes(ctx context.Context, userID string, proof careauth.SecondFactorProof) ([]string, error)
	RemainingBackupCodes(ctx context.Context, userID string) (int, error)

	RequestEmergencyAccess(ctx context.Context, req careauth.EmergencyRequest) (careauth.EmergencyGrant, error)
	RevokeEmergencyAccess(ctx context.Context, grantID, revokedBy string) (careauth.EmergencyGrant, error)
	IsEmergencyAccessUsable(ctx context.Context, grantID string) (bool, error)
	ActiveEmergencyGrants(ctx context.Context, patientID string) ([]careauth.EmergencyGrant, error)

	UserSecurityStats(ctx context.Context, userID string, window careauth.TimeRange) (careauth.UserSecurityStats, error)
	OrganizationSecurityOverview(ctx context.Context, organizationID string, window careauth.TimeRange) (careauth.OrganizationSecurityOverview, error)
}

// Options configures [NewRouter].
type Options struct {
	Logger logger.Logger
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	// LoginLimiter guards the public login routes. Nil disables it.
	LoginLimiter *middleware.IPRateLimiter
	// AdminRoles may revoke grants and read organization overviews.
	// Defaults to "admin".
	AdminRoles []string
	// Extra is mounted as-is, e.g. the Prometheus handler at /metrics.
	Extra map[string]http.Handler
	// Timeout bounds every request. Zero means 30s.
	Timeout time.Duration
}

// NewRouter builds the HTTP handler.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if len(opts.AdminRoles) == 0 {
		opts.AdminRoles = []string{"admin"}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	h := &handlers{svc: svc, log: opts.Logger.With(logger.String("component", "httpapi"))}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(opts.Timeout))
	r.Use(middleware.ClientContext(opts.TrustProxy))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	for path, handler := range opts.Extra {
		r.Handle(path, handler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.LoginLimiter != nil {
				r.Use(opts.LoginLimiter.Middleware())
			}
			r.Post("/auth/login", h.login)
			r.Post("/auth/passkey/begin", h.beginPasskey)
			r.Post("/auth/passkey/complete", h.completePasskey)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(svc))

			r.Post("/auth/logout", h.logout)
			r.Post("/auth/logout-all", h.logoutAll)

			r.Route("/account", func(r chi.Router) {
				r.Post("/password", h.changePassword)
				r.Post("/2fa/setup", h.beginTwoFactor)
				r.Post("/2fa/confirm", h.confirmTwoFactor)
				r.Post("/2fa/disable", h.disableTwoFactor)
				r.Post("/backup-codes/regenerate", h.regenerateBackupCodes)
				r.Get("/backup-codes/remaining", h.remainingBackupCodes)
				r.Get("/security/stats", h.userStats)
			})

			r.Route("/emergency-access", func(r chi.Router) {
				r.Post("/", h.requestEmergency)
				r.Get("/{grantID}/usable", h.emergencyUsable)
				r.With(middleware.RequireRole(opts.AdminRoles...)).Delete("/{grantID}", h.revokeEmergency)
			})
			r.Get("/patients/{patientID}/emergency-access", h.activeGrants)

			r.With(middleware.RequireRole(opts.AdminRoles...)).
				Get("/organizations/{orgID}/security/overview", h.organizationOverview)
		})
	})

	return r
}
