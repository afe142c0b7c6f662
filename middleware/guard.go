package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/careauth"
)

// SessionValidator is the part of *careauth.Engine the guard needs.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (careauth.SessionInfo, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the session stored by [Guard].
func SessionFromContext(ctx context.Context) (careauth.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(careauth.SessionInfo)
	return info, ok
}

// WithSession stores info the way [Guard] does. Handlers under test use it
// to skip token validation.
func WithSession(ctx context.Context, info careauth.SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, info)
}

// Guard rejects requests without a valid bearer session token. Inactive
// accounts and organizations get 403; everything else 401.
func Guard(validator SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := validator.ValidateSession(r.Context(), token)
			if err != nil {
				switch careauth.Kind(err) {
				case careauth.KindState:
					http.Error(w, "forbidden", http.StatusForbidden)
				case careauth.KindUnavailable:
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				default:
					http.Error(w, "unauthorized", http.StatusUnauthorized)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), info)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
