package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/careauth"
)

// ClientContext attaches the client IP, User-Agent and Referer to the
// request context. With trustProxy the first X-Forwarded-For entry wins,
// otherwise the RemoteAddr host is used.
func ClientContext(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := careauth.WithClientIP(r.Context(), ClientIP(r, trustProxy))
			if ua := r.UserAgent(); ua != "" {
				ctx = careauth.WithUserAgent(ctx, ua)
			}
			if ref := r.Referer(); ref != "" {
				ctx = careauth.WithReferrer(ctx, ref)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP extracts the caller address from r.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
