package careauth

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type referrerContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for login rate limiting, login attempt records, and audit enrichment.
//
//	See middleware.ClientContext for the HTTP extraction rules.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It feeds
// bot detection in risk scoring and the new-device heuristic.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithReferrer attaches the HTTP Referer header to ctx for audit enrichment.
func WithReferrer(ctx context.Context, referrer string) context.Context {
	return context.WithValue(ctx, referrerContextKey{}, referrer)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func referrerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	referrer, _ := ctx.Value(referrerContextKey{}).(string)
	return referrer
}
