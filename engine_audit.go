package careauth

import (
	"context"

	"github.com/MrEthical07/careauth/internal/audit"
)

// LogEvent records a security event on behalf of the host application. It
// never fails; persistence problems are logged and counted.
func (e *Engine) LogEvent(ctx context.Context, ev SecurityEvent) {
	if e == nil {
		return
	}
	e.emit(ctx, ev)
}

// emit fills request metadata from ctx and hands ev to the audit engine.
func (e *Engine) emit(ctx context.Context, ev audit.Event) {
	if e == nil || e.audit == nil {
		return
	}
	fillRequestMetadata(ctx, &ev)
	e.audit.Log(ctx, ev)
}

// prepareEvent readies ev for a store that writes it inside its own
// transaction.
func (e *Engine) prepareEvent(ctx context.Context, ev *audit.Event) {
	fillRequestMetadata(ctx, ev)
	e.audit.Prepare(ev)
}

func fillRequestMetadata(ctx context.Context, ev *audit.Event) {
	if ev.IP == "" {
		ev.IP = clientIPFromContext(ctx)
	}
	if ev.UserAgent == "" {
		ev.UserAgent = userAgentFromContext(ctx)
	}
	if ev.Referrer == "" {
		ev.Referrer = referrerFromContext(ctx)
	}
}

// UserSecurityStats aggregates a user's events. A zero range means the
// last Audit.StatsWindow.
func (e *Engine) UserSecurityStats(ctx context.Context, userID string, window TimeRange) (UserSecurityStats, error) {
	if e == nil || e.audit == nil {
		return UserSecurityStats{}, ErrEngineNotReady
	}
	if userID == "" {
		return UserSecurityStats{}, ErrInvalidInput
	}
	window = window.Normalize(e.now(), e.config.Audit.StatsWindow)
	if !window.From.Before(window.To) {
		return UserSecurityStats{}, ErrInvalidInput
	}
	stats, err := e.audit.UserStats(ctx, userID, window)
	if err != nil {
		e.warn("user security stats failed", err)
		return UserSecurityStats{}, ErrBackendUnavailable
	}
	return stats, nil
}

// OrganizationSecurityOverview aggregates an organization's events.
func (e *Engine) OrganizationSecurityOverview(ctx context.Context, organizationID string, window TimeRange) (OrganizationSecurityOverview, error) {
	if e == nil || e.audit == nil {
		return OrganizationSecurityOverview{}, ErrEngineNotReady
	}
	if organizationID == "" {
		return OrganizationSecurityOverview{}, ErrInvalidInput
	}
	window = window.Normalize(e.now(), e.config.Audit.StatsWindow)
	if !window.From.Before(window.To) {
		return OrganizationSecurityOverview{}, ErrInvalidInput
	}
	overview, err := e.audit.OrganizationOverview(ctx, organizationID, window, e.config.Audit.TopN)
	if err != nil {
		e.warn("organization security overview failed", err)
		return OrganizationSecurityOverview{}, ErrBackendUnavailable
	}
	return overview, nil
}

// AuditStats reports audit pipeline health.
func (e *Engine) AuditStats() AuditStats {
	if e == nil || e.audit == nil {
		return AuditStats{}
	}
	return AuditStats{
		Dropped:        e.audit.Dropped(),
		WriteFailures:  e.audit.WriteFailures(),
		DetectFailures: e.audit.DetectFailures(),
		Alerts:         e.audit.Alerts(),
	}
}
