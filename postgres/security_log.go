package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/careauth"
)

// SecurityLog implements careauth.SecurityLog. The table rejects UPDATE and
// DELETE through a trigger.
type SecurityLog struct {
	pool *pgxpool.Pool
}

func NewSecurityLog(pool *pgxpool.Pool) *SecurityLog {
	return &SecurityLog{pool: pool}
}

func (l *SecurityLog) Append(ctx context.Context, ev careauth.SecurityEvent) error {
	return insertEvent(ctx, l.pool, ev)
}

func insertEvent(ctx context.Context, q querier, ev careauth.SecurityEvent) error {
	details := ev.Details
	if details == nil {
		details = map[string]string{}
	}
	_, err := q.Exec(ctx, `INSERT INTO security_events
		(id, occurred_at, action, user_id, organization_id, resource_type, resource_id,
		 status, risk, ip, user_agent, referrer, location, session_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		ev.ID, ev.Timestamp, ev.Action, ev.UserID, ev.OrganizationID, ev.ResourceType, ev.ResourceID,
		string(ev.Status), string(ev.Risk), ev.IP, ev.UserAgent, ev.Referrer, string(ev.Location),
		ev.SessionID, details)
	if err != nil {
		return fmt.Errorf("postgres: append security event: %w", err)
	}
	return nil
}

func (l *SecurityLog) CountFailedLogins(ctx context.Context, f careauth.FailureFilter) (int, error) {
	column, value := "user_id", f.UserID
	if value == "" {
		column, value = "ip", f.IP
	}
	if value == "" {
		return 0, nil
	}
	var n int
	err := l.pool.QueryRow(ctx, `SELECT count(*) FROM security_events
		WHERE action = $1 AND `+column+` = $2 AND occurred_at >= $3`,
		careauth.ActionFailedLogin, value, f.Since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count failed logins: %w", err)
	}
	return n, nil
}

func (l *SecurityLog) CountKnownDeviceLogins(ctx context.Context, f careauth.DeviceFilter) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx, `SELECT count(*) FROM security_events
		WHERE action = $1 AND status = $2 AND user_id = $3
		  AND occurred_at >= $4 AND occurred_at < $5 AND id <> $6
		  AND ((ip <> '' AND ip = $7) OR (user_agent <> '' AND user_agent = $8))`,
		careauth.ActionLogin, string(careauth.StatusSuccess), f.UserID,
		f.Since, f.Before, f.ExcludeID, f.IP, f.UserAgent).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count known device logins: %w", err)
	}
	return n, nil
}

func (l *SecurityLog) UserStats(ctx context.Context, userID string, window careauth.TimeRange) (careauth.UserSecurityStats, error) {
	stats := careauth.UserSecurityStats{UserID: userID, Range: window, ByRisk: map[careauth.RiskLevel]int{}}
	err := l.pool.QueryRow(ctx, `SELECT
			count(*),
			count(*) FILTER (WHERE action = $4),
			count(*) FILTER (WHERE action = $5 AND status = $6),
			count(*) FILTER (WHERE status = $7),
			count(DISTINCT ip) FILTER (WHERE ip <> ''),
			max(occurred_at) FILTER (WHERE action = $5 AND status = $6)
		FROM security_events
		WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3`,
		userID, window.From, window.To,
		careauth.ActionFailedLogin, careauth.ActionLogin, string(careauth.StatusSuccess),
		string(careauth.StatusSuspicious),
	).Scan(&stats.TotalEvents, &stats.FailedLogins, &stats.SuccessfulLogins,
		&stats.SuspiciousEvents, &stats.DistinctIPs, &stats.LastLoginAt)
	if err != nil {
		return careauth.UserSecurityStats{}, fmt.Errorf("postgres: user stats: %w", err)
	}

	if err := l.riskCounts(ctx, stats.ByRisk, `user_id = $1`, userID, window); err != nil {
		return careauth.UserSecurityStats{}, err
	}
	return stats, nil
}

func (l *SecurityLog) OrganizationOverview(ctx context.Context, organizationID string, window careauth.TimeRange, topN int) (careauth.OrganizationSecurityOverview, error) {
	out := careauth.OrganizationSecurityOverview{
		OrganizationID: organizationID,
		Range:          window,
		ByRisk:         map[careauth.RiskLevel]int{},
	}
	err := l.pool.QueryRow(ctx, `SELECT
			count(*),
			count(*) FILTER (WHERE action = $4),
			count(*) FILTER (WHERE action = $5),
			count(DISTINCT user_id) FILTER (WHERE user_id <> '')
		FROM security_events
		WHERE organization_id = $1 AND occurred_at >= $2 AND occurred_at < $3`,
		organizationID, window.From, window.To, careauth.ActionFailedLogin, careauth.ActionEmergencyAccess,
	).Scan(&out.TotalEvents, &out.FailedLogins, &out.EmergencyAccesses, &out.UniqueUsers)
	if err != nil {
		return careauth.OrganizationSecurityOverview{}, fmt.Errorf("postgres: organization overview: %w", err)
	}

	if err := l.riskCounts(ctx, out.ByRisk, `organization_id = $1`, organizationID, window); err != nil {
		return careauth.OrganizationSecurityOverview{}, err
	}

	limit := any(nil)
	if topN > 0 {
		limit = topN
	}
	rows, err := l.pool.Query(ctx, `SELECT action, count(*) AS n FROM security_events
		WHERE organization_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY action ORDER BY n DESC, action LIMIT $4`,
		organizationID, window.From, window.To, limit)
	if err != nil {
		return careauth.OrganizationSecurityOverview{}, fmt.Errorf("postgres: top actions: %w", err)
	}
	out.TopActions, err = pgx.CollectRows(rows, pgx.RowToStructByPos[careauth.ActionCount])
	if err != nil {
		return careauth.OrganizationSecurityOverview{}, fmt.Errorf("postgres: top actions: %w", err)
	}

	rows, err = l.pool.Query(ctx, `SELECT user_id, count(*) AS n FROM security_events
		WHERE organization_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		  AND user_id <> '' AND risk IN ($4, $5)
		GROUP BY user_id ORDER BY n DESC, user_id LIMIT $6`,
		organizationID, window.From, window.To,
		string(careauth.RiskHigh), string(careauth.RiskCritical), limit)
	if err != nil {
		return careauth.OrganizationSecurityOverview{}, fmt.Errorf("postgres: high risk users: %w", err)
	}
	out.HighRiskUsers, err = pgx.CollectRows(rows, pgx.RowToStructByPos[careauth.UserRiskCount])
	if err != nil {
		return careauth.OrganizationSecurityOverview{}, fmt.Errorf("postgres: high risk users: %w", err)
	}
	return out, nil
}

func (l *SecurityLog) riskCounts(ctx context.Context, into map[careauth.RiskLevel]int, where, key string, window careauth.TimeRange) error {
	rows, err := l.pool.Query(ctx, `SELECT risk, count(*) FROM security_events
		WHERE `+where+` AND occurred_at >= $2 AND occurred_at < $3 GROUP BY risk`,
		key, window.From, window.To)
	if err != nil {
		return fmt.Errorf("postgres: risk counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			risk string
			n    int
		)
		if err := rows.Scan(&risk, &n); err != nil {
			return fmt.Errorf("postgres: risk counts: %w", err)
		}
		into[careauth.RiskLevel(risk)] = n
	}
	return rows.Err()
}
