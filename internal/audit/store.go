package audit

import (
	"context"
	"time"
)

// Store is the durable, append-only security log.
type Store interface {
	Append(ctx context.Context, event Event) error
	// CountFailedLogins counts failed_login events in [Since, now] for
	// exactly one of UserID or IP.
	CountFailedLogins(ctx context.Context, filter FailureFilter) (int, error)
	// CountKnownDeviceLogins counts successful login events of UserID in
	// [Since, Before) whose IP equals IP or whose user agent equals UserAgent,
	// ignoring the event ExcludeID.
	CountKnownDeviceLogins(ctx context.Context, filter DeviceFilter) (int, error)
	UserStats(ctx context.Context, userID string, window TimeRange) (UserStats, error)
	OrganizationOverview(ctx context.Context, organizationID string, window TimeRange, topN int) (OrganizationOverview, error)
}

type FailureFilter struct {
	UserID string
	IP     string
	Since  time.Time
}

type DeviceFilter struct {
	UserID    string
	IP        string
	UserAgent string
	Since     time.Time
	Before    time.Time
	ExcludeID string
}

// TimeRange is a half-open window [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Normalize fills a zero range with the fallback window ending at now.
// A missing To becomes now; a missing From becomes To minus fallback.
func (r TimeRange) Normalize(now time.Time, fallback time.Duration) TimeRange {
	if r.To.IsZero() {
		r.To = now
	}
	if r.From.IsZero() {
		r.From = r.To.Add(-fallback)
	}
	return r
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

type UserStats struct {
	UserID           string            `json:"user_id"`
	Range            TimeRange         `json:"range"`
	TotalEvents      int               `json:"total_events"`
	FailedLogins     int               `json:"failed_logins"`
	SuccessfulLogins int               `json:"successful_logins"`
	SuspiciousEvents int               `json:"suspicious_events"`
	ByRisk           map[RiskLevel]int `json:"by_risk"`
	DistinctIPs      int               `json:"distinct_ips"`
	LastLoginAt      *time.Time        `json:"last_login_at,omitempty"`
}

type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

type UserRiskCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

type OrganizationOverview struct {
	OrganizationID    string            `json:"organization_id"`
	Range             TimeRange         `json:"range"`
	TotalEvents       int               `json:"total_events"`
	ByRisk            map[RiskLevel]int `json:"by_risk"`
	TopActions        []ActionCount     `json:"top_actions"`
	FailedLogins      int               `json:"failed_logins"`
	EmergencyAccesses int               `json:"emergency_accesses"`
	UniqueUsers       int               `json:"unique_users"`
	HighRiskUsers     []UserRiskCount   `json:"high_risk_users"`
}
