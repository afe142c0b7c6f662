package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node demos.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	// AppendErr, when set, is returned by every Append.
	AppendErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	event.Details = cloneDetails(event.Details)
	m.events = append(m.events, event)
	return nil
}

// SetAppendErr swaps the injected Append failure.
func (m *MemoryStore) SetAppendErr(err error) {
	m.mu.Lock()
	m.AppendErr = err
	m.mu.Unlock()
}

// Events returns a copy of everything appended so far.
func (m *MemoryStore) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsByAction returns the appended events with the given action.
func (m *MemoryStore) EventsByAction(action string) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

func (m *MemoryStore) CountFailedLogins(_ context.Context, f FailureFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ev := range m.events {
		if ev.Action != ActionFailedLogin || ev.Timestamp.Before(f.Since) {
			continue
		}
		switch {
		case f.UserID != "" && ev.UserID == f.UserID:
			n++
		case f.UserID == "" && f.IP != "" && ev.IP == f.IP:
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountKnownDeviceLogins(_ context.Context, f DeviceFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ev := range m.events {
		if ev.Action != ActionLogin || ev.Status != StatusSuccess || ev.UserID != f.UserID {
			continue
		}
		if ev.ID == f.ExcludeID || ev.Timestamp.Before(f.Since) || !ev.Timestamp.Before(f.Before) {
			continue
		}
		if (f.IP != "" && ev.IP == f.IP) || (f.UserAgent != "" && ev.UserAgent == f.UserAgent) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UserStats(_ context.Context, userID string, window TimeRange) (UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := UserStats{UserID: userID, Range: window, ByRisk: map[RiskLevel]int{}}
	ips := map[string]struct{}{}
	var last time.Time
	for _, ev := range m.events {
		if ev.UserID != userID || !window.Contains(ev.Timestamp) {
			continue
		}
		stats.TotalEvents++
		stats.ByRisk[ev.Risk]++
		if ev.Status == StatusSuspicious {
			stats.SuspiciousEvents++
		}
		if ev.IP != "" {
			ips[ev.IP] = struct{}{}
		}
		switch {
		case ev.Action == ActionFailedLogin:
			stats.FailedLogins++
		case ev.Action == ActionLogin && ev.Status == StatusSuccess:
			stats.SuccessfulLogins++
			if ev.Timestamp.After(last) {
				last = ev.Timestamp
			}
		}
	}
	stats.DistinctIPs = len(ips)
	if !last.IsZero() {
		stats.LastLoginAt = &last
	}
	return stats, nil
}

func (m *MemoryStore) OrganizationOverview(_ context.Context, organizationID string, window TimeRange, topN int) (OrganizationOverview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := OrganizationOverview{OrganizationID: organizationID, Range: window, ByRisk: map[RiskLevel]int{}}
	actions := map[string]int{}
	users := map[string]struct{}{}
	risky := map[string]int{}
	for _, ev := range m.events {
		if ev.OrganizationID != organizationID || !window.Contains(ev.Timestamp) {
			continue
		}
		out.TotalEvents++
		out.ByRisk[ev.Risk]++
		actions[ev.Action]++
		if ev.UserID != "" {
			users[ev.UserID] = struct{}{}
			if ev.Risk == RiskHigh || ev.Risk == RiskCritical {
				risky[ev.UserID]++
			}
		}
		switch ev.Action {
		case ActionFailedLogin:
			out.FailedLogins++
		case ActionEmergencyAccess:
			out.EmergencyAccesses++
		}
	}
	out.UniqueUsers = len(users)

	for action, count := range actions {
		out.TopActions = append(out.TopActions, ActionCount{Action: action, Count: count})
	}
	sort.Slice(out.TopActions, func(i, j int) bool {
		if out.TopActions[i].Count != out.TopActions[j].Count {
			return out.TopActions[i].Count > out.TopActions[j].Count
		}
		return out.TopActions[i].Action < out.TopActions[j].Action
	})
	if topN > 0 && len(out.TopActions) > topN {
		out.TopActions = out.TopActions[:topN]
	}

	for userID, count := range risky {
		out.HighRiskUsers = append(out.HighRiskUsers, UserRiskCount{UserID: userID, Count: count})
	}
	sort.Slice(out.HighRiskUsers, func(i, j int) bool {
		if out.HighRiskUsers[i].Count != out.HighRiskUsers[j].Count {
			return out.HighRiskUsers[i].Count > out.HighRiskUsers[j].Count
		}
		return out.HighRiskUsers[i].UserID < out.HighRiskUsers[j].UserID
	})
	if topN > 0 && len(out.HighRiskUsers) > topN {
		out.HighRiskUsers = out.HighRiskUsers[:topN]
	}

	return out, nil
}

func cloneDetails(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
