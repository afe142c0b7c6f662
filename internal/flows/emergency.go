package flows

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/careauth/internal/audit"
)

// Emergency access types.
const (
	AccessView = "view"
	AccessFull = "full"
)

// GrantRecord is the flow-local emergency grant.
type GrantRecord struct {
	ID             string
	PatientID      string
	GranteeID      string
	OrganizationID string
	AccessType     string
	Reason         string
	StartTime      time.Time
	EndTime        time.Time
	Active         bool
	RevokedAt      *time.Time
	RevokedBy      string
}

// Usable is evaluated at call time; a grant lapses at EndTime without any
// write.
func (g GrantRecord) Usable(now time.Time) bool {
	return g.Active && now.Before(g.EndTime)
}

// EmergencyInput is one break-glass request.
type EmergencyInput struct {
	PatientID      string
	GranteeID      string
	OrganizationID string
	Reason         string
	AccessType     string
	DurationHours  int
}

type EmergencyMetrics struct {
	Granted  int
	Rejected int
	Revoked  int
}

type EmergencyErrors struct {
	EngineNotReady     error
	InvalidInput       error
	ReasonRequired     error
	InvalidAccessType  error
	InvalidDuration    error
	GrantNotFound      error
	BackendUnavailable error
}

type EmergencyDeps struct {
	MinDurationHours int
	MaxDurationHours int

	Now   func() time.Time
	NewID func() string

	CreateGrant          func(context.Context, GrantRecord) error
	GetGrant             func(context.Context, string) (GrantRecord, error)
	RevokeGrant          func(context.Context, string, string, time.Time) (GrantRecord, error)
	ListGrantsForPatient func(context.Context, string) ([]GrantRecord, error)
	IsGrantMissing       func(error) bool

	MetricInc func(int)
	Emit      func(context.Context, audit.Event)

	Metrics EmergencyMetrics
	Errors  EmergencyErrors
}

// RunRequestEmergencyAccess validates and stores a grant. Accepted and
// rejected requests are both audited.
func RunRequestEmergencyAccess(ctx context.Context, in EmergencyInput, deps EmergencyDeps) (GrantRecord, error) {
	normalizeEmergencyDeps(&deps)

	if deps.CreateGrant == nil {
		return GrantRecord{}, deps.Errors.EngineNotReady
	}

	in.AccessType = strings.ToLower(strings.TrimSpace(in.AccessType))
	in.Reason = strings.TrimSpace(in.Reason)

	if rejection, err := validateEmergency(in, deps); err != nil {
		deps.MetricInc(deps.Metrics.Rejected)
		deps.Emit(ctx, emergencyEvent(in, audit.StatusFailed, map[string]string{"rejection": rejection}))
		return GrantRecord{}, err
	}

	now := deps.Now()
	grant := GrantRecord{
		ID:             deps.NewID(),
		PatientID:      in.PatientID,
		GranteeID:      in.GranteeID,
		OrganizationID: in.OrganizationID,
		AccessType:     in.AccessType,
		Reason:         in.Reason,
		StartTime:      now,
		EndTime:        now.Add(time.Duration(in.DurationHours) * time.Hour),
		Active:         true,
	}
	if err := deps.CreateGrant(ctx, grant); err != nil {
		deps.MetricInc(deps.Metrics.Rejected)
		deps.Emit(ctx, emergencyEvent(in, audit.StatusFailed, map[string]string{"rejection": "backend_unavailable"}))
		return GrantRecord{}, deps.Errors.BackendUnavailable
	}

	deps.MetricInc(deps.Metrics.Granted)
	deps.Emit(ctx, emergencyEvent(in, audit.StatusSuccess, map[string]string{
		"grant_id": grant.ID,
		"end_time": grant.EndTime.UTC().Format(time.RFC3339),
	}))
	return grant, nil
}

func validateEmergency(in EmergencyInput, deps EmergencyDeps) (string, error) {
	switch {
	case strings.TrimSpace(in.PatientID) == "" || strings.TrimSpace(in.GranteeID) == "":
		return "missing_subject", deps.Errors.InvalidInput
	case in.Reason == "":
		return "missing_reason", deps.Errors.ReasonRequired
	case in.AccessType != AccessView && in.AccessType != AccessFull:
		return "invalid_access_type", deps.Errors.InvalidAccessType
	case in.DurationHours < deps.MinDurationHours || in.DurationHours > deps.MaxDurationHours:
		return "invalid_duration", deps.Errors.InvalidDuration
	}
	return "", nil
}

func emergencyEvent(in EmergencyInput, status audit.Status, extra map[string]string) audit.Event {
	details := map[string]string{
		"patient_id":     in.PatientID,
		"access_type":    in.AccessType,
		"duration_hours": strconv.Itoa(in.DurationHours),
		"justification":  in.Reason,
	}
	for k, v := range extra {
		details[k] = v
	}
	return audit.Event{
		Action:         audit.ActionEmergencyAccess,
		UserID:         in.GranteeID,
		OrganizationID: in.OrganizationID,
		ResourceType:   "patient",
		ResourceID:     in.PatientID,
		Status:         status,
		Details:        details,
	}
}

// RunRevokeEmergencyAccess clears Active. EndTime is left alone and
// revoking an inactive grant is not an error.
func RunRevokeEmergencyAccess(ctx context.Context, grantID, revokedBy string, deps EmergencyDeps) (GrantRecord, error) {
	normalizeEmergencyDeps(&deps)

	if deps.GetGrant == nil || deps.RevokeGrant == nil {
		return GrantRecord{}, deps.Errors.EngineNotReady
	}
	if strings.TrimSpace(grantID) == "" || strings.TrimSpace(revokedBy) == "" {
		return GrantRecord{}, deps.Errors.InvalidInput
	}

	before, err := deps.GetGrant(ctx, grantID)
	if err != nil {
		if deps.IsGrantMissing(err) {
			return GrantRecord{}, deps.Errors.GrantNotFound
		}
		return GrantRecord{}, deps.Errors.BackendUnavailable
	}
	after, err := deps.RevokeGrant(ctx, grantID, revokedBy, deps.Now())
	if err != nil {
		if deps.IsGrantMissing(err) {
			return GrantRecord{}, deps.Errors.GrantNotFound
		}
		return GrantRecord{}, deps.Errors.BackendUnavailable
	}

	details := map[string]string{
		"grant_id":   after.ID,
		"patient_id": after.PatientID,
		"grantee_id": after.GranteeID,
	}
	if !before.Active {
		details["already_inactive"] = "true"
	}
	deps.MetricInc(deps.Metrics.Revoked)
	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionEmergencyAccessRevoked,
		UserID:         revokedBy,
		OrganizationID: after.OrganizationID,
		ResourceType:   "emergency_grant",
		ResourceID:     after.ID,
		Status:         audit.StatusSuccess,
		Details:        details,
	})
	return after, nil
}

// RunIsEmergencyAccessUsable reports whether grantID authorizes access now.
func RunIsEmergencyAccessUsable(ctx context.Context, grantID string, deps EmergencyDeps) (bool, error) {
	normalizeEmergencyDeps(&deps)

	if deps.GetGrant == nil {
		return false, deps.Errors.EngineNotReady
	}
	if strings.TrimSpace(grantID) == "" {
		return false, deps.Errors.InvalidInput
	}
	grant, err := deps.GetGrant(ctx, grantID)
	if err != nil {
		if deps.IsGrantMissing(err) {
			return false, deps.Errors.GrantNotFound
		}
		return false, deps.Errors.BackendUnavailable
	}
	return grant.Usable(deps.Now()), nil
}

// RunActiveEmergencyGrants lists the grants on patientID usable now.
func RunActiveEmergencyGrants(ctx context.Context, patientID string, deps EmergencyDeps) ([]GrantRecord, error) {
	normalizeEmergencyDeps(&deps)

	if deps.ListGrantsForPatient == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if strings.TrimSpace(patientID) == "" {
		return nil, deps.Errors.InvalidInput
	}
	all, err := deps.ListGrantsForPatient(ctx, patientID)
	if err != nil {
		return nil, deps.Errors.BackendUnavailable
	}
	now := deps.Now()
	out := make([]GrantRecord, 0, len(all))
	for _, g := range all {
		if g.Usable(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

func normalizeEmergencyDeps(deps *EmergencyDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return "" }
	}
	if deps.MinDurationHours <= 0 {
		deps.MinDurationHours = 1
	}
	if deps.MaxDurationHours <= 0 {
		deps.MaxDurationHours = 24
	}
	if deps.IsGrantMissing == nil {
		deps.IsGrantMissing = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Emit == nil {
		deps.Emit = func(context.Context, audit.Event) {}
	}
}
