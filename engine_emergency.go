package careauth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/careauth/internal/flows"
)

// RequestEmergencyAccess opens a break-glass grant on a patient record.
// Every request is audited, including rejected ones.
func (e *Engine) RequestEmergencyAccess(ctx context.Context, req EmergencyRequest) (EmergencyGrant, error) {
	if e == nil || !e.flows.Initialized() {
		return EmergencyGrant{}, ErrEngineNotReady
	}
	grant, err := e.flows.RequestEmergencyAccess(ctx, flows.EmergencyInput(req))
	if err != nil {
		return EmergencyGrant{}, err
	}
	return EmergencyGrant(grant), nil
}

// RevokeEmergencyAccess ends a grant early. Revoking a grant that is
// already inactive returns it unchanged.
func (e *Engine) RevokeEmergencyAccess(ctx context.Context, grantID, revokedBy string) (EmergencyGrant, error) {
	if e == nil || !e.flows.Initialized() {
		return EmergencyGrant{}, ErrEngineNotReady
	}
	grant, err := e.flows.RevokeEmergencyAccess(ctx, grantID, revokedBy)
	if err != nil {
		return EmergencyGrant{}, err
	}
	return EmergencyGrant(grant), nil
}

// IsEmergencyAccessUsable reports whether the grant authorizes access right
// now.
func (e *Engine) IsEmergencyAccessUsable(ctx context.Context, grantID string) (bool, error) {
	if e == nil || !e.flows.Initialized() {
		return false, ErrEngineNotReady
	}
	return e.flows.IsEmergencyAccessUsable(ctx, grantID)
}

func (e *Engine) ActiveEmergencyGrants(ctx context.Context, patientID string) ([]EmergencyGrant, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}
	records, err := e.flows.ActiveEmergencyGrants(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]EmergencyGrant, len(records))
	for i, r := range records {
		out[i] = EmergencyGrant(r)
	}
	return out, nil
}

// ArchiveExpiredGrants moves grants that ended more than
// Emergency.ArchiveAfter ago out of the live store.
func (e *Engine) ArchiveExpiredGrants(ctx context.Context) (int, error) {
	if e == nil || e.grants == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.grants.ArchiveExpiredGrants(ctx, e.now().Add(-e.config.Emergency.ArchiveAfter))
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

func (e *Engine) emergencyFlowDeps() flows.EmergencyDeps {
	deps := flows.EmergencyDeps{
		MinDurationHours: e.config.Emergency.MinDurationHours,
		MaxDurationHours: e.config.Emergency.MaxDurationHours,
		Now:              e.now,
		NewID:            uuid.NewString,
		IsGrantMissing:   isNotFound,
		MetricInc:        e.flowMetricInc,
		Emit:             e.emit,
		Metrics: flows.EmergencyMetrics{
			Granted:  int(MetricEmergencyAccessGranted),
			Rejected: int(MetricEmergencyAccessRejected),
			Revoked:  int(MetricEmergencyAccessRevoked),
		},
		Errors: flows.EmergencyErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidInput:       ErrInvalidInput,
			ReasonRequired:     ErrReasonRequired,
			InvalidAccessType:  ErrInvalidAccessType,
			InvalidDuration:    ErrInvalidDuration,
			GrantNotFound:      ErrGrantNotFound,
			BackendUnavailable: ErrBackendUnavailable,
		},
	}
	if e.grants == nil {
		return deps
	}

	deps.CreateGrant = func(ctx context.Context, g flows.GrantRecord) error {
		return e.grants.CreateGrant(ctx, EmergencyGrant(g))
	}
	deps.GetGrant = func(ctx context.Context, id string) (flows.GrantRecord, error) {
		g, err := e.grants.GetGrant(ctx, id)
		return flows.GrantRecord(g), err
	}
	deps.RevokeGrant = func(ctx context.Context, id, by string, at time.Time) (flows.GrantRecord, error) {
		g, err := e.grants.RevokeGrant(ctx, id, by, at)
		return flows.GrantRecord(g), err
	}
	deps.ListGrantsForPatient = func(ctx context.Context, patientID string) ([]flows.GrantRecord, error) {
		grants, err := e.grants.ListGrantsForPatient(ctx, patientID)
		if err != nil {
			return nil, err
		}
		out := make([]flows.GrantRecord, len(grants))
		for i, g := range grants {
			out[i] = flows.GrantRecord(g)
		}
		return out, nil
	}
	return deps
}
