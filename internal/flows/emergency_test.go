package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/careauth/internal/audit"
)

var (
	errReason     = errors.New("reason")
	errAccessType = errors.New("access type")
	errDuration   = errors.New("duration")
	errGrantGone  = errors.New("grant not found")
	errMissing    = errors.New("missing")
)

type grantFixture struct {
	now    time.Time
	grants map[string]GrantRecord
	events []audit.Event
}

func newGrantFixture() *grantFixture {
	return &grantFixture{
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		grants: map[string]GrantRecord{},
	}
}

func (f *grantFixture) deps() EmergencyDeps {
	return EmergencyDeps{
		MinDurationHours: 1,
		MaxDurationHours: 24,
		Now:              func() time.Time { return f.now },
		NewID:            func() string { return "g1" },
		CreateGrant: func(_ context.Context, g GrantRecord) error {
			f.grants[g.ID] = g
			return nil
		},
		GetGrant: func(_ context.Context, id string) (GrantRecord, error) {
			g, ok := f.grants[id]
			if !ok {
				return GrantRecord{}, errMissing
			}
			return g, nil
		},
		RevokeGrant: func(_ context.Context, id, by string, at time.Time) (GrantRecord, error) {
			g, ok := f.grants[id]
			if !ok {
				return GrantRecord{}, errMissing
			}
			if g.Active {
				g.Active = false
				g.RevokedAt = &at
				g.RevokedBy = by
				f.grants[id] = g
			}
			return g, nil
		},
		ListGrantsForPatient: func(_ context.Context, patientID string) ([]GrantRecord, error) {
			var out []GrantRecord
			for _, g := range f.grants {
				if g.PatientID == patientID {
					out = append(out, g)
				}
			}
			return out, nil
		},
		IsGrantMissing: func(err error) bool { return errors.Is(err, errMissing) },
		Emit: func(_ context.Context, ev audit.Event) {
			f.events = append(f.events, ev)
		},
		Errors: EmergencyErrors{
			EngineNotReady:     errNotReady,
			InvalidInput:       errInput,
			ReasonRequired:     errReason,
			InvalidAccessType:  errAccessType,
			InvalidDuration:    errDuration,
			GrantNotFound:      errGrantGone,
			BackendUnavailable: errBackend,
		},
	}
}

func validEmergency() EmergencyInput {
	return EmergencyInput{
		PatientID:      "p1",
		GranteeID:      "doc1",
		OrganizationID: "org1",
		Reason:         "unconscious patient in ER",
		AccessType:     "full",
		DurationHours:  4,
	}
}

func TestEmergencyRequestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EmergencyInput)
		want   error
	}{
		{"no reason", func(in *EmergencyInput) { in.Reason = "  " }, errReason},
		{"bad type", func(in *EmergencyInput) { in.AccessType = "admin" }, errAccessType},
		{"zero hours", func(in *EmergencyInput) { in.DurationHours = 0 }, errDuration},
		{"too long", func(in *EmergencyInput) { in.DurationHours = 25 }, errDuration},
		{"no patient", func(in *EmergencyInput) { in.PatientID = "" }, errInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newGrantFixture()
			in := validEmergency()
			tc.mutate(&in)
			if _, err := RunRequestEmergencyAccess(context.Background(), in, f.deps()); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.grants) != 0 {
				t.Fatal("rejected requests must not create grants")
			}
			if len(f.events) != 1 || f.events[0].Action != audit.ActionEmergencyAccess || f.events[0].Status != audit.StatusFailed {
				t.Fatalf("rejections are audited, got %+v", f.events)
			}
		})
	}
}

func TestEmergencyGrantExpiryIsTimeDerived(t *testing.T) {
	f := newGrantFixture()
	deps := f.deps()

	grant, err := RunRequestEmergencyAccess(context.Background(), validEmergency(), deps)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !grant.EndTime.Equal(f.now.Add(4*time.Hour)) || !grant.Active {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if f.events[0].Status != audit.StatusSuccess || f.events[0].Details["grant_id"] != "g1" {
		t.Fatalf("unexpected event %+v", f.events[0])
	}

	ok, err := RunIsEmergencyAccessUsable(context.Background(), "g1", deps)
	if err != nil || !ok {
		t.Fatalf("fresh grant should be usable: %v %v", ok, err)
	}

	f.now = f.now.Add(4 * time.Hour)
	ok, err = RunIsEmergencyAccessUsable(context.Background(), "g1", deps)
	if err != nil || ok {
		t.Fatalf("grant must lapse at EndTime: %v %v", ok, err)
	}
	if !f.grants["g1"].Active {
		t.Fatal("expiry must not require a write")
	}
	active, err := RunActiveEmergencyGrants(context.Background(), "p1", deps)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active grants, got %v %v", active, err)
	}
}

func TestEmergencyRevokeKeepsEndTime(t *testing.T) {
	f := newGrantFixture()
	deps := f.deps()
	grant, err := RunRequestEmergencyAccess(context.Background(), validEmergency(), deps)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	revoked, err := RunRevokeEmergencyAccess(context.Background(), grant.ID, "admin1", deps)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Active || revoked.RevokedAt == nil || revoked.RevokedBy != "admin1" || !revoked.EndTime.Equal(grant.EndTime) {
		t.Fatalf("unexpected revoked grant %+v", revoked)
	}

	again, err := RunRevokeEmergencyAccess(context.Background(), grant.ID, "admin2", deps)
	if err != nil || again.RevokedBy != "admin1" {
		t.Fatalf("second revoke should be a no-op, got %+v %v", again, err)
	}
	last := f.events[len(f.events)-1]
	if last.Action != audit.ActionEmergencyAccessRevoked || last.Details["already_inactive"] != "true" {
		t.Fatalf("unexpected revoke event %+v", last)
	}

	if _, err := RunRevokeEmergencyAccess(context.Background(), "nope", "admin1", deps); !errors.Is(err, errGrantGone) {
		t.Fatalf("expected grant not found, got %v", err)
	}
	if ok, _ := RunIsEmergencyAccessUsable(context.Background(), grant.ID, deps); ok {
		t.Fatal("revoked grant must not be usable")
	}
}
