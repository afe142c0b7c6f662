package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/internal/audit"
)

// Passkeys implements careauth.PasskeyProvider.
type Passkeys struct {
	mu   sync.Mutex
	keys map[string]careauth.PasskeyRecord
}

func NewPasskeys() *Passkeys {
	return &Passkeys{keys: make(map[string]careauth.PasskeyRecord)}
}

func (p *Passkeys) ListPasskeys(_ context.Context, userID string) ([]careauth.PasskeyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []careauth.PasskeyRecord
	for _, k := range p.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *Passkeys) GetPasskey(_ context.Context, credentialID []byte) (careauth.PasskeyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.keys[string(credentialID)]
	if !ok {
		return careauth.PasskeyRecord{}, careauth.ErrNotFound
	}
	return k, nil
}

func (p *Passkeys) SavePasskey(_ context.Context, record careauth.PasskeyRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.keys[string(record.CredentialID)]; ok {
		return fmt.Errorf("%w: duplicate credential id", careauth.ErrInvalidInput)
	}
	p.keys[string(record.CredentialID)] = record
	return nil
}

// SetActive enables or disables a credential.
func (p *Passkeys) SetActive(credentialID []byte, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k, ok := p.keys[string(credentialID)]; ok {
		k.Active = active
		p.keys[string(credentialID)] = k
	}
}

func (p *Passkeys) AdvanceSignCount(_ context.Context, credentialID []byte, signCount uint32, usedAt time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.keys[string(credentialID)]
	if !ok {
		return false, careauth.ErrNotFound
	}
	if signCount <= k.SignCount {
		return false, nil
	}
	k.SignCount = signCount
	at := usedAt
	k.LastUsedAt = &at
	p.keys[string(credentialID)] = k
	return true, nil
}

// Attempts implements careauth.LoginAttemptStore.
type Attempts struct {
	mu       sync.Mutex
	order    []string
	attempts map[string]careauth.LoginAttempt
	// BeginErr, when set, fails every Begin.
	BeginErr error
}

func NewAttempts() *Attempts {
	return &Attempts{attempts: make(map[string]careauth.LoginAttempt)}
}

func (a *Attempts) Begin(_ context.Context, attempt careauth.LoginAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.BeginErr != nil {
		return a.BeginErr
	}
	if _, ok := a.attempts[attempt.ID]; !ok {
		a.order = append(a.order, attempt.ID)
	}
	a.attempts[attempt.ID] = attempt
	return nil
}

func (a *Attempts) Resolve(_ context.Context, attempt careauth.LoginAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.attempts[attempt.ID]
	if !ok {
		return fmt.Errorf("memstore: unknown login attempt %s", attempt.ID)
	}
	cur.Success = attempt.Success
	cur.FailureReason = attempt.FailureReason
	cur.UserID = attempt.UserID
	cur.ResolvedAt = attempt.ResolvedAt
	a.attempts[attempt.ID] = cur
	return nil
}

// All returns every attempt in insertion order.
func (a *Attempts) All() []careauth.LoginAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]careauth.LoginAttempt, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.attempts[id])
	}
	return out
}

// Grants implements careauth.GrantStore.
type Grants struct {
	mu       sync.Mutex
	live     map[string]careauth.EmergencyGrant
	archived []careauth.EmergencyGrant
}

func NewGrants() *Grants {
	return &Grants{live: make(map[string]careauth.EmergencyGrant)}
}

func (g *Grants) CreateGrant(_ context.Context, grant careauth.EmergencyGrant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live[grant.ID]; ok {
		return fmt.Errorf("memstore: duplicate grant %s", grant.ID)
	}
	g.live[grant.ID] = grant
	return nil
}

func (g *Grants) GetGrant(_ context.Context, grantID string) (careauth.EmergencyGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grant, ok := g.live[grantID]
	if !ok {
		return careauth.EmergencyGrant{}, careauth.ErrNotFound
	}
	return grant, nil
}

func (g *Grants) RevokeGrant(_ context.Context, grantID, revokedBy string, at time.Time) (careauth.EmergencyGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grant, ok := g.live[grantID]
	if !ok {
		return careauth.EmergencyGrant{}, careauth.ErrNotFound
	}
	if !grant.Active {
		return grant, nil
	}
	grant.Active = false
	revokedAt := at
	grant.RevokedAt = &revokedAt
	grant.RevokedBy = revokedBy
	g.live[grantID] = grant
	return grant, nil
}

func (g *Grants) ListGrantsForPatient(_ context.Context, patientID string) ([]careauth.EmergencyGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []careauth.EmergencyGrant
	for _, grant := range g.live {
		if grant.PatientID == patientID {
			out = append(out, grant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (g *Grants) ArchiveExpiredGrants(_ context.Context, cutoff time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, grant := range g.live {
		if grant.EndTime.Before(cutoff) {
			g.archived = append(g.archived, grant)
			delete(g.live, id)
			n++
		}
	}
	return n, nil
}

// Archived returns the grants moved out by ArchiveExpiredGrants.
func (g *Grants) Archived() []careauth.EmergencyGrant {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]careauth.EmergencyGrant(nil), g.archived...)
}

// SecurityLog is an in-memory careauth.SecurityLog with inspection helpers.
type SecurityLog struct {
	*audit.MemoryStore
}

func NewSecurityLog() *SecurityLog {
	return &SecurityLog{MemoryStore: audit.NewMemoryStore()}
}
