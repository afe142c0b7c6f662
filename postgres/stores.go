package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/careauth"
)

// Passkeys implements careauth.PasskeyProvider.
type Passkeys struct {
	pool *pgxpool.Pool
}

func NewPasskeys(pool *pgxpool.Pool) *Passkeys {
	return &Passkeys{pool: pool}
}

const passkeyColumns = `credential_id, user_id, public_key, sign_count, device_name, active, created_at, last_used_at`

func scanPasskey(row pgx.Row) (careauth.PasskeyRecord, error) {
	var (
		rec       careauth.PasskeyRecord
		signCount int64
	)
	err := row.Scan(&rec.CredentialID, &rec.UserID, &rec.PublicKey, &signCount,
		&rec.DeviceName, &rec.Active, &rec.CreatedAt, &rec.LastUsedAt)
	if err != nil {
		return careauth.PasskeyRecord{}, err
	}
	rec.SignCount = uint32(signCount)
	return rec, nil
}

func (p *Passkeys) ListPasskeys(ctx context.Context, userID string) ([]careauth.PasskeyRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+passkeyColumns+` FROM passkeys
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list passkeys: %w", err)
	}
	defer rows.Close()

	var out []careauth.PasskeyRecord
	for rows.Next() {
		rec, err := scanPasskey(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan passkey: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list passkeys: %w", err)
	}
	return out, nil
}

func (p *Passkeys) GetPasskey(ctx context.Context, credentialID []byte) (careauth.PasskeyRecord, error) {
	rec, err := scanPasskey(p.pool.QueryRow(ctx, `SELECT `+passkeyColumns+` FROM passkeys
		WHERE credential_id = $1`, credentialID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return careauth.PasskeyRecord{}, careauth.ErrNotFound
		}
		return careauth.PasskeyRecord{}, fmt.Errorf("postgres: get passkey: %w", err)
	}
	return rec, nil
}

func (p *Passkeys) SavePasskey(ctx context.Context, rec careauth.PasskeyRecord) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO passkeys (`+passkeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.CredentialID, rec.UserID, rec.PublicKey, int64(rec.SignCount),
		rec.DeviceName, rec.Active, rec.CreatedAt, rec.LastUsedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate credential id", careauth.ErrInvalidInput)
		}
		return fmt.Errorf("postgres: save passkey: %w", err)
	}
	return nil
}

// SetActive enables or disables a credential.
func (p *Passkeys) SetActive(ctx context.Context, credentialID []byte, active bool) error {
	tag, err := p.pool.Exec(ctx, `UPDATE passkeys SET active = $2 WHERE credential_id = $1`, credentialID, active)
	if err != nil {
		return fmt.Errorf("postgres: set passkey active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return careauth.ErrNotFound
	}
	return nil
}

func (p *Passkeys) AdvanceSignCount(ctx context.Context, credentialID []byte, signCount uint32, usedAt time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE passkeys SET sign_count = $2, last_used_at = $3
		WHERE credential_id = $1 AND sign_count < $2`, credentialID, int64(signCount), usedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: advance sign count: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM passkeys WHERE credential_id = $1)`,
		credentialID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: advance sign count: %w", err)
	}
	if !exists {
		return false, careauth.ErrNotFound
	}
	return false, nil
}

// Attempts implements careauth.LoginAttemptStore.
type Attempts struct {
	pool *pgxpool.Pool
}

func NewAttempts(pool *pgxpool.Pool) *Attempts {
	return &Attempts{pool: pool}
}

func (a *Attempts) Begin(ctx context.Context, at careauth.LoginAttempt) error {
	_, err := a.pool.Exec(ctx, `INSERT INTO login_attempts
		(id, email, ip, user_agent, success, failure_reason, user_id, created_at)
		VALUES ($1, $2, $3, $4, FALSE, '', '', $5)`,
		at.ID, at.Email, at.IP, at.UserAgent, at.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: begin login attempt: %w", err)
	}
	return nil
}

func (a *Attempts) Resolve(ctx context.Context, at careauth.LoginAttempt) error {
	resolved := at.ResolvedAt
	if resolved == nil {
		now := time.Now()
		resolved = &now
	}
	tag, err := a.pool.Exec(ctx, `UPDATE login_attempts
		SET success = $2, failure_reason = $3, user_id = $4, resolved_at = $5
		WHERE id = $1`, at.ID, at.Success, at.FailureReason, at.UserID, resolved)
	if err != nil {
		return fmt.Errorf("postgres: resolve login attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return careauth.ErrNotFound
	}
	return nil
}

// Recent returns the latest attempts for email, newest first.
func (a *Attempts) Recent(ctx context.Context, email string, limit int) ([]careauth.LoginAttempt, error) {
	rows, err := a.pool.Query(ctx, `SELECT id, email, ip, user_agent, success, failure_reason, user_id,
		created_at, resolved_at FROM login_attempts
		WHERE email = $1 ORDER BY created_at DESC LIMIT $2`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent attempts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (careauth.LoginAttempt, error) {
		var at careauth.LoginAttempt
		err := row.Scan(&at.ID, &at.Email, &at.IP, &at.UserAgent, &at.Success, &at.FailureReason,
			&at.UserID, &at.CreatedAt, &at.ResolvedAt)
		return at, err
	})
}

// Grants implements careauth.GrantStore.
type Grants struct {
	pool *pgxpool.Pool
}

func NewGrants(pool *pgxpool.Pool) *Grants {
	return &Grants{pool: pool}
}

const grantColumns = `id, patient_id, grantee_id, organization_id, access_type, reason,
	start_time, end_time, active, revoked_at, revoked_by`

func scanGrant(row pgx.Row) (careauth.EmergencyGrant, error) {
	var g careauth.EmergencyGrant
	err := row.Scan(&g.ID, &g.PatientID, &g.GranteeID, &g.OrganizationID, &g.AccessType, &g.Reason,
		&g.StartTime, &g.EndTime, &g.Active, &g.RevokedAt, &g.RevokedBy)
	return g, err
}

func (g *Grants) CreateGrant(ctx context.Context, grant careauth.EmergencyGrant) error {
	_, err := g.pool.Exec(ctx, `INSERT INTO emergency_access_grants (`+grantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		grant.ID, grant.PatientID, grant.GranteeID, grant.OrganizationID, grant.AccessType, grant.Reason,
		grant.StartTime, grant.EndTime, grant.Active, grant.RevokedAt, grant.RevokedBy)
	if err != nil {
		return fmt.Errorf("postgres: create grant: %w", err)
	}
	return nil
}

func (g *Grants) GetGrant(ctx context.Context, grantID string) (careauth.EmergencyGrant, error) {
	grant, err := scanGrant(g.pool.QueryRow(ctx, `SELECT `+grantColumns+`
		FROM emergency_access_grants WHERE id = $1`, grantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return careauth.EmergencyGrant{}, careauth.ErrNotFound
		}
		return careauth.EmergencyGrant{}, fmt.Errorf("postgres: get grant: %w", err)
	}
	return grant, nil
}

// RevokeGrant only touches active rows; an inactive grant comes back as
// stored.
func (g *Grants) RevokeGrant(ctx context.Context, grantID, revokedBy string, at time.Time) (careauth.EmergencyGrant, error) {
	grant, err := scanGrant(g.pool.QueryRow(ctx, `UPDATE emergency_access_grants
		SET active = FALSE, revoked_at = $3, revoked_by = $2
		WHERE id = $1 AND active
		RETURNING `+grantColumns, grantID, revokedBy, at))
	if err == nil {
		return grant, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return careauth.EmergencyGrant{}, fmt.Errorf("postgres: revoke grant: %w", err)
	}
	return g.GetGrant(ctx, grantID)
}

func (g *Grants) ListGrantsForPatient(ctx context.Context, patientID string) ([]careauth.EmergencyGrant, error) {
	rows, err := g.pool.Query(ctx, `SELECT `+grantColumns+`
		FROM emergency_access_grants WHERE patient_id = $1 ORDER BY start_time`, patientID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list grants: %w", err)
	}
	grants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (careauth.EmergencyGrant, error) {
		return scanGrant(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list grants: %w", err)
	}
	return grants, nil
}

// ArchiveExpiredGrants moves grants that ended before cutoff into the
// archive table in one statement.
func (g *Grants) ArchiveExpiredGrants(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := g.pool.Exec(ctx, `WITH moved AS (
			DELETE FROM emergency_access_grants WHERE end_time < $1
			RETURNING `+grantColumns+`
		)
		INSERT INTO emergency_access_grants_archive (`+grantColumns+`, archived_at)
		SELECT `+grantColumns+`, now() FROM moved`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: archive grants: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
