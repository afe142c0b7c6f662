package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/careauth"
)

// Users implements careauth.UserProvider.
type Users struct {
	pool *pgxpool.Pool
}

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

const userColumns = `u.id, u.email, u.password_hash, u.active, u.role, u.organization_id,
	o.active, u.security_score, u.password_changed_at`

func scanUser(row pgx.Row) (careauth.UserRecord, error) {
	var (
		rec       careauth.UserRecord
		changedAt *time.Time
	)
	err := row.Scan(&rec.UserID, &rec.Email, &rec.PasswordHash, &rec.Active, &rec.Role,
		&rec.OrganizationID, &rec.OrganizationActive, &rec.SecurityScore, &changedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return careauth.UserRecord{}, careauth.ErrUserNotFound
		}
		return careauth.UserRecord{}, fmt.Errorf("postgres: scan user: %w", err)
	}
	if changedAt != nil {
		rec.PasswordChangedAt = *changedAt
	}
	return rec, nil
}

// CreateOrganization inserts or updates an organization.
func (u *Users) CreateOrganization(ctx context.Context, id, name string, active bool) error {
	_, err := u.pool.Exec(ctx, `INSERT INTO organizations (id, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active`, id, name, active)
	if err != nil {
		return fmt.Errorf("postgres: create organization: %w", err)
	}
	return nil
}

// CreateUser inserts rec. The organization must exist.
func (u *Users) CreateUser(ctx context.Context, rec careauth.UserRecord) error {
	score := rec.SecurityScore
	if score == 0 {
		score = 100
	}
	_, err := u.pool.Exec(ctx, `INSERT INTO users
		(id, email, password_hash, active, role, organization_id, security_score, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.UserID, strings.TrimSpace(rec.Email), rec.PasswordHash, rec.Active, rec.Role,
		rec.OrganizationID, score, nullTime(rec.PasswordChangedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user already exists", careauth.ErrInvalidInput)
		}
		return fmt.Errorf("postgres: create user: %w", err)
	}
	return nil
}

// SetActive flips the user's active flag.
func (u *Users) SetActive(ctx context.Context, userID string, active bool) error {
	tag, err := u.pool.Exec(ctx, `UPDATE users SET active = $2 WHERE id = $1`, userID, active)
	if err != nil {
		return fmt.Errorf("postgres: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return careauth.ErrUserNotFound
	}
	return nil
}

func (u *Users) GetUserByEmail(ctx context.Context, email string) (careauth.UserRecord, error) {
	return scanUser(u.pool.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users u JOIN organizations o ON o.id = u.organization_id
		WHERE lower(u.email) = lower($1)`, strings.TrimSpace(email)))
}

func (u *Users) GetUserByID(ctx context.Context, userID string) (careauth.UserRecord, error) {
	return scanUser(u.pool.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users u JOIN organizations o ON o.id = u.organization_id
		WHERE u.id = $1`, userID))
}

func (u *Users) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := u.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash)
	if err != nil {
		return fmt.Errorf("postgres: update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return careauth.ErrUserNotFound
	}
	return nil
}

func (u *Users) GetTwoFactor(ctx context.Context, userID string) (*careauth.TwoFactorRecord, error) {
	var (
		rec        careauth.TwoFactorRecord
		lastUsedAt *time.Time
	)
	err := u.pool.QueryRow(ctx, `SELECT secret, enabled, failed_attempts, last_used_at, last_used_counter
		FROM user_two_factor WHERE user_id = $1`, userID).
		Scan(&rec.Secret, &rec.Enabled, &rec.FailedAttempts, &lastUsedAt, &rec.LastUsedCounter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get two-factor: %w", err)
	}
	if lastUsedAt != nil {
		rec.LastUsedAt = *lastUsedAt
	}
	return &rec, nil
}

// SaveTwoFactorSecret stores a pending secret. An enabled row is left alone.
func (u *Users) SaveTwoFactorSecret(ctx context.Context, userID string, secret []byte) error {
	_, err := u.pool.Exec(ctx, `INSERT INTO user_two_factor (user_id, secret, enabled)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (user_id) DO UPDATE SET secret = EXCLUDED.secret, failed_attempts = 0
		WHERE user_two_factor.enabled = FALSE`, userID, secret)
	if err != nil {
		return fmt.Errorf("postgres: save two-factor secret: %w", err)
	}
	return nil
}

func (u *Users) EnableTwoFactor(ctx context.Context, userID string, counter int64, codes []careauth.BackupCodeRecord) error {
	return inTx(ctx, u.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE user_two_factor
			SET enabled = TRUE, last_used_counter = $2, last_used_at = now(), failed_attempts = 0
			WHERE user_id = $1 AND enabled = FALSE AND secret IS NOT NULL`, userID, counter)
		if err != nil {
			return fmt.Errorf("postgres: enable two-factor: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: no pending two-factor setup", careauth.ErrInvalidInput)
		}
		return replaceCodes(ctx, tx, userID, codes)
	})
}

func (u *Users) DisableTwoFactor(ctx context.Context, userID string) error {
	return inTx(ctx, u.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE user_two_factor
			SET enabled = FALSE, secret = NULL, failed_attempts = 0 WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("postgres: disable two-factor: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("postgres: discard backup codes: %w", err)
		}
		return nil
	})
}

func (u *Users) RecordTwoFactorFailure(ctx context.Context, userID string) error {
	_, err := u.pool.Exec(ctx, `UPDATE user_two_factor SET failed_attempts = failed_attempts + 1
		WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("postgres: record two-factor failure: %w", err)
	}
	return nil
}

func (u *Users) AdvanceTOTPCounter(ctx context.Context, userID string, counter int64, usedAt time.Time) (bool, error) {
	tag, err := u.pool.Exec(ctx, `UPDATE user_two_factor
		SET last_used_counter = $2, last_used_at = $3, failed_attempts = 0
		WHERE user_id = $1 AND enabled AND last_used_counter < $2`, userID, counter, usedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: advance totp counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (u *Users) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := u.pool.QueryRow(ctx, `SELECT count(*) FROM backup_codes
		WHERE user_id = $1 AND used_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count backup codes: %w", err)
	}
	return n, nil
}

func (u *Users) ReplaceBackupCodes(ctx context.Context, userID string, codes []careauth.BackupCodeRecord) error {
	return inTx(ctx, u.pool, func(tx pgx.Tx) error {
		return replaceCodes(ctx, tx, userID, codes)
	})
}

func replaceCodes(ctx context.Context, tx pgx.Tx, userID string, codes []careauth.BackupCodeRecord) error {
	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: delete backup codes: %w", err)
	}
	if len(codes) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"backup_codes"},
		[]string{"user_id", "code_hash", "used_at"},
		pgx.CopyFromSlice(len(codes), func(i int) ([]any, error) {
			return []any{userID, codes[i].Hash[:], codes[i].UsedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert backup codes: %w", err)
	}
	return nil
}

// ConsumeBackupCode marks the code used. The used_at IS NULL predicate makes
// the UPDATE the only arbiter between concurrent redeemers.
func (u *Users) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, usedAt time.Time) (bool, error) {
	tag, err := u.pool.Exec(ctx, `UPDATE backup_codes SET used_at = $3
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`, userID, hash[:], usedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (u *Users) PasswordHistory(ctx context.Context, userID string, depth int) ([]string, error) {
	if depth <= 0 {
		return nil, nil
	}
	rows, err := u.pool.Query(ctx, `SELECT password_hash FROM password_history
		WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, depth)
	if err != nil {
		return nil, fmt.Errorf("postgres: password history: %w", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: password history: %w", err)
	}
	return hashes, nil
}

// ChangePassword swaps the hash, archives the old one, prunes history to
// HistoryDepth and appends the audit event in one transaction.
func (u *Users) ChangePassword(ctx context.Context, change careauth.PasswordChange) error {
	return inTx(ctx, u.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $3, password_changed_at = $4
			WHERE id = $1 AND password_hash = $2`,
			change.UserID, change.OldHash, change.NewHash, change.ChangedAt)
		if err != nil {
			return fmt.Errorf("postgres: update password: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentChange
		}
		if _, err := tx.Exec(ctx, `INSERT INTO password_history (user_id, password_hash, archived_at)
			VALUES ($1, $2, $3)`, change.UserID, change.OldHash, change.ChangedAt); err != nil {
			return fmt.Errorf("postgres: archive password: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM password_history
			WHERE user_id = $1 AND id NOT IN (
				SELECT id FROM password_history WHERE user_id = $1 ORDER BY id DESC LIMIT $2
			)`, change.UserID, change.HistoryDepth); err != nil {
			return fmt.Errorf("postgres: prune password history: %w", err)
		}
		return insertEvent(ctx, tx, change.Event)
	})
}
