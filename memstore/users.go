// Package memstore holds in-process implementations of the careauth
// provider interfaces. They are meant for tests, demos and single-node
// development; nothing is persisted.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/careauth"
)

// ErrConcurrentChange is returned by ChangePassword when the stored hash no
// longer matches the one the change was computed against.
var ErrConcurrentChange = errors.New("memstore: password changed concurrently")

type userEntry struct {
	rec       careauth.UserRecord
	twoFactor *careauth.TwoFactorRecord
	codes     []careauth.BackupCodeRecord
	history   []string
}

// Users implements careauth.UserProvider.
type Users struct {
	mu      sync.Mutex
	byID    map[string]*userEntry
	byEmail map[string]string
	log     careauth.SecurityLog
}

func NewUsers() *Users {
	return &Users{
		byID:    make(map[string]*userEntry),
		byEmail: make(map[string]string),
	}
}

// WithSecurityLog makes ChangePassword append its event to log as part of
// the change, the way a database provider writes it in the same
// transaction.
func (u *Users) WithSecurityLog(log careauth.SecurityLog) *Users {
	u.mu.Lock()
	u.log = log
	u.mu.Unlock()
	return u
}

// Add stores rec, replacing any user with the same id.
func (u *Users) Add(rec careauth.UserRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	email := normalizeEmail(rec.Email)
	if old, ok := u.byID[rec.UserID]; ok {
		delete(u.byEmail, normalizeEmail(old.rec.Email))
		old.rec = rec
	} else {
		u.byID[rec.UserID] = &userEntry{rec: rec}
	}
	u.byEmail[email] = rec.UserID
}

// SetActive flips the account flag.
func (u *Users) SetActive(userID string, active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.byID[userID]; ok {
		e.rec.Active = active
	}
}

// SetOrganizationActive flips the organization flag on every member.
func (u *Users) SetOrganizationActive(organizationID string, active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.byID {
		if e.rec.OrganizationID == organizationID {
			e.rec.OrganizationActive = active
		}
	}
}

func (u *Users) entry(userID string) (*userEntry, error) {
	e, ok := u.byID[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", careauth.ErrUserNotFound, userID)
	}
	return e, nil
}

func (u *Users) GetUserByEmail(_ context.Context, email string) (careauth.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id, ok := u.byEmail[normalizeEmail(email)]
	if !ok {
		return careauth.UserRecord{}, careauth.ErrUserNotFound
	}
	return u.byID[id].rec, nil
}

func (u *Users) GetUserByID(_ context.Context, userID string) (careauth.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return careauth.UserRecord{}, err
	}
	return e.rec, nil
}

func (u *Users) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return err
	}
	e.rec.PasswordHash = hash
	return nil
}

func (u *Users) GetTwoFactor(_ context.Context, userID string) (*careauth.TwoFactorRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return nil, err
	}
	if e.twoFactor == nil {
		return nil, nil
	}
	tf := *e.twoFactor
	tf.Secret = append([]byte(nil), e.twoFactor.Secret...)
	return &tf, nil
}

func (u *Users) SaveTwoFactorSecret(_ context.Context, userID string, secret []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return err
	}
	if e.twoFactor != nil && e.twoFactor.Enabled {
		return careauth.ErrTwoFactorAlreadyEnabled
	}
	e.twoFactor = &careauth.TwoFactorRecord{Secret: append([]byte(nil), secret...)}
	return nil
}

func (u *Users) EnableTwoFactor(_ context.Context, userID string, counter int64, codes []careauth.BackupCodeRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return err
	}
	if e.twoFactor == nil {
		return careauth.ErrTwoFactorSetupMissing
	}
	if e.twoFactor.Enabled {
		return careauth.ErrTwoFactorAlreadyEnabled
	}
	e.twoFactor.Enabled = true
	e.twoFactor.FailedAttempts = 0
	e.twoFactor.LastUsedCounter = counter
	e.codes = append([]careauth.BackupCodeRecord(nil), codes...)
	return nil
}

func (u *Users) DisableTwoFactor(_ context.Context, userID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return err
	}
	if e.twoFactor != nil {
		e.twoFactor.Enabled = false
	}
	e.codes = nil
	return nil
}

func (u *Users) RecordTwoFactorFailure(_ context.Context, userID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return err
	}
	if e.twoFactor != nil {
		e.twoFactor.FailedAttempts++
	}
	return nil
}

func (u *Users) AdvanceTOTPCounter(_ context.Context, userID string, counter int64, usedAt time.Time) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return false, err
	}
	if e.twoFactor == nil || counter <= e.twoFactor.LastUsedCounter {
		return false, nil
	}
	e.twoFactor.LastUsedCounter = counter
	e.twoFactor.LastUsedAt = usedAt
	e.twoFactor.FailedAttempts = 0
	return true, nil
}

func (u *Users) CountUnusedBackupCodes(_ context.Context, userID string) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range e.codes {
		if c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (u *Users) ReplaceBackupCodes(_ context.Context, userID string, codes []careauth.BackupCodeRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return err
	}
	e.codes = append([]careauth.BackupCodeRecord(nil), codes...)
	return nil
}

func (u *Users) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte, usedAt time.Time) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return false, err
	}
	for i := range e.codes {
		if e.codes[i].Hash == hash && e.codes[i].UsedAt == nil {
			at := usedAt
			e.codes[i].UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (u *Users) PasswordHistory(_ context.Context, userID string, depth int) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(userID)
	if err != nil {
		return nil, err
	}
	n := min(depth, len(e.history))
	if n <= 0 {
		return nil, nil
	}
	return append([]string(nil), e.history[:n]...), nil
}

func (u *Users) ChangePassword(ctx context.Context, change careauth.PasswordChange) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, err := u.entry(change.UserID)
	if err != nil {
		return err
	}
	if e.rec.PasswordHash != change.OldHash {
		return ErrConcurrentChange
	}
	if u.log != nil {
		if err := u.log.Append(ctx, change.Event); err != nil {
			return err
		}
	}

	e.rec.PasswordHash = change.NewHash
	e.rec.PasswordChangedAt = change.ChangedAt
	history := append([]string{change.OldHash}, e.history...)
	if change.HistoryDepth >= 0 && len(history) > change.HistoryDepth {
		history = history[:change.HistoryDepth]
	}
	e.history = history
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
