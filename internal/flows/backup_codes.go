package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strconv"
	"strings"

	"github.com/MrEthical07/careauth/internal/audit"
)

var errInvalidBatch = errors.New("backup code batch size must be positive")

// BackupCodeAlphabet omits 0/O and 1/I so printed codes are unambiguous.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type BackupCodeMetrics struct {
	BackupCodesGenerated int
}

type BackupCodeErrors struct {
	EngineNotReady      error
	InvalidInput        error
	TwoFactorNotEnabled error
	BackupCodesExist    error
	BackendUnavailable  error
}

type BackupCodeDeps struct {
	BackupCodeCount  int
	BackupCodeLength int

	// GetUser resolves the owner; it returns the organization id.
	GetUser            func(context.Context, string) (string, error)
	IsUserNotFound     func(error) bool
	GetTwoFactor       func(context.Context, string) (*TwoFactorState, error)
	CountUnused        func(context.Context, string) (int, error)
	ReplaceBackupCodes func(context.Context, string, [][32]byte) error
	// VerifyProof checks the fresh second factor required for regeneration.
	VerifyProof func(context.Context, string, string, string) error

	RandomIndex func(int) (int, error)

	MetricInc func(int)
	Emit      func(context.Context, audit.Event)

	Metrics BackupCodeMetrics
	Errors  BackupCodeErrors
}

// RunGenerateBackupCodes issues the first batch for a user with 2FA enabled.
// It refuses while unused codes remain.
func RunGenerateBackupCodes(ctx context.Context, userID string, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.GetUser == nil || deps.GetTwoFactor == nil || deps.CountUnused == nil || deps.ReplaceBackupCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}
	orgID, err := backupCodeOwner(ctx, userID, deps)
	if err != nil {
		return nil, err
	}

	remaining, err := deps.CountUnused(ctx, userID)
	if err != nil {
		return nil, deps.Errors.BackendUnavailable
	}
	if remaining > 0 {
		return nil, deps.Errors.BackupCodesExist
	}

	return replaceBackupCodes(ctx, userID, orgID, false, deps)
}

// RunRegenerateBackupCodes replaces the whole batch after a fresh proof.
func RunRegenerateBackupCodes(ctx context.Context, userID, totpCode, backupCode string, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.GetUser == nil || deps.GetTwoFactor == nil || deps.VerifyProof == nil || deps.ReplaceBackupCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}
	orgID, err := backupCodeOwner(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	if err := deps.VerifyProof(ctx, userID, totpCode, backupCode); err != nil {
		return nil, err
	}

	return replaceBackupCodes(ctx, userID, orgID, true, deps)
}

func backupCodeOwner(ctx context.Context, userID string, deps BackupCodeDeps) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", deps.Errors.InvalidInput
	}
	orgID, err := deps.GetUser(ctx, userID)
	if err != nil {
		if deps.IsUserNotFound(err) {
			return "", deps.Errors.InvalidInput
		}
		return "", deps.Errors.BackendUnavailable
	}
	state, err := deps.GetTwoFactor(ctx, userID)
	if err != nil {
		return "", deps.Errors.BackendUnavailable
	}
	if state == nil || !state.Enabled {
		return "", deps.Errors.TwoFactorNotEnabled
	}
	return orgID, nil
}

func replaceBackupCodes(ctx context.Context, userID, orgID string, regenerated bool, deps BackupCodeDeps) ([]string, error) {
	codes, hashes, err := NewBackupCodeBatch(userID, deps.BackupCodeCount, deps.BackupCodeLength, deps.RandomIndex)
	if err != nil {
		return nil, deps.Errors.BackendUnavailable
	}
	if err := deps.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, deps.Errors.BackendUnavailable
	}

	deps.MetricInc(deps.Metrics.BackupCodesGenerated)
	details := map[string]string{"count": strconv.Itoa(len(codes))}
	if regenerated {
		details["regenerated"] = "true"
	}
	deps.Emit(ctx, audit.Event{
		Action:         audit.ActionBackupCodesGenerated,
		UserID:         userID,
		OrganizationID: orgID,
		ResourceType:   "user",
		ResourceID:     userID,
		Status:         audit.StatusSuccess,
		Details:        details,
	})
	return codes, nil
}

// NewBackupCodeBatch returns count display-formatted codes and their
// per-user hashes, index-aligned.
func NewBackupCodeBatch(userID string, count, length int, randomIndex func(int) (int, error)) ([]string, [][32]byte, error) {
	if count <= 0 || length <= 0 {
		return nil, nil, errInvalidBatch
	}
	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		raw, err := NewBackupCode(length, randomIndex)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, FormatBackupCode(raw))
		hashes = append(hashes, BackupCodeHash(userID, raw))
	}
	return codes, hashes, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits a code in two halves, e.g. ABCDE-FGHJK.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// WellFormedBackupCode reports whether code canonicalizes to length
// characters from the alphabet. A non-positive length skips the length
// check.
func WellFormedBackupCode(code string, length int) bool {
	c := CanonicalizeBackupCode(code)
	if c == "" || (length > 0 && len(c) != length) {
		return false
	}
	for i := 0; i < len(c); i++ {
		if strings.IndexByte(BackupCodeAlphabet, c[i]) < 0 {
			return false
		}
	}
	return true
}

// BackupCodeHash is SHA-256(userID || 0x00 || canonical code).
func BackupCodeHash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Emit == nil {
		deps.Emit = func(context.Context, audit.Event) {}
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
}
