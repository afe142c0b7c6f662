package careauth

import (
	"context"
	"time"

	"github.com/MrEthical07/careauth/internal/audit"
)

// UserRecord is the credential view of a user returned by [UserProvider].
type UserRecord struct {
	UserID             string
	Email              string
	PasswordHash       string
	Active             bool
	Role               string
	OrganizationID     string
	OrganizationActive bool
	// SecurityScore is 0-100 and informational only.
	SecurityScore     int
	PasswordChangedAt time.Time
}

// UserSummary is the part of a user returned to callers after login.
type UserSummary struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
}

// TwoFactorRecord is the TOTP state of a user. A record with Enabled=false
// and a Secret is a setup in progress.
type TwoFactorRecord struct {
	Secret          []byte
	Enabled         bool
	FailedAttempts  int
	LastUsedAt      time.Time
	LastUsedCounter int64
}

// BackupCodeRecord stores the SHA-256 of userID, a zero byte and the
// canonical code. Plaintext is never persisted.
type BackupCodeRecord struct {
	Hash   [32]byte
	UsedAt *time.Time
}

// PasskeyRecord is a registered WebAuthn credential.
type PasskeyRecord struct {
	CredentialID []byte
	UserID       string
	// PublicKey is the COSE_Key from the attested credential data.
	PublicKey  []byte
	SignCount  uint32
	DeviceName string
	Active     bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// PasskeyRegistration is the input to [Engine.RegisterPasskey].
type PasskeyRegistration struct {
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	DeviceName   string
}

// LoginAttempt is written before credentials are checked and resolved with
// the outcome once the login settles.
type LoginAttempt struct {
	ID            string
	Email         string
	IP            string
	UserAgent     string
	Success       bool
	FailureReason string
	UserID        string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Emergency access types.
const (
	AccessView = "view"
	AccessFull = "full"
)

// EmergencyGrant is a time-bounded break-glass access to a patient record.
type EmergencyGrant struct {
	ID             string     `json:"id"`
	PatientID      string     `json:"patient_id"`
	GranteeID      string     `json:"grantee_id"`
	OrganizationID string     `json:"organization_id"`
	AccessType     string     `json:"access_type"`
	Reason         string     `json:"reason"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	Active         bool       `json:"active"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RevokedBy      string     `json:"revoked_by,omitempty"`
}

// Usable reports whether the grant authorizes access at now. Expiry is
// derived from EndTime; nothing has to flip Active for a grant to lapse.
func (g EmergencyGrant) Usable(now time.Time) bool {
	return g.Active && now.Before(g.EndTime)
}

// EmergencyRequest is the input to [Engine.RequestEmergencyAccess].
type EmergencyRequest struct {
	PatientID      string `json:"patient_id"`
	GranteeID      string `json:"grantee_id"`
	OrganizationID string `json:"organization_id"`
	Reason         string `json:"reason"`
	AccessType     string `json:"access_type"`
	DurationHours  int    `json:"duration_hours"`
}

// SecurityEvent is one append-only audit record.
type SecurityEvent = audit.Event

// TimeRange is a half-open [From, To) window for audit aggregates.
type TimeRange = audit.TimeRange

// UserSecurityStats and OrganizationSecurityOverview are audit projections.
type (
	UserSecurityStats            = audit.UserStats
	OrganizationSecurityOverview = audit.OrganizationOverview
)

// LoginStatus tags the three possible login outcomes.
type LoginStatus uint8

const (
	LoginFailed LoginStatus = iota
	LoginSucceeded
	LoginRequiresTwoFactor
)

func (s LoginStatus) String() string {
	switch s {
	case LoginSucceeded:
		return "succeeded"
	case LoginRequiresTwoFactor:
		return "requires_two_factor"
	default:
		return "failed"
	}
}

// LoginRequest is the input to [Engine.Login]. At most one of TOTPCode and
// BackupCode may be set.
type LoginRequest struct {
	Email      string
	Password   string
	TOTPCode   string
	BackupCode string
	RememberMe bool
}

// LoginResult is the tagged login outcome. Token, SessionID, ExpiresAt and
// User are set only for LoginSucceeded; UserID is set for
// LoginRequiresTwoFactor and LoginSucceeded; Reason only for LoginFailed.
type LoginResult struct {
	Status    LoginStatus
	Token     string
	SessionID string
	ExpiresAt time.Time
	UserID    string
	User      *UserSummary
	Reason    string
}

// SessionData is what a new session records about the login.
type SessionData struct {
	UserID            string
	OrganizationID    string
	Role              string
	Method            string
	TwoFactorVerified bool
}

// SessionHandle is returned by [Engine.CreateSession].
type SessionHandle struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// SessionInfo is the validated view of a session token.
type SessionInfo struct {
	SessionID         string
	UserID            string
	OrganizationID    string
	Role              string
	Method            string
	TwoFactorVerified bool
	RememberMe        bool
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// PasskeyChallenge is handed to the browser to start navigator.credentials.get.
type PasskeyChallenge struct {
	Reference        string    `json:"reference"`
	Challenge        []byte    `json:"challenge"`
	RPID             string    `json:"rp_id"`
	AllowCredentials [][]byte  `json:"allow_credentials"`
	UserVerification string    `json:"user_verification"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// PasskeyAssertion is the authenticator response to a [PasskeyChallenge].
type PasskeyAssertion struct {
	CredentialID      []byte `json:"credential_id"`
	ClientDataJSON    []byte `json:"client_data_json"`
	AuthenticatorData []byte `json:"authenticator_data"`
	Signature         []byte `json:"signature"`
	UserHandle        []byte `json:"user_handle,omitempty"`
}

// SecondFactorProof is a fresh TOTP or backup code. Exactly one must be set.
type SecondFactorProof struct {
	TOTPCode   string
	BackupCode string
}

// TwoFactorSetup is returned by [Engine.BeginTwoFactorSetup].
type TwoFactorSetup struct {
	SecretBase32 string
	URI          string
}

// PasswordChange is the unit of work handed to [UserProvider.ChangePassword].
// Implementations must apply all of it in one transaction: store NewHash,
// archive OldHash, append Event, and keep at most HistoryDepth archived
// hashes.
type PasswordChange struct {
	UserID       string
	OldHash      string
	NewHash      string
	ChangedAt    time.Time
	HistoryDepth int
	Event        SecurityEvent
}

// UserProvider is the user aggregate: credentials, TOTP state and backup
// codes. Lookups of unknown users must return (or wrap) [ErrUserNotFound].
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	// UpdatePasswordHash rewrites the hash in place after a parameter
	// upgrade. It does not touch password history.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	// GetTwoFactor returns nil, nil when the user never started setup.
	GetTwoFactor(ctx context.Context, userID string) (*TwoFactorRecord, error)
	// SaveTwoFactorSecret stores a pending secret; it does not enable 2FA.
	SaveTwoFactorSecret(ctx context.Context, userID string, secret []byte) error
	// EnableTwoFactor enables TOTP, records the counter that proved
	// possession and installs the first backup-code batch atomically.
	EnableTwoFactor(ctx context.Context, userID string, counter int64, codes []BackupCodeRecord) error
	// DisableTwoFactor clears the enabled flag and discards backup codes.
	DisableTwoFactor(ctx context.Context, userID string) error
	RecordTwoFactorFailure(ctx context.Context, userID string) error
	// AdvanceTOTPCounter stores counter only if it is greater than the
	// stored one, and reports whether it did.
	AdvanceTOTPCounter(ctx context.Context, userID string, counter int64, usedAt time.Time) (bool, error)

	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
	// ReplaceBackupCodes swaps the whole batch in one transaction.
	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	// ConsumeBackupCode marks the code used if and only if it exists and
	// is unused; of N concurrent calls at most one reports true.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, usedAt time.Time) (bool, error)

	// PasswordHistory returns up to depth archived hashes, newest first.
	PasswordHistory(ctx context.Context, userID string, depth int) ([]string, error)
	ChangePassword(ctx context.Context, change PasswordChange) error
}

// PasskeyProvider stores WebAuthn credentials. Unknown credentials must
// return (or wrap) [ErrNotFound].
type PasskeyProvider interface {
	ListPasskeys(ctx context.Context, userID string) ([]PasskeyRecord, error)
	GetPasskey(ctx context.Context, credentialID []byte) (PasskeyRecord, error)
	// SavePasskey must reject a credential id that is already registered
	// with (a wrap of) [ErrInvalidInput].
	SavePasskey(ctx context.Context, record PasskeyRecord) error
	// AdvanceSignCount stores signCount only if it is greater than the
	// stored counter, and reports whether it did.
	AdvanceSignCount(ctx context.Context, credentialID []byte, signCount uint32, usedAt time.Time) (bool, error)
}

// SecurityLog is the durable audit log.
type SecurityLog = audit.Store

// LoginAttemptStore records every login attempt.
type LoginAttemptStore interface {
	Begin(ctx context.Context, attempt LoginAttempt) error
	// Resolve updates Success, FailureReason, UserID and ResolvedAt of the
	// attempt with attempt.ID.
	Resolve(ctx context.Context, attempt LoginAttempt) error
}

// GrantStore persists emergency access grants. Unknown ids must return (or
// wrap) [ErrNotFound].
type GrantStore interface {
	CreateGrant(ctx context.Context, grant EmergencyGrant) error
	GetGrant(ctx context.Context, grantID string) (EmergencyGrant, error)
	// RevokeGrant clears Active and sets RevokedAt/RevokedBy. EndTime is
	// never modified. Revoking an inactive grant returns it unchanged.
	RevokeGrant(ctx context.Context, grantID, revokedBy string, at time.Time) (EmergencyGrant, error)
	ListGrantsForPatient(ctx context.Context, patientID string) ([]EmergencyGrant, error)
	// ArchiveExpiredGrants moves grants with EndTime before cutoff out of
	// the live table and returns how many moved.
	ArchiveExpiredGrants(ctx context.Context, cutoff time.Time) (int, error)
}
