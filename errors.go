package careauth

import "errors"

// Input validation failures. Rejected before any store is touched and safe
// to show verbatim.
var (
	// ErrInvalidInput is returned when a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCodeFormat is returned for second-factor codes that cannot be valid.
	ErrInvalidCodeFormat = errors.New("malformed verification code")
	// ErrConflictingFactors is returned when both a TOTP and a backup code are supplied.
	ErrConflictingFactors = errors.New("supply either a totp code or a backup code, not both")
	// ErrPasswordPolicy is returned when a new password does not meet the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidDuration is returned for emergency access outside the allowed window.
	ErrInvalidDuration = errors.New("emergency access duration out of range")
	// ErrInvalidAccessType is returned for an unknown emergency access type.
	ErrInvalidAccessType = errors.New("invalid emergency access type")
	// ErrReasonRequired is returned when an emergency request has no reason.
	ErrReasonRequired = errors.New("emergency access reason required")
)

// Authentication failures. Messages are deliberately generic; the precise
// reason only reaches the login attempt record and the audit log.
var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCode covers wrong, reused, or raced second-factor codes.
	ErrInvalidCode = errors.New("invalid code")
	// ErrPasskeyChallengeInvalid covers missing, expired, consumed, and mismatched challenges.
	ErrPasskeyChallengeInvalid = errors.New("passkey challenge invalid")
	// ErrPasskeyAssertionInvalid covers bad signatures, stale counters, and unknown credentials.
	ErrPasskeyAssertionInvalid = errors.New("passkey assertion invalid")
	// ErrSessionInvalid is returned by session validation for any unusable token.
	ErrSessionInvalid = errors.New("invalid session")
)

// State failures. Nothing secret was wrong; the message tells the caller what
// to do.
var (
	ErrAccountInactive         = errors.New("account is inactive")
	ErrOrganizationInactive    = errors.New("organization is inactive")
	ErrPasswordReuse           = errors.New("new password matches a recently used password")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrTwoFactorSetupMissing   = errors.New("two-factor setup has not been started")
	ErrBackupCodesExist        = errors.New("backup codes already generated; regenerate instead")
	ErrGrantNotFound           = errors.New("emergency access grant not found")
	ErrPasskeyDisabled         = errors.New("passkey login is disabled")
)

// Throttling and backend failures.
var (
	ErrLoginRateLimited   = errors.New("too many login attempts")
	ErrCodeRateLimited    = errors.New("too many verification attempts")
	ErrBackendUnavailable = errors.New("authentication backend unavailable")
	ErrEngineNotReady     = errors.New("engine not initialized")
	// ErrInternal is returned when a flow recovers from a panic.
	ErrInternal           = errors.New("internal authentication error")
)

// ErrUserNotFound must be returned (or wrapped) by UserProvider lookups for
// unknown users. It never reaches callers of the Engine.
var ErrUserNotFound = errors.New("user not found")

// ErrNotFound must be returned (or wrapped) by PasskeyProvider and GrantStore
// lookups for unknown records.
var ErrNotFound = errors.New("record not found")

// ErrorKind groups errors the way callers are expected to react to them.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthentication
	KindState
	KindRateLimit
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindState:
		return "state"
	case KindRateLimit:
		return "rate_limit"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Kind classifies err. Unknown errors are KindInternal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidCodeFormat),
		errors.Is(err, ErrConflictingFactors),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidAccessType),
		errors.Is(err, ErrReasonRequired):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrPasskeyChallengeInvalid),
		errors.Is(err, ErrPasskeyAssertionInvalid),
		errors.Is(err, ErrSessionInvalid):
		return KindAuthentication
	case errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrOrganizationInactive),
		errors.Is(err, ErrPasswordReuse),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorSetupMissing),
		errors.Is(err, ErrBackupCodesExist),
		errors.Is(err, ErrGrantNotFound),
		errors.Is(err, ErrPasskeyDisabled):
		return KindState
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrCodeRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return KindUnavailable
	default:
		return KindInternal
	}
}
