package session

import "strings"

// Method records how a session was authenticated.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodPassword
	MethodTOTP
	MethodBackupCode
	MethodPasskey
)

func (m Method) String() string {
	switch m {
	case MethodPassword:
		return "password"
	case MethodTOTP:
		return "totp"
	case MethodBackupCode:
		return "backup_code"
	case MethodPasskey:
		return "passkey"
	default:
		return "unknown"
	}
}

// ParseMethod is the inverse of [Method.String].
func ParseMethod(s string) Method {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "password":
		return MethodPassword
	case "totp":
		return MethodTOTP
	case "backup_code":
		return MethodBackupCode
	case "passkey":
		return MethodPasskey
	default:
		return MethodUnknown
	}
}

// Session is one completed login. Sessions never reference each other.
type Session struct {
	SessionID         string
	UserID            string
	OrganizationID    string
	Role              string
	Method            Method
	TwoFactorVerified bool
	RememberMe        bool

	CreatedAt int64
	ExpiresAt int64
}
