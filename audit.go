package careauth

import (
	"io"

	"github.com/MrEthical07/careauth/internal/audit"
)

// AuditSink receives prepared security events next to the durable log.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// Filters and rows used by SecurityLog implementations.
type (
	FailureFilter = audit.FailureFilter
	DeviceFilter  = audit.DeviceFilter
	ActionCount   = audit.ActionCount
	UserRiskCount = audit.UserRiskCount
)

type (
	RiskLevel   = audit.RiskLevel
	EventStatus = audit.Status
	Location    = audit.Location
)

const (
	RiskLow      = audit.RiskLow
	RiskMedium   = audit.RiskMedium
	RiskHigh     = audit.RiskHigh
	RiskCritical = audit.RiskCritical

	StatusSuccess    = audit.StatusSuccess
	StatusFailed     = audit.StatusFailed
	StatusSuspicious = audit.StatusSuspicious
)

// Security event actions.
const (
	ActionLogin                  = audit.ActionLogin
	ActionFailedLogin            = audit.ActionFailedLogin
	ActionLogout                 = audit.ActionLogout
	ActionPasswordChange         = audit.ActionPasswordChange
	ActionTwoFactorSetup         = audit.ActionTwoFactorSetup
	ActionTwoFactorEnabled       = audit.ActionTwoFactorEnabled
	ActionTwoFactorDisabled      = audit.ActionTwoFactorDisabled
	ActionBackupCodesGenerated   = audit.ActionBackupCodesGenerated
	ActionBackupCodeUsed         = audit.ActionBackupCodeUsed
	ActionPasskeyRegistered      = audit.ActionPasskeyRegistered
	ActionPasskeyChallenge       = audit.ActionPasskeyChallenge
	ActionEmergencyAccess        = audit.ActionEmergencyAccess
	ActionEmergencyAccessRevoked = audit.ActionEmergencyAccessRevoked
	ActionAdminOverride          = audit.ActionAdminOverride
	ActionBruteForceDetected     = audit.ActionBruteForceDetected
	ActionNewDeviceDetected      = audit.ActionNewDeviceDetected
	ActionRateLimited            = audit.ActionRateLimited
)
