package audit

import "strings"

// RiskRule is one row of the risk table.
type RiskRule struct {
	Name  string
	Level RiskLevel
	Match func(Event) bool
}

// botUserAgentMarkers are matched case-insensitively as substrings.
var botUserAgentMarkers = []string{
	"bot",
	"crawler",
	"spider",
	"curl",
	"wget",
	"python-requests",
	"go-http-client",
	"headless",
}

// RiskRules is evaluated top to bottom; the first matching rule decides.
// The last rule matches everything.
var RiskRules = []RiskRule{
	{Name: "emergency_access", Level: RiskCritical, Match: actionIs(ActionEmergencyAccess)},
	{Name: "admin_override", Level: RiskCritical, Match: actionIs(ActionAdminOverride)},
	{Name: "suspicious_status", Level: RiskCritical, Match: func(e Event) bool { return e.Status == StatusSuspicious }},

	{Name: "failed_login", Level: RiskHigh, Match: actionIs(ActionFailedLogin)},
	{Name: "failed_password_change", Level: RiskHigh, Match: func(e Event) bool {
		return e.Action == ActionPasswordChange && e.Status == StatusFailed
	}},
	{Name: "two_factor_disabled", Level: RiskHigh, Match: actionIs(ActionTwoFactorDisabled)},
	{Name: "bot_user_agent", Level: RiskHigh, Match: func(e Event) bool { return IsBotUserAgent(e.UserAgent) }},

	{Name: "new_device_login", Level: RiskMedium, Match: func(e Event) bool {
		return e.Action == ActionLogin && e.Details["new_device"] == "true"
	}},
	{Name: "two_factor_enabled", Level: RiskMedium, Match: actionIs(ActionTwoFactorEnabled)},
	{Name: "passkey_registered", Level: RiskMedium, Match: actionIs(ActionPasskeyRegistered)},
	{Name: "backup_codes_generated", Level: RiskMedium, Match: actionIs(ActionBackupCodesGenerated)},

	{Name: "default", Level: RiskLow, Match: func(Event) bool { return true }},
}

// ScoreRisk returns the level of the first rule in RiskRules that matches.
func ScoreRisk(e Event) RiskLevel {
	level, _ := ScoreRiskWithRule(e)
	return level
}

// ScoreRiskWithRule is ScoreRisk plus the name of the deciding rule.
func ScoreRiskWithRule(e Event) (RiskLevel, string) {
	for _, rule := range RiskRules {
		if rule.Match(e) {
			return rule.Level, rule.Name
		}
	}
	return RiskLow, "default"
}

// IsBotUserAgent reports whether ua looks like an automated client.
func IsBotUserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	lower := strings.ToLower(ua)
	for _, marker := range botUserAgentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func actionIs(action string) func(Event) bool {
	return func(e Event) bool { return e.Action == action }
}
