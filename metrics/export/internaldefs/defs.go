package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/careauth"
)

// Namespace prefixes every exported series.
const Namespace = "careauth"

type CounterDef struct {
	ID   careauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   careauth.MetricID
	Name string
	Help string
}

// AuditDef describes one audit pipeline health counter.
type AuditDef struct {
	Name  string
	Help  string
	Value func(careauth.AuditStats) uint64
}

var counterHelp = map[careauth.MetricID]string{
	careauth.MetricLoginSuccess:            "Completed logins that issued a session.",
	careauth.MetricLoginFailure:            "Logins that ended in failure.",
	careauth.MetricLoginRateLimited:        "Logins refused by the per-account or per-IP budget.",
	careauth.MetricLoginTwoFactorRequired:  "Password logins that stopped for a second factor.",
	careauth.MetricTwoFactorSuccess:        "Accepted TOTP codes.",
	careauth.MetricTwoFactorFailure:        "Rejected TOTP codes.",
	careauth.MetricTOTPReplayRejected:      "TOTP codes rejected because their time step was already used.",
	careauth.MetricBackupCodeUsed:          "Backup codes consumed.",
	careauth.MetricBackupCodeFailed:        "Rejected backup codes.",
	careauth.MetricBackupCodesGenerated:    "Backup code batches generated.",
	careauth.MetricPasskeyChallengeIssued:  "Passkey challenges issued.",
	careauth.MetricPasskeyLoginSuccess:     "Passkey logins that issued a session.",
	careauth.MetricPasskeyLoginFailure:     "Failed passkey logins.",
	careauth.MetricPasskeyCounterRejected:  "Passkey assertions rejected for a non-increasing signature counter.",
	careauth.MetricSessionCreated:          "Sessions created.",
	careauth.MetricSessionValidated:        "Session tokens accepted.",
	careauth.MetricSessionRejected:         "Session tokens rejected.",
	careauth.MetricLogout:                  "Single-session logouts.",
	careauth.MetricLogoutAll:               "Logout-all operations.",
	careauth.MetricPasswordChangeSuccess:   "Password changes applied.",
	careauth.MetricPasswordChangeFailure:   "Password changes refused.",
	careauth.MetricPasswordReuseRejected:   "Password changes refused for reusing a recent password.",
	careauth.MetricEmergencyAccessGranted:  "Emergency access grants opened.",
	careauth.MetricEmergencyAccessRejected: "Emergency access requests refused.",
	careauth.MetricEmergencyAccessRevoked:  "Emergency access grants revoked.",
	careauth.MetricLoginAttemptWriteFailed: "Login attempt records that could not be written.",
}

// CounterDefs covers every careauth counter in declaration order.
var CounterDefs = buildCounterDefs()

func buildCounterDefs() []CounterDef {
	ids := careauth.CounterIDs()
	defs := make([]CounterDef, 0, len(ids))
	for _, id := range ids {
		help, ok := counterHelp[id]
		if !ok {
			help = strings.ReplaceAll(id.String(), "_", " ") + "."
		}
		defs = append(defs, CounterDef{ID: id, Name: CounterName(id), Help: help})
	}
	return defs
}

// CounterName is the exported series name of id.
func CounterName(id careauth.MetricID) string {
	return Namespace + "_" + id.String() + "_total"
}

var HistogramDefs = []HistogramDef{
	{ID: careauth.MetricLoginLatency, Name: Namespace + "_login_latency_seconds", Help: "Password login latency."},
}

var AuditDefs = []AuditDef{
	{
		Name:  Namespace + "_audit_dropped_total",
		Help:  "Audit events dropped because the async queue was full.",
		Value: func(s careauth.AuditStats) uint64 { return s.Dropped },
	},
	{
		Name:  Namespace + "_audit_write_failures_total",
		Help:  "Audit events the security log failed to persist.",
		Value: func(s careauth.AuditStats) uint64 { return s.WriteFailures },
	},
	{
		Name:  Namespace + "_audit_detect_failures_total",
		Help:  "Anomaly detection runs that failed.",
		Value: func(s careauth.AuditStats) uint64 { return s.DetectFailures },
	},
	{
		Name:  Namespace + "_security_alerts_total",
		Help:  "Security alerts raised by anomaly detection.",
		Value: func(s careauth.AuditStats) uint64 { return s.Alerts },
	},
}

// UpperBounds are the finite bucket bounds in seconds; the last bucket of
// a snapshot is +Inf.
var UpperBounds = careauth.HistogramBounds[:len(careauth.HistogramBounds)-1]

// BoundSuffix renders the upper bound of bucket i for instrument names.
func BoundSuffix(i int) string {
	if i >= len(UpperBounds) {
		return "inf"
	}
	return strings.ReplaceAll(strconv.FormatFloat(UpperBounds[i], 'f', -1, 64), ".", "_")
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
