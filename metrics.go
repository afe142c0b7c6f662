package careauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTOTPReplayRejected
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodesGenerated
	MetricPasskeyChallengeIssued
	MetricPasskeyLoginSuccess
	MetricPasskeyLoginFailure
	MetricPasskeyCounterRejected
	MetricSessionCreated
	MetricSessionValidated
	MetricSessionRejected
	MetricLogout
	MetricLogoutAll
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordReuseRejected
	MetricEmergencyAccessGranted
	MetricEmergencyAccessRejected
	MetricEmergencyAccessRevoked
	MetricLoginAttemptWriteFailed
	// MetricLoginLatency is the only histogram.
	MetricLoginLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:            "login_success",
	MetricLoginFailure:            "login_failure",
	MetricLoginRateLimited:        "login_rate_limited",
	MetricLoginTwoFactorRequired:  "login_two_factor_required",
	MetricTwoFactorSuccess:        "two_factor_success",
	MetricTwoFactorFailure:        "two_factor_failure",
	MetricTOTPReplayRejected:      "totp_replay_rejected",
	MetricBackupCodeUsed:          "backup_code_used",
	MetricBackupCodeFailed:        "backup_code_failed",
	MetricBackupCodesGenerated:    "backup_codes_generated",
	MetricPasskeyChallengeIssued:  "passkey_challenge_issued",
	MetricPasskeyLoginSuccess:     "passkey_login_success",
	MetricPasskeyLoginFailure:     "passkey_login_failure",
	MetricPasskeyCounterRejected:  "passkey_counter_rejected",
	MetricSessionCreated:          "session_created",
	MetricSessionValidated:        "session_validated",
	MetricSessionRejected:         "session_rejected",
	MetricLogout:                  "logout",
	MetricLogoutAll:               "logout_all",
	MetricPasswordChangeSuccess:   "password_change_success",
	MetricPasswordChangeFailure:   "password_change_failure",
	MetricPasswordReuseRejected:   "password_reuse_rejected",
	MetricEmergencyAccessGranted:  "emergency_access_granted",
	MetricEmergencyAccessRejected: "emergency_access_rejected",
	MetricEmergencyAccessRevoked:  "emergency_access_revoked",
	MetricLoginAttemptWriteFailed: "login_attempt_write_failed",
	MetricLoginLatency:            "login_latency",
}

// String returns the snake_case metric name used by the exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// CounterIDs lists every counter in declaration order.
func CounterIDs() []MetricID {
	out := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		if id != MetricLoginLatency {
			out = append(out, id)
		}
	}
	return out
}

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
// The last bucket is +Inf.
var HistogramBounds = [histBucketCount]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
	sumNano uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. A disabled Metrics ignores writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of [Metrics] plus the audit
// pipeline counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// LatencySum is the total observed login latency.
	LatencySum time.Duration
	Audit      AuditStats
}

// AuditStats are the audit pipeline health counters.
type AuditStats struct {
	Dropped        uint64
	WriteFailures  uint64
	DetectFailures uint64
	Alerts         uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the login latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricLoginLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
	if d > 0 {
		atomic.AddUint64(&m.histograms[id].sumNano, uint64(d))
	}
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for _, id := range CounterIDs() {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricLoginLatency].buckets[i])
		}
		s.Histograms[MetricLoginLatency] = buckets
		s.LatencySum = time.Duration(atomic.LoadUint64(&m.histograms[MetricLoginLatency].sumNano))
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
