package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// RiskLevel is the coarse classification attached to every event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels; unknown levels rank below low.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// Status is the outcome recorded on an event.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusSuspicious Status = "suspicious"
)

// Location is a coarse origin classification derived from the client IP.
type Location string

const (
	LocationLocal    Location = "local"
	LocationExternal Location = "external"
	LocationUnknown  Location = "unknown"
)

// Actions recorded by careauth.
const (
	ActionLogin                  = "login"
	ActionFailedLogin            = "failed_login"
	ActionLogout                 = "logout"
	ActionPasswordChange         = "password_change"
	ActionTwoFactorSetup         = "two_factor_setup"
	ActionTwoFactorEnabled       = "two_factor_enabled"
	ActionTwoFactorDisabled      = "two_factor_disabled"
	ActionBackupCodesGenerated   = "backup_codes_generated"
	ActionBackupCodeUsed         = "backup_code_used"
	ActionPasskeyRegistered      = "passkey_registered"
	ActionPasskeyChallenge       = "passkey_challenge"
	ActionEmergencyAccess        = "emergency_access"
	ActionEmergencyAccessRevoked = "emergency_access_revoked"
	ActionAdminOverride          = "admin_override"
	ActionBruteForceDetected     = "brute_force_detected"
	ActionNewDeviceDetected      = "new_device_detected"
	ActionRateLimited            = "rate_limited"
)

// Event is one append-only security record.
type Event struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Action         string            `json:"action"`
	UserID         string            `json:"user_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	ResourceType   string            `json:"resource_type,omitempty"`
	ResourceID     string            `json:"resource_id,omitempty"`
	Status         Status            `json:"status"`
	Risk           RiskLevel         `json:"risk"`
	IP             string            `json:"ip,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Referrer       string            `json:"referrer,omitempty"`
	Location       Location          `json:"location,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	Details        map[string]string `json:"details,omitempty"`

	// synthetic marks detector output so it is never inspected again.
	synthetic bool
}

// Synthetic reports whether the event was produced by a detector.
func (e Event) Synthetic() bool {
	return e.synthetic
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line. The Engine uses it as the
// local fallback when the durable store rejects a write.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
