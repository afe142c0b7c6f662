package audit

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// DetectionConfig tunes the anomaly detectors.
type DetectionConfig struct {
	Enabled              bool
	BruteForceWindow     time.Duration
	UserFailureThreshold int
	IPFailureThreshold   int
	NewDeviceLookback    time.Duration
}

// DefaultDetectionConfig returns the 15 minute / 5 per user / 10 per IP /
// 30 day defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Enabled:              true,
		BruteForceWindow:     15 * time.Minute,
		UserFailureThreshold: 5,
		IPFailureThreshold:   10,
		NewDeviceLookback:    30 * 24 * time.Hour,
	}
}

// Detector runs the read-then-write anomaly checks over a Store. Results
// are advisory: concurrent events can produce duplicate alerts.
type Detector struct {
	store Store
	cfg   DetectionConfig
	now   func() time.Time
}

func NewDetector(store Store, cfg DetectionConfig) *Detector {
	return &Detector{store: store, cfg: cfg, now: time.Now}
}

// Inspect returns the synthetic events triggered by ev, which must already
// be persisted. Synthetic input yields nothing.
func (d *Detector) Inspect(ctx context.Context, ev Event) ([]Event, error) {
	if d == nil || d.store == nil || !d.cfg.Enabled || ev.synthetic {
		return nil, nil
	}

	var (
		out  []Event
		errs []error
	)

	if ev.Risk == RiskHigh || ev.Risk == RiskCritical {
		alert, err := d.bruteForce(ctx, ev)
		if err != nil {
			errs = append(errs, err)
		} else if alert != nil {
			out = append(out, *alert)
		}
	}

	// Successful logins score low, so this check cannot sit behind the
	// high/critical gate.
	if ev.Action == ActionLogin && ev.Status == StatusSuccess {
		alert, err := d.newDevice(ctx, ev)
		if err != nil {
			errs = append(errs, err)
		} else if alert != nil {
			out = append(out, *alert)
		}
	}

	return out, errors.Join(errs...)
}

func (d *Detector) bruteForce(ctx context.Context, ev Event) (*Event, error) {
	if ev.Action != ActionFailedLogin {
		return nil, nil
	}
	since := ev.Timestamp.Add(-d.cfg.BruteForceWindow)

	if ev.UserID != "" && d.cfg.UserFailureThreshold > 0 {
		n, err := d.store.CountFailedLogins(ctx, FailureFilter{UserID: ev.UserID, Since: since})
		if err != nil {
			return nil, err
		}
		if n >= d.cfg.UserFailureThreshold {
			return d.bruteForceAlert(ev, "user", n), nil
		}
	}

	if ev.IP != "" && d.cfg.IPFailureThreshold > 0 {
		n, err := d.store.CountFailedLogins(ctx, FailureFilter{IP: ev.IP, Since: since})
		if err != nil {
			return nil, err
		}
		if n >= d.cfg.IPFailureThreshold {
			return d.bruteForceAlert(ev, "ip", n), nil
		}
	}

	return nil, nil
}

func (d *Detector) bruteForceAlert(ev Event, scope string, count int) *Event {
	return &Event{
		Action:         ActionBruteForceDetected,
		UserID:         ev.UserID,
		OrganizationID: ev.OrganizationID,
		ResourceType:   "user",
		ResourceID:     ev.UserID,
		Status:         StatusSuspicious,
		Risk:           RiskCritical,
		IP:             ev.IP,
		UserAgent:      ev.UserAgent,
		Location:       ev.Location,
		Details: map[string]string{
			"scope":         scope,
			"failed_logins": strconv.Itoa(count),
			"window":        d.cfg.BruteForceWindow.String(),
			"trigger_event": ev.ID,
		},
		synthetic: true,
	}
}

func (d *Detector) newDevice(ctx context.Context, ev Event) (*Event, error) {
	if ev.UserID == "" || (ev.IP == "" && ev.UserAgent == "") {
		return nil, nil
	}
	before := ev.Timestamp
	if before.IsZero() {
		before = d.now()
	}

	n, err := d.store.CountKnownDeviceLogins(ctx, DeviceFilter{
		UserID:    ev.UserID,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		Since:     before.Add(-d.cfg.NewDeviceLookback),
		Before:    before,
		ExcludeID: ev.ID,
	})
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}

	return &Event{
		Action:         ActionNewDeviceDetected,
		UserID:         ev.UserID,
		OrganizationID: ev.OrganizationID,
		ResourceType:   "session",
		ResourceID:     ev.SessionID,
		Status:         StatusSuccess,
		Risk:           RiskMedium,
		IP:             ev.IP,
		UserAgent:      ev.UserAgent,
		Location:       ev.Location,
		SessionID:      ev.SessionID,
		Details: map[string]string{
			"new_device":    "true",
			"trigger_event": ev.ID,
		},
		synthetic: true,
	}, nil
}
