package audit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickingClock advances by step on every read so successive events get
// distinct timestamps.
type tickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newSyncEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	clock := &tickingClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
	e := NewEngine(store, EngineConfig{Detection: DefaultDetectionConfig()}, WithClock(clock.Now))
	t.Cleanup(e.Close)
	return e
}

func failedLogin(userID, ip string) Event {
	return Event{
		Action:         ActionFailedLogin,
		UserID:         userID,
		OrganizationID: "org-1",
		Status:         StatusFailed,
		IP:             ip,
		UserAgent:      "Mozilla/5.0",
		Details:        map[string]string{"reason": "invalid_password"},
	}
}

func TestBruteForceUserThreshold(t *testing.T) {
	store := NewMemoryStore()
	e := newSyncEngine(t, store)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		e.Log(ctx, failedLogin("u1", "203.0.113."+strconv.Itoa(i+1)))
	}
	require.Empty(t, store.EventsByAction(ActionBruteForceDetected), "four failures must not alert")

	e.Log(ctx, failedLogin("u1", "203.0.113.9"))
	alerts := store.EventsByAction(ActionBruteForceDetected)
	require.Len(t, alerts, 1)

	alert := alerts[0]
	assert.Equal(t, "u1", alert.UserID)
	assert.Equal(t, RiskCritical, alert.Risk)
	assert.Equal(t, StatusSuspicious, alert.Status)
	assert.Equal(t, "user", alert.Details["scope"])
	assert.Equal(t, "5", alert.Details["failed_logins"])
	assert.True(t, alert.Synthetic())
	assert.Equal(t, uint64(1), e.Alerts())
}

func TestBruteForceIPThreshold(t *testing.T) {
	store := NewMemoryStore()
	e := newSyncEngine(t, store)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		e.Log(ctx, failedLogin("user-"+strconv.Itoa(i), "198.51.100.7"))
	}
	require.Empty(t, store.EventsByAction(ActionBruteForceDetected))

	e.Log(ctx, failedLogin("user-9", "198.51.100.7"))
	alerts := store.EventsByAction(ActionBruteForceDetected)
	require.Len(t, alerts, 1)
	assert.Equal(t, "ip", alerts[0].Details["scope"])
	assert.Equal(t, "198.51.100.7", alerts[0].IP)
}

func TestBruteForceWindowExpires(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := NewEngine(store, EngineConfig{Detection: DefaultDetectionConfig()})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ev := failedLogin("u1", "203.0.113.1")
		ev.Timestamp = base.Add(time.Duration(i) * time.Minute)
		e.Log(ctx, ev)
	}
	late := failedLogin("u1", "203.0.113.1")
	late.Timestamp = base.Add(20 * time.Minute)
	e.Log(ctx, late)

	assert.Empty(t, store.EventsByAction(ActionBruteForceDetected))
}

func TestDetectorIgnoresSyntheticAndDisabled(t *testing.T) {
	store := NewMemoryStore()
	d := NewDetector(store, DefaultDetectionConfig())

	alerts, err := d.Inspect(context.Background(), Event{Action: ActionFailedLogin, Risk: RiskHigh, synthetic: true})
	require.NoError(t, err)
	assert.Empty(t, alerts)

	off := NewDetector(store, DetectionConfig{})
	alerts, err = off.Inspect(context.Background(), Event{Action: ActionLogin, Status: StatusSuccess, UserID: "u1", IP: "8.8.8.8"})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestNewDeviceDetection(t *testing.T) {
	store := NewMemoryStore()
	e := newSyncEngine(t, store)
	ctx := context.Background()

	login := func(ip, ua string) {
		e.Log(ctx, Event{Action: ActionLogin, UserID: "u1", OrganizationID: "org-1", IP: ip, UserAgent: ua, SessionID: "s-" + ip})
	}

	login("203.0.113.5", "Mozilla/5.0 (Mac)")
	require.Len(t, store.EventsByAction(ActionNewDeviceDetected), 1, "first login is from an unseen device")

	login("203.0.113.5", "Mozilla/5.0 (Mac)")
	login("198.51.100.2", "Mozilla/5.0 (Mac)")
	require.Len(t, store.EventsByAction(ActionNewDeviceDetected), 1, "matching ip or user agent is a known device")

	login("192.0.2.44", "Mozilla/5.0 (Windows)")
	alerts := store.EventsByAction(ActionNewDeviceDetected)
	require.Len(t, alerts, 2)
	assert.Equal(t, RiskMedium, alerts[1].Risk)
	assert.Equal(t, "true", alerts[1].Details["new_device"])
	assert.Equal(t, "s-192.0.2.44", alerts[1].SessionID)
}

func TestNewDeviceLookbackWindow(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store, EngineConfig{Detection: DefaultDetectionConfig()})
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	e.Log(ctx, Event{Action: ActionLogin, UserID: "u1", IP: "203.0.113.5", Timestamp: base})
	e.Log(ctx, Event{Action: ActionLogin, UserID: "u1", IP: "203.0.113.5", Timestamp: base.Add(31 * 24 * time.Hour)})

	assert.Len(t, store.EventsByAction(ActionNewDeviceDetected), 2)
}

type countErrStore struct {
	*MemoryStore
}

func (countErrStore) CountFailedLogins(context.Context, FailureFilter) (int, error) {
	return 0, errors.New("count failed")
}

func TestDetectorErrorsAreCounted(t *testing.T) {
	store := countErrStore{NewMemoryStore()}
	e := NewEngine(store, EngineConfig{Detection: DefaultDetectionConfig()})
	defer e.Close()

	e.Log(context.Background(), failedLogin("u1", "203.0.113.1"))

	assert.Len(t, store.Events(), 1)
	assert.Equal(t, uint64(1), e.DetectFailures())
	assert.Zero(t, e.WriteFailures())
}
