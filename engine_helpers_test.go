package careauth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/memstore"
	"github.com/MrEthical07/careauth/password"
)

const (
	testRPID   = "clinic.example"
	testOrigin = "https://clinic.example"
	testOrg    = "org-1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine   *careauth.Engine
	cfg      careauth.Config
	users    *memstore.Users
	passkeys *memstore.Passkeys
	attempts *memstore.Attempts
	grants   *memstore.Grants
	log      *memstore.SecurityLog
	fallback *careauth.ChannelSink
	clock    *fakeClock
	redis    *miniredis.Miniredis
	hasher   *password.Argon2
}

func testConfig() careauth.Config {
	cfg := careauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte(strings.Repeat("s", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Passkey.Enabled = true
	cfg.Passkey.RPID = testRPID
	cfg.Passkey.Origins = []string{testOrigin}
	cfg.Audit.Async = false
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*careauth.Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := &harness{
		cfg:      cfg,
		log:      memstore.NewSecurityLog(),
		passkeys: memstore.NewPasskeys(),
		attempts: memstore.NewAttempts(),
		grants:   memstore.NewGrants(),
		fallback: careauth.NewChannelSink(256),
		clock:    newFakeClock(),
		redis:    mr,
	}
	h.users = memstore.NewUsers().WithSecurityLog(h.log)

	h.hasher, err = password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
		MaxLength:   cfg.Password.MaxLength,
	})
	require.NoError(t, err)

	h.engine, err = careauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(h.users).
		WithPasskeyProvider(h.passkeys).
		WithSecurityLog(h.log).
		WithLoginAttemptStore(h.attempts).
		WithGrantStore(h.grants).
		WithAuditFallback(h.fallback).
		WithClock(h.clock.Now).
		Build()
	require.NoError(t, err)

	t.Cleanup(func() {
		h.engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

func (h *harness) addUser(t *testing.T, userID, email, plain string) {
	t.Helper()
	hash, err := h.hasher.Hash(plain)
	require.NoError(t, err)
	h.users.Add(careauth.UserRecord{
		UserID:             userID,
		Email:              email,
		PasswordHash:       hash,
		Active:             true,
		Role:               "clinician",
		OrganizationID:     testOrg,
		OrganizationActive: true,
	})
}

// enableTwoFactor runs setup and confirmation and returns the secret with
// the first backup-code batch.
func (h *harness) enableTwoFactor(t *testing.T, userID string) ([]byte, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := h.engine.BeginTwoFactorSetup(ctx, userID)
	require.NoError(t, err)
	secret, err := careauth.DecodeTOTPSecret(setup.SecretBase32)
	require.NoError(t, err)

	codes, err := h.engine.ConfirmTwoFactorSetup(ctx, userID, h.totp(t, secret))
	require.NoError(t, err)
	require.Len(t, codes, h.cfg.TwoFactor.BackupCodeCount)

	// The confirming code's step is spent; move to the next one.
	h.clock.Advance(time.Duration(h.cfg.TwoFactor.Period) * time.Second)
	return secret, codes
}

func (h *harness) totp(t *testing.T, secret []byte) string {
	t.Helper()
	code, err := careauth.GenerateTOTPCode(h.cfg.TwoFactor, secret, h.clock.Now())
	require.NoError(t, err)
	return code
}

func (h *harness) events(action string) []careauth.SecurityEvent {
	return h.log.EventsByAction(action)
}
