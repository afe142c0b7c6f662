package careauth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/webauthn/webauthntest"
)

func TestLoginPasswordOnly(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "Correct1!")

	ctx := careauth.WithClientIP(context.Background(), "10.0.0.7")
	ctx = careauth.WithUserAgent(ctx, "Mozilla/5.0")

	res, err := h.engine.Login(ctx, careauth.LoginRequest{Email: " Nurse@Clinic.example ", Password: "Correct1!"})
	require.NoError(t, err)
	require.Equal(t, careauth.LoginSucceeded, res.Status)
	require.NotEmpty(t, res.Token)
	require.Equal(t, "u1", res.User.UserID)

	info, err := h.engine.ValidateSession(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, res.SessionID, info.SessionID)
	require.Equal(t, "password", info.Method)
	require.False(t, info.TwoFactorVerified)

	logins := h.events(careauth.ActionLogin)
	require.Len(t, logins, 1)
	require.Equal(t, "10.0.0.7", logins[0].IP)
	require.Equal(t, careauth.RiskLow, logins[0].Risk)

	attempts := h.attempts.All()
	require.Len(t, attempts, 1)
	require.True(t, attempts[0].Success)
	require.Equal(t, "u1", attempts[0].UserID)
	require.NotNil(t, attempts[0].ResolvedAt)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "Correct1!")
	ctx := context.Background()

	res, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "ghost@clinic.example", Password: "Correct1!"})
	require.ErrorIs(t, err, careauth.ErrInvalidCredentials)
	require.Equal(t, careauth.LoginFailed, res.Status)

	res, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "wrong-pass"})
	require.ErrorIs(t, err, careauth.ErrInvalidCredentials)
	require.Equal(t, careauth.LoginFailed, res.Status)
	require.Empty(t, res.Token)

	attempts := h.attempts.All()
	require.Len(t, attempts, 2)
	require.Equal(t, "user_not_found", attempts[0].FailureReason)
	require.Equal(t, "invalid_password", attempts[1].FailureReason)
}

func TestLoginValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "", Password: "x"})
	require.ErrorIs(t, err, careauth.ErrInvalidInput)

	_, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "a@x.com", Password: "x", TOTPCode: "123456", BackupCode: "ABCDE-FGHJK"})
	require.ErrorIs(t, err, careauth.ErrConflictingFactors)

	_, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "a@x.com", Password: "x", TOTPCode: "12ab"})
	require.ErrorIs(t, err, careauth.ErrInvalidCodeFormat)

	require.Empty(t, h.attempts.All())
}

func TestLoginInactiveAccountAndOrganization(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "Correct1!")
	ctx := context.Background()

	h.users.SetActive("u1", false)
	_, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "Correct1!"})
	require.ErrorIs(t, err, careauth.ErrAccountInactive)

	h.users.SetActive("u1", true)
	h.users.SetOrganizationActive(testOrg, false)
	_, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "Correct1!"})
	require.ErrorIs(t, err, careauth.ErrOrganizationInactive)
}

func TestLoginThreeOutcomesWithTwoFactor(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	secret, _ := h.enableTwoFactor(t, "u1")
	ctx := context.Background()

	res, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "doc@clinic.example", Password: "Correct1!"})
	require.NoError(t, err)
	require.Equal(t, careauth.LoginRequiresTwoFactor, res.Status)
	require.Equal(t, "u1", res.UserID)
	require.Empty(t, res.Token)

	res, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "doc@clinic.example", Password: "Correct1!", TOTPCode: wrongCode(h.totp(t, secret))})
	require.ErrorIs(t, err, careauth.ErrInvalidCode)
	require.Equal(t, careauth.LoginFailed, res.Status)

	res, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "doc@clinic.example", Password: "Correct1!", TOTPCode: h.totp(t, secret)})
	require.NoError(t, err)
	require.Equal(t, careauth.LoginSucceeded, res.Status)

	info, err := h.engine.ValidateSession(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, "totp", info.Method)
	require.True(t, info.TwoFactorVerified)
}

func TestTOTPCodeCannotBeReplayed(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	secret, _ := h.enableTwoFactor(t, "u1")
	ctx := context.Background()

	code := h.totp(t, secret)
	_, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "doc@clinic.example", Password: "Correct1!", TOTPCode: code})
	require.NoError(t, err)

	_, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "doc@clinic.example", Password: "Correct1!", TOTPCode: code})
	require.ErrorIs(t, err, careauth.ErrInvalidCode)
}

func TestBackupCodeIsConsumedAtMostOnce(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	_, codes := h.enableTwoFactor(t, "u1")
	ctx := context.Background()

	const racers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			res, err := h.engine.Login(ctx, careauth.LoginRequest{
				Email:      "doc@clinic.example",
				Password:   "Correct1!",
				BackupCode: codes[0],
			})
			if err == nil && res.Status == careauth.LoginSucceeded {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, succeeded.Load())
	remaining, err := h.engine.RemainingBackupCodes(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, len(codes)-1, remaining)
	require.Len(t, h.events(careauth.ActionBackupCodeUsed), 1)
}

func TestBackupCodeRegeneration(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	secret, codes := h.enableTwoFactor(t, "u1")
	ctx := context.Background()

	_, err := h.engine.GenerateBackupCodes(ctx, "u1")
	require.ErrorIs(t, err, careauth.ErrBackupCodesExist)

	_, err = h.engine.RegenerateBackupCodes(ctx, "u1", careauth.SecondFactorProof{})
	require.ErrorIs(t, err, careauth.ErrInvalidInput)

	fresh, err := h.engine.RegenerateBackupCodes(ctx, "u1", careauth.SecondFactorProof{TOTPCode: h.totp(t, secret)})
	require.NoError(t, err)
	require.Len(t, fresh, h.cfg.TwoFactor.BackupCodeCount)

	// The old batch is gone.
	_, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "doc@clinic.example", Password: "Correct1!", BackupCode: codes[1]})
	require.ErrorIs(t, err, careauth.ErrInvalidCode)
}

func TestDisableTwoFactorWithBackupCode(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	_, codes := h.enableTwoFactor(t, "u1")
	ctx := context.Background()

	require.NoError(t, h.engine.DisableTwoFactor(ctx, "u1", careauth.SecondFactorProof{BackupCode: codes[2]}))

	res, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "doc@clinic.example", Password: "Correct1!"})
	require.NoError(t, err)
	require.Equal(t, careauth.LoginSucceeded, res.Status)

	err = h.engine.DisableTwoFactor(ctx, "u1", careauth.SecondFactorProof{BackupCode: codes[3]})
	require.ErrorIs(t, err, careauth.ErrTwoFactorNotEnabled)
	require.Len(t, h.events(careauth.ActionTwoFactorDisabled), 1)
}

func TestTwoFactorSetupStates(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	ctx := context.Background()

	_, err := h.engine.ConfirmTwoFactorSetup(ctx, "u1", "123456")
	require.ErrorIs(t, err, careauth.ErrTwoFactorSetupMissing)

	setup, err := h.engine.BeginTwoFactorSetup(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, setup.URI, "otpauth://totp/")

	_, err = h.engine.ConfirmTwoFactorSetup(ctx, "u1", "abc")
	require.ErrorIs(t, err, careauth.ErrInvalidCodeFormat)

	secret, err := careauth.DecodeTOTPSecret(setup.SecretBase32)
	require.NoError(t, err)
	_, err = h.engine.ConfirmTwoFactorSetup(ctx, "u1", h.totp(t, secret))
	require.NoError(t, err)

	_, err = h.engine.BeginTwoFactorSetup(ctx, "u1")
	require.ErrorIs(t, err, careauth.ErrTwoFactorAlreadyEnabled)
}

func TestPasskeyLogin(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	ctx := context.Background()

	auth, err := webauthntest.NewAuthenticator(testRPID, []byte("u1"))
	require.NoError(t, err)
	require.NoError(t, h.engine.RegisterPasskey(ctx, "u1", careauth.PasskeyRegistration{
		CredentialID: auth.CredentialID(),
		PublicKey:    auth.PublicKeyCOSE(),
		DeviceName:   "ward laptop",
	}))

	err = h.engine.RegisterPasskey(ctx, "u1", careauth.PasskeyRegistration{
		CredentialID: auth.CredentialID(),
		PublicKey:    auth.PublicKeyCOSE(),
	})
	require.ErrorIs(t, err, careauth.ErrInvalidInput)

	ch, err := h.engine.BeginPasskeyLogin(ctx, "doc@clinic.example")
	require.NoError(t, err)
	require.Equal(t, testRPID, ch.RPID)
	require.Len(t, ch.AllowCredentials, 1)

	res, err := h.engine.CompletePasskeyLogin(ctx, ch.Reference, careauth.PasskeyAssertion(auth.Assert(ch.Challenge, testOrigin, 1)))
	require.NoError(t, err)
	require.Equal(t, careauth.LoginSucceeded, res.Status)

	info, err := h.engine.ValidateSession(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, "passkey", info.Method)

	// The reference is single use.
	_, err = h.engine.CompletePasskeyLogin(ctx, ch.Reference, careauth.PasskeyAssertion(auth.Assert(ch.Challenge, testOrigin, 2)))
	require.ErrorIs(t, err, careauth.ErrPasskeyChallengeInvalid)
}

func TestPasskeyCounterMustIncrease(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	ctx := context.Background()

	auth, err := webauthntest.NewAuthenticator(testRPID, []byte("u1"))
	require.NoError(t, err)
	require.NoError(t, h.engine.RegisterPasskey(ctx, "u1", careauth.PasskeyRegistration{
		CredentialID: auth.CredentialID(),
		PublicKey:    auth.PublicKeyCOSE(),
	}))

	login := func(counter uint32) error {
		ch, err := h.engine.BeginPasskeyLogin(ctx, "doc@clinic.example")
		require.NoError(t, err)
		_, err = h.engine.CompletePasskeyLogin(ctx, ch.Reference, careauth.PasskeyAssertion(auth.Assert(ch.Challenge, testOrigin, counter)))
		return err
	}

	require.ErrorIs(t, login(0), careauth.ErrPasskeyAssertionInvalid)
	require.NoError(t, login(5))
	require.ErrorIs(t, login(5), careauth.ErrPasskeyAssertionInvalid)
	require.ErrorIs(t, login(4), careauth.ErrPasskeyAssertionInvalid)
	require.NoError(t, login(6))

	rec, err := h.passkeys.GetPasskey(ctx, auth.CredentialID())
	require.NoError(t, err)
	require.EqualValues(t, 6, rec.SignCount)
}

func TestPasskeyWrongOriginRejected(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "doc@clinic.example", "Correct1!")
	ctx := context.Background()

	auth, err := webauthntest.NewAuthenticator(testRPID, []byte("u1"))
	require.NoError(t, err)
	require.NoError(t, h.engine.RegisterPasskey(ctx, "u1", careauth.PasskeyRegistration{
		CredentialID: auth.CredentialID(),
		PublicKey:    auth.PublicKeyCOSE(),
	}))

	ch, err := h.engine.BeginPasskeyLogin(ctx, "doc@clinic.example")
	require.NoError(t, err)
	_, err = h.engine.CompletePasskeyLogin(ctx, ch.Reference, careauth.PasskeyAssertion(auth.Assert(ch.Challenge, "https://evil.example", 1)))
	require.ErrorIs(t, err, careauth.ErrPasskeyAssertionInvalid)

	_, err = h.engine.BeginPasskeyLogin(ctx, "nobody@clinic.example")
	require.ErrorIs(t, err, careauth.ErrInvalidCredentials)
}

func TestAuditFailureDoesNotBlockLogin(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "Correct1!")
	h.log.SetAppendErr(errors.New("disk full"))

	res, err := h.engine.Login(context.Background(), careauth.LoginRequest{Email: "nurse@clinic.example", Password: "Correct1!"})
	require.NoError(t, err)
	require.Equal(t, careauth.LoginSucceeded, res.Status)

	require.Positive(t, h.engine.AuditStats().WriteFailures)
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-h.fallback.Events():
			if ev.Action == careauth.ActionLogin {
				return
			}
		case <-timeout:
			t.Fatal("expected the rejected login event on the fallback sink")
		}
	}
}

func TestBruteForceDetectedAtThreshold(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "Correct1!")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "wrong-pass"})
		require.ErrorIs(t, err, careauth.ErrInvalidCredentials)
	}
	require.Empty(t, h.events(careauth.ActionBruteForceDetected))

	_, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "wrong-pass"})
	require.ErrorIs(t, err, careauth.ErrInvalidCredentials)

	alerts := h.events(careauth.ActionBruteForceDetected)
	require.Len(t, alerts, 1)
	require.Equal(t, careauth.RiskCritical, alerts[0].Risk)
	require.Equal(t, "u1", alerts[0].UserID)
}

func TestLoginRateLimit(t *testing.T) {
	h := newHarness(t, func(c *careauth.Config) {
		c.RateLimit.MaxLoginAttempts = 3
	})
	h.addUser(t, "u1", "nurse@clinic.example", "Correct1!")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "wrong-pass"})
		require.ErrorIs(t, err, careauth.ErrInvalidCredentials)
	}
	_, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "Correct1!"})
	require.ErrorIs(t, err, careauth.ErrLoginRateLimited)
	require.Equal(t, careauth.KindRateLimit, careauth.Kind(err))
	require.Len(t, h.events(careauth.ActionRateLimited), 1)
	require.Len(t, h.attempts.All(), 3)
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "Correct1!")
	ctx := context.Background()

	first, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "Correct1!"})
	require.NoError(t, err)
	second, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "Correct1!", RememberMe: true})
	require.NoError(t, err)
	require.True(t, second.ExpiresAt.After(first.ExpiresAt))

	_, err = h.engine.ValidateSession(ctx, "not-a-token")
	require.ErrorIs(t, err, careauth.ErrSessionInvalid)

	require.NoError(t, h.engine.Logout(ctx, first.SessionID))
	_, err = h.engine.ValidateSession(ctx, first.Token)
	require.ErrorIs(t, err, careauth.ErrSessionInvalid)
	require.NoError(t, h.engine.Logout(ctx, first.SessionID))

	h.users.SetActive("u1", false)
	_, err = h.engine.ValidateSession(ctx, second.Token)
	require.ErrorIs(t, err, careauth.ErrAccountInactive)
	h.users.SetActive("u1", true)

	n, err := h.engine.LogoutAll(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = h.engine.ValidateSession(ctx, second.Token)
	require.ErrorIs(t, err, careauth.ErrSessionInvalid)
}

func TestChangePasswordHistory(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "old-pass-0")
	ctx := context.Background()

	err := h.engine.ChangePassword(ctx, "u1", "not-it", "old-pass-1")
	require.ErrorIs(t, err, careauth.ErrInvalidCredentials)

	err = h.engine.ChangePassword(ctx, "u1", "old-pass-0", "short")
	require.ErrorIs(t, err, careauth.ErrPasswordPolicy)

	current := "old-pass-0"
	for _, next := range []string{"old-pass-1", "old-pass-2", "old-pass-3", "old-pass-4", "old-pass-5", "old-pass-6"} {
		require.NoError(t, h.engine.ChangePassword(ctx, "u1", current, next))
		current = next
	}

	require.ErrorIs(t, h.engine.ChangePassword(ctx, "u1", current, "old-pass-6"), careauth.ErrPasswordReuse)
	require.ErrorIs(t, h.engine.ChangePassword(ctx, "u1", current, "old-pass-2"), careauth.ErrPasswordReuse)
	// old-pass-0 fell out of the five-deep history.
	require.NoError(t, h.engine.ChangePassword(ctx, "u1", current, "old-pass-0"))

	changes := h.events(careauth.ActionPasswordChange)
	var ok, failed int
	for _, ev := range changes {
		if ev.Status == careauth.StatusSuccess {
			ok++
		} else {
			failed++
		}
	}
	require.Equal(t, 7, ok)
	require.Equal(t, 4, failed)
}

func TestChangePasswordEndsSessions(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "old-pass-0")
	ctx := context.Background()

	res, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "old-pass-0"})
	require.NoError(t, err)
	require.NoError(t, h.engine.ChangePassword(ctx, "u1", "old-pass-0", "old-pass-1"))

	_, err = h.engine.ValidateSession(ctx, res.Token)
	require.ErrorIs(t, err, careauth.ErrSessionInvalid)

	_, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "old-pass-1"})
	require.NoError(t, err)
}

func TestEmergencyAccessLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := careauth.EmergencyRequest{
		PatientID:      "patient-9",
		GranteeID:      "u1",
		OrganizationID: testOrg,
		Reason:         "unresponsive on arrival",
		AccessType:     careauth.AccessView,
		DurationHours:  2,
	}
	grant, err := h.engine.RequestEmergencyAccess(ctx, req)
	require.NoError(t, err)
	require.True(t, grant.Active)
	require.Equal(t, grant.StartTime.Add(2*time.Hour), grant.EndTime)

	usable, err := h.engine.IsEmergencyAccessUsable(ctx, grant.ID)
	require.NoError(t, err)
	require.True(t, usable)

	active, err := h.engine.ActiveEmergencyGrants(ctx, "patient-9")
	require.NoError(t, err)
	require.Len(t, active, 1)

	h.clock.Advance(2*time.Hour + time.Second)
	usable, err = h.engine.IsEmergencyAccessUsable(ctx, grant.ID)
	require.NoError(t, err)
	require.False(t, usable)
	active, err = h.engine.ActiveEmergencyGrants(ctx, "patient-9")
	require.NoError(t, err)
	require.Empty(t, active)

	revoked, err := h.engine.RevokeEmergencyAccess(ctx, grant.ID, "admin-1")
	require.NoError(t, err)
	require.False(t, revoked.Active)
	require.Equal(t, "admin-1", revoked.RevokedBy)
	require.Equal(t, grant.EndTime, revoked.EndTime)

	again, err := h.engine.RevokeEmergencyAccess(ctx, grant.ID, "admin-2")
	require.NoError(t, err)
	require.Equal(t, "admin-1", again.RevokedBy)

	_, err = h.engine.RevokeEmergencyAccess(ctx, "missing", "admin-1")
	require.ErrorIs(t, err, careauth.ErrGrantNotFound)

	h.clock.Advance(h.cfg.Emergency.ArchiveAfter)
	n, err := h.engine.ArchiveExpiredGrants(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, h.grants.Archived(), 1)
}

func TestEmergencyAccessValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := careauth.EmergencyRequest{
		PatientID:      "patient-9",
		GranteeID:      "u1",
		OrganizationID: testOrg,
		Reason:         "code blue",
		AccessType:     careauth.AccessFull,
		DurationHours:  4,
	}
	cases := []struct {
		name   string
		mutate func(*careauth.EmergencyRequest)
		want   error
	}{
		{"missing patient", func(r *careauth.EmergencyRequest) { r.PatientID = "" }, careauth.ErrInvalidInput},
		{"blank reason", func(r *careauth.EmergencyRequest) { r.Reason = "   " }, careauth.ErrReasonRequired},
		{"unknown type", func(r *careauth.EmergencyRequest) { r.AccessType = "edit" }, careauth.ErrInvalidAccessType},
		{"zero hours", func(r *careauth.EmergencyRequest) { r.DurationHours = 0 }, careauth.ErrInvalidDuration},
		{"too long", func(r *careauth.EmergencyRequest) { r.DurationHours = 25 }, careauth.ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := h.engine.RequestEmergencyAccess(ctx, req)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, careauth.KindValidation, careauth.Kind(err))
		})
	}

	var rejected int
	for _, ev := range h.events(careauth.ActionEmergencyAccess) {
		if ev.Status == careauth.StatusFailed {
			rejected++
		}
	}
	require.Equal(t, len(cases), rejected)
}

func TestSecurityStats(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "nurse@clinic.example", "Correct1!")
	ctx := careauth.WithClientIP(context.Background(), "203.0.113.9")

	_, err := h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "wrong-pass"})
	require.Error(t, err)
	_, err = h.engine.Login(ctx, careauth.LoginRequest{Email: "nurse@clinic.example", Password: "Correct1!"})
	require.NoError(t, err)

	window := careauth.TimeRange{From: h.clock.Now().Add(-time.Hour), To: h.clock.Now().Add(time.Hour)}
	stats, err := h.engine.UserSecurityStats(ctx, "u1", window)
	require.NoError(t, err)
	require.Equal(t, 1, stats.FailedLogins)
	require.Equal(t, 1, stats.SuccessfulLogins)
	require.Equal(t, 1, stats.DistinctIPs)

	overview, err := h.engine.OrganizationSecurityOverview(ctx, testOrg, window)
	require.NoError(t, err)
	require.Equal(t, 1, overview.FailedLogins)
	require.Equal(t, 1, overview.UniqueUsers)

	_, err = h.engine.UserSecurityStats(ctx, "", window)
	require.ErrorIs(t, err, careauth.ErrInvalidInput)

	snap := h.engine.MetricsSnapshot()
	require.EqualValues(t, 1, snap.Counters[careauth.MetricLoginSuccess])
	require.EqualValues(t, 1, snap.Counters[careauth.MetricLoginFailure])
}

// wrongCode flips the last digit so the result is well formed but never valid.
func wrongCode(code string) string {
	last := code[len(code)-1]
	if last == '9' {
		last = '0'
	} else {
		last++
	}
	return code[:len(code)-1] + string(last)
}
