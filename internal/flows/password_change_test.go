package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/careauth/internal/audit"
)

var (
	errPolicy = errors.New("policy")
	errReuse  = errors.New("reuse")
)

type passwordFixture struct {
	user      LoginUser
	history   []string
	changes   []PasswordChangeRecord
	events    []audit.Event
	loggedOut int
}

func (f *passwordFixture) deps() PasswordChangeDeps {
	return PasswordChangeDeps{
		HistoryDepth:   5,
		RevokeSessions: true,
		GetUser: func(context.Context, string) (LoginUser, error) {
			return f.user, nil
		},
		VerifyPassword: func(pw, hash string) (bool, error) { return "hash:"+pw == hash, nil },
		CheckPolicy: func(pw string) error {
			if len(pw) < 8 {
				return errors.New("short")
			}
			return nil
		},
		HashPassword: func(pw string) (string, error) { return "hash:" + pw, nil },
		PasswordHistory: func(_ context.Context, _ string, depth int) ([]string, error) {
			if len(f.history) > depth {
				return f.history[:depth], nil
			}
			return f.history, nil
		},
		MatchesAny: func(pw string, hashes []string) bool {
			for _, h := range hashes {
				if h == "hash:"+pw {
					return true
				}
			}
			return false
		},
		PrepareEvent: func(_ context.Context, ev *audit.Event) { ev.ID = "ev1" },
		ChangePassword: func(_ context.Context, rec PasswordChangeRecord) error {
			f.changes = append(f.changes, rec)
			f.history = append([]string{rec.OldHash}, f.history...)
			if len(f.history) > rec.HistoryDepth {
				f.history = f.history[:rec.HistoryDepth]
			}
			f.user.PasswordHash = rec.NewHash
			return nil
		},
		LogoutAll: func(context.Context, string, string) error {
			f.loggedOut++
			return nil
		},
		Emit: func(_ context.Context, ev audit.Event) { f.events = append(f.events, ev) },
		Errors: PasswordChangeErrors{
			EngineNotReady:     errNotReady,
			InvalidInput:       errInput,
			InvalidCredentials: errCredentials,
			PasswordPolicy:     errPolicy,
			PasswordReuse:      errReuse,
			AccountInactive:    errInactive,
			BackendUnavailable: errBackend,
		},
	}
}

func TestChangePasswordRejectsRecentReuse(t *testing.T) {
	f := &passwordFixture{
		user:    LoginUser{UserID: "u1", Active: true, PasswordHash: "hash:current-6"},
		history: []string{"hash:old-pass-5", "hash:old-pass-4", "hash:old-pass-3", "hash:old-pass-2", "hash:old-pass-1"},
	}
	deps := f.deps()
	ctx := context.Background()

	for _, reused := range []string{"current-6", "old-pass-5", "old-pass-1"} {
		if err := RunChangePassword(ctx, "u1", "current-6", reused, deps); !errors.Is(err, errReuse) {
			t.Fatalf("reuse of %q: expected reuse error, got %v", reused, err)
		}
	}
	if len(f.changes) != 0 {
		t.Fatal("rejected changes must not reach the store")
	}
	last := f.events[len(f.events)-1]
	if last.Action != audit.ActionPasswordChange || last.Status != audit.StatusFailed || last.Details["reason"] != ReasonPasswordReuse {
		t.Fatalf("unexpected failure event %+v", last)
	}

	if err := RunChangePassword(ctx, "u1", "current-6", "brand-new-7", deps); err != nil {
		t.Fatalf("new password: %v", err)
	}
	rec := f.changes[0]
	if rec.OldHash != "hash:current-6" || rec.NewHash != "hash:brand-new-7" || rec.HistoryDepth != 5 {
		t.Fatalf("unexpected change record %+v", rec)
	}
	if rec.Event.ID != "ev1" || rec.Event.Status != audit.StatusSuccess {
		t.Fatalf("event should be prepared for the transaction, got %+v", rec.Event)
	}
	if len(f.history) != 5 || f.history[0] != "hash:current-6" || f.history[4] != "hash:old-pass-2" {
		t.Fatalf("oldest entry should be pruned, history %v", f.history)
	}
	if f.loggedOut != 1 {
		t.Fatal("sessions should be revoked after a change")
	}

	// old-pass-1 fell out of the window and is allowed again.
	if err := RunChangePassword(ctx, "u1", "brand-new-7", "old-pass-1", deps); err != nil {
		t.Fatalf("pruned password should be accepted: %v", err)
	}
}

func TestChangePasswordWrongCurrentAndPolicy(t *testing.T) {
	f := &passwordFixture{user: LoginUser{UserID: "u1", Active: true, PasswordHash: "hash:current-6"}}
	deps := f.deps()

	if err := RunChangePassword(context.Background(), "u1", "wrong", "brand-new-7", deps); !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := RunChangePassword(context.Background(), "u1", "current-6", "short", deps); !errors.Is(err, errPolicy) {
		t.Fatalf("expected policy error, got %v", err)
	}
	if err := RunChangePassword(context.Background(), "", "current-6", "brand-new-7", deps); !errors.Is(err, errInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	f.user.Active = false
	if err := RunChangePassword(context.Background(), "u1", "current-6", "brand-new-7", deps); !errors.Is(err, errInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
}
