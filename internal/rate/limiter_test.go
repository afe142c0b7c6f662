package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiterTest(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestLoginBudgetPerEmail(t *testing.T) {
	l, _ := newLimiterTest(t, Config{MaxLoginAttempts: 3, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "A@x.com", ""); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		_ = l.IncrementLogin(ctx, "a@x.com", "")
	}
	if err := l.CheckLogin(ctx, "a@x.com ", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	if err := l.ResetLogin(ctx, "a@x.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckLogin(ctx, "a@x.com", ""); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestLoginBudgetPerIP(t *testing.T) {
	l, _ := newLimiterTest(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "one@x.com", "10.0.0.1")
	_ = l.IncrementLogin(ctx, "two@x.com", "10.0.0.1")

	if err := l.CheckLogin(ctx, "three@x.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP throttle, got %v", err)
	}
	if err := l.CheckLogin(ctx, "three@x.com", "10.0.0.2"); err != nil {
		t.Fatalf("other IP should pass: %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	l, mr := newLimiterTest(t, Config{MaxLoginAttempts: 1, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "a@x.com", "")
	if err := l.CheckLogin(ctx, "a@x.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	mr.FastForward(61 * time.Second)
	if err := l.CheckLogin(ctx, "a@x.com", ""); err != nil {
		t.Fatalf("window should have expired: %v", err)
	}
}

func TestCodeBudget(t *testing.T) {
	l, _ := newLimiterTest(t, Config{MaxCodeAttempts: 2, CodeCooldownDuration: time.Minute})
	ctx := context.Background()

	if err := l.RecordCodeFailure(ctx, "u1"); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if err := l.RecordCodeFailure(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second failure should hit the budget, got %v", err)
	}
	if err := l.CheckCode(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	if err := l.CheckCode(ctx, "u2"); err != nil {
		t.Fatalf("other user: %v", err)
	}
	_ = l.ResetCode(ctx, "u1")
	if err := l.CheckCode(ctx, "u1"); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestRedisFailureIsWrapped(t *testing.T) {
	l, mr := newLimiterTest(t, Config{MaxLoginAttempts: 1, LoginCooldownDuration: time.Minute})
	mr.Close()

	if err := l.CheckLogin(context.Background(), "a@x.com", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestNilLimiterIsPermissive(t *testing.T) {
	var l *Limiter
	if err := l.CheckLogin(context.Background(), "a@x.com", "1.2.3.4"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
}
