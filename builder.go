package careauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/careauth/internal/audit"
	"github.com/MrEthical07/careauth/internal/flows"
	"github.com/MrEthical07/careauth/internal/rate"
	"github.com/MrEthical07/careauth/internal/stores"
	"github.com/MrEthical07/careauth/jwt"
	"github.com/MrEthical07/careauth/logger"
	"github.com/MrEthical07/careauth/password"
	"github.com/MrEthical07/careauth/session"
)

// Builder assembles an [Engine]. It is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users       UserProvider
	passkeys    PasskeyProvider
	securityLog SecurityLog
	attempts    LoginAttemptStore
	grants      GrantStore

	logger   logger.Logger
	fallback AuditSink
	tap      AuditSink
	now      func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, passkey challenges and rate
// limits. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider is required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.users = up
	return b
}

// WithPasskeyProvider is required when Passkey.Enabled is set.
func (b *Builder) WithPasskeyProvider(pp PasskeyProvider) *Builder {
	b.passkeys = pp
	return b
}

// WithSecurityLog sets the durable audit log. Without one, events only
// reach the tap sink and anomaly detection is off.
func (b *Builder) WithSecurityLog(log SecurityLog) *Builder {
	b.securityLog = log
	return b
}

func (b *Builder) WithLoginAttemptStore(s LoginAttemptStore) *Builder {
	b.attempts = s
	return b
}

// WithGrantStore enables emergency access.
func (b *Builder) WithGrantStore(s GrantStore) *Builder {
	b.grants = s
	return b
}

func (b *Builder) WithLogger(l logger.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditFallback receives events the security log failed to persist.
func (b *Builder) WithAuditFallback(sink AuditSink) *Builder {
	b.fallback = sink
	return b
}

// WithAuditTap receives every event after it was persisted.
func (b *Builder) WithAuditTap(sink AuditSink) *Builder {
	b.tap = sink
	return b
}

// WithClock replaces time.Now for TOTP windows, grant expiry and audit
// timestamps. Token expiry always uses the wall clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user provider required")
	}
	if cfg.Passkey.Enabled && b.passkeys == nil {
		return nil, errors.New("Passkey.Enabled requires a passkey provider")
	}

	engine := &Engine{
		config:   cfg,
		users:    b.users,
		passkeys: b.passkeys,
		attempts: b.attempts,
		grants:   b.grants,
		logger:   b.logger,
		now:      b.now,
	}
	if engine.logger == nil {
		engine.logger = logger.NewNop()
	}
	if engine.now == nil {
		engine.now = time.Now
	}

	// -------- REDIS STORES --------
	engine.sessionStore = session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.RememberMeTTL)
	engine.challenges = stores.NewPasskeyChallengeStore(b.redis, cfg.Passkey.RedisPrefix)
	if cfg.RateLimit.Enabled {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts:      cfg.RateLimit.MaxLoginAttempts,
			LoginCooldownDuration: cfg.RateLimit.LoginCooldown,
			MaxCodeAttempts:       cfg.RateLimit.MaxCodeAttempts,
			CodeCooldownDuration:  cfg.RateLimit.CodeCooldown,
		})
	}

	// -------- AUDIT --------
	var store audit.Store
	if b.securityLog != nil {
		store = b.securityLog
	}
	engine.audit = audit.NewEngine(store, audit.EngineConfig{
		Async:        cfg.Audit.Async,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		WriteTimeout: cfg.Audit.WriteTimeout,
		Detection: audit.DetectionConfig{
			Enabled:              cfg.Detection.Enabled,
			BruteForceWindow:     cfg.Detection.BruteForceWindow,
			UserFailureThreshold: cfg.Detection.UserFailureThreshold,
			IPFailureThreshold:   cfg.Detection.IPFailureThreshold,
			NewDeviceLookback:    cfg.Detection.NewDeviceLookback,
		},
	},
		audit.WithLogger(engine.logger),
		audit.WithFallback(b.fallback),
		audit.WithTap(b.tap),
		audit.WithClock(engine.now),
	)

	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TwoFactor)

	// -------- CREDENTIALS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
		MaxLength:   cfg.Password.MaxLength,
	})
	if err != nil {
		engine.audit.Close()
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		engine.audit.Close()
		return nil, err
	}
	engine.jwtManager = jm

	engine.flows = flows.New(flows.Deps{
		Login:          engine.loginFlowDeps(),
		SecondFactor:   engine.secondFactorFlowDeps(),
		Passkey:        engine.passkeyFlowDeps(),
		BackupCodes:    engine.backupCodeFlowDeps(),
		TwoFactor:      engine.twoFactorFlowDeps(),
		Session:        engine.sessionFlowDeps(),
		Emergency:      engine.emergencyFlowDeps(),
		PasswordChange: engine.passwordChangeFlowDeps(),
	})

	b.built = true

	return engine, nil
}
