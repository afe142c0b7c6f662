package careauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override what differs; [Builder.Build] calls Validate.
type Config struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Session   SessionConfig   `yaml:"session"`
	Password  PasswordConfig  `yaml:"password"`
	TwoFactor TwoFactorConfig `yaml:"two_factor"`
	Passkey   PasskeyConfig   `yaml:"passkey"`
	Audit     AuditConfig     `yaml:"audit"`
	Detection DetectionConfig `yaml:"detection"`
	Emergency EmergencyConfig `yaml:"emergency"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls session token signing. Keys are never read from YAML;
// the config package loads them from the files it names.
type JWTConfig struct {
	SigningMethod string        `yaml:"signing_method"` // "ed25519" (default) or "hs256"
	PrivateKey    []byte        `yaml:"-"`
	PublicKey     []byte        `yaml:"-"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway"`
	KeyID         string        `yaml:"key_id"`
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix   string        `yaml:"redis_prefix"`
	TTL           time.Duration `yaml:"ttl"`
	RememberMeTTL time.Duration `yaml:"remember_me_ttl"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory      uint32 `yaml:"memory"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
	MinLength   int    `yaml:"min_length"`
	MaxLength   int    `yaml:"max_length"`
	// HistoryDepth is how many previous hashes a new password is checked
	// against and how many are kept.
	HistoryDepth           int  `yaml:"history_depth"`
	UpgradeOnLogin         bool `yaml:"upgrade_on_login"`
	RevokeSessionsOnChange bool `yaml:"revoke_sessions_on_change"`
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

type TwoFactorConfig struct {
	Issuer    string `yaml:"issuer"`
	Digits    int    `yaml:"digits"`
	Period    int    `yaml:"period"`
	Skew      int    `yaml:"skew"`
	Algorithm string `yaml:"algorithm"`

	BackupCodeCount  int `yaml:"backup_code_count"`
	BackupCodeLength int `yaml:"backup_code_length"`
}

/*
====================================
PASSKEY CONFIG
====================================
*/

type PasskeyConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	RPID                    string        `yaml:"rp_id"`
	Origins                 []string      `yaml:"origins"`
	RequireUserVerification bool          `yaml:"require_user_verification"`
	ChallengeTTL            time.Duration `yaml:"challenge_ttl"`
	SweepInterval           time.Duration `yaml:"sweep_interval"`
	RedisPrefix             string        `yaml:"redis_prefix"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	// Async routes events through the buffered dispatcher. Turn it off
	// only in tests.
	Async        bool          `yaml:"async"`
	BufferSize   int           `yaml:"buffer_size"`
	DropIfFull   bool          `yaml:"drop_if_full"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// StatsWindow is used for aggregate queries given a zero TimeRange.
	StatsWindow time.Duration `yaml:"stats_window"`
	TopN        int           `yaml:"top_n"`
}

type DetectionConfig struct {
	Enabled              bool          `yaml:"enabled"`
	BruteForceWindow     time.Duration `yaml:"brute_force_window"`
	UserFailureThreshold int           `yaml:"user_failure_threshold"`
	IPFailureThreshold   int           `yaml:"ip_failure_threshold"`
	NewDeviceLookback    time.Duration `yaml:"new_device_lookback"`
}

/*
====================================
EMERGENCY ACCESS CONFIG
====================================
*/

type EmergencyConfig struct {
	MinDurationHours int `yaml:"min_duration_hours"`
	MaxDurationHours int `yaml:"max_duration_hours"`
	// ArchiveAfter is how long an expired grant stays in the live table.
	ArchiveAfter time.Duration `yaml:"archive_after"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

type RateLimitConfig struct {
	Enabled          bool          `yaml:"enabled"`
	EnableIPThrottle bool          `yaml:"enable_ip_throttle"`
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	LoginCooldown    time.Duration `yaml:"login_cooldown"`
	MaxCodeAttempts  int           `yaml:"max_code_attempts"`
	CodeCooldown     time.Duration `yaml:"code_cooldown"`
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. JWT keys and the passkey
// relying party are left empty.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Issuer:        "careauth",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:   "cs",
			TTL:           8 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:                 65536,
			Time:                   3,
			Parallelism:            2,
			SaltLength:             16,
			KeyLength:              32,
			MinLength:              8,
			MaxLength:              256,
			HistoryDepth:           5,
			UpgradeOnLogin:         true,
			RevokeSessionsOnChange: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:           "careauth",
			Digits:           6,
			Period:           30,
			Skew:             1,
			Algorithm:        "SHA1",
			BackupCodeCount:  10,
			BackupCodeLength: 10,
		},
		Passkey: PasskeyConfig{
			Enabled:       false,
			ChallengeTTL:  5 * time.Minute,
			SweepInterval: 5 * time.Minute,
			RedisPrefix:   "cpk",
		},
		Audit: AuditConfig{
			Async:        true,
			BufferSize:   1024,
			DropIfFull:   true,
			WriteTimeout: 5 * time.Second,
			StatsWindow:  30 * 24 * time.Hour,
			TopN:         10,
		},
		Detection: DetectionConfig{
			Enabled:              true,
			BruteForceWindow:     15 * time.Minute,
			UserFailureThreshold: 5,
			IPFailureThreshold:   10,
			NewDeviceLookback:    30 * 24 * time.Hour,
		},
		Emergency: EmergencyConfig{
			MinDurationHours: 1,
			MaxDurationHours: 24,
			ArchiveAfter:     7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			EnableIPThrottle: true,
			MaxLoginAttempts: 10,
			LoginCooldown:    15 * time.Minute,
			MaxCodeAttempts:  5,
			CodeCooldown:     5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Passkey.Origins != nil {
		out.Passkey.Origins = append([]string(nil), cfg.Passkey.Origins...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("JWT ed25519 requires PublicKey")
		}
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("JWT ed25519 requires PrivateKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("JWT hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RememberMeTTL < c.Session.TTL {
		return errors.New("Session RememberMeTTL must be >= TTL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MinLength must be >= 1 and <= MaxLength")
	}
	if c.Password.HistoryDepth < 1 || c.Password.HistoryDepth > 24 {
		return errors.New("Password HistoryDepth must be between 1 and 24")
	}

	// Two-factor
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 3 {
		return errors.New("TwoFactor Skew must be between 0 and 3")
	}
	if _, err := hmacFunc(c.TwoFactor.Algorithm); err != nil {
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TwoFactor.BackupCodeCount < 1 || c.TwoFactor.BackupCodeCount > 50 {
		return errors.New("TwoFactor BackupCodeCount must be between 1 and 50")
	}
	if c.TwoFactor.BackupCodeLength < 8 || c.TwoFactor.BackupCodeLength > 32 {
		return errors.New("TwoFactor BackupCodeLength must be between 8 and 32")
	}

	// Passkey
	if c.Passkey.Enabled {
		if strings.TrimSpace(c.Passkey.RPID) == "" {
			return errors.New("Passkey RPID must be set when enabled")
		}
		if len(c.Passkey.Origins) == 0 {
			return errors.New("Passkey Origins must be set when enabled")
		}
		if strings.TrimSpace(c.Passkey.RedisPrefix) == "" {
			return errors.New("Passkey RedisPrefix must not be empty")
		}
	}
	if c.Passkey.ChallengeTTL <= 0 || c.Passkey.ChallengeTTL > 30*time.Minute {
		return errors.New("Passkey ChallengeTTL must be between 0 and 30m")
	}
	if c.Passkey.SweepInterval <= 0 {
		return errors.New("Passkey SweepInterval must be > 0")
	}

	// Audit
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Async is true")
	}
	if c.Audit.WriteTimeout <= 0 {
		return errors.New("Audit WriteTimeout must be > 0")
	}
	if c.Audit.StatsWindow <= 0 {
		return errors.New("Audit StatsWindow must be > 0")
	}
	if c.Detection.Enabled {
		if c.Detection.BruteForceWindow <= 0 {
			return errors.New("Detection BruteForceWindow must be > 0")
		}
		if c.Detection.UserFailureThreshold <= 0 || c.Detection.IPFailureThreshold <= 0 {
			return errors.New("Detection thresholds must be > 0")
		}
		if c.Detection.NewDeviceLookback <= 0 {
			return errors.New("Detection NewDeviceLookback must be > 0")
		}
	}

	// Emergency
	if c.Emergency.MinDurationHours < 1 || c.Emergency.MaxDurationHours < c.Emergency.MinDurationHours {
		return errors.New("Emergency MinDurationHours must be >= 1 and <= MaxDurationHours")
	}
	if c.Emergency.MaxDurationHours > 72 {
		return errors.New("Emergency MaxDurationHours must be <= 72")
	}
	if c.Emergency.ArchiveAfter < 0 {
		return errors.New("Emergency ArchiveAfter must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 || c.RateLimit.LoginCooldown <= 0 {
			return errors.New("RateLimit login budget must be > 0")
		}
		if c.RateLimit.MaxCodeAttempts <= 0 || c.RateLimit.CodeCooldown <= 0 {
			return errors.New("RateLimit code budget must be > 0")
		}
	}

	return nil
}
