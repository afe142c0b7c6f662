// Package config loads the careauthd daemon configuration.
//
// Values are resolved in this order: built-in defaults, the YAML file (if
// any), CAREAUTH_* environment variables, key files, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/maintenance"
	"github.com/MrEthical07/careauth/postgres"
)

type Config struct {
	Environment string             `yaml:"environment"`
	Server      ServerConfig       `yaml:"server"`
	Postgres    PostgresConfig     `yaml:"postgres"`
	Redis       RedisConfig        `yaml:"redis"`
	Logger      LoggerConfig       `yaml:"logger"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Keys        KeysConfig         `yaml:"keys"`
	Maintenance maintenance.Config `yaml:"maintenance"`
	Auth        careauth.Config    `yaml:"auth"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustProxy makes the client IP come from X-Forwarded-For.
	TrustProxy bool `yaml:"trust_proxy"`
	// Per-IP request budget in front of the auth endpoints.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type PostgresConfig struct {
	postgres.Config `yaml:",inline"`
	Migrate         bool `yaml:"migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggerConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

type MetricsConfig struct {
	Prometheus bool   `yaml:"prometheus"`
	Path       string `yaml:"path"`
}

// KeysConfig names the files holding the session signing keys. For hs256
// PrivateKeyFile holds the shared secret.
type KeysConfig struct {
	PrivateKeyFile string `yaml:"private_key_file"`
	PublicKeyFile  string `yaml:"public_key_file"`
}

// Default returns the daemon defaults.
func Default() Config {
	pg := postgres.DefaultConfig()
	return Config{
		Environment: "prod",
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      15 * time.Second,
			ShutdownTimeout:   20 * time.Second,
			RequestsPerSecond: 5,
			Burst:             20,
		},
		Postgres: PostgresConfig{Config: pg, Migrate: true},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 20,
		},
		Logger: LoggerConfig{
			Level:   "info",
			Service: "careauthd",
		},
		Metrics: MetricsConfig{
			Prometheus: true,
			Path:       "/metrics",
		},
		Maintenance: maintenance.DefaultConfig(),
		Auth:        careauth.DefaultConfig(),
	}
}

// Load resolves the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := loadKeys(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Server.RequestsPerSecond < 0 || c.Server.Burst < 0 {
		return errors.New("config: server rate budget must not be negative")
	}
	if strings.TrimSpace(c.Postgres.URL) == "" {
		return errors.New("config: postgres.url is required")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis.addr is required")
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("config: auth: %w", err)
	}
	return nil
}

// applyEnv overrides cfg from CAREAUTH_* variables. lookup is os.LookupEnv
// outside tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CAREAUTH_ENV", &cfg.Environment)
	str("CAREAUTH_HTTP_ADDR", &cfg.Server.Addr)
	str("CAREAUTH_DATABASE_URL", &cfg.Postgres.URL)
	str("CAREAUTH_REDIS_ADDR", &cfg.Redis.Addr)
	str("CAREAUTH_REDIS_PASSWORD", &cfg.Redis.Password)
	str("CAREAUTH_LOG_LEVEL", &cfg.Logger.Level)
	str("CAREAUTH_JWT_SIGNING_METHOD", &cfg.Auth.JWT.SigningMethod)
	str("CAREAUTH_JWT_PRIVATE_KEY_FILE", &cfg.Keys.PrivateKeyFile)
	str("CAREAUTH_JWT_PUBLIC_KEY_FILE", &cfg.Keys.PublicKeyFile)
	str("CAREAUTH_PASSKEY_RP_ID", &cfg.Auth.Passkey.RPID)

	if v, ok := lookup("CAREAUTH_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CAREAUTH_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}
	if v, ok := lookup("CAREAUTH_PASSKEY_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Auth.Passkey.Origins = origins
		cfg.Auth.Passkey.Enabled = len(origins) > 0 && cfg.Auth.Passkey.RPID != ""
	}
	if v, ok := lookup("CAREAUTH_TRUST_PROXY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CAREAUTH_TRUST_PROXY: %w", err)
		}
		cfg.Server.TrustProxy = b
	}
	if v, ok := lookup("CAREAUTH_JWT_HS256_SECRET"); ok && v != "" {
		cfg.Auth.JWT.SigningMethod = "hs256"
		cfg.Auth.JWT.PrivateKey = []byte(v)
	}
	return nil
}

func loadKeys(cfg *Config) error {
	if cfg.Keys.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.Keys.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("config: private key: %w", err)
		}
		if cfg.Auth.JWT.SigningMethod == "hs256" {
			key = []byte(strings.TrimSpace(string(key)))
		}
		cfg.Auth.JWT.PrivateKey = key
	}
	if cfg.Keys.PublicKeyFile != "" {
		key, err := os.ReadFile(cfg.Keys.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("config: public key: %w", err)
		}
		cfg.Auth.JWT.PublicKey = key
	}
	return nil
}
