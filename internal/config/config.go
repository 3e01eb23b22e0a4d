// Package config loads server settings.
//
// Precedence, lowest first: built-in defaults, the YAML file named by
// CONFIG_FILE (or configs/{APP_ENV}.yaml), variables from .env, and finally
// the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	AdminSecret string        `yaml:"admin_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	// RedisURL switches the limiter to a shared Redis counter when set.
	RedisURL string `yaml:"redis_url"`
	// TrustProxy keys clients on X-Forwarded-For. Enable it only behind a
	// reverse proxy that sets the header.
	TrustProxy bool `yaml:"trust_proxy"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"`
}

type AvatarConfig struct {
	Dir   string      `yaml:"dir"`
	MinIO MinIOConfig `yaml:"minio"`
}

type FeatureConfig struct {
	SeedDemo         bool `yaml:"seed_demo"`
	DevRoutes        bool `yaml:"dev_routes"`
	EnforceOwnership bool `yaml:"enforce_ownership"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the resolved server configuration.
type Config struct {
	Env       string          `yaml:"-"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Avatars   AvatarConfig    `yaml:"avatars"`
	Features  FeatureConfig   `yaml:"features"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Env:       "dev",
		Server:    ServerConfig{Port: 3000, ShutdownTimeout: 10 * time.Second},
		Database:  DatabaseConfig{Driver: "sqlite", URL: "data.sqlite"},
		Auth:      AuthConfig{JWTSecret: "dev-secret", AdminSecret: "dev-admin-secret", TokenTTL: 2 * time.Hour},
		RateLimit: RateLimitConfig{Requests: 100, Window: time.Minute},
		Avatars:   AvatarConfig{Dir: "uploads", MinIO: MinIOConfig{Bucket: "avatars"}},
		Features:  FeatureConfig{SeedDemo: true},
		Log:       LogConfig{Level: "info"},
	}
}

// Load resolves configuration from files and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if env, ok := lookup("APP_ENV"); ok && strings.TrimSpace(env) != "" {
		cfg.Env = strings.TrimSpace(env)
	}

	path, _ := lookup("CONFIG_FILE")
	path = strings.TrimSpace(path)
	explicit := path != ""
	if !explicit {
		path = filepath.Join("configs", cfg.Env+".yaml")
	}
	if err := mergeYAML(&cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := parseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	integer("PORT", &cfg.Server.Port)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_URL", &cfg.Database.URL)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("ADMIN_SECRET", &cfg.Auth.AdminSecret)
	duration("TOKEN_TTL", &cfg.Auth.TokenTTL)
	str("REDIS_URL", &cfg.RateLimit.RedisURL)
	integer("RATE_LIMIT_REQUESTS", &cfg.RateLimit.Requests)
	duration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	boolean("TRUST_PROXY", &cfg.RateLimit.TrustProxy)
	str("AVATAR_DIR", &cfg.Avatars.Dir)
	str("MINIO_ENDPOINT", &cfg.Avatars.MinIO.Endpoint)
	str("MINIO_ACCESS_KEY", &cfg.Avatars.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &cfg.Avatars.MinIO.SecretKey)
	str("MINIO_BUCKET", &cfg.Avatars.MinIO.Bucket)
	boolean("MINIO_USE_SSL", &cfg.Avatars.MinIO.UseSSL)
	str("MINIO_PUBLIC_URL", &cfg.Avatars.MinIO.PublicURL)
	boolean("SEED_DEMO", &cfg.Features.SeedDemo)
	boolean("DEV_ROUTES", &cfg.Features.DevRoutes)
	boolean("ENFORCE_OWNERSHIP", &cfg.Features.EnforceOwnership)
	str("LOG_LEVEL", &cfg.Log.Level)
	return errors.Join(errs...)
}

// parseDuration accepts Go durations and bare millisecond counts.
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.RateLimit.Requests <= 0 {
		errs = append(errs, errors.New("rate limit requests must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

// UseMinIO reports whether avatars go to object storage instead of disk.
func (c Config) UseMinIO() bool { return strings.TrimSpace(c.Avatars.MinIO.Endpoint) != "" }
