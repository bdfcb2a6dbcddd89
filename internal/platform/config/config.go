package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the teamcards client process.
type Config struct {
	Addr         string `env:"TEAMCARDS_ADDR" envDefault:"127.0.0.1:8090"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	Organization string `env:"ORGANIZATION" envDefault:"Tecnocomp"`

	Identity      IdentityConfig  `envPrefix:"IDENTITY_"`
	Directory     DirectoryConfig `envPrefix:"DIRECTORY_"`
	Cache         CacheConfig     `envPrefix:"CACHE_"`
	RateLimit     RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	LoginThrottle RateLimitConfig `envPrefix:"LOGIN_THROTTLE_"`
}

// IdentityConfig locates the identity service.
type IdentityConfig struct {
	URL        string        `env:"URL" envDefault:"http://localhost:8081"`
	ClientID   string        `env:"CLIENT_ID" envDefault:"teamcards"`
	Issuer     string        `env:"ISSUER"`
	TokenFile  string        `env:"TOKEN_FILE"`
	MinRefresh time.Duration `env:"JWKS_MIN_REFRESH" envDefault:"5m"`
}

// DirectoryConfig selects and locates the team directory.
type DirectoryConfig struct {
	Driver      DirectoryDriver `env:"DRIVER" envDefault:"http"`
	URL         string          `env:"URL" envDefault:"http://localhost:8082"`
	DatabaseURL string          `env:"DATABASE_URL"`

	// LookupTimeout bounds a single profile lookup. Zero leaves lookups
	// unbounded.
	LookupTimeout time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"0s"`
}

// CacheConfig selects where the last resolved view is persisted.
type CacheConfig struct {
	Driver    CacheDriver   `env:"DRIVER" envDefault:"file"`
	Path      string        `env:"PATH" envDefault:".teamcards/session.json"`
	RedisAddr string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int           `env:"REDIS_DB" envDefault:"0"`
	Key       string        `env:"KEY" envDefault:"teamcards:session"`
	TTL       time.Duration `env:"TTL" envDefault:"12h"`
}

// RateLimitConfig holds token bucket parameters.
type RateLimitConfig struct {
	Rate  float64 `env:"RATE"`
	Burst int     `env:"BURST"`
}

// DirectoryDriver names a directory backend.
type DirectoryDriver string

const (
	DirectoryHTTP     DirectoryDriver = "http"
	DirectoryPostgres DirectoryDriver = "postgres"
)

func (d *DirectoryDriver) UnmarshalText(text []byte) error {
	switch v := DirectoryDriver(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case DirectoryHTTP, DirectoryPostgres:
		*d = v
		return nil
	default:
		return fmt.Errorf("unknown directory driver %q", text)
	}
}

// CacheDriver names a persisted cache backend.
type CacheDriver string

const (
	CacheFile   CacheDriver = "file"
	CacheRedis  CacheDriver = "redis"
	CacheMemory CacheDriver = "memory"
)

func (c *CacheDriver) UnmarshalText(text []byte) error {
	switch v := CacheDriver(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case CacheFile, CacheRedis, CacheMemory:
		*c = v
		return nil
	default:
		return fmt.Errorf("unknown cache driver %q", text)
	}
}

// Load reads an optional .env file, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}
	return Parse()
}

// Parse reads configuration from environment variables, applying defaults.
func Parse() (Config, error) {
	cfg := Config{
		RateLimit:     RateLimitConfig{Rate: 50, Burst: 100},
		LoginThrottle: RateLimitConfig{Rate: 0.2, Burst: 5},
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot produce a working process.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("TEAMCARDS_ADDR is required"))
	}
	if c.Identity.URL == "" {
		errs = append(errs, errors.New("IDENTITY_URL is required"))
	}
	switch c.Directory.Driver {
	case DirectoryHTTP:
		if c.Directory.URL == "" {
			errs = append(errs, errors.New("DIRECTORY_URL is required for the http driver"))
		}
	case DirectoryPostgres:
		if c.Directory.DatabaseURL == "" {
			errs = append(errs, errors.New("DIRECTORY_DATABASE_URL is required for the postgres driver"))
		}
	}
	if c.Directory.LookupTimeout < 0 {
		errs = append(errs, errors.New("DIRECTORY_LOOKUP_TIMEOUT must not be negative"))
	}
	switch c.Cache.Driver {
	case CacheFile:
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("CACHE_PATH is required for the file driver"))
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" || c.Cache.Key == "" {
			errs = append(errs, errors.New("CACHE_REDIS_ADDR and CACHE_KEY are required for the redis driver"))
		}
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RATE and RATE_LIMIT_BURST must be positive"))
	}
	if c.LoginThrottle.Rate <= 0 || c.LoginThrottle.Burst <= 0 {
		errs = append(errs, errors.New("LOGIN_THROTTLE_RATE and LOGIN_THROTTLE_BURST must be positive"))
	}
	return errors.Join(errs...)
}
