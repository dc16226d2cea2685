package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendStub     Backend = "stub"
)

const (
	DEFAULT_PORT                = "8080"
	DEFAULT_MAX_CACHED_ENTRIES  = 50
	DEFAULT_MAX_POOLED_PER_KEY  = 10
	DEFAULT_PRELOAD_CONCURRENCY = 8
)

type Config struct {
	port                    string
	maxCachedEntries        int
	retainReleasedEntries   bool
	poolingEnabled          bool
	maxPooledPerKey         int
	loadTimeout             time.Duration
	preloadConcurrency      int
	lowMemorySoftLimitBytes int64
	backend                 Backend
	dBHost                  string
	dBPassword              string
	dBUsername              string
	sentryDSN               string
	env                     environment
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) MaxCachedEntries() int {
	return c.maxCachedEntries
}

func (c *Config) RetainReleasedEntries() bool {
	return c.retainReleasedEntries
}

func (c *Config) PoolingEnabled() bool {
	return c.poolingEnabled
}

func (c *Config) MaxPooledPerKey() int {
	return c.maxPooledPerKey
}

// Zero means loads wait indefinitely
func (c *Config) LoadTimeout() time.Duration {
	return c.loadTimeout
}

func (c *Config) PreloadConcurrency() int {
	return c.preloadConcurrency
}

// Zero disables the low memory watcher
func (c *Config) LowMemorySoftLimitBytes() int64 {
	return c.lowMemorySoftLimitBytes
}

func (c *Config) Backend() Backend {
	return c.backend
}

func (c *Config) DBHost() string {
	return c.dBHost
}

func (c *Config) DBPassword() string {
	return c.dBPassword
}

func (c *Config) DBUsername() string {
	return c.dBUsername
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) EnvironmentName() string {
	return string(c.env)
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, backend: %s, maxCachedEntries: %d, retainReleasedEntries: %t, poolingEnabled: %t, maxPooledPerKey: %d, loadTimeout: %s, preloadConcurrency: %d, lowMemorySoftLimitBytes: %d, ...}",
		string(c.env),
		c.port,
		string(c.backend),
		c.maxCachedEntries,
		c.retainReleasedEntries,
		c.poolingEnabled,
		c.maxPooledPerKey,
		c.loadTimeout,
		c.preloadConcurrency,
		c.lowMemorySoftLimitBytes,
	)
}

func invalidValue(key string, raw string) error {
	return fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
}

func positiveIntFromEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, invalidValue(key, raw)
	}
	return value, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidValue(key, raw)
	}
	return value, nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("STOCKPILE_ENVIRONMENT")
	if !ok {
		return missingKey("STOCKPILE_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: STOCKPILE_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}
	if string(env) == "" {
		panic("logic error: env is empty")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = DEFAULT_PORT
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return Config{}, invalidValue("PORT", port)
	}

	maxCachedEntries, err := positiveIntFromEnv("MAX_CACHED_ENTRIES", DEFAULT_MAX_CACHED_ENTRIES)
	if err != nil {
		return Config{}, err
	}
	retainReleasedEntries, err := boolFromEnv("RETAIN_RELEASED_ENTRIES", true)
	if err != nil {
		return Config{}, err
	}
	poolingEnabled, err := boolFromEnv("POOLING_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	maxPooledPerKey, err := positiveIntFromEnv("MAX_POOLED_PER_KEY", DEFAULT_MAX_POOLED_PER_KEY)
	if err != nil {
		return Config{}, err
	}
	preloadConcurrency, err := positiveIntFromEnv("PRELOAD_CONCURRENCY", DEFAULT_PRELOAD_CONCURRENCY)
	if err != nil {
		return Config{}, err
	}

	var loadTimeout time.Duration
	if raw := os.Getenv("LOAD_TIMEOUT"); raw != "" {
		loadTimeout, err = time.ParseDuration(raw)
		if err != nil || loadTimeout < 0 {
			return Config{}, invalidValue("LOAD_TIMEOUT", raw)
		}
	}

	var lowMemorySoftLimitBytes int64
	if raw := os.Getenv("LOW_MEMORY_SOFT_LIMIT_BYTES"); raw != "" {
		lowMemorySoftLimitBytes, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || lowMemorySoftLimitBytes < 0 {
			return Config{}, invalidValue("LOW_MEMORY_SOFT_LIMIT_BYTES", raw)
		}
	}

	backend := BackendPostgres
	if raw := os.Getenv("BACKEND"); raw != "" {
		switch Backend(raw) {
		case BackendPostgres, BackendStub:
			backend = Backend(raw)
		default:
			return Config{}, invalidValue("BACKEND", raw)
		}
	}

	dbHost := os.Getenv("DB_HOST")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbUsername := os.Getenv("DB_USERNAME")
	sentryDSN := os.Getenv("SENTRY_DSN")

	if env == production || env == staging {
		if backend == BackendStub {
			return Config{}, fmt.Errorf("%w: BACKEND (stub is only allowed in development)", ErrInvalidValue)
		}
		if dbHost == "" {
			return missingKey("DB_HOST")
		}
		if dbUsername == "" {
			return missingKey("DB_USERNAME")
		}
		if dbPassword == "" {
			return missingKey("DB_PASSWORD")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
	}

	return Config{
		port:                    port,
		maxCachedEntries:        maxCachedEntries,
		retainReleasedEntries:   retainReleasedEntries,
		poolingEnabled:          poolingEnabled,
		maxPooledPerKey:         maxPooledPerKey,
		loadTimeout:             loadTimeout,
		preloadConcurrency:      preloadConcurrency,
		lowMemorySoftLimitBytes: lowMemorySoftLimitBytes,
		backend:                 backend,
		dBHost:                  dbHost,
		dBPassword:              dbPassword,
		dBUsername:              dbUsername,
		sentryDSN:               sentryDSN,
		env:                     env,
	}, nil
}
