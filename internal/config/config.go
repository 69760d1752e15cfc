package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envAppEnv              = "APP_ENV"
	envHTTPAddr            = "HTTP_ADDR"
	envDatabaseDriver      = "DATABASE_DRIVER"
	envDatabaseURL         = "DATABASE_URL"
	envSQLitePath          = "SQLITE_PATH"
	envJWTSecret           = "JWT_SECRET"
	envJWTIssuer           = "JWT_ISSUER"
	envJWTExpiresIn        = "JWT_EXPIRES_IN"
	envCORSAllowedOrigins  = "CORS_ALLOWED_ORIGINS"
	envRateLimitBurst      = "RATE_LIMIT_BURST"
	envRateLimitPerSecond  = "RATE_LIMIT_PER_SECOND"
	envPermissionCacheTTL  = "PERMISSION_CACHE_TTL"
	envPermissionCacheSize = "PERMISSION_CACHE_SIZE"
	envRedisURL            = "REDIS_URL"
	envSeedAdminEmail      = "SEED_SUPERADMIN_EMAIL"
	envSeedAdminPassword   = "SEED_SUPERADMIN_PASSWORD"
	envSeedAdminUsername   = "SEED_SUPERADMIN_USERNAME"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	defaultAppEnv              = EnvDevelopment
	defaultHTTPAddr            = ":8000"
	defaultDatabaseDriver      = DriverPostgres
	defaultSQLitePath          = "rusunawa.db"
	defaultJWTIssuer           = "rusunawa"
	defaultJWTExpiresIn        = 7 * 24 * time.Hour
	defaultCORSAllowedOrigins  = "http://localhost:3000,http://localhost:5173"
	defaultRateLimitBurst      = 20
	defaultRateLimitPerSecond  = 10
	defaultPermissionCacheSize = 1024
	defaultSeedAdminUsername   = "superadmin"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 15 * time.Second
	defaultIdleTimeout         = 60 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	minJWTSecretLength         = 32
	minUniqueCharsInSecret     = 8
	minSeedPasswordLength      = 8
)

type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Redis      RedisConfig
	Seed       SeedConfig
	loadErrors []error
}

type AppConfig struct {
	Env string
}

// Development reports whether internal error details may be exposed.
func (a AppConfig) Development() bool { return a.Env == EnvDevelopment }

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver     string
	URL        string
	SQLitePath string
}

type JWTConfig struct {
	Secret    string
	Issuer    string
	ExpiresIn time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	Burst     int
	PerSecond int
}

// CacheConfig enables the permission cache when TTL is positive.
type CacheConfig struct {
	TTL  time.Duration
	Size int
}

func (c CacheConfig) Enabled() bool { return c.TTL > 0 }

// RedisConfig enables the token denylist when URL is set.
type RedisConfig struct {
	URL string
}

// SeedConfig describes the bootstrap superadmin account. Both email and
// password must be set for the account to be created.
type SeedConfig struct {
	Username string
	Email    string
	Password string
}

func (s SeedConfig) Enabled() bool { return s.Email != "" && s.Password != "" }

// Load reads the configuration from the process environment. Callers load
// .env files beforehand.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.App = AppConfig{
		Env: strings.ToLower(getEnv(envAppEnv, defaultAppEnv)),
	}
	cfg.Server = ServerConfig{
		Addr:            getEnv(envHTTPAddr, defaultHTTPAddr),
		ReadTimeout:     defaultReadTimeout,
		WriteTimeout:    defaultWriteTimeout,
		IdleTimeout:     defaultIdleTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
	}
	cfg.Database = DatabaseConfig{
		Driver:     strings.ToLower(getEnv(envDatabaseDriver, defaultDatabaseDriver)),
		URL:        os.Getenv(envDatabaseURL),
		SQLitePath: getEnv(envSQLitePath, defaultSQLitePath),
	}
	cfg.JWT = JWTConfig{
		Secret:    os.Getenv(envJWTSecret),
		Issuer:    getEnv(envJWTIssuer, defaultJWTIssuer),
		ExpiresIn: cfg.durationEnv(envJWTExpiresIn, defaultJWTExpiresIn),
	}
	cfg.CORS = CORSConfig{
		AllowedOrigins: splitList(getEnv(envCORSAllowedOrigins, defaultCORSAllowedOrigins)),
	}
	cfg.RateLimit = RateLimitConfig{
		Burst:     cfg.intEnv(envRateLimitBurst, defaultRateLimitBurst),
		PerSecond: cfg.intEnv(envRateLimitPerSecond, defaultRateLimitPerSecond),
	}
	cfg.Cache = CacheConfig{
		TTL:  cfg.durationEnv(envPermissionCacheTTL, 0),
		Size: cfg.intEnv(envPermissionCacheSize, defaultPermissionCacheSize),
	}
	cfg.Redis = RedisConfig{
		URL: os.Getenv(envRedisURL),
	}
	cfg.Seed = SeedConfig{
		Username: getEnv(envSeedAdminUsername, defaultSeedAdminUsername),
		Email:    strings.ToLower(strings.TrimSpace(os.Getenv(envSeedAdminEmail))),
		Password: os.Getenv(envSeedAdminPassword),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.loadErrors...)

	switch c.App.Env {
	case EnvDevelopment, EnvProduction, "test":
	default:
		errs = append(errs, fmt.Errorf("%s must be development, production or test", envAppEnv))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, fmt.Errorf("%s must be set", envHTTPAddr))
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("%s must be set when %s=%s", envDatabaseURL, envDatabaseDriver, DriverPostgres))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("%s must be set when %s=%s", envSQLitePath, envDatabaseDriver, DriverSQLite))
		}
	default:
		errs = append(errs, fmt.Errorf("%s must be %s or %s", envDatabaseDriver, DriverPostgres, DriverSQLite))
	}

	switch {
	case c.JWT.Secret == "":
		errs = append(errs, fmt.Errorf("%s must be set", envJWTSecret))
	case len(c.JWT.Secret) < minJWTSecretLength:
		errs = append(errs, fmt.Errorf("%s must be at least %d characters", envJWTSecret, minJWTSecretLength))
	case !hasMinimumEntropy(c.JWT.Secret):
		errs = append(errs, fmt.Errorf("%s has insufficient entropy, use a random string", envJWTSecret))
	}
	if c.JWT.ExpiresIn <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", envJWTExpiresIn))
	}

	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s contains an invalid origin %q", envCORSAllowedOrigins, origin))
		}
	}

	if c.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", envRateLimitBurst))
	}
	if c.RateLimit.PerSecond < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", envRateLimitPerSecond))
	}

	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", envPermissionCacheTTL))
	}
	if c.Cache.Enabled() && c.Cache.Size < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", envPermissionCacheSize))
	}

	if c.Redis.URL != "" {
		if u, err := url.Parse(c.Redis.URL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, fmt.Errorf("%s must be a redis:// or rediss:// url", envRedisURL))
		}
	}

	if (c.Seed.Email == "") != (c.Seed.Password == "") {
		errs = append(errs, fmt.Errorf("%s and %s must be set together", envSeedAdminEmail, envSeedAdminPassword))
	} else if c.Seed.Enabled() && len(c.Seed.Password) < minSeedPasswordLength {
		errs = append(errs, fmt.Errorf("%s must be at least %d characters", envSeedAdminPassword, minSeedPasswordLength))
	}

	return errors.Join(errs...)
}

// hasMinimumEntropy rejects secrets built from a handful of repeated characters.
func hasMinimumEntropy(secret string) bool {
	seen := make(map[rune]struct{})
	for _, r := range secret {
		seen[r] = struct{}{}
	}
	return len(seen) >= minUniqueCharsInSecret
}

// ParseDuration accepts Go durations and whole days written as "7d".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) intEnv(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Errorf("%s must be an integer", key))
		return defaultValue
	}
	return n
}

func (c *Config) durationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := ParseDuration(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
