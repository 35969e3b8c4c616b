// Package config handles configuration for the tokenward server,
// including defaults, JSON overlay, environment and command-line flags.
package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/layer-3/tokenward/service"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config holds runtime settings for the tokenward server.
type Config struct {
	ListenAddr string

	// Backend selects where sessions and the blacklist live.
	Backend       string
	RedisURL      string // Also enables the Redis stream event publisher
	RedisPrefix   string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string

	// SigningKey is the HMAC secret shared by every instance.
	SigningKey string
	Algorithm  string
	Issuer     string

	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RememberMeTTL   time.Duration
	SlidingSessions bool
	ClockSkewLeeway time.Duration

	StoreTimeout      time.Duration
	StoreRetryBackoff time.Duration
	JanitorInterval   time.Duration

	AccountsFile string

	SecureCookies bool
	CookieDomain  string
	SameSite      string

	LogLevel  string
	LogFormat string
}

// LoadDefaults populates Config with development defaults.
// SigningKey is left empty on purpose, it has to be provided.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":9000"
	c.Backend = BackendMemory
	c.RedisPrefix = "tokenward:"
	c.MongoDatabase = "tokenward"
	c.Algorithm = "HS256"
	c.Issuer = "tokenward"
	c.AccessTTL = 15 * time.Minute
	c.RefreshTTL = 7 * 24 * time.Hour
	c.RememberMeTTL = 30 * 24 * time.Hour
	c.ClockSkewLeeway = 5 * time.Second
	c.StoreTimeout = 2 * time.Second
	c.StoreRetryBackoff = 50 * time.Millisecond
	c.JanitorInterval = time.Hour
	c.SecureCookies = true
	c.SameSite = "lax"
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// Load builds a Config by applying defaults, then overlaying values from an
// optional JSON file, the environment and finally command-line flags.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := jsonConfigPath(args); path != "" {
		if err := parseJSON(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ListenAddr, validation.Required),
		validation.Field(&c.Backend, validation.Required,
			validation.In(BackendMemory, BackendRedis, BackendPostgres, BackendMongo)),
		validation.Field(&c.RedisURL, validation.By(requiredFor(c.Backend, BackendRedis))),
		validation.Field(&c.PostgresDSN, validation.By(requiredFor(c.Backend, BackendPostgres))),
		validation.Field(&c.MongoURI, validation.By(requiredFor(c.Backend, BackendMongo))),
		validation.Field(&c.MongoDatabase, validation.By(requiredFor(c.Backend, BackendMongo))),
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.Algorithm, validation.Required, validation.In("HS256", "HS384", "HS512")),
		validation.Field(&c.AccessTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RefreshTTL, validation.Required, validation.Min(c.AccessTTL)),
		validation.Field(&c.RememberMeTTL, validation.Required, validation.Min(c.RefreshTTL)),
		validation.Field(&c.ClockSkewLeeway, validation.Max(time.Minute)),
		validation.Field(&c.StoreTimeout, validation.Required),
		validation.Field(&c.JanitorInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SameSite, validation.In("lax", "strict", "none")),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
	)
}

func requiredFor(backend, want string) validation.RuleFunc {
	return func(value interface{}) error {
		if backend != want {
			return nil
		}
		if s, _ := value.(string); s == "" {
			return fmt.Errorf("required for the %s backend", want)
		}
		return nil
	}
}

// Auth derives the auth service options
func (c Config) Auth() service.Options {
	return service.Options{
		AccessTTL:       c.AccessTTL,
		RefreshTTL:      c.RefreshTTL,
		RememberMeTTL:   c.RememberMeTTL,
		SlidingSessions: c.SlidingSessions,
		Leeway:          c.ClockSkewLeeway,
		SigningKey:      []byte(c.SigningKey),
		StoreTimeout:    c.StoreTimeout,
		RetryBackoff:    c.StoreRetryBackoff,
	}
}
