package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment variable read by parseEnv
const EnvPrefix = "TOKENWARD_"

func parseEnv(config *Config, getenv func(string) string) error {
	if getenv == nil {
		return nil
	}

	strs := map[string]*string{
		"LISTEN_ADDR":    &config.ListenAddr,
		"BACKEND":        &config.Backend,
		"REDIS_URL":      &config.RedisURL,
		"REDIS_PREFIX":   &config.RedisPrefix,
		"POSTGRES_DSN":   &config.PostgresDSN,
		"MONGO_URI":      &config.MongoURI,
		"MONGO_DATABASE": &config.MongoDatabase,
		"SIGNING_KEY":    &config.SigningKey,
		"ALGORITHM":      &config.Algorithm,
		"ISSUER":         &config.Issuer,
		"ACCOUNTS_FILE":  &config.AccountsFile,
		"COOKIE_DOMAIN":  &config.CookieDomain,
		"SAME_SITE":      &config.SameSite,
		"LOG_LEVEL":      &config.LogLevel,
		"LOG_FORMAT":     &config.LogFormat,
	}
	for name, dst := range strs {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ACCESS_TTL":          &config.AccessTTL,
		"REFRESH_TTL":         &config.RefreshTTL,
		"REMEMBER_ME_TTL":     &config.RememberMeTTL,
		"CLOCK_SKEW_LEEWAY":   &config.ClockSkewLeeway,
		"STORE_TIMEOUT":       &config.StoreTimeout,
		"STORE_RETRY_BACKOFF": &config.StoreRetryBackoff,
		"JANITOR_INTERVAL":    &config.JanitorInterval,
	}
	for name, dst := range durations {
		v := getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	bools := map[string]*bool{
		"SLIDING_SESSIONS": &config.SlidingSessions,
		"SECURE_COOKIES":   &config.SecureCookies,
	}
	for name, dst := range bools {
		v := getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}

	return nil
}
