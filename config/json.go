package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Duration accepts "15m"-style strings or integer nanoseconds in JSON
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// JsonConfig is the on-disk shape of Config. Pointers tell "absent" from
// "zero" so a partial file only overrides what it sets.
type JsonConfig struct {
	ListenAddr        *string   `json:"listen_addr"`
	Backend           *string   `json:"backend"`
	RedisURL          *string   `json:"redis_url"`
	RedisPrefix       *string   `json:"redis_prefix"`
	PostgresDSN       *string   `json:"postgres_dsn"`
	MongoURI          *string   `json:"mongo_uri"`
	MongoDatabase     *string   `json:"mongo_database"`
	SigningKey        *string   `json:"signing_key"`
	Algorithm         *string   `json:"algorithm"`
	Issuer            *string   `json:"issuer"`
	AccessTTL         *Duration `json:"access_ttl"`
	RefreshTTL        *Duration `json:"refresh_ttl"`
	RememberMeTTL     *Duration `json:"remember_me_ttl"`
	SlidingSessions   *bool     `json:"sliding_sessions"`
	ClockSkewLeeway   *Duration `json:"clock_skew_leeway"`
	StoreTimeout      *Duration `json:"store_timeout"`
	StoreRetryBackoff *Duration `json:"store_retry_backoff"`
	JanitorInterval   *Duration `json:"janitor_interval"`
	AccountsFile      *string   `json:"accounts_file"`
	SecureCookies     *bool     `json:"secure_cookies"`
	CookieDomain      *string   `json:"cookie_domain"`
	SameSite          *string   `json:"same_site"`
	LogLevel          *string   `json:"log_level"`
	LogFormat         *string   `json:"log_format"`
}

// jsonConfigPath returns the value of -c / -config, if any
func jsonConfigPath(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		for _, name := range []string{"-c", "--c", "-config", "--config"} {
			if arg == name && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(arg, name+"=") {
				return strings.TrimPrefix(arg, name+"=")
			}
		}
	}
	return ""
}

func parseJSON(config *Config, path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.Backend, c.Backend)
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.RedisPrefix, c.RedisPrefix)
	setString(&config.PostgresDSN, c.PostgresDSN)
	setString(&config.MongoURI, c.MongoURI)
	setString(&config.MongoDatabase, c.MongoDatabase)
	setString(&config.SigningKey, c.SigningKey)
	setString(&config.Algorithm, c.Algorithm)
	setString(&config.Issuer, c.Issuer)
	setDuration(&config.AccessTTL, c.AccessTTL)
	setDuration(&config.RefreshTTL, c.RefreshTTL)
	setDuration(&config.RememberMeTTL, c.RememberMeTTL)
	setBool(&config.SlidingSessions, c.SlidingSessions)
	setDuration(&config.ClockSkewLeeway, c.ClockSkewLeeway)
	setDuration(&config.StoreTimeout, c.StoreTimeout)
	setDuration(&config.StoreRetryBackoff, c.StoreRetryBackoff)
	setDuration(&config.JanitorInterval, c.JanitorInterval)
	setString(&config.AccountsFile, c.AccountsFile)
	setBool(&config.SecureCookies, c.SecureCookies)
	setString(&config.CookieDomain, c.CookieDomain)
	setString(&config.SameSite, c.SameSite)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
