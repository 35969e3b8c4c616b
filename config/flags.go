package config

import (
	"flag"
	"io"
)

// parseFlags overlays command-line flags onto config.
//
//	-a string       listen address (e.g. ":9000")
//	-b string       storage backend: memory, redis, postgres, mongo
//	-k string       HMAC signing key
//	-redis string   Redis URL
//	-d string       PostgreSQL DSN
//	-mongo string   MongoDB URI
//	-accounts path  JSON accounts file
//	-access-ttl, -refresh-ttl, -remember-me-ttl duration
//	-sliding        extend sessions on every refresh
//	-log-level string
//	-c, -config     JSON config file, read before the environment
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("tokenward", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to run server")
	fs.StringVar(&config.Backend, "b", config.Backend, "storage backend")
	fs.StringVar(&config.SigningKey, "k", config.SigningKey, "HMAC signing key")
	fs.StringVar(&config.RedisURL, "redis", config.RedisURL, "Redis URL")
	fs.StringVar(&config.PostgresDSN, "d", config.PostgresDSN, "database DSN")
	fs.StringVar(&config.MongoURI, "mongo", config.MongoURI, "MongoDB URI")
	fs.StringVar(&config.AccountsFile, "accounts", config.AccountsFile, "accounts file")
	fs.DurationVar(&config.AccessTTL, "access-ttl", config.AccessTTL, "access token lifetime")
	fs.DurationVar(&config.RefreshTTL, "refresh-ttl", config.RefreshTTL, "refresh token lifetime")
	fs.DurationVar(&config.RememberMeTTL, "remember-me-ttl", config.RememberMeTTL, "remember-me refresh token lifetime")
	fs.BoolVar(&config.SlidingSessions, "sliding", config.SlidingSessions, "extend sessions on refresh")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	// Handled by jsonConfigPath, declared so parsing does not fail
	var ignored string
	fs.StringVar(&ignored, "c", "", "JSON config file")
	fs.StringVar(&ignored, "config", "", "JSON config file")

	return fs.Parse(args)
}
