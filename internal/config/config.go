// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultMongoURL       = "mongodb://localhost:27017"
	DefaultDatabaseName   = "chat"
	DefaultPort           = "50051"
	DefaultLogLevel       = "info"
	DefaultRateLimitRPM   = 10
	DefaultConnectTimeout = 10 * time.Second
)

// Config holds every value the process reads at startup.
type Config struct {
	MongoURL       string
	DatabaseName   string
	ConnectTimeout time.Duration

	Port         string
	RateLimitRPM int
	TLSCert      string
	TLSKey       string
	RequireTLS   bool

	LogLevel string
	LogFile  string
}

// Load reads configuration from the environment. If envFile is non-empty it is
// loaded first; a missing default ".env" is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		MongoURL:       getenv("MONGODB_URL", DefaultMongoURL),
		DatabaseName:   getenv("MONGO_DBNAME", DefaultDatabaseName),
		ConnectTimeout: DefaultConnectTimeout,
		Port:           getenv("PORT", DefaultPort),
		RateLimitRPM:   DefaultRateLimitRPM,
		TLSCert:        os.Getenv("TLS_CERT"),
		TLSKey:         os.Getenv("TLS_KEY"),
		RequireTLS:     os.Getenv("REQUIRE_TLS") == "true",
		LogLevel:       getenv("LOG_LEVEL", DefaultLogLevel),
		LogFile:        os.Getenv("LOGFILE_PATH"),
	}

	if v := os.Getenv("MONGO_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid MONGO_CONNECT_TIMEOUT %q", v)
		}
		cfg.ConnectTimeout = d
	}

	// RATE_LIMIT_RPM controls requests per minute for CreateUser and LoginUser.
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitRPM = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration combinations the server cannot start with.
func (c *Config) Validate() error {
	if c.MongoURL == "" {
		return errors.New("MONGODB_URL must not be empty")
	}
	if c.DatabaseName == "" {
		return errors.New("MONGO_DBNAME must not be empty")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("TLS_CERT and TLS_KEY must be set together")
	}
	if c.RequireTLS && c.TLSCert == "" {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return nil
}

// TLSEnabled reports whether the gateway should serve TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
