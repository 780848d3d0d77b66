// Package config reads the RUBINTV_* environment variables enumerated
// in the service specification. It follows the teacher's plain
// os.Getenv-with-defaults style rather than pulling in a config-file
// framework the teacher never used.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the process-wide environment configuration.
type Config struct {
	// S3EndpointURL overrides the object-store endpoint. The sentinel
	// "testing" disables the override (SDK default endpoint resolution).
	S3EndpointURL string

	// PathPrefix is the HTTP mount prefix, default "/rubintv".
	PathPrefix string

	// LogLevel controls zerolog's level (debug, info, warn, error).
	LogLevel string

	// Profile holds RUBINTV_PROFILE. No component reads it: object-store
	// clients take their credentials profile from each Location's
	// profile_name.
	Profile string

	// FixturesPath is the path to the locations/cameras fixture file.
	FixturesPath string

	// PollInterval is the current-day poller's sleep between iterations.
	PollInterval time.Duration

	// HistoricalRefreshInterval holds RUBINTV_HISTORICAL_REFRESH_INTERVAL.
	// The historical cache does not read it; its day-rollover check runs
	// on a fixed 60s period.
	HistoricalRefreshInterval time.Duration

	// MaxInflight bounds concurrent per-camera storage operations.
	MaxInflight int

	// StorageTimeout is the default per-operation storage timeout.
	StorageTimeout time.Duration

	// SubscribeTimeout holds RUBINTV_SUBSCRIBE_TIMEOUT. No component
	// reads it: hub subscription validation checks the fixtures only and
	// makes no storage call.
	SubscribeTimeout time.Duration

	// PresignTTL is the lifetime of presigned media URLs.
	PresignTTL time.Duration

	// ListenAddr is the HTTP bind address.
	ListenAddr string
}

// FromEnv loads configuration from the environment, applying the
// defaults named in the specification.
func FromEnv() Config {
	return Config{
		S3EndpointURL:             getEnv("RUBINTV_S3_ENDPOINT_URL", "testing"),
		PathPrefix:                getEnv("RUBINTV_PATH_PREFIX", "/rubintv"),
		LogLevel:                  getEnv("RUBINTV_LOG_LEVEL", "info"),
		Profile:                   getEnv("RUBINTV_PROFILE", "default"),
		FixturesPath:              getEnv("RUBINTV_FIXTURES_PATH", "config/locations.yaml"),
		PollInterval:              getDuration("RUBINTV_POLL_INTERVAL", 3*time.Second),
		HistoricalRefreshInterval: getDuration("RUBINTV_HISTORICAL_REFRESH_INTERVAL", 60*time.Second),
		MaxInflight:               getInt("RUBINTV_MAX_INFLIGHT", 6),
		StorageTimeout:            getDuration("RUBINTV_STORAGE_TIMEOUT", 30*time.Second),
		SubscribeTimeout:          getDuration("RUBINTV_SUBSCRIBE_TIMEOUT", 5*time.Second),
		PresignTTL:                getDuration("RUBINTV_PRESIGN_TTL", 5*time.Minute),
		ListenAddr:                getEnv("RUBINTV_LISTEN_ADDR", ":8080"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
