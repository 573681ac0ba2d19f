// Package config builds runtime configuration from the environment so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs at startup.
type Config struct {
	Addr string

	// PostgresURL enables the durable stores; empty runs in-memory.
	PostgresURL string
	// RedisURL switches the duplicate index to Redis; empty keeps the
	// Postgres (or in-memory) index.
	RedisURL string
	// KafkaBrokers enables the audit event sink; empty disables it.
	KafkaBrokers []string

	// AnchorURL points at the anchoring service; empty uses the loopback
	// submitter (development only).
	AnchorURL         string
	AnchorTimeout     time.Duration
	AnchorMaxAttempts int
	AnchorBaseBackoff time.Duration

	// ReservationMaxAge is how long a pending reservation may sit before
	// the reaper releases it.
	ReservationMaxAge time.Duration
	ReaperInterval    time.Duration

	AuditBuffer int

	JWTSigningKey string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default; override in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Config{
		Addr:              envString("UNUM_ADDR", ":8080"),
		PostgresURL:       os.Getenv("UNUM_POSTGRES_URL"),
		RedisURL:          os.Getenv("UNUM_REDIS_URL"),
		KafkaBrokers:      envList("UNUM_KAFKA_BROKERS"),
		AnchorURL:         os.Getenv("UNUM_ANCHOR_URL"),
		AnchorTimeout:     envDuration("UNUM_ANCHOR_TIMEOUT", 10*time.Second),
		AnchorMaxAttempts: envInt("UNUM_ANCHOR_MAX_ATTEMPTS", 3),
		AnchorBaseBackoff: envDuration("UNUM_ANCHOR_BASE_BACKOFF", 250*time.Millisecond),
		ReservationMaxAge: envDuration("UNUM_RESERVATION_MAX_AGE", 5*time.Minute),
		ReaperInterval:    envDuration("UNUM_REAPER_INTERVAL", time.Minute),
		AuditBuffer:       envInt("UNUM_AUDIT_BUFFER", 256),
		JWTSigningKey:     jwtSigningKey,
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
