package config

import (
	"os"
	"time"
)

// Server captures process-level configuration for the governance engine.
type Server struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string

	// Gardener external scoring collaborator.
	ScorerURL     string
	ScorerAPIKey  string
	ScorerTimeout time.Duration

	// Incentive signal application retry cadence.
	SignalRetryInterval time.Duration
}

const (
	defaultScorerTimeout       = 3 * time.Second
	defaultSignalRetryInterval = 30 * time.Second
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("ARBOR_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development fallback; production deployments set JWT_SIGNING_KEY.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:                addr,
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		JWTSigningKey:       jwtSigningKey,
		ScorerURL:           os.Getenv("SCORER_URL"),
		ScorerAPIKey:        os.Getenv("SCORER_API_KEY"),
		ScorerTimeout:       envDuration("SCORER_TIMEOUT", defaultScorerTimeout),
		SignalRetryInterval: envDuration("SIGNAL_RETRY_INTERVAL", defaultSignalRetryInterval),
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
