package config

import "time"

// WhatsApp session limits.
const (
	SendTimeout  = 30 * time.Second
	DedupeWindow = 24 * time.Hour
	DedupeMaxIDs = 10000
)

// Postgres pool.
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
	DBPingTimeout     = 5 * time.Second
)

const (
	// ServerRequestTimeout applies to the console only. Widget long-polls
	// and event streams run until the client leaves.
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second

	// DefaultRateLimitPerMin caps widget requests per client IP.
	DefaultRateLimitPerMin = 60

	// CleanupJobInterval is how often expired console sessions are purged.
	CleanupJobInterval = 5 * time.Minute
)
