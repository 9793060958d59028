package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Gateway transport timeouts
const (
	GatewayConnectTimeout = 120 * time.Second
	GatewayQueryTimeout   = 60 * time.Second
)

// Reconnection policy. The base delay grows linearly with the attempt
// number; the first retry right after a completed pairing uses the shorter
// fixed delay instead.
const (
	PostPairingRetryDelay = 2 * time.Second
)

// Credential persistence
const (
	CredentialBackupTimeout  = 10 * time.Second
	CredentialMirrorSweep    = 5 * time.Minute
	CredentialWipeTimeout    = 10 * time.Second
	CredentialRestoreTimeout = 30 * time.Second
)

// Projection caps: presentation caches, not systems of record.
const (
	MessageProjectionCap = 500
	StatusProjectionCap  = 100
)
