// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix CONNEVICT_)
//  3. Config file (config.yaml in . or /etc/connevict/)
//  4. Compiled defaults
package config

// Viper keys for the connection sweep.
const (
	KeyHTTPEvictionInterval = "http.connections.eviction_interval"
	KeyHTTPMaxIdleTime      = "http.connections.max_idle_time"
	KeyHTTPMaxLifetime      = "http.connections.max_lifetime"
)

// Viper keys for the optional PostgreSQL pool.
const (
	KeyDatabaseURL             = "database.url"
	KeyDatabaseMaxConns        = "database.max_conns"
	KeyDatabaseMaxConnLifetime = "database.max_conn_lifetime"
)

// Viper keys for the operations server and logging.
const (
	KeyServerAddress        = "server.address"
	KeyServerAllowedOrigins = "server.allowed_origins"
	KeyServerAuthToken      = "server.auth_token"
	KeyServerOIDCIssuer     = "server.oidc_issuer"
	KeyServerOIDCClientID   = "server.oidc_client_id"
	KeyServerPublicMetrics  = "server.public_metrics"
	KeyLogLevel             = "log.level"
	KeyLogFormat            = "log.format"
)
