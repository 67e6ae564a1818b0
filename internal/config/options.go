package config

import (
	"strings"
	"time"
)

// DefaultEvictionInterval and DefaultMaxIdleTime apply when the
// corresponding setting is unset or not a positive duration.
const (
	DefaultEvictionInterval = 10 * time.Minute
	DefaultMaxIdleTime      = 10 * time.Minute
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// RunOptions defines the configuration entries of the run command.
// Each entry is registered as a viper default and a CLI flag.
var RunOptions = []Option{
	{Key: KeyHTTPEvictionInterval, Flag: toFlag(KeyHTTPEvictionInterval), Default: DefaultEvictionInterval, Description: "Time between two eviction sweeps"},
	{Key: KeyHTTPMaxIdleTime, Flag: toFlag(KeyHTTPMaxIdleTime), Default: DefaultMaxIdleTime, Description: "Maximum time a connection may stay idle in the pool"},
	{Key: KeyHTTPMaxLifetime, Flag: toFlag(KeyHTTPMaxLifetime), Default: time.Duration(0), Description: "Maximum age of an HTTP connection (0 disables)"},
	{Key: KeyDatabaseURL, Flag: toFlag(KeyDatabaseURL), Default: "", Description: "PostgreSQL connection url (empty disables the database pool)"},
	{Key: KeyDatabaseMaxConns, Flag: toFlag(KeyDatabaseMaxConns), Default: 10, Description: "PostgreSQL pool size"},
	{Key: KeyDatabaseMaxConnLifetime, Flag: toFlag(KeyDatabaseMaxConnLifetime), Default: time.Hour, Description: "Maximum age of a PostgreSQL connection (0 disables)"},
	{Key: KeyServerAddress, Flag: toFlag(KeyServerAddress), Default: ":9090", Description: "Operations server listen address"},
	{Key: KeyServerAllowedOrigins, Flag: toFlag(KeyServerAllowedOrigins), Default: []string{}, Description: "Operations server allowed origins"},
	{Key: KeyServerAuthToken, Flag: toFlag(KeyServerAuthToken), Default: "", Description: "Static bearer token required by the operations server (empty disables)"},
	{Key: KeyServerOIDCIssuer, Flag: toFlag(KeyServerOIDCIssuer), Default: "", Description: "OIDC issuer url for operations server authentication (empty disables)"},
	{Key: KeyServerOIDCClientID, Flag: toFlag(KeyServerOIDCClientID), Default: "", Description: "OIDC client id expected in the token audience"},
	{Key: KeyServerPublicMetrics, Flag: toFlag(KeyServerPublicMetrics), Default: false, Description: "Serve /metrics without authentication"},
	{Key: KeyLogLevel, Flag: toFlag(KeyLogLevel), Default: "info", Description: "Log level (debug, info, warn, error)"},
	{Key: KeyLogFormat, Flag: toFlag(KeyLogFormat), Default: "text", Description: "Log format (text, json)"},
}

// toFlag converts a viper key like "http.connections.max_idle_time"
// into a CLI flag like "max-idle-time" by lower-casing, replacing dots
// and underscores with hyphens, and stripping the "server-" or
// "http-connections-" prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "server-")
	flag = strings.TrimPrefix(flag, "http-connections-")
	return flag
}
