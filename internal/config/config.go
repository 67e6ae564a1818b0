package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration. The two sweep settings are
// snapshotted into atomics so that running sweepers can read them while
// a watched config file is being reloaded; Config implements
// core.Settings.
type Config struct {
	v *viper.Viper

	evictionInterval atomic.Int64
	maxIdleTime      atomic.Int64
	watchOnce        sync.Once
}

func New() (*Config, error) {
	v := viper.New()

	// default values
	for _, o := range RunOptions {
		v.SetDefault(o.Key, o.Default)
	}

	// load config from file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/connevict/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// load config from environment variables
	v.SetEnvPrefix("CONNEVICT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	c := &Config{v: v}
	c.refresh()
	return c, nil
}

func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

// Watch re-reads the sweep settings (flags are only known once the
// command line has been parsed) and, when a config file is in use,
// keeps them current as the file changes. Calling Watch more than once
// has no further effect.
func (c *Config) Watch() {
	c.watchOnce.Do(func() {
		c.refresh()

		file := c.v.ConfigFileUsed()
		if file == "" {
			return
		}
		c.v.OnConfigChange(func(e fsnotify.Event) {
			c.refresh()
			slog.Info("configuration reloaded",
				"file", e.Name,
				"eviction_interval", c.EvictionInterval(),
				"max_idle_time", c.MaxIdleTime(),
			)
		})
		c.v.WatchConfig()
	})
}

func (c *Config) refresh() {
	c.evictionInterval.Store(int64(c.positiveDuration(KeyHTTPEvictionInterval, DefaultEvictionInterval)))
	c.maxIdleTime.Store(int64(c.positiveDuration(KeyHTTPMaxIdleTime, DefaultMaxIdleTime)))
}

// EvictionInterval implements core.Settings.
func (c *Config) EvictionInterval() time.Duration {
	return time.Duration(c.evictionInterval.Load()) // CONNEVICT_HTTP_CONNECTIONS_EVICTION_INTERVAL
}

// MaxIdleTime implements core.Settings.
func (c *Config) MaxIdleTime() time.Duration {
	return time.Duration(c.maxIdleTime.Load()) // CONNEVICT_HTTP_CONNECTIONS_MAX_IDLE_TIME
}

func (c *Config) HTTPMaxLifetime() time.Duration {
	return c.duration(KeyHTTPMaxLifetime) // CONNEVICT_HTTP_CONNECTIONS_MAX_LIFETIME
}

func (c *Config) DatabaseURL() string {
	return c.v.GetString(KeyDatabaseURL) // CONNEVICT_DATABASE_URL
}

func (c *Config) DatabaseMaxConns() int {
	return c.v.GetInt(KeyDatabaseMaxConns) // CONNEVICT_DATABASE_MAX_CONNS
}

func (c *Config) DatabaseMaxConnLifetime() time.Duration {
	return c.duration(KeyDatabaseMaxConnLifetime) // CONNEVICT_DATABASE_MAX_CONN_LIFETIME
}

func (c *Config) ServerAddress() string {
	return c.v.GetString(KeyServerAddress) // CONNEVICT_SERVER_ADDRESS
}

func (c *Config) ServerAllowedOrigins() []string {
	return c.v.GetStringSlice(KeyServerAllowedOrigins) // CONNEVICT_SERVER_ALLOWED_ORIGINS
}

func (c *Config) ServerAuthToken() string {
	return c.v.GetString(KeyServerAuthToken) // CONNEVICT_SERVER_AUTH_TOKEN
}

func (c *Config) ServerOIDCIssuer() string {
	return c.v.GetString(KeyServerOIDCIssuer) // CONNEVICT_SERVER_OIDC_ISSUER
}

func (c *Config) ServerOIDCClientID() string {
	return c.v.GetString(KeyServerOIDCClientID) // CONNEVICT_SERVER_OIDC_CLIENT_ID
}

func (c *Config) ServerPublicMetrics() bool {
	return c.v.GetBool(KeyServerPublicMetrics) // CONNEVICT_SERVER_PUBLIC_METRICS
}

func (c *Config) LogLevel() string {
	return c.v.GetString(KeyLogLevel) // CONNEVICT_LOG_LEVEL
}

func (c *Config) LogFormat() string {
	return c.v.GetString(KeyLogFormat) // CONNEVICT_LOG_FORMAT
}

// duration reads key as a Go duration string ("10m"). Bare integers are
// milliseconds, the unit of the legacy property format.
func (c *Config) duration(key string) time.Duration {
	switch v := c.v.Get(key).(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	case string:
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return c.v.GetDuration(key)
}

func (c *Config) positiveDuration(key string, def time.Duration) time.Duration {
	d := c.duration(key)
	if d <= 0 {
		slog.Warn("invalid duration setting, using default", "key", key, "value", c.v.Get(key), "default", def)
		return def
	}
	return d
}
