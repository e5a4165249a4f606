// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MahdiBaghbani/guestservice-go/internal/platform/telemetry"
)

// Config holds the service configuration.
type Config struct {
	// Mode is the operating mode: prod or dev.
	Mode string `toml:"mode"`

	// ListenAddr is the address to listen on.
	// Example: ":8080"
	ListenAddr string `toml:"listen_addr"`

	// Server holds HTTP server settings.
	Server ServerConfig `toml:"server"`

	// Store selects the invitation persistence driver.
	Store StoreConfig `toml:"store"`

	// Channel selects the event channel driver.
	Channel ChannelConfig `toml:"channel"`

	// Cache selects the cache driver used for role lookups.
	Cache CacheConfig `toml:"cache"`

	// Auth configures bearer token verification.
	Auth AuthConfig `toml:"auth"`

	// UserDirectory points at the service that answers organization role lookups.
	UserDirectory UserDirectoryConfig `toml:"user_directory"`

	// Telemetry configures OpenTelemetry tracing.
	Telemetry telemetry.Config `toml:"telemetry"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// HTTP holds per-service HTTP configuration.
	HTTP HTTPConfig `toml:"http"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool `toml:"trust_proxy_headers"`

	ReadTimeoutMS     int `toml:"read_timeout_ms"`
	WriteTimeoutMS    int `toml:"write_timeout_ms"`
	IdleTimeoutMS     int `toml:"idle_timeout_ms"`
	ShutdownTimeoutMS int `toml:"shutdown_timeout_ms"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is one of memory, sqlite, mirror, postgres.
	Driver string `toml:"driver"`

	// DataDir holds the sqlite database and the mirror export.
	DataDir string `toml:"data_dir"`

	// DSN is the postgres connection string.
	DSN string `toml:"dsn"`

	// MaxUpdateAttempts bounds optimistic update retries. 0 = driver default.
	MaxUpdateAttempts int `toml:"max_update_attempts"`
}

// ChannelConfig holds event channel settings.
type ChannelConfig struct {
	// Driver is one of memory, valkey.
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [channel.drivers.valkey] addr = "valkey:6379"
	Drivers map[string]any `toml:"drivers"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is one of memory, valkey.
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.memory] ...
	Drivers map[string]any `toml:"drivers"`
}

// AuthConfig holds bearer authentication settings.
type AuthConfig struct {
	// Mode is off or jwt.
	Mode string `toml:"mode"`

	// JWTSecret is the HS256 verification key. Required when Mode is jwt.
	JWTSecret string `toml:"jwt_secret"`

	// Issuer, when set, must match the iss claim.
	Issuer string `toml:"issuer"`
}

// UserDirectoryConfig holds the role lookup client settings.
type UserDirectoryConfig struct {
	// BaseURL of the auth service. Empty denies every role check.
	BaseURL string `toml:"base_url"`

	TimeoutMS int `toml:"timeout_ms"`

	// RoleCacheTTLSeconds is how long a role set stays cached.
	RoleCacheTTLSeconds int `toml:"role_cache_ttl_seconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info in prod mode, debug in dev mode.
	Level string `toml:"level"`
}

// HTTPConfig holds per-service HTTP configuration.
// Services are configured under [http.services.<svcname>].
type HTTPConfig struct {
	// Services maps service names to their raw config maps.
	// Each service decodes its own config via cfg.Decode() with Setter interface.
	Services map[string]map[string]any `toml:"services"`
}

// BuildServiceConfig returns the raw service config map for a given service name.
// Returns nil if the service is not configured in [http.services.<name>].
func (c *Config) BuildServiceConfig(serviceName string) map[string]any {
	svcCfg, ok := c.HTTP.Services[serviceName]
	if !ok {
		return nil
	}
	result := make(map[string]any, len(svcCfg))
	for k, v := range svcCfg {
		result[k] = v
	}
	return result
}

const redacted = "[REDACTED]"

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	fmt.Fprintf(&sb, "  Mode: %q,\n", c.Mode)
	fmt.Fprintf(&sb, "  ListenAddr: %q,\n", c.ListenAddr)
	sb.WriteString("  Server: {\n")
	fmt.Fprintf(&sb, "    TrustProxyHeaders: %v,\n", c.Server.TrustProxyHeaders)
	fmt.Fprintf(&sb, "    ReadTimeoutMS: %d,\n", c.Server.ReadTimeoutMS)
	fmt.Fprintf(&sb, "    WriteTimeoutMS: %d,\n", c.Server.WriteTimeoutMS)
	fmt.Fprintf(&sb, "    IdleTimeoutMS: %d,\n", c.Server.IdleTimeoutMS)
	fmt.Fprintf(&sb, "    ShutdownTimeoutMS: %d,\n", c.Server.ShutdownTimeoutMS)
	sb.WriteString("  },\n")
	sb.WriteString("  Store: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Store.Driver)
	fmt.Fprintf(&sb, "    DataDir: %q,\n", c.Store.DataDir)
	fmt.Fprintf(&sb, "    DSN: %s,\n", redactIfSet(c.Store.DSN))
	fmt.Fprintf(&sb, "    MaxUpdateAttempts: %d,\n", c.Store.MaxUpdateAttempts)
	sb.WriteString("  },\n")
	sb.WriteString("  Channel: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Channel.Driver)
	fmt.Fprintf(&sb, "    Drivers: %s,\n", redactDrivers(c.Channel.Drivers))
	sb.WriteString("  },\n")
	sb.WriteString("  Cache: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Cache.Driver)
	fmt.Fprintf(&sb, "    Drivers: %s,\n", redactDrivers(c.Cache.Drivers))
	sb.WriteString("  },\n")
	sb.WriteString("  Auth: {\n")
	fmt.Fprintf(&sb, "    Mode: %q,\n", c.Auth.Mode)
	fmt.Fprintf(&sb, "    JWTSecret: %s,\n", redactIfSet(c.Auth.JWTSecret))
	fmt.Fprintf(&sb, "    Issuer: %q,\n", c.Auth.Issuer)
	sb.WriteString("  },\n")
	sb.WriteString("  UserDirectory: {\n")
	fmt.Fprintf(&sb, "    BaseURL: %q,\n", c.UserDirectory.BaseURL)
	fmt.Fprintf(&sb, "    TimeoutMS: %d,\n", c.UserDirectory.TimeoutMS)
	fmt.Fprintf(&sb, "    RoleCacheTTLSeconds: %d,\n", c.UserDirectory.RoleCacheTTLSeconds)
	sb.WriteString("  },\n")
	sb.WriteString("  Telemetry: {\n")
	fmt.Fprintf(&sb, "    OTLPEndpoint: %q,\n", c.Telemetry.OTLPEndpoint)
	fmt.Fprintf(&sb, "    SampleRatio: %v,\n", c.Telemetry.SampleRatio)
	sb.WriteString("  },\n")
	sb.WriteString("  Logging: {\n")
	fmt.Fprintf(&sb, "    Level: %q,\n", c.Logging.Level)
	sb.WriteString("  },\n")
	sb.WriteString("  HTTP: {\n")
	names := make([]string, 0, len(c.HTTP.Services))
	for name := range c.HTTP.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(&sb, "    Services: %q,\n", names)
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

func redactIfSet(s string) string {
	if s == "" {
		return `""`
	}
	return redacted
}

// redactDrivers prints driver names and keys, hiding password values.
func redactDrivers(drivers map[string]any) string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		sub, ok := drivers[name].(map[string]any)
		if !ok {
			parts = append(parts, name)
			continue
		}
		keys := make([]string, 0, len(sub))
		for k := range sub {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			v := fmt.Sprintf("%v", sub[k])
			if strings.Contains(strings.ToLower(k), "password") {
				v = redacted
			}
			fields = append(fields, k+"="+v)
		}
		parts = append(parts, name+"{"+strings.Join(fields, " ")+"}")
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
