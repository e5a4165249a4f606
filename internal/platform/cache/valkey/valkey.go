// Package valkey provides a Redis/Valkey cache driver so replicas share
// cached role lookups.
package valkey

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/cache"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
)

func init() {
	cache.RegisterDriver("valkey", func(config map[string]any, log *slog.Logger) (cache.Cache, error) {
		var c Config
		if err := cfg.Decode(config, &c); err != nil {
			return nil, err
		}
		return New(&c, log)
	})
}

// Config holds the [cache.drivers.valkey] table.
type Config struct {
	Addr              string `mapstructure:"addr"`
	Password          string `mapstructure:"password"`
	DB                int    `mapstructure:"db"`
	KeyPrefix         string `mapstructure:"key_prefix"`
	DefaultTTLSeconds int    `mapstructure:"default_ttl_seconds"`
	DialTimeoutMS     int    `mapstructure:"dial_timeout_ms"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "guests:"
	}
	if c.DefaultTTLSeconds <= 0 {
		c.DefaultTTLSeconds = int(cache.TTLRoles / time.Second)
	}
	if c.DialTimeoutMS <= 0 {
		c.DialTimeoutMS = 5000
	}
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Cache is a valkey-backed cache.Cache.
type Cache struct {
	client     valkey.Client
	prefix     string
	defaultTTL time.Duration
	log        *slog.Logger
}

// New connects to the server and fails fast when it is unreachable.
func New(c *Config, log *slog.Logger) (*Cache, error) {
	if c == nil {
		c = DefaultConfig()
	}
	c.ApplyDefaults()

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{c.Addr},
		Password:     c.Password,
		SelectDB:     c.DB,
		DisableCache: true,
		Dialer:       net.Dialer{Timeout: time.Duration(c.DialTimeoutMS) * time.Millisecond},
	})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", c.Addr, err)
	}

	log = logutil.NoopIfNil(log)
	log.Info("valkey cache connected", "addr", c.Addr, "db", c.DB)

	return &Cache{
		client:     client,
		prefix:     c.KeyPrefix,
		defaultTTL: time.Duration(c.DefaultTTLSeconds) * time.Second,
		log:        log,
	}, nil
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Get retrieves a value by key. Expired keys are gone server-side, so
// ErrExpired is never returned.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Set stores a value with the given TTL (0 selects the default).
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	cmd := c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).
		PxMilliseconds(ttl.Milliseconds()).Build()
	return c.client.Do(ctx, cmd).Error()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error()
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(c.key(key)).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.Cache = (*Cache)(nil)
