package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/telemetry"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "GUEST_"

// Mode represents the service operating mode.
type Mode string

const (
	ModeProd Mode = "prod"
	ModeDev  Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "":
		return ModeProd, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of prod, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// EnvFile is a dotenv file merged under the process environment (optional).
	// Variables already present in the environment win.
	EnvFile string

	// Environ replaces the process environment. Nil reads os.Environ().
	Environ map[string]string

	// ModeFlag is the --mode flag value (overrides env and config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override everything else.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values. Nil or empty means "not set".
type FlagOverrides struct {
	ListenAddr    *string
	StoreDriver   *string
	StoreDataDir  *string
	ChannelDriver *string
	CacheDriver   *string
	AuthMode      *string
	LoggingLevel  *string
}

// envOverrides lists the variables read from the environment, without
// EnvPrefix. Unset variables leave their pointer nil.
type envOverrides struct {
	Mode                *string  `env:"MODE"`
	ListenAddr          *string  `env:"LISTEN_ADDR"`
	StoreDriver         *string  `env:"STORE_DRIVER"`
	StoreDataDir        *string  `env:"STORE_DATA_DIR"`
	StoreDSN            *string  `env:"STORE_DSN"`
	ChannelDriver       *string  `env:"CHANNEL_DRIVER"`
	CacheDriver         *string  `env:"CACHE_DRIVER"`
	ValkeyAddr          *string  `env:"VALKEY_ADDR"`
	ValkeyPassword      *string  `env:"VALKEY_PASSWORD"`
	AuthMode            *string  `env:"AUTH_MODE"`
	AuthJWTSecret       *string  `env:"AUTH_JWT_SECRET"`
	AuthIssuer          *string  `env:"AUTH_ISSUER"`
	UserDirectoryURL    *string  `env:"USER_DIRECTORY_BASE_URL"`
	RoleCacheTTLSeconds *int     `env:"USER_DIRECTORY_ROLE_CACHE_TTL_SECONDS"`
	OTLPEndpoint        *string  `env:"TELEMETRY_OTLP_ENDPOINT"`
	SampleRatio         *float64 `env:"TELEMETRY_SAMPLE_RATIO"`
	LoggingLevel        *string  `env:"LOGGING_LEVEL"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > GUEST_MODE > mode in config file > prod
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay environment variables (process env over EnvFile)
//  5. Overlay CLI flags
//  6. Validate
//
// A missing or invalid config file or env file is an error. Undecoded TOML
// keys produce a warning but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var data string
	var fileMode struct {
		Mode string `toml:"mode"`
	}
	if opts.ConfigPath != "" {
		raw, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		data = string(raw)
		if _, err := toml.Decode(data, &fileMode); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
	}

	environ, err := environment(opts)
	if err != nil {
		return nil, err
	}
	var eo envOverrides
	if err := env.ParseWithOptions(&eo, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	modeStr := fileMode.Mode
	if eo.Mode != nil {
		modeStr = *eo.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if data != "" {
		md, err := toml.Decode(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}
	cfg.Mode = string(mode)

	overlayEnv(cfg, &eo)
	overlayFlags(cfg, opts.FlagOverrides)

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}
	if err := validateRequirements(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func environment(opts LoaderOptions) (map[string]string, error) {
	environ := opts.Environ
	if environ == nil {
		environ = make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				environ[k] = v
			}
		}
	}
	if opts.EnvFile == "" {
		return environ, nil
	}

	fileVars, err := godotenv.Read(opts.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", opts.EnvFile, err)
	}
	merged := make(map[string]string, len(fileVars)+len(environ))
	for k, v := range fileVars {
		merged[k] = v
	}
	for k, v := range environ {
		merged[k] = v
	}
	return merged, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return ProdConfig()
}

// ProdConfig returns production defaults. Auth is on and needs a secret.
func ProdConfig() *Config {
	return &Config{
		Mode:       string(ModeProd),
		ListenAddr: ":8080",
		Server: ServerConfig{
			ReadTimeoutMS:     30000,
			WriteTimeoutMS:    30000,
			IdleTimeoutMS:     60000,
			ShutdownTimeoutMS: 30000,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: "/var/lib/guestservice",
		},
		Channel: ChannelConfig{Driver: "valkey"},
		Cache:   CacheConfig{Driver: "valkey"},
		Auth:    AuthConfig{Mode: "jwt"},
		UserDirectory: UserDirectoryConfig{
			TimeoutMS:           5000,
			RoleCacheTTLSeconds: 60,
		},
		Telemetry: telemetry.Config{SampleRatio: 1},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// DevConfig returns developer defaults: in-process channel and cache, no auth.
func DevConfig() *Config {
	cfg := ProdConfig()
	cfg.Mode = string(ModeDev)
	cfg.Store.DataDir = ".guestservice"
	cfg.Channel.Driver = "memory"
	cfg.Cache.Driver = "memory"
	cfg.Auth.Mode = "off"
	cfg.Logging.Level = "debug"
	return cfg
}

func overlayEnv(cfg *Config, eo *envOverrides) {
	setString(&cfg.ListenAddr, eo.ListenAddr)
	setString(&cfg.Store.Driver, eo.StoreDriver)
	setString(&cfg.Store.DataDir, eo.StoreDataDir)
	setString(&cfg.Store.DSN, eo.StoreDSN)
	setString(&cfg.Channel.Driver, eo.ChannelDriver)
	setString(&cfg.Cache.Driver, eo.CacheDriver)
	setString(&cfg.Auth.Mode, eo.AuthMode)
	setString(&cfg.Auth.JWTSecret, eo.AuthJWTSecret)
	setString(&cfg.Auth.Issuer, eo.AuthIssuer)
	setString(&cfg.UserDirectory.BaseURL, eo.UserDirectoryURL)
	setString(&cfg.Telemetry.OTLPEndpoint, eo.OTLPEndpoint)
	setString(&cfg.Logging.Level, eo.LoggingLevel)

	if eo.RoleCacheTTLSeconds != nil {
		cfg.UserDirectory.RoleCacheTTLSeconds = *eo.RoleCacheTTLSeconds
	}
	if eo.SampleRatio != nil {
		cfg.Telemetry.SampleRatio = *eo.SampleRatio
	}

	// One valkey deployment usually backs both the channel and the cache.
	if eo.ValkeyAddr != nil {
		setDriverKey(&cfg.Channel.Drivers, "valkey", "addr", *eo.ValkeyAddr)
		setDriverKey(&cfg.Cache.Drivers, "valkey", "addr", *eo.ValkeyAddr)
	}
	if eo.ValkeyPassword != nil {
		setDriverKey(&cfg.Channel.Drivers, "valkey", "password", *eo.ValkeyPassword)
		setDriverKey(&cfg.Cache.Drivers, "valkey", "password", *eo.ValkeyPassword)
	}
}

func overlayFlags(cfg *Config, f FlagOverrides) {
	setString(&cfg.ListenAddr, f.ListenAddr)
	setString(&cfg.Store.Driver, f.StoreDriver)
	setString(&cfg.Store.DataDir, f.StoreDataDir)
	setString(&cfg.Channel.Driver, f.ChannelDriver)
	setString(&cfg.Cache.Driver, f.CacheDriver)
	setString(&cfg.Auth.Mode, f.AuthMode)
	setString(&cfg.Logging.Level, f.LoggingLevel)
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setDriverKey(drivers *map[string]any, driver, key string, v any) {
	if *drivers == nil {
		*drivers = make(map[string]any)
	}
	sub, ok := (*drivers)[driver].(map[string]any)
	if !ok {
		sub = make(map[string]any)
		(*drivers)[driver] = sub
	}
	sub[key] = v
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	// mode is already validated by ParseMode before we get here

	switch cfg.Store.Driver {
	case "memory", "sqlite", "mirror", "postgres":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, sqlite, mirror, postgres", cfg.Store.Driver)
	}

	switch cfg.Channel.Driver {
	case "memory", "valkey":
	default:
		return fmt.Errorf("invalid channel.driver %q: must be one of memory, valkey", cfg.Channel.Driver)
	}

	switch cfg.Cache.Driver {
	case "memory", "valkey":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory, valkey", cfg.Cache.Driver)
	}

	switch cfg.Auth.Mode {
	case "off", "jwt":
	default:
		return fmt.Errorf("invalid auth.mode %q: must be one of off, jwt", cfg.Auth.Mode)
	}

	if _, err := logutil.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}

	return nil
}

// validateRequirements checks settings that depend on each other.
func validateRequirements(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite", "mirror":
		if cfg.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir is required for the %s driver", cfg.Store.Driver)
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	}
	if cfg.Store.MaxUpdateAttempts < 0 {
		return fmt.Errorf("store.max_update_attempts must not be negative")
	}

	if cfg.Auth.Mode == "jwt" && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.mode is jwt (set %sAUTH_JWT_SECRET)", EnvPrefix)
	}

	if cfg.UserDirectory.BaseURL != "" {
		u, err := url.Parse(cfg.UserDirectory.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid user_directory.base_url %q: must be an absolute http(s) URL", cfg.UserDirectory.BaseURL)
		}
	}
	if cfg.UserDirectory.RoleCacheTTLSeconds < 0 {
		return fmt.Errorf("user_directory.role_cache_ttl_seconds must not be negative")
	}

	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("invalid telemetry.sample_ratio %v: must be within [0, 1]", r)
	}

	return nil
}
