package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func ptr(s string) *string { return &s }

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Mode
		wantErr bool
	}{
		{"prod", "prod", ModeProd, false},
		{"dev", "dev", ModeDev, false},
		{"empty defaults to prod", "", ModeProd, false},
		{"uppercase", "DEV", ModeDev, false},
		{"whitespace", "  prod  ", ModeProd, false},
		{"invalid", "staging", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoad_ProdRequiresJWTSecret(t *testing.T) {
	_, err := Load(LoaderOptions{Environ: map[string]string{}})
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}

	cfg, err := Load(LoaderOptions{Environ: map[string]string{"GUEST_AUTH_JWT_SECRET": "s3cret"}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "prod" || cfg.Auth.Mode != "jwt" || cfg.Channel.Driver != "valkey" {
		t.Errorf("unexpected prod defaults: %+v", cfg)
	}
}

func TestLoad_DevDefaults(t *testing.T) {
	cfg, err := Load(LoaderOptions{ModeFlag: "dev", Environ: map[string]string{}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Mode != "off" {
		t.Errorf("expected auth off in dev, got %s", cfg.Auth.Mode)
	}
	if cfg.Channel.Driver != "memory" || cfg.Cache.Driver != "memory" {
		t.Errorf("expected in-process drivers in dev, got %s/%s", cfg.Channel.Driver, cfg.Cache.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging in dev, got %s", cfg.Logging.Level)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DataDir == "" {
		t.Errorf("unexpected store defaults %+v", cfg.Store)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "guests.toml", `
mode = "dev"
listen_addr = ":7000"

[store]
driver = "memory"

[logging]
level = "warn"
`)

	cfg, err := Load(LoaderOptions{
		ConfigPath: path,
		Environ: map[string]string{
			"GUEST_LISTEN_ADDR":   ":7100",
			"GUEST_LOGGING_LEVEL": "error",
		},
		FlagOverrides: FlagOverrides{ListenAddr: ptr(":7200")},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "dev" {
		t.Errorf("mode from file: got %s", cfg.Mode)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("file should override preset: got %s", cfg.Store.Driver)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("env should override file: got %s", cfg.Logging.Level)
	}
	if cfg.ListenAddr != ":7200" {
		t.Errorf("flag should override env: got %s", cfg.ListenAddr)
	}
}

func TestLoad_ModePrecedence(t *testing.T) {
	path := writeFile(t, "guests.toml", `mode = "dev"`)

	cfg, err := Load(LoaderOptions{
		ConfigPath: path,
		Environ:    map[string]string{"GUEST_MODE": "prod", "GUEST_AUTH_JWT_SECRET": "x"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "prod" {
		t.Errorf("env mode should beat file mode, got %s", cfg.Mode)
	}

	cfg, err = Load(LoaderOptions{
		ConfigPath: path,
		ModeFlag:   "dev",
		Environ:    map[string]string{"GUEST_MODE": "prod"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "dev" {
		t.Errorf("flag mode should beat env mode, got %s", cfg.Mode)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "GUEST_AUTH_JWT_SECRET=from-file\nGUEST_LOGGING_LEVEL=debug\n")

	cfg, err := Load(LoaderOptions{
		EnvFile: envFile,
		Environ: map[string]string{"GUEST_LOGGING_LEVEL": "warn"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-file" {
		t.Errorf("expected secret from env file, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("process env should beat env file, got %s", cfg.Logging.Level)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := Load(LoaderOptions{ConfigPath: missing, Environ: map[string]string{}}); err == nil {
		t.Error("expected error for missing config file")
	}
	if _, err := Load(LoaderOptions{ModeFlag: "dev", EnvFile: missing, Environ: map[string]string{}}); err == nil {
		t.Error("expected error for missing env file")
	}
}

func TestLoad_DriverSubTables(t *testing.T) {
	path := writeFile(t, "guests.toml", `
mode = "dev"

[channel]
driver = "valkey"

[channel.drivers.valkey]
addr = "valkey.internal:6379"
group = "guests"
count = 32

[cache.drivers.memory]
default_ttl_seconds = 30
`)

	cfg, err := Load(LoaderOptions{
		ConfigPath: path,
		Environ:    map[string]string{"GUEST_VALKEY_ADDR": "10.0.0.5:6379"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ch, ok := cfg.Channel.Drivers["valkey"].(map[string]any)
	if !ok {
		t.Fatalf("expected channel valkey sub-table, got %#v", cfg.Channel.Drivers)
	}
	if ch["addr"] != "10.0.0.5:6379" {
		t.Errorf("GUEST_VALKEY_ADDR should override addr, got %v", ch["addr"])
	}
	if ch["group"] != "guests" {
		t.Errorf("file keys must survive env overlay, got %v", ch["group"])
	}

	cv, ok := cfg.Cache.Drivers["valkey"].(map[string]any)
	if !ok || cv["addr"] != "10.0.0.5:6379" {
		t.Errorf("expected cache valkey addr from env, got %#v", cfg.Cache.Drivers)
	}
	if _, ok := cfg.Cache.Drivers["memory"].(map[string]any); !ok {
		t.Errorf("expected cache memory sub-table, got %#v", cfg.Cache.Drivers)
	}
}

func TestLoad_UndecodedKeysWarn(t *testing.T) {
	path := writeFile(t, "guests.toml", `
mode = "dev"
listen_adr = ":1"
`)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if _, err := Load(LoaderOptions{ConfigPath: path, Environ: map[string]string{}, Logger: logger}); err != nil {
		t.Fatalf("undecoded keys must not fail the load: %v", err)
	}
	if !strings.Contains(buf.String(), "undecoded keys") || !strings.Contains(buf.String(), "listen_adr") {
		t.Errorf("expected warning naming the key, got %q", buf.String())
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		wantErr string
	}{
		{"store driver", map[string]string{"GUEST_STORE_DRIVER": "mongo"}, "store.driver"},
		{"postgres needs dsn", map[string]string{"GUEST_STORE_DRIVER": "postgres"}, "store.dsn"},
		{"channel driver", map[string]string{"GUEST_CHANNEL_DRIVER": "kafka"}, "channel.driver"},
		{"cache driver", map[string]string{"GUEST_CACHE_DRIVER": "redis"}, "cache.driver"},
		{"auth mode", map[string]string{"GUEST_AUTH_MODE": "basic"}, "auth.mode"},
		{"log level", map[string]string{"GUEST_LOGGING_LEVEL": "loud"}, "logging.level"},
		{"directory url", map[string]string{"GUEST_USER_DIRECTORY_BASE_URL": "auth:8080"}, "user_directory.base_url"},
		{"sample ratio", map[string]string{"GUEST_TELEMETRY_SAMPLE_RATIO": "1.5"}, "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(LoaderOptions{ModeFlag: "dev", Environ: tt.environ})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRedacted_HidesSecrets(t *testing.T) {
	cfg := DevConfig()
	cfg.Auth.JWTSecret = "jwt-secret-value"
	cfg.Store.DSN = "postgres://guest:pg-secret@db/guests"
	cfg.Channel.Drivers = map[string]any{
		"valkey": map[string]any{"addr": "valkey:6379", "password": "vk-secret"},
	}

	out := cfg.Redacted()
	for _, secret := range []string{"jwt-secret-value", "pg-secret", "vk-secret"} {
		if strings.Contains(out, secret) {
			t.Errorf("Redacted() leaks %q:\n%s", secret, out)
		}
	}
	if !strings.Contains(out, "valkey:6379") {
		t.Errorf("non-secret driver values should be shown:\n%s", out)
	}
}

func TestBuildServiceConfig_ReturnsCopy(t *testing.T) {
	cfg := DevConfig()
	cfg.HTTP.Services = map[string]map[string]any{
		"guests": {"organizer_roles": []any{"ORG_ADMIN"}},
	}

	got := cfg.BuildServiceConfig("guests")
	got["extra"] = true
	if _, ok := cfg.HTTP.Services["guests"]["extra"]; ok {
		t.Error("BuildServiceConfig must return a copy")
	}
	if cfg.BuildServiceConfig("missing") != nil {
		t.Error("expected nil for unconfigured service")
	}
}
