// Command guestservice runs the guest invitation service: the HTTP API and
// the event consumer in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/rsvp"
	"github.com/MahdiBaghbani/guestservice-go/internal/components/rsvp/consumer"
	"github.com/MahdiBaghbani/guestservice-go/internal/components/rsvp/events"
	"github.com/MahdiBaghbani/guestservice-go/internal/components/userdirectory"
	"github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/cache"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/channel"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/config"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/deps"
	httpclient "github.com/MahdiBaghbani/guestservice-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/http/server"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/telemetry"

	_ "github.com/MahdiBaghbani/guestservice-go/internal/platform/cache/loader"
	_ "github.com/MahdiBaghbani/guestservice-go/internal/platform/channel/loader"
	_ "github.com/MahdiBaghbani/guestservice-go/internal/platform/store/loader"
	_ "github.com/MahdiBaghbani/guestservice-go/internal/services/loader"
)

const serviceName = "guestservice"

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	envFile := flag.String("env-file", "", "Path to a .env file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: prod or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: memory, sqlite, mirror or postgres (overrides config)")
	storeDataDir := flag.String("store-data-dir", "", "Store data directory (overrides config)")
	channelDriver := flag.String("channel-driver", "", "Channel driver: memory or valkey (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or valkey (overrides config)")
	authMode := flag.String("auth-mode", "", "Auth mode: jwt or off (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		EnvFile:    *envFile,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:    nonEmpty(listenAddr),
			StoreDriver:   nonEmpty(storeDriver),
			StoreDataDir:  nonEmpty(storeDataDir),
			ChannelDriver: nonEmpty(channelDriver),
			CacheDriver:   nonEmpty(cacheDriver),
			AuthMode:      nonEmpty(authMode),
			LoggingLevel:  nonEmpty(loggingLevel),
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := logutil.ParseLevel(cfg.Logging.Level)
	if err != nil {
		bootstrapLogger.Warn("unknown logging level, using info", "level", cfg.Logging.Level)
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	if err := run(cfg, logger); err != nil {
		logger.Error("guestservice failed", "error", err)
		os.Exit(1)
	}
	logger.Info("guestservice stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer flush(logger, "telemetry", shutdownTracing)

	repo, err := store.New(&store.DriverConfig{
		Driver:            cfg.Store.Driver,
		DataDir:           cfg.Store.DataDir,
		DSN:               cfg.Store.DSN,
		MaxUpdateAttempts: cfg.Store.MaxUpdateAttempts,
		Logger:            logger.With("component", "store"),
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer repo.Close()
	if err := repo.Init(ctx); err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	logger.Info("store ready", "driver", repo.Name())

	ch, err := channel.NewFromConfig(cfg.Channel.Driver, cfg.Channel.Drivers, logger.With("component", "channel"))
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	defer ch.Close()

	c, err := cache.NewFromConfig(cfg.Cache.Driver, cfg.Cache.Drivers, logger.With("component", "cache"))
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer c.Close()

	emitter := events.NewEmitter(ch, logger.With("component", "emitter"))
	guests := rsvp.NewService(repo, emitter, logger.With("component", "rsvp"))

	roles := userdirectory.New(userdirectory.Config{
		BaseURL:      cfg.UserDirectory.BaseURL,
		RoleCacheTTL: time.Duration(cfg.UserDirectory.RoleCacheTTLSeconds) * time.Second,
	}, httpclient.New(&httpclient.Config{
		TimeoutMS: cfg.UserDirectory.TimeoutMS,
	}), c, logger.With("component", "userdirectory"))
	if cfg.UserDirectory.BaseURL == "" {
		logger.Warn("user_directory.base_url not set, organizer endpoints will answer 403")
	}

	deps.SetDeps(&deps.Deps{
		Config: cfg,
		Guests: guests,
		Roles:  roles,
		Cache:  c,
	})

	services, err := service.Construct(service.CoreServices, cfg.BuildServiceConfig, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger, services)
	if err != nil {
		for _, svc := range services {
			_ = svc.Close()
		}
		return fmt.Errorf("server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		err := consumer.New(ch, guests, logger.With("component", "consumer")).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		timeout := time.Duration(cfg.Server.ShutdownTimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("guestservice started, press Ctrl+C to stop", "addr", cfg.ListenAddr)
	return g.Wait()
}

func flush(logger *slog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("flush failed", "component", what, "error", err)
	}
}

// nonEmpty turns an unset flag into a nil override.
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
