// Package main is the entry point for the telemetry gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/optiwave/telemetry-gateway/internal/apikey"
	"github.com/optiwave/telemetry-gateway/internal/auth"
	"github.com/optiwave/telemetry-gateway/internal/config"
	"github.com/optiwave/telemetry-gateway/internal/health"
	"github.com/optiwave/telemetry-gateway/internal/observability"
	"github.com/optiwave/telemetry-gateway/internal/querycache"
	"github.com/optiwave/telemetry-gateway/internal/ratelimit"
	rlstore "github.com/optiwave/telemetry-gateway/internal/ratelimit/store"
	"github.com/optiwave/telemetry-gateway/internal/rowstore"
	"github.com/optiwave/telemetry-gateway/internal/server"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const metricsNamespace = "telemetrygw"

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", ""),
		"Path to configuration file (empty uses built-in defaults)")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("telemetry-gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting telemetry-gateway",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			logger.Fatal("failed to load configuration", observability.Error(err))
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("addr", cfg.Server.Addr),
		observability.String("redis", cfg.Redis.Addr),
		observability.Bool("rate_limit", cfg.RateLimit.Enabled),
		observability.Bool("response_cache", cfg.Cache.Enabled),
	)

	return cfg
}

// application holds all application components.
type application struct {
	server *server.Server
	tracer *observability.Tracer
	redis  *redis.Client
	rows   rowstore.Store
	config *config.Config
}

// initApplication wires the Redis-backed stores, the key manager, the
// authenticator, the limiters, and the HTTP server.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	tracer := initTracer(cfg, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout.Duration(),
		ReadTimeout:  cfg.Redis.ReadTimeout.Duration(),
		WriteTimeout: cfg.Redis.WriteTimeout.Duration(),
	})

	// The key store wraps Redis in a circuit breaker; lookups fail closed
	// when the store is unhealthy.
	keyStore := apikey.NewBreakerStore(
		apikey.NewRedisStore(redisClient, cfg.Redis.KeyPrefix,
			apikey.WithRedisStoreLogger(logger)),
		apikey.WithBreakerStoreLogger(logger),
	)
	keys := apikey.NewManager(keyStore,
		apikey.WithManagerLogger(logger),
		apikey.WithManagerMetrics(apikey.NewMetrics(metricsNamespace)),
	)

	authenticator := auth.NewAuthenticator(keys,
		auth.WithLogger(logger),
		auth.WithMetrics(auth.NewMetrics(metricsNamespace)),
		auth.WithCache(auth.NewCache(cfg.Auth.CacheTTL.Duration())),
		auth.WithStoreTimeout(cfg.Auth.StoreTimeout.Duration()),
	)

	// The limiter shares the Redis connection but fails open.
	limiterMetrics := ratelimit.NewMetrics(metricsNamespace)
	limiter := ratelimit.NewLimiter(
		rlstore.NewRedisStore(redisClient, cfg.Redis.KeyPrefix,
			rlstore.WithRedisLogger(logger)),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(limiterMetrics),
	)

	var localLimiter *ratelimit.LocalLimiter
	if cfg.RateLimit.LocalRPS > 0 {
		localLimiter = ratelimit.NewLocalLimiter(
			float64(cfg.RateLimit.LocalRPS), cfg.RateLimit.LocalBurst,
			ratelimit.WithLocalMetrics(limiterMetrics),
		)
	}

	queryCache := querycache.New(
		querycache.WithLogger(logger),
		querycache.WithMetrics(querycache.NewMetrics(metricsNamespace)),
		querycache.WithMaxEntries(cfg.Cache.MaxEntries),
	)

	rows := rowstore.NewMemoryStore()

	checker := health.NewChecker(version)
	checker.Register("redis", health.RedisCheck(redisClient))

	srv, err := server.New(server.Options{
		Config:        cfg,
		Logger:        logger,
		Keys:          keys,
		Authenticator: authenticator,
		Limiter:       limiter,
		LocalLimiter:  localLimiter,
		QueryCache:    queryCache,
		Rows:          rows,
		Health:        checker,
	})
	if err != nil {
		logger.Fatal("failed to create server", observability.Error(err))
	}

	return &application{
		server: srv,
		tracer: tracer,
		redis:  redisClient,
		rows:   rows,
		config: cfg,
	}
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "telemetry-gateway",
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}
	return tracer
}

// run starts the server and blocks until a shutdown signal or a listener
// failure.
func run(app *application, configPath string, logger observability.Logger) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start()
	}()

	watcher := startConfigWatcher(configPath, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", observability.Error(err))
		}
	}

	shutdown(app, watcher, logger)
}

// startConfigWatcher watches the config file for changes. Most settings are
// bound at startup, so a change only logs a restart reminder.
func startConfigWatcher(configPath string, logger observability.Logger) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Warn("configuration file changed on disk, restart to apply")
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}
	return watcher
}

// shutdown drains in-flight requests and releases resources.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(),
		app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Shutdown(ctx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if err := app.rows.Close(); err != nil {
		logger.Error("failed to close row store", observability.Error(err))
	}

	if err := app.redis.Close(); err != nil {
		logger.Error("failed to close redis client", observability.Error(err))
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("telemetry gateway stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
