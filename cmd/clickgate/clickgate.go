package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"clickgate/internal/api"
	"clickgate/internal/config"
	"clickgate/internal/gate"
	"clickgate/internal/logger"
	"clickgate/internal/models"
	"clickgate/internal/observability"
	"clickgate/internal/ratelimit"
	"clickgate/internal/storage"
	"clickgate/internal/turnstile"
	"clickgate/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	envFile      = flag.String("env-file", "", "Path to a dotenv file (defaults to ./.env when present)")
	writeExample = flag.String("write-example", "", "Write an example configuration file to this path and exit")
	printVersion = flag.Bool("version", false, "Print version information and exit")
)

const restoreBudget = 30 * time.Second

func main() {
	flag.Parse()

	if *printVersion {
		fmt.Println(version.GetInfo())
		return
	}

	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("clickgate exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(*configFile, envFiles...)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ver := version.GetInfo()

	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	if cfg.Turnstile.SecretKey == "" {
		slog.Warn("Turnstile secret is not set; every captcha verification will fail")
	}

	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close storage", "error", err)
		}
	}()

	limiter := ratelimit.NewRouter(store, cfg.RateLimit,
		ratelimit.WithLogger(log),
		ratelimit.WithMeterProvider(otelProvider.MeterProvider()),
	)
	defer limiter.Close()

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), restoreBudget)
	restored, err := limiter.Restore(restoreCtx)
	cancelRestore()
	if err != nil {
		return fmt.Errorf("restore pending wakes: %w", err)
	}
	slog.Info("Restored pending rate limit wakes", "count", restored)

	gateService := gate.NewService(limiter, turnstile.NewClient(cfg.Turnstile), store, cfg.Gate.CounterName)

	handlers := api.NewHandlers(gateService,
		api.WithStorage(store),
		api.WithClientIP(cfg.Gate.ClientIPHeaders, cfg.Gate.TrustRemoteAddr),
		api.WithVersion(ver.Version),
	)

	var routeOpts []api.RouteOption
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "tls", cfg.Server.TLSEnabled, "storage", cfg.Storage.Type)
		if cfg.Server.TLSEnabled {
			serveErr <- server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
			return
		}
		serveErr <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// openStorage creates the configured backend and wraps it with tracing and
// metrics when either is enabled.
func openStorage(cfg *models.Config) (storage.Storage, error) {
	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	if !cfg.Metrics.Enabled && !cfg.Observability.Tracing.Enabled {
		return store, nil
	}

	instrumented, err := observability.NewInstrumentedStorage(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("instrument storage: %w", err)
	}
	return instrumented, nil
}
