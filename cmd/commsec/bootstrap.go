package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"commsec-trader/internal/client"
	"commsec-trader/internal/client/clientobs"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/metrics"
	"commsec-trader/internal/secretstore"
	"commsec-trader/internal/store"
	"commsec-trader/internal/trace"
	"commsec-trader/internal/tradelog"
	"commsec-trader/internal/types"
)

var version = "dev"

// initializeSystem loads .env and sets up logging and tracing. Logs go to
// stderr so stdout carries only command output.
func initializeSystem() error {
	_ = godotenv.Load()

	cfg := logger.LoadConfigFromEnv()
	cfg.Output = os.Stderr
	if err := logger.InitWithConfig(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(version); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func shutdownSystem() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = trace.Shutdown(ctx)
	_ = logger.Shutdown()
}

// loadConfig reads the config file; a missing default file falls back to
// built-in defaults.
func loadConfig(ctx context.Context, path string, explicit bool) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		logger.Info(ctx, "No config file, using defaults", "path", path)
		return store.Default(), nil
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// credentialsFromEnv reads the login secrets; they are never kept in config.
func credentialsFromEnv() types.Credentials {
	return types.Credentials{
		ClientID:        os.Getenv("COMMSEC_CLIENT_ID"),
		Password:        os.Getenv("COMMSEC_PASSWORD"),
		TradingPassword: os.Getenv("COMMSEC_TRADING_PASSWORD"),
		DeviceID:        os.Getenv("COMMSEC_DEVICE_ID"),
		LoginType:       os.Getenv("COMMSEC_LOGIN_TYPE"),
	}
}

// openSecretStore opens the device id store when a path is configured.
func openSecretStore(ctx context.Context, cfg *store.Config) (*secretstore.Store, error) {
	if cfg.SecretStore.Path == "" {
		return nil, nil
	}
	key, err := secretstore.ParseKey(os.Getenv(cfg.SecretStore.KeyEnv))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.SecretStore.KeyEnv, err)
	}
	if key == nil {
		logger.Warn(ctx, "Secret store is not encrypted", "path", cfg.SecretStore.Path, "key_env", cfg.SecretStore.KeyEnv)
	}
	return secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretStore.Path, EncryptionKey: key})
}

// compressOldLogs gzips journal files past the configured retention
func compressOldLogs(ctx context.Context, j *tradelog.Journal, retentionDays int) {
	if err := j.CompressOlder(retentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old journal files", "error", err)
	}
}

// initializeClient builds the client for the configured backend with
// observability
func initializeClient(ctx context.Context, cfg *store.Config, ss *secretstore.Store, m *metrics.Metrics) (interfaces.Client, error) {
	journal := tradelog.New(cfg.TradeLog.Dir)
	compressOldLogs(ctx, journal, cfg.TradeLog.RetentionDays)

	opts := []client.Option{client.WithMetrics(m), client.WithJournal(journal)}
	if ss != nil {
		opts = append(opts, client.WithArtifactStore(ss))
	}
	c, err := client.New(cfg, credentialsFromEnv(), opts...)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Client ready", "backend", c.Backend(), "max_attempts", cfg.Retry.MaxAttempts)
	return clientobs.Wrap(c), nil
}

// serveMetrics exposes /metrics until the returned stop func is called.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr(ctx, "Metrics server failed", err, "addr", addr)
		}
	}()
	logger.Info(ctx, "Serving metrics", "addr", addr)
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
}
