package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shiftserve/opscache/internal/cachestore"
	"github.com/shiftserve/opscache/internal/connectivity"
	"github.com/shiftserve/opscache/internal/engine"
	"github.com/shiftserve/opscache/internal/httpapi"
	"github.com/shiftserve/opscache/internal/lifecycle"
	"github.com/shiftserve/opscache/internal/notify"
	"github.com/shiftserve/opscache/internal/syncqueue"
	"github.com/shiftserve/opscache/internal/telemetry"
)

func main() {
	addr := envOrDefault("OPSCACHE_ADDR", "127.0.0.1:8090")
	backendURL := strings.TrimSpace(os.Getenv("OPSCACHE_BACKEND_URL"))
	if backendURL == "" {
		log.Fatalf("OPSCACHE_BACKEND_URL is required")
	}
	configPath := strings.TrimSpace(os.Getenv("OPSCACHE_CONFIG_FILE"))

	cfg, err := lifecycle.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, taskStore, err := buildStorageBackendsFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize storage backends: %v", err)
	}
	defer store.Close()

	hub := notify.NewHub(log.Default())
	defer hub.Close()

	aggregator := telemetry.NewWithOptions(telemetry.Options{
		Interval: secondsOr(cfg.TelemetryIntervalSeconds, durationEnv("OPSCACHE_TELEMETRY_INTERVAL", time.Minute)),
	})
	aggregator.Reset()
	aggregator.Subscribe(func(snapshot telemetry.Snapshot) {
		hub.Publish("telemetry.snapshot", snapshot)
	})

	queue, err := syncqueue.New(syncqueue.Options{
		Store: taskStore,
		Replayer: syncqueue.NewHTTPReplayClient(syncqueue.ReplayClientOptions{
			BaseURL:       backendURL,
			TokenProvider: tokenProviderFromEnv(),
			UserAgent:     "opscache-agent",
		}),
		MaxAttempts: intOr(cfg.MaxReplayAttempts, intEnv("OPSCACHE_MAX_REPLAY_ATTEMPTS", 0)),
		BackoffBase: secondsOr(cfg.ReplayBackoffBaseSeconds, durationEnv("OPSCACHE_REPLAY_BACKOFF_BASE", 0)),
		BackoffCap:  secondsOr(cfg.ReplayBackoffCapSeconds, durationEnv("OPSCACHE_REPLAY_BACKOFF_CAP", 0)),
		Recorder:    aggregator,
	})
	if err != nil {
		log.Fatalf("failed to open sync queue: %v", err)
	}
	defer queue.Close()

	classifier, err := engine.NewClassifier(backendURL)
	if err != nil {
		log.Fatalf("invalid backend URL: %v", err)
	}
	transport := engine.NewTransport(engine.Options{
		Store:          store,
		Classifier:     classifier,
		Fallback:       engine.NewFallback(store),
		Queue:          queue,
		Telemetry:      aggregator,
		NetworkTimeout: millisOr(cfg.NetworkTimeoutMillis, durationEnv("OPSCACHE_NETWORK_TIMEOUT", 0)),
	})
	defer transport.Close()

	manager, err := lifecycle.NewManager(lifecycle.Options{
		Store:         store,
		BaseURL:       backendURL,
		SeedTimeout:   secondsOr(cfg.SeedTimeoutSeconds, durationEnv("OPSCACHE_SEED_TIMEOUT", 0)),
		SweepInterval: secondsOr(cfg.SweepIntervalSeconds, durationEnv("OPSCACHE_SWEEP_INTERVAL", 0)),
		Events:        hub.Publish,
	})
	if err != nil {
		log.Fatalf("failed to build lifecycle manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Install(ctx); err != nil {
		log.Fatalf("install failed: %v", err)
	}

	monitor := connectivity.NewMonitor(connectivity.Options{
		ProbeURL: strings.TrimRight(backendURL, "/") + "/health",
		Interval: secondsOr(cfg.ConnectivityProbeSeconds, durationEnv("OPSCACHE_PROBE_INTERVAL", 0)),
	})
	monitor.OnChange(func(online bool) {
		hub.Publish("connectivity", map[string]bool{"online": online})
		if !online {
			return
		}
		go func() {
			if _, err := queue.Drain(ctx); err != nil {
				log.Printf("drain on reconnect: %v", err)
			}
			manager.Seed(ctx)
		}()
	})

	go aggregator.Run(ctx)
	go manager.Run(ctx)
	go monitor.Run(ctx)
	if configPath != "" {
		go func() {
			err := lifecycle.WatchFile(ctx, configPath, log.Default(), func() {
				hub.Publish("config.changed", map[string]string{"path": configPath})
				manager.Seed(ctx)
			})
			if err != nil {
				log.Printf("config watch failed: %v", err)
			}
		}()
	}

	server := httpapi.NewServer(httpapi.Dependencies{
		Store:       store,
		Queue:       queue,
		Telemetry:   aggregator,
		Hub:         hub,
		Monitor:     monitor,
		ProxyClient: &http.Client{Transport: transport},
	}, httpapi.ServerConfig{
		BackendBaseURL: backendURL,
		MaxBodyBytes:   int64Env("OPSCACHE_MAX_BODY_BYTES", 0),
	})

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		log.Printf("opscache-agent listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	log.Printf("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func buildStorageBackendsFromEnv() (cachestore.Store, syncqueue.TaskStore, error) {
	profileCacheDSN, profileQueueDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, nil, err
	}
	cacheDSN := strings.TrimSpace(os.Getenv("OPSCACHE_CACHE_DSN"))
	if cacheDSN == "" {
		cacheDSN = profileCacheDSN
	}
	queueDSN := strings.TrimSpace(os.Getenv("OPSCACHE_QUEUE_DSN"))
	if queueDSN == "" {
		queueDSN = profileQueueDSN
	}
	store, err := cachestore.BuildStoreFromDSN(cacheDSN)
	if err != nil {
		return nil, nil, err
	}
	taskStore, err := syncqueue.BuildTaskStoreFromDSN(queueDSN)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, taskStore, nil
}

func storageProfileDefaultsFromEnv() (cacheDSN, queueDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("OPSCACHE_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("OPSCACHE_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".opscache"
	}
	switch profile {
	case "", "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "cache"),
			"file://" + filepath.Join(dataDir, "sync-queue.json"),
			nil
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("OPSCACHE_POSTGRES_DSN"))
		if dsn == "" {
			return "", "", fmt.Errorf("OPSCACHE_POSTGRES_DSN is required when OPSCACHE_BACKEND_PROFILE=%s", profile)
		}
		return dsn, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported OPSCACHE_BACKEND_PROFILE: %s", profile)
	}
}

func tokenProviderFromEnv() syncqueue.AccessTokenProvider {
	token := strings.TrimSpace(os.Getenv("OPSCACHE_BACKEND_TOKEN"))
	if token == "" {
		return nil
	}
	return func(context.Context) (string, error) { return token, nil }
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

// secondsOr prefers the config-file value (in seconds) over the env/default.
func secondsOr(configSeconds int, fallback time.Duration) time.Duration {
	if configSeconds > 0 {
		return time.Duration(configSeconds) * time.Second
	}
	return fallback
}

func millisOr(configMillis int, fallback time.Duration) time.Duration {
	if configMillis > 0 {
		return time.Duration(configMillis) * time.Millisecond
	}
	return fallback
}

func intOr(configValue, fallback int) int {
	if configValue > 0 {
		return configValue
	}
	return fallback
}
