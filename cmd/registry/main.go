package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/emperorhan/verification-registry/internal/admin"
	"github.com/emperorhan/verification-registry/internal/alert"
	"github.com/emperorhan/verification-registry/internal/circuitbreaker"
	"github.com/emperorhan/verification-registry/internal/config"
	"github.com/emperorhan/verification-registry/internal/fingerprint"
	"github.com/emperorhan/verification-registry/internal/metrics"
	"github.com/emperorhan/verification-registry/internal/oracle"
	"github.com/emperorhan/verification-registry/internal/registry"
	"github.com/emperorhan/verification-registry/internal/retry"
	"github.com/emperorhan/verification-registry/internal/store"
	"github.com/emperorhan/verification-registry/internal/store/memory"
	"github.com/emperorhan/verification-registry/internal/store/postgres"
	redispkg "github.com/emperorhan/verification-registry/internal/store/redis"
	"github.com/emperorhan/verification-registry/internal/tracing"
)

const serviceName = "verification-registry"

// connectPolicy covers a database that is still starting up.
var connectPolicy = retry.Policy{Attempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

var newStreamFactory = func(redisURL string, maxLen int64) (streamTransport, error) {
	return redispkg.NewStream(redisURL, maxLen)
}

// streamTransport is a Redis stream that can also be health checked.
type streamTransport interface {
	redispkg.MessageTransport
	Ping(ctx context.Context) error
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// maskCredentials hides the password of a connection URL for logging.
func maskCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	alerters := []alert.Alerter{alert.NewLogAlerter(logger)}
	if cfg.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, alerters...)
}

// streamStateAlerter turns breaker transitions into operator alerts.
func streamStateAlerter(alerter alert.Alerter, streamKey string, logger *slog.Logger) func(from, to circuitbreaker.State) {
	return func(from, to circuitbreaker.State) {
		logger.Warn("event stream breaker state changed", "from", from.String(), "to", to.String())

		a := alert.Alert{
			Subject: streamKey,
			Fields:  map[string]string{"stream": streamKey, "from": from.String(), "to": to.String()},
		}
		switch to {
		case circuitbreaker.StateOpen:
			a.Type = alert.AlertTypeEventStreamDown
			a.Title = "Event stream unavailable"
			a.Message = "publishing to " + streamKey + " is failing; registry events are being dropped"
		case circuitbreaker.StateClosed:
			a.Type = alert.AlertTypeEventStreamUp
			a.Title = "Event stream recovered"
			a.Message = "publishing to " + streamKey + " has resumed"
		default:
			return
		}
		// Transitions fire under the breaker lock; send asynchronously.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := alerter.Send(ctx, a); err != nil {
				logger.Warn("failed to send stream alert", "error", err)
			}
		}()
	}
}

// buildStore returns repositories for the configured backend, plus the
// database handle when one was opened.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Repos, *postgres.DB, error) {
	if cfg.StoreBackend != config.StoreBackendPostgres {
		logger.Info("using in-memory store")
		return memory.NewRepos(), nil, nil
	}

	var db *postgres.DB
	err := retry.Do(ctx, connectPolicy, func(context.Context) error {
		var err error
		db, err = postgres.New(postgres.Config{
			URL:             cfg.DB.URL,
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			logger.Warn("database connect attempt failed", "error", err)
		}
		return err
	})
	if err != nil {
		return store.Repos{}, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.RunMigrations(ctx, cfg.DB.MigrationsDir); err != nil {
		db.Close()
		return store.Repos{}, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("connected to database", "url", maskCredentials(cfg.DB.URL))
	return postgres.NewRepos(db), db, nil
}

// cacheResults puts an LRU in front of the result repository. A native
// transactor is wrapped so transactional writes evict what they touch.
func cacheResults(repos store.Repos, cfg config.CacheConfig) (store.Repos, *store.CachedResultRepository) {
	if cfg.ResultSize <= 0 {
		return repos, nil
	}
	cached := store.NewCachedResultRepository(repos.Results, cfg.ResultSize, cfg.ResultTTL)
	repos.Results = cached
	if repos.Tx != nil {
		repos.Tx = cached.WrapTransactor(repos.Tx)
	}
	return repos, cached
}

func buildRegistry(cfg *config.Config, repos store.Repos, alerter alert.Alerter, publisher registry.EventPublisher, logger *slog.Logger) (*registry.Registry, error) {
	hasher, err := fingerprint.New(cfg.Registry.FingerprintAlgorithm)
	if err != nil {
		return nil, err
	}
	orc, err := oracle.NewRandom(cfg.Registry.OracleSuccessRate, cfg.Registry.OracleSeed)
	if err != nil {
		return nil, err
	}
	logger.Info("verification oracle configured",
		"oracle_success_rate", orc.SuccessRate(),
		"fingerprint", hasher.Name(),
	)

	opts := []registry.Option{
		registry.WithRepos(repos),
		registry.WithHasher(hasher),
		registry.WithOracle(orc),
		registry.WithLogger(logger),
		registry.WithAlerter(alerter),
		registry.WithDefaultNetwork(cfg.Registry.DefaultNetwork),
		registry.WithAPIKey(cfg.Registry.APIKey),
		registry.WithReputationAlertFloor(cfg.Registry.ReputationAlertFloor),
	}
	if publisher != nil {
		opts = append(opts, registry.WithPublisher(publisher, cfg.Redis.StreamKey))
	}
	return registry.New(opts...), nil
}

// seedContracts registers the contracts listed in the contracts file.
func seedContracts(ctx context.Context, reg *registry.Registry, path string, logger *slog.Logger) error {
	contracts, err := config.LoadContracts(path)
	if err != nil {
		return err
	}
	for _, c := range contracts {
		if err := reg.AddSmartContract(ctx, c); err != nil {
			return fmt.Errorf("register contract for %s: %w", c.Network, err)
		}
	}
	if len(contracts) > 0 {
		logger.Info("seeded smart contracts", "count", len(contracts), "file", path)
	}
	return nil
}

type cleaner interface {
	CleanupOldData(ctx context.Context, maxAge time.Duration) (registry.CleanupResult, error)
}

// runCleanupLoop purges data older than retention every interval until ctx ends.
// A failed pass is logged and retried on the next tick.
func runCleanupLoop(ctx context.Context, c cleaner, retention, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup loop stopped", "cause", "context_done")
			return nil
		case <-ticker.C:
			if _, err := c.CleanupOldData(ctx, retention); err != nil && ctx.Err() == nil {
				logger.Warn("scheduled cleanup failed", "error", err)
			}
		}
	}
}

type poolStatsReporter interface {
	ReportPoolStats()
}

type cacheStatsProvider interface {
	CacheStats() (hits, misses int64)
}

// collectRuntimeStats copies pool and cache counters into gauges. A panic in
// a provider is reported as an error.
func collectRuntimeStats(db poolStatsReporter, cache cacheStatsProvider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime stats collection panicked: %v", r)
		}
	}()
	if db != nil {
		db.ReportPoolStats()
	}
	if cache != nil {
		hits, misses := cache.CacheStats()
		metrics.ResultCacheHits.Set(float64(hits))
		metrics.ResultCacheMisses.Set(float64(misses))
	}
	return nil
}

func startRuntimeStatsPump(ctx context.Context, db poolStatsReporter, cache cacheStatsProvider, interval time.Duration, logger *slog.Logger) {
	if (db == nil && cache == nil) || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		if err := collectRuntimeStats(db, cache); err != nil {
			logger.Warn("failed to collect initial runtime stats", "error", err)
		}
		for {
			select {
			case <-ctx.Done():
				logger.Info("runtime stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				if err := collectRuntimeStats(db, cache); err != nil {
					logger.Warn("failed to collect runtime stats", "error", err)
				}
			}
		}
	}()
}

// buildHandler assembles the public mux. Middleware order, outermost first:
// rate limit, API key, audit.
func buildHandler(api http.Handler, apiKey string, limiter *admin.RateLimitMiddleware, logger *slog.Logger) http.Handler {
	var h http.Handler = admin.AuditMiddleware(logger, api)
	h = admin.APIKeyMiddleware(apiKey, logger, h)
	h = limiter.Wrap(h)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", h)
	return mux
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting verification-registry",
		"store_backend", cfg.StoreBackend,
		"default_network", cfg.Registry.DefaultNetwork,
		"retention", cfg.Registry.Retention.String(),
		"event_stream_enabled", cfg.Redis.StreamEnabled,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), serviceName, tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, db, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}
	repos, resultCache := cacheResults(repos, cfg.Cache)

	alerter := buildAlerter(cfg.Alert, logger)

	var healthChecks []admin.ServerOption
	if db != nil {
		healthChecks = append(healthChecks, admin.WithHealthCheck("postgres", db.PingContext))
	}

	var publisher registry.EventPublisher
	if cfg.Redis.StreamEnabled {
		stream, err := newStreamFactory(cfg.Redis.URL, cfg.Redis.StreamMaxLen)
		if err != nil {
			logger.Error("failed to initialize event stream", "error", err, "redis_url", maskCredentials(cfg.Redis.URL))
			os.Exit(1)
		}
		defer stream.Close()

		breaker := circuitbreaker.New(circuitbreaker.Config{
			OpenTimeout:   cfg.Redis.BreakerTimeout,
			OnStateChange: streamStateAlerter(alerter, cfg.Redis.StreamKey, logger),
		})
		publisher = redispkg.NewGuarded(stream, breaker)
		healthChecks = append(healthChecks, admin.WithHealthCheck("redis", stream.Ping))
		logger.Info("event stream enabled", "stream", cfg.Redis.StreamKey)
	}

	reg, err := buildRegistry(cfg, repos, alerter, publisher, logger)
	if err != nil {
		logger.Error("failed to build registry", "error", err)
		os.Exit(1)
	}
	if err := seedContracts(ctx, reg, cfg.Registry.ContractsFile, logger); err != nil {
		logger.Error("failed to seed smart contracts", "error", err)
		os.Exit(1)
	}

	limiter := admin.NewRateLimitMiddleware(logger, rate.Limit(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst)
	defer limiter.Stop()

	serverOpts := append([]admin.ServerOption{admin.WithDefaultRetention(cfg.Registry.Retention)}, healthChecks...)
	api := admin.NewServer(reg, logger, serverOpts...)
	handler := buildHandler(api.Handler(), reg.APIKey(), limiter, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.HTTPPort, handler, logger)
	})

	g.Go(func() error {
		return runCleanupLoop(gCtx, reg, cfg.Registry.Retention, cfg.Registry.CleanupInterval, logger)
	})

	var poolStats poolStatsReporter
	if db != nil {
		poolStats = db
	}
	var cacheStats cacheStatsProvider
	if resultCache != nil {
		cacheStats = resultCache
	}
	startRuntimeStatsPump(gCtx, poolStats, cacheStats, cfg.Server.PoolStatsInterval, logger)

	// Signal handler
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("registry exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("registry shut down gracefully")
}
