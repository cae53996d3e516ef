// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/arthahq/artha/internal/api"
	"github.com/arthahq/artha/internal/auth"
	"github.com/arthahq/artha/internal/cache"
	"github.com/arthahq/artha/internal/config"
	"github.com/arthahq/artha/internal/health"
	"github.com/arthahq/artha/internal/idempotency"
	"github.com/arthahq/artha/internal/ledger"
	"github.com/arthahq/artha/internal/middleware"
	"github.com/arthahq/artha/internal/signing"
	"github.com/arthahq/artha/internal/tracing"
)

// idempotentRoutes is the set of paths whose mutating requests require an
// Idempotency-Key.
var idempotentRoutes = map[string]bool{
	"/ledger":   true,
	"/invoices": true,
	"/expenses": true,
}

// uncachedPaths is the set of GET paths the response cache must skip.
var uncachedPaths = map[string]bool{
	"/":        true,
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// serverDeps carries the backing stores and health checkers the handler
// chain is assembled over. main wires real backends; tests substitute
// in-memory ones.
type serverDeps struct {
	repo         idempotency.Repository
	cacheStore   cache.Store
	limiter      middleware.RateLimitStore
	dbChecker    api.HealthChecker
	cacheChecker api.HealthChecker
}

// newHandler assembles the complete route table and middleware chain: the
// protection chain (auth, signing, idempotency, response cache) around the
// domain mux, public health/metrics endpoints beside it, and the outer
// observability layers around everything.
func newHandler(cfg *config.Config, logger *slog.Logger, deps serverDeps) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	metrics := middleware.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	deriver := signing.NewDeriver(cfg.SigningBaseSecret)
	ledgerStore := ledger.NewInMemoryStore()

	ledgerHandlers := api.NewLedgerHandlers(ledgerStore, deps.cacheStore, cfg.CacheTTL(), logger)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    deps.dbChecker,
		CacheChecker: deps.cacheChecker,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ledger", ledgerHandlers.CreateEntry)
	mux.HandleFunc("GET /ledger", ledgerHandlers.ListEntries)
	mux.HandleFunc("GET /ledger/summary", ledgerHandlers.Summary)
	mux.HandleFunc("GET /ledger/{id}", ledgerHandlers.GetEntry)
	mux.HandleFunc("POST /invoices", ledgerHandlers.CreateInvoice)
	mux.HandleFunc("GET /invoices", ledgerHandlers.ListInvoices)
	mux.HandleFunc("POST /expenses", ledgerHandlers.CreateExpense)
	mux.HandleFunc("GET /expenses", ledgerHandlers.ListExpenses)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"artha-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	globalLimit := middleware.DefaultGlobalLimit()
	if cfg.RateLimitPerMinute > 0 {
		globalLimit.RequestsPerWindow = cfg.RateLimitPerMinute
	}

	// Protected chain: auth establishes the principal, signing proves
	// integrity and freshness, idempotency dedupes execution, and the
	// response cache fronts reads. Order matters: signing and idempotency
	// both depend on the authenticated user ID.
	protected := middleware.Auth(jwtService)(
		middleware.RequestSigning(middleware.SigningConfig{
			Deriver:         deriver,
			Nonces:          deps.cacheStore,
			MaxTimestampAge: cfg.SigningMaxAge(),
			Logger:          logger,
			Metrics:         metrics,
		})(
			middleware.Idempotency(middleware.IdempotencyConfig{
				Repo:    deps.repo,
				Routes:  idempotentRoutes,
				Expiry:  cfg.IdempotencyExpiry(),
				Logger:  logger,
				Metrics: metrics,
			})(
				middleware.ResponseCache(middleware.CacheConfig{
					Store:   deps.cacheStore,
					Skip:    uncachedPaths,
					TTL:     cfg.CacheTTL(),
					Logger:  logger,
					Metrics: metrics,
				})(mux),
			),
		),
	)

	// Public endpoints bypass the protection chain.
	root := http.NewServeMux()
	root.HandleFunc("GET /health", healthHandlers.Health)
	root.HandleFunc("GET /ready", healthHandlers.Ready)
	root.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	root.Handle("/", protected)

	handler := middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(metrics)(
				middleware.CORS(middleware.CORSConfig{
					AllowedOrigins:   cfg.CORSOrigins(),
					AllowCredentials: true,
					MaxAge:           3600,
				})(
					middleware.RateLimiter(deps.limiter, globalLimit, middleware.UserKeyFunc())(
						middleware.Tracing("artha-api")(root),
					),
				),
			),
		),
	)

	// pprof is a development-only concern; Profiling refuses production.
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.ProfilingEnabled,
		Environment: cfg.Env,
	})(handler)

	return handler, nil
}

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Artha API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	// Tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "artha-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.SamplingRate,
		InsecureMode: !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Idempotency record store. The database is load-bearing; without it the
	// server falls back to the in-memory repository for development only.
	var repo idempotency.Repository
	var dbChecker api.HealthChecker
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err == nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
	}
	if err != nil {
		if cfg.IsProduction() {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		logger.Warn("database unavailable, using in-memory idempotency store", "error", err)
		repo = idempotency.NewInMemoryRepository()
	} else {
		repo = idempotency.NewPostgresRepository(db)
		dbChecker = health.NewDBChecker(db)
		defer db.Close()
	}

	// Cache backend. Only production connects Redis; everywhere else the
	// no-op store keeps every cache path a miss.
	var store cache.Store = cache.NewNoopStore()
	var cacheChecker api.HealthChecker
	var redisClient *redis.Client
	if cfg.IsProduction() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		store = cache.NewRedisStore(redisClient)
		cacheChecker = health.NewRedisChecker(redisClient)
		defer redisClient.Close()
	}

	// Rate limit state: shared via Redis in production, per-instance in
	// development.
	var limiter middleware.RateLimitStore = middleware.NewInMemoryRateLimitStore()
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimitStore(redisClient)
	}

	handler, err := newHandler(cfg, logger, serverDeps{
		repo:         repo,
		cacheStore:   store,
		limiter:      limiter,
		dbChecker:    dbChecker,
		cacheChecker: cacheChecker,
	})
	if err != nil {
		logger.Error("failed to assemble handler", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background reaper for expired idempotency records.
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go idempotency.RunPeriodicCleanup(reaperCtx, repo, idempotency.DefaultCleanupInterval)

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopReaper()

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracer provider", "error", err)
	}

	logger.Info("server stopped")
}
