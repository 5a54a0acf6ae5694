package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	traceapp "github.com/palmtrace/backend/internal/application/traceability"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/palmtrace/backend/internal/infrastructure/cache"
	"github.com/palmtrace/backend/internal/infrastructure/config"
	"github.com/palmtrace/backend/internal/infrastructure/event"
	"github.com/palmtrace/backend/internal/infrastructure/lock"
	"github.com/palmtrace/backend/internal/infrastructure/logger"
	"github.com/palmtrace/backend/internal/infrastructure/telemetry"
	"github.com/palmtrace/backend/internal/interfaces/http/handler"
	"github.com/palmtrace/backend/internal/interfaces/http/middleware"
	"github.com/palmtrace/backend/internal/interfaces/http/router"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	telemetry.ServiceVersion = version

	ctx := context.Background()

	// Bootstrap logger, used until log export is configured
	logCfg := &logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize log export", zap.Error(err))
	}

	log, err := logger.New(logCfg, logProvider.ZapCore(logger.ParseLevel(cfg.Log.Level)))
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting palmtrace",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	// Storage
	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}
	defer func() {
		if err := repos.close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Storage ready", zap.String("driver", cfg.Database.Driver))

	// Score cache and locks
	scoreCache, redisClient, err := cache.NewFactory(cfg.Redis, cache.WithLogger(log)).CreateCache()
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	if redisClient != nil {
		defer func() {
			_ = redisClient.Close()
		}()
	}
	locker := newLocker(cfg, redisClient, log)

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Domain and application services
	batchLedger := ledger.NewBatchLedger(repos.batches, repos.companies, locker)
	graph := traceability.NewPOGraph(repos.orders)
	engine := traceability.NewPropagationEngine(graph, batchLedger, repos.companies)
	detector := traceability.NewGapDetector(repos.gaps)

	recalc := traceapp.NewRecalculator(engine, detector, repos.orders, scoreCache, locker,
		traceapp.RecalculatorConfig{
			CacheTTL: cfg.Traceability.CacheTTL,
			Workers:  cfg.Traceability.Workers,
		}, log)
	recalc.SetEventPublisher(eventBus)

	service := traceapp.NewTraceabilityService(repos.companies, repos.orders, batchLedger, graph, detector, recalc, locker, log)
	service.SetEventPublisher(eventBus)

	metrics, err := telemetry.NewTraceabilityMetrics(meterProvider.Meter("palmtrace/traceability"))
	if err != nil {
		log.Warn("Traceability metrics disabled", zap.Error(err))
	} else {
		recalc.SetMetrics(metrics)
		service.SetMetrics(metrics)
		metricsHandler := traceapp.NewMetricsEventHandler(metrics, log)
		eventBus.Subscribe(metricsHandler, metricsHandler.EventTypes()...)
	}

	// Gin engine
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	ginEngine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := ginEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	} else {
		_ = ginEngine.SetTrustedProxies(nil)
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	corsCfg.AllowMethods = cfg.HTTP.CORSAllowMethods
	corsCfg.AllowHeaders = cfg.HTTP.CORSAllowHeaders

	ginEngine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tracerProvider.IsEnabled(),
		}),
		middleware.CompanyContext(),
		middleware.SpanAttributes(),
		logger.GinMiddleware(log),
		middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			MeterProvider: meterProvider,
			Logger:        log,
			Enabled:       meterProvider.IsEnabled(),
		}),
		middleware.Secure(),
		middleware.CORSWithConfig(corsCfg),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	ginEngine.GET("/health", healthHandler(repos))

	// Company-wide recalculation walks whole subgraphs, so it gets its own budget
	recalcLimiter := middleware.NewRateLimiter(cfg.Traceability.RecalcRateLimit, time.Minute)
	defer recalcLimiter.Stop()

	r := router.NewRouter(ginEngine, router.WithAPIVersion("v1"))
	for _, group := range handler.TraceabilityRoutes(handler.NewTraceabilityHandler(service)) {
		if group.Name() == "transparency" {
			group.Use(middleware.RateLimit(recalcLimiter))
		}
		r.Register(group)
	}
	r.Register(handler.SystemRoutes(handler.NewSystemHandler(cfg.App.Name, version)))
	r.Setup()

	for _, route := range ginEngine.Routes() {
		log.Debug("Route registered", zap.String("method", route.Method), zap.String("path", route.Path))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        ginEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not drain", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := logProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Log provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newLocker picks the lock backend. Redis locks need the shared client;
// without one the process falls back to local locks.
func newLocker(cfg *config.Config, client *redis.Client, log *zap.Logger) shared.Locker {
	if cfg.Traceability.LockBackend == config.LockBackendRedis {
		if client != nil {
			log.Info("Using Redis locks")
			return lock.NewRedisLocker(client, cfg.Traceability.LockTimeout,
				lock.WithLockLogger(log),
				lock.WithLease(cfg.Traceability.LockTimeout*2),
			)
		}
		log.Warn("Redis unavailable, falling back to in-process locks")
	}
	return lock.NewKeyedMutex(cfg.Traceability.LockTimeout)
}

// healthHandler returns a handler for health check endpoints
func healthHandler(repos *repositories) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repos.ping(ctx); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
