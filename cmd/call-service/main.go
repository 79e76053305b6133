package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emphealth-backend/internal/database"
	callHandler "emphealth-backend/internal/handler/http/call"
	pushHandler "emphealth-backend/internal/handler/http/push"
	wsHandler "emphealth-backend/internal/handler/ws"
	"emphealth-backend/internal/middleware"
	cassandraRepo "emphealth-backend/internal/repository/cassandra"
	"emphealth-backend/internal/repository/cockroach"
	redisRepo "emphealth-backend/internal/repository/redis"
	"emphealth-backend/internal/service/callrecord"
	"emphealth-backend/internal/service/directory"
	"emphealth-backend/internal/service/signaling"
	"emphealth-backend/pkg/config"
	"emphealth-backend/pkg/constants"
	pkgDatabase "emphealth-backend/pkg/database"
	"emphealth-backend/pkg/jwt"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
	"emphealth-backend/pkg/push"
	"emphealth-backend/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		ServiceName: cfg.Server.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal("Call service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Metrics and tracing
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	tracer, err := tracing.Init(cfg.Tracing, cfg.Server.ServiceName, cfg.Server.Environment)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	// 2. CockroachDB for call history and the user directory
	var (
		callStore callrecord.CallStore
		userStore directory.UserStore
		probes    []middleware.HealthProbe
	)
	db, err := withRetry(ctx, "CockroachDB", func() (*pkgDatabase.CockroachDB, error) {
		return pkgDatabase.NewCockroachDB(ctx, cfg.Database)
	})
	if err != nil {
		logger.Warn("Running in limited mode without call history", zap.Error(err))
	} else {
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("cockroach schema: %w", err)
		}
		callStore = cockroach.NewCallRepository(db.Pool)
		userStore = cockroach.NewUserRepository(db.Pool)
		probes = append(probes, middleware.HealthProbe{Name: "cockroach", Check: db.Ping})
	}

	// 3. Cassandra call event journal
	var journal callrecord.EventJournal
	if cfg.Cassandra.Enabled {
		cass, err := withRetry(ctx, "Cassandra", func() (*database.CassandraDB, error) {
			return database.NewCassandraDB(cfg.Cassandra)
		})
		if err != nil {
			logger.Warn("Running without call event journal", zap.Error(err))
		} else {
			defer cass.Close()
			if err := cass.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("cassandra schema: %w", err)
			}
			journal = cassandraRepo.NewCallEventRepository(cass)
		}
	}

	// 4. Redis with degraded mode support
	redisDB := database.NewRedisDB(cfg.Redis, appMetrics)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable, starting in degraded mode", zap.Error(err))
	} else {
		logger.Info("Connected to Redis")
	}
	redisDB.StartHealthCheck(ctx, constants.RedisHealthCheckInterval)
	probes = append(probes, middleware.HealthProbe{Name: "redis", Check: redisDB.HealthCheck})

	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)

	// 5. Services
	pushProvider, err := push.NewProvider(cfg.Push)
	if err != nil {
		if cfg.Server.IsProduction() {
			return fmt.Errorf("push provider: %w", err)
		}
		logger.Warn("Falling back to mock push provider", zap.Error(err))
		pushProvider = push.NewMockProvider()
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo, appMetrics)

	recordSvc := callrecord.NewService(callStore, journal, appMetrics)
	directorySvc := directory.NewService(userStore, presenceRepo, appMetrics)

	var lookup signaling.UserLookup
	if userStore != nil {
		directorySvc.EnableProfileCache(ctx, constants.ProfileCacheTTL, constants.ProfileCacheMaxSize)
		lookup = directorySvc
	}

	var jwtManager *jwt.JWTManager
	if cfg.JWT.Secret != "" {
		jwtManager = jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	} else {
		logger.Warn("JWT_SECRET not set: signaling connections are not authenticated")
	}

	// 6. Signaling controller and transport
	hub := wsHandler.NewSignalingHub(wsHandler.HubConfig{
		MaxConnections:  cfg.Signaling.MaxConnections,
		EventsPerSecond: cfg.Signaling.EventsPerSecond,
		EventBurst:      cfg.Signaling.EventBurst,
		AllowedOrigins:  cfg.Signaling.AllowedOrigins,
	}, signaling.NewIdentityResolver(lookup), jwtManager, appMetrics)

	controller := signaling.NewController(signaling.Config{
		InviteTimeout:  cfg.Signaling.InviteTimeout,
		PersistTimeout: cfg.Signaling.PersistTimeout,
		StatsInterval:  cfg.Signaling.StatsInterval,
	}, signaling.Deps{
		Sender:    hub,
		Recorder:  recordSvc,
		Directory: directorySvc,
		Notifier:  pushSvc,
		Metrics:   appMetrics,
	})
	hub.Attach(controller)

	controllerCtx, stopController := context.WithCancel(context.Background())
	defer stopController()
	controllerDone := make(chan struct{})
	go func() {
		controller.Run(controllerCtx)
		close(controllerDone)
	}()

	// 7. Router
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Tracing())
	router.Use(middleware.SecurityHeaders(cfg.Server.IsProduction()))
	router.Use(middleware.CORSMiddleware(cfg.Signaling.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())
	router.Use(middleware.HealthCheck(cfg.Server.ServiceName, probes...))

	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// Authenticated inside ServeWS; browsers pass the token as a query parameter
	router.GET("/v1/calls/ws", hub.ServeWS)

	if jwtManager != nil {
		rateLimiter := middleware.NewRateLimiter(redisDB, appMetrics, constants.APIRequestsPerMinute, time.Minute)
		rateLimiter.StartCleanup(ctx)

		v1 := router.Group("/v1")
		v1.Use(middleware.NewTimeoutMiddleware(constants.DefaultTimeout).Middleware())
		v1.Use(middleware.AuthMiddleware(jwtManager))
		v1.Use(rateLimiter.Middleware())

		callHandler.NewHandler(recordSvc, controller, directorySvc).RegisterRoutes(v1)
		pushHandler.NewHandler(pushSvc).RegisterRoutes(v1)
	} else {
		logger.Warn("REST API disabled: it requires JWT_SECRET")
	}

	// 8. Start server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment),
			zap.Duration("invite_timeout", cfg.Signaling.InviteTimeout))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// 9. Graceful shutdown: stop accepting, hand every socket back to the
	// controller, then stop the controller and wait for its pending writes
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	hub.Shutdown(shutdownCtx)

	stopController()
	<-controllerDone
	controller.Wait()

	logger.Info("Call service stopped")
	return nil
}

// withRetry connects with exponential backoff
func withRetry[T any](ctx context.Context, name string, connect func() (T, error)) (T, error) {
	const (
		maxRetries = 5
		baseDelay  = 1 * time.Second
		maxDelay   = 30 * time.Second
	)

	var (
		conn T
		err  error
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = connect()
		if err == nil {
			logger.Info("Connected", zap.String("store", name), zap.Int("attempt", attempt))
			return conn, nil
		}
		if attempt == maxRetries {
			break
		}

		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("Connection attempt failed",
			zap.String("store", name),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return conn, ctx.Err()
		case <-time.After(delay):
		}
	}
	return conn, fmt.Errorf("%s unavailable after %d attempts: %w", name, maxRetries, err)
}
