package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/infra/config"
	"github.com/voice4victims/medrecord-access/internal/infra/database"
	kafkainfra "github.com/voice4victims/medrecord-access/internal/infra/kafka"
	"github.com/voice4victims/medrecord-access/internal/infra/logger"
	redisinfra "github.com/voice4victims/medrecord-access/internal/infra/redis"
	"github.com/voice4victims/medrecord-access/internal/infra/security"
	"github.com/voice4victims/medrecord-access/internal/infra/telemetry"
	postgresrepo "github.com/voice4victims/medrecord-access/internal/repository/postgres"
	redisrepo "github.com/voice4victims/medrecord-access/internal/repository/redis"
	"github.com/voice4victims/medrecord-access/internal/transport/http/middleware"
	"github.com/voice4victims/medrecord-access/internal/transport/http/routes"
	"github.com/voice4victims/medrecord-access/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	sweeper  *usecase.RetentionSweeper
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if _, err := telemetry.Attach(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		}
	}

	if cfg.Postgres.MigrateOnStart {
		if err := database.RunMigrations(database.DSN(cfg.Postgres)); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	verifier, err := security.NewIdentityVerifier(cfg.Identity.SharedSecret, cfg.Identity.Issuer)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init identity verifier: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	var (
		producer  *kafkainfra.Producer
		events    port.SecurityEventPublisher
		incidents port.IncidentReporter
	)
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			events = kafkainfra.NewStubPublisher(log)
			incidents = kafkainfra.NewLogIncidentReporter(log)
		} else {
			events = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			incidents = kafkainfra.NewIncidentReporter(producer, cfg.RateLimit.IncidentsPerMin, cfg.RateLimit.IncidentBurstSize, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka disabled, using stub publisher")
		events = kafkainfra.NewStubPublisher(log)
		incidents = kafkainfra.NewLogIncidentReporter(log)
	}

	metrics, err := usecase.NewEngineMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init engine metrics: %w", err)
	}

	audit := usecase.NewAuditService(repos.Audit, log).WithMetrics(metrics)

	sessionCache := redisrepo.NewCacheRepository(redisClient.Client(), "medrec:session")
	confirmations := redisrepo.NewConfirmationRepository(redisClient.Client(), cfg.Redis.ConfirmationPrefix, cfg.Redis.ConfirmationTTL)

	sessions := usecase.NewSessionManager(repos.Sessions, audit, incidents, events, usecase.SessionConfig{
		MaxConcurrent:   cfg.Session.MaxConcurrent,
		StandardTTL:     cfg.Session.StandardTTL,
		ElevatedTTL:     cfg.Session.ElevatedTTL,
		ExtensionWindow: cfg.Session.ExtensionWindow,
		ReauthWindow:    cfg.Authorization.ReauthWindow,
		CacheTTL:        cfg.Redis.SessionCacheTTL,
	}, log).WithCache(sessionCache).WithMetrics(metrics)

	resolver := usecase.NewPermissionResolver(repos.ChildRecords, repos.Grants, repos.Consents, log)

	limiter := usecase.NewAccessLimiter(repos.Audit, repos.Lockouts, incidents, events, usecase.LimiterConfig{
		Window:           cfg.RateLimit.Window,
		PrincipalBudget:  cfg.RateLimit.PrincipalBudget,
		OriginBudget:     cfg.RateLimit.OriginBudget,
		LockoutThreshold: cfg.RateLimit.LockoutThreshold,
		LockoutDuration:  cfg.RateLimit.LockoutDuration,
	}, log).WithMetrics(metrics)

	flagged := make(map[string]bool, len(cfg.Restrictions.FlaggedOrigins))
	for _, origin := range cfg.Restrictions.FlaggedOrigins {
		flagged[origin] = true
	}
	restrictions := usecase.NewRestrictionSet().
		Register(usecase.BusinessHoursRestriction(cfg.Restrictions.BusinessHoursStart, cfg.Restrictions.BusinessHoursEnd, cfg.Restrictions.BusinessHoursEnforced)).
		Register(usecase.OriginReputationRestriction(flagged, cfg.Restrictions.FlaggedEnforced, security.SubnetPrefix)).
		Register(usecase.ConcurrentSessionRestriction(cfg.Restrictions.ConcurrentThreshold, cfg.Restrictions.ConcurrentEnforced))

	engine := usecase.NewAuthorizationEngine(sessions, resolver, limiter, audit, repos.ChildRecords, confirmations, restrictions, usecase.EngineConfig{
		ReauthWindow:    cfg.Authorization.ReauthWindow,
		DecisionTimeout: cfg.Authorization.DecisionTimeout,
	}, log).WithMetrics(metrics)

	grants := usecase.NewGrantManager(engine, repos.Grants, repos.Consents, audit, log)
	consents := usecase.NewConsentManager(engine, repos.Consents, audit, events, cfg.Retention.GracePeriod, log)
	sweeper := usecase.NewRetentionSweeper(repos.Grants, repos.Consents, audit, cfg.Retention.SweepInterval, log)

	rateLimitWindow := cfg.RateLimit.HTTPWindow
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "medrec:rate-limit",
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewTransportLimiter(rateLimitStore, log)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	router := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		HTTPMetrics: httpMetrics,
		Services: routes.ServiceSet{
			Engine:   engine,
			Sessions: sessions,
			Grants:   grants,
			Consents: consents,
			Audit:    audit,
		},
		Verifier:      verifier,
		Confirmations: confirmations,
		Database:      pool,
		Cache:         redisClient,
	})

	return &Application{
		cfg:      cfg,
		engine:   router,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
		sweeper:  sweeper,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.tracer.Shutdown(shutdownCtx)
		}
	}()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go a.sweeper.Run(sweepCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting access control API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
