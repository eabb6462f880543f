package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"abuseflow/internal/admin"
	"abuseflow/internal/analysis"
	"abuseflow/internal/archive"
	"abuseflow/internal/broadcast"
	"abuseflow/internal/config"
	"abuseflow/internal/constants"
	"abuseflow/internal/dedup"
	"abuseflow/internal/ingest"
	"abuseflow/internal/logger"
	"abuseflow/internal/mailbox"
	"abuseflow/internal/notify"
	"abuseflow/internal/ticket"
	"abuseflow/pkg/bootstrap"
	"abuseflow/pkg/circuitbreaker"
	"abuseflow/pkg/health"
	"abuseflow/pkg/metrics"
	"abuseflow/pkg/middleware"
	"abuseflow/pkg/migrations"
	"abuseflow/pkg/ratelimit"
	"abuseflow/pkg/tracing"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	redis       *redis.Client
	mongoClient *mongo.Client

	source      mailbox.Source
	broadcaster *broadcast.Broadcaster
	messaging   *notify.MessagingChannel
	poller      *ingest.Poller

	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "monitor-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register()

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.config.Database.RunMigrations {
		if err := migrations.RunPostgres(db); err != nil {
			return err
		}
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	if a.config.Database.MongoDB.URI != "" {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		mongoClient, err := a.dbConnector.InitMongoDB(initCtx)
		if err != nil {
			a.logger.WarnwCtx(initCtx, "MongoDB connection failed, archive disabled", "error", err)
		} else if mongoClient != nil {
			a.mongoClient = mongoClient
			mongoDB := mongoClient.Database(a.config.Database.MongoDB.Database)
			if err := migrations.EnsureArchiveIndexes(initCtx, mongoDB, a.config.Database.MongoDB.Collection); err != nil {
				a.logger.WarnwCtx(initCtx, "Failed to create archive indexes", "error", err)
			}
		}
	}

	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	a.source = mailbox.NewIMAPSource(a.config.Mailbox, a.logger)
	parser := mailbox.NewParser()

	filter, err := mailbox.NewFilter(a.config.Mailbox.AllowedSenders, a.config.Mailbox.FilterExpr)
	if err != nil {
		return err
	}

	var archiveRepo archive.Repository = archive.NopRepository{}
	if a.mongoClient != nil {
		archiveRepo = archive.NewRepository(a.mongoClient, a.config.Database.MongoDB)
	}

	ledger := dedup.NewLedger(dedup.NewRepository(a.redis), a.config.Deduplication, a.logger)
	tickets := ticket.NewStore(ticket.NewRepository(a.db), a.logger)

	breakerCfg := circuitbreaker.DefaultConfig("analysis")
	if a.config.CircuitBreaker.Enabled {
		breakerCfg = circuitbreaker.Config{
			Name:         "analysis",
			MaxRequests:  a.config.CircuitBreaker.MaxRequests,
			Interval:     a.config.CircuitBreaker.Interval,
			Timeout:      a.config.CircuitBreaker.Timeout,
			FailureRatio: a.config.CircuitBreaker.FailureRatio,
			MinRequests:  a.config.CircuitBreaker.MinRequests,
		}
	}
	analyzer := analysis.NewDispatcher(
		analysis.NewClient(a.config.Analysis),
		a.config.Analysis,
		circuitbreaker.NewWrapper(breakerCfg),
		a.logger,
	)

	a.broadcaster = broadcast.NewBroadcaster(a.config.Broadcast.SubscriberBuffer, a.logger)
	a.messaging = notify.NewMessagingChannel(a.config.Notifications.Messaging)

	channels := []notify.Channel{
		notify.NewRealtimeChannel(a.broadcaster, a.config.Notifications.Realtime.Enabled),
		a.messaging,
	}
	notifier := notify.NewDispatcher(channels, notify.NewRepository(a.db), a.config.Notifications, a.logger)

	pipeline := ingest.NewPipeline(
		a.source, parser, filter, archiveRepo,
		ledger, tickets, analyzer, notifier,
		a.broadcaster, a.logger,
	)
	a.poller = ingest.NewPoller(pipeline, a.config.Mailbox.PollInterval, a.config.Mailbox.Retry.Policy(), a.logger)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	a.initRouter(admin.NewHandler(
		a.poller, tickets, notifier, ledger,
		archiveRepo, a.broadcaster, healthRegistry, a.logger,
	))

	return nil
}

func (a *App) initRouter(handler *admin.Handler) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("monitor-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.RateLimit.Enabled {
		rateLimitCfg := ratelimit.DefaultConfig()
		rateLimitCfg.RPS = a.config.RateLimit.RPS
		rateLimitCfg.Burst = a.config.RateLimit.Burst
		router.Use(ratelimit.Middleware(rateLimitCfg))
		a.logger.Infow("Rate limiting enabled", "rps", rateLimitCfg.RPS, "burst", rateLimitCfg.Burst)
	}

	handler.RegisterRoutes(router)

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: router,
	}
}

func (a *App) initServer() error {
	if a.server == nil {
		return fmt.Errorf("router not initialized")
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := a.poller.Run(gCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down monitor service")

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if a.broadcaster != nil {
		a.broadcaster.Close()
	}

	if a.source != nil {
		if err := a.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mailbox close error: %w", err))
		}
	}

	if a.messaging != nil {
		if err := a.messaging.Close(); err != nil {
			errs = append(errs, fmt.Errorf("messaging channel close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(shutdownCtx, a.redis, a.db, a.mongoClient)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Monitor service exited")
	return nil
}
