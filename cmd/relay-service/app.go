package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"slices"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"usagerelay/internal/archive"
	"usagerelay/internal/auth"
	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/internal/deduplication"
	"usagerelay/internal/filtering"
	"usagerelay/internal/handlers"
	"usagerelay/internal/logger"
	"usagerelay/internal/opsapi"
	"usagerelay/internal/persistence"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/bootstrap"
	"usagerelay/pkg/health"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/migrations"
	"usagerelay/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	db             *sql.DB
	mongoClient    *mongo.Client
	store          persistence.Store
	archive        archive.Callback
	guard          *deduplication.Guard
	registry       *pipeline.Registry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterRelayMetrics()

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}
	if err := a.initHandlerDeps(ctx); err != nil {
		return fmt.Errorf("failed to initialize handler dependencies: %w", err)
	}
	a.initGuard()

	if err := a.InitConsumers(ctx, serviceName, a.buildPipeline, a.guard); err != nil {
		return fmt.Errorf("failed to initialize consumers: %w", err)
	}

	a.initHTTPServer(ctx)
	return nil
}

func (a *App) usesHandler(name string) bool {
	for _, c := range a.Config.Consumers {
		if slices.Contains(c.Apps, name) {
			return true
		}
	}
	return false
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	if a.db != nil && a.Config.Database.RunMigrations {
		if err := migrations.MigratePostgres(a.db); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "PostgreSQL migrations applied")
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient
	return nil
}

func (a *App) initHandlerDeps(ctx context.Context) error {
	var tokenStore auth.TokenStore
	authCfg := a.Config.HandlerAuth
	if authCfg.TokenStore == "redis" {
		if a.redis == nil {
			return fmt.Errorf("handler_auth.token_store is redis but database.redis is not configured")
		}
		tokenStore = auth.NewRedisTokenStore(a.redis, authCfg.User, time.Duration(authCfg.TokenTTLSeconds)*time.Second)
	}
	strategy, err := auth.New(authCfg, tokenStore, a.Logger)
	if err != nil {
		return err
	}

	if a.usesHandler(handlers.NamePersistence) {
		clients := persistence.Clients{Redis: a.redis, Postgres: a.db}
		if a.mongoClient != nil {
			dbName := a.Config.Database.MongoDB.Database
			if dbName == "" {
				dbName = constants.DefaultMongoDBName
			}
			clients.Mongo = a.mongoClient.Database(dbName)
		}
		store, err := persistence.New(ctx, a.Config.Persistence, clients, a.Logger)
		if err != nil {
			return err
		}
		a.store = store
	}

	if a.usesHandler(handlers.NameShoebox) {
		cb, err := archive.NewCallback(ctx, a.Config.Shoebox, a.Logger)
		if err != nil {
			return err
		}
		a.archive = cb
	}

	a.registry = pipeline.NewRegistry()
	handlers.Register(a.registry, handlers.Deps{
		Config:  a.Config,
		Logger:  a.Logger,
		Auth:    strategy,
		Store:   a.store,
		Archive: a.archive,
	})
	return nil
}

func (a *App) initGuard() {
	if !a.Config.Deduplication.Enabled {
		return
	}
	if a.redis == nil {
		a.Logger.Warnw("Redelivery guard enabled but database.redis is not configured, guard disabled")
		return
	}
	repo := deduplication.NewCircuitBreakerRepository(deduplication.NewRepository(a.redis), a.Config.CircuitBreaker)
	a.guard = deduplication.NewGuard(repo, a.Config.Deduplication, a.Logger)
}

func (a *App) buildPipeline(cc config.ConsumerConfig) (*pipeline.Pipeline, error) {
	filters, err := filtering.BuildPayloadFilters(cc.PayloadFilters, a.Config.PayloadFilters, a.Logger)
	if err != nil {
		return nil, err
	}
	hs, err := a.registry.Build(cc.Queue, cc.Apps)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cc.Queue, hs, filters, a.Logger.With("queue", cc.Queue)), nil
}

func (a *App) initHTTPServer(ctx context.Context) {
	checks := health.NewCheckerRegistry()
	if a.Config.Broker.Type == constants.BrokerKafka {
		checks.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	}
	if a.redis != nil {
		if a.guard != nil && a.Config.Deduplication.OnRedisError != constants.FallbackDeny {
			checks.RegisterOptional(health.NewRedisChecker(a.redis))
		} else {
			checks.Register(health.NewRedisChecker(a.redis))
		}
	}
	if a.db != nil {
		checks.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.mongoClient != nil {
		checks.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	pipelines := make([]opsapi.Pipeline, 0, len(a.Consumers))
	for _, c := range a.Consumers {
		pipelines = append(pipelines, c)
	}
	var guard opsapi.CacheSizer
	if a.guard != nil {
		guard = a.guard
	}
	h := opsapi.NewHandler(pipelines, guard, checks, a.Logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      opsapi.NewRouter(ctx, a.Config, h, serviceName, a.Logger),
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return a.RunConsumers(gCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down relay service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if c, ok := a.archive.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("archive close error: %w", err))
			}
		}

		if a.store != nil {
			if err := a.store.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("persistence close error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
		a.redis, a.db, a.mongoClient = nil, nil, nil

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
