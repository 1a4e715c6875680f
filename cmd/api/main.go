package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-triage/internal/api/http"
	"github.com/spec-kit/ticket-triage/internal/api/http/handlers"
	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/llm/claude"
	"github.com/spec-kit/ticket-triage/internal/llm/gemini"
	"github.com/spec-kit/ticket-triage/internal/notify"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/persistence"
	"github.com/spec-kit/ticket-triage/internal/repository"
	"github.com/spec-kit/ticket-triage/internal/repository/memory"
	"github.com/spec-kit/ticket-triage/internal/service"
	"github.com/spec-kit/ticket-triage/internal/triage"
	"github.com/spec-kit/ticket-triage/internal/worker"
	"github.com/spec-kit/ticket-triage/migrations"
)

type repositories struct {
	tickets repository.TicketRepository
	users   repository.UserRepository
	history repository.TicketHistoryRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), migrations.FS, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	repos := buildRepositories(pg)

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	classifier := triage.NewClassifier(buildClassifierDeps(cfg, logger, metrics))
	orchestrator := triage.NewOrchestrator(triage.OrchestratorDependencies{
		Tickets:    repos.tickets,
		History:    repos.history,
		Classifier: classifier,
		Resolver:   triage.NewResolver(repos.users),
		Notifier:   notify.New(cfg.Notification, logger),
		Logger:     logger,
		Metrics:    metrics,
	})

	publisher, workerDone := startDispatch(ctx, cfg, redis, orchestrator, logger, metrics)

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo: repos.users,
		Logger:   logger,
	})
	if err := authService.SeedAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		logger.Fatal("failed to seed admin account", zap.Error(err))
	}
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repos.tickets,
		UserRepo:    repos.users,
		HistoryRepo: repos.history,
		Publisher:   publisher,
		Logger:      logger,
	})

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Dependency{
			"postgres": pg,
			"redis":    redis,
		}),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Metrics:        handlers.NewMetricsHandler(metrics),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), repos.users),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	cancel()
	<-workerDone
}

func buildRepositories(pg *persistence.Postgres) repositories {
	if !pg.Enabled() {
		return repositories{
			tickets: memory.NewTickets(),
			users:   memory.NewUsers(),
			history: memory.NewHistory(),
		}
	}
	pool := pg.PoolHandle()
	return repositories{
		tickets: repository.NewTicketRepository(pool),
		users:   repository.NewUserRepository(pool),
		history: repository.NewTicketHistoryRepository(pool),
	}
}

// buildClassifierDeps enables Gemini first and Anthropic second, each only
// when its key is set.
func buildClassifierDeps(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) triage.ClassifierDependencies {
	deps := triage.ClassifierDependencies{
		Policy:  cfg.Triage.FallbackPolicy,
		Timeout: cfg.Triage.ProviderTimeout(),
		Logger:  logger,
		Metrics: metrics,
	}

	var providers []triage.Provider
	if key := cfg.Providers.GeminiAPIKey; key != "" {
		providers = append(providers, gemini.New(key, cfg.Providers.GeminiModel, cfg.Providers.GeminiBaseURL))
	}
	if key := cfg.Providers.AnthropicAPIKey; key != "" {
		providers = append(providers, claude.New(key, cfg.Providers.AnthropicModel))
	}
	if len(providers) > 0 {
		deps.Primary = providers[0]
	}
	if len(providers) > 1 {
		deps.Secondary = providers[1]
	}

	if len(providers) == 0 {
		logger.Warn("no classification provider configured; using heuristic classification")
	}
	return deps
}

// startDispatch returns the publisher ticket events go to. Queued mode needs a
// reachable Redis and otherwise degrades to inline. The returned channel closes
// once the stream worker has stopped.
func startDispatch(
	ctx context.Context,
	cfg *config.Config,
	redis *persistence.Redis,
	runner worker.Runner,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (events.Publisher, <-chan struct{}) {
	done := make(chan struct{})
	workerCfg := worker.TriageWorkerConfig{
		Concurrency:   cfg.Triage.WorkerConcurrency,
		MaxDeliveries: cfg.Triage.MaxDeliveries,
	}

	mode := cfg.Triage.DispatchMode
	if mode == config.DispatchQueued && !redis.Enabled() {
		logger.Warn("queued dispatch requires redis; falling back to inline triage")
		mode = config.DispatchInline
	}

	if mode == config.DispatchQueued {
		consumer, err := events.NewConsumer(redis.Client, events.ConsumerConfig{
			Prefix:        cfg.Triage.StreamPrefix,
			ConsumerGroup: cfg.Triage.ConsumerGroup,
			ConsumerID:    cfg.Triage.ConsumerID,
			ClaimMinIdle:  cfg.Triage.ClaimIdle(),
		}, logger)
		if err != nil {
			logger.Fatal("failed to build event consumer", zap.Error(err))
		}
		if err := consumer.Initialize(ctx); err != nil {
			logger.Fatal("failed to initialize event consumer", zap.Error(err))
		}

		triageWorker := worker.NewTriageWorker(runner, consumer, workerCfg, logger, metrics)
		go func() {
			defer close(done)
			if err := triageWorker.Start(ctx); err != nil {
				logger.Error("triage worker exited", zap.Error(err))
			}
		}()
		logger.Info("triage dispatch queued", zap.String("stream", events.StreamName(cfg.Triage.StreamPrefix)))
		return events.NewStreamPublisher(redis.Client, cfg.Triage.StreamPrefix), done
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.NewTriageWorker(runner, nil, workerCfg, logger, metrics).Register(dispatcher)
	close(done)
	logger.Info("triage dispatch inline")
	return dispatcher, done
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
