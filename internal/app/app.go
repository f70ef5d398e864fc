package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/common"
	"github.com/healthpulse/pulse/internal/handlers"
	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
	"github.com/healthpulse/pulse/internal/queue"
	"github.com/healthpulse/pulse/internal/services/auth"
	embeddingsvc "github.com/healthpulse/pulse/internal/services/embedding"
	"github.com/healthpulse/pulse/internal/services/events"
	"github.com/healthpulse/pulse/internal/services/extraction"
	"github.com/healthpulse/pulse/internal/services/gemini"
	jobsvc "github.com/healthpulse/pulse/internal/services/jobs"
	githubsvc "github.com/healthpulse/pulse/internal/services/providers/github"
	jirasvc "github.com/healthpulse/pulse/internal/services/providers/jira"
	"github.com/healthpulse/pulse/internal/services/scheduler"
	transformsvc "github.com/healthpulse/pulse/internal/services/transform"
	"github.com/healthpulse/pulse/internal/services/vector"
	"github.com/healthpulse/pulse/internal/storage/postgres"
)

// App holds all application components. Worker registries, rate-limit
// buckets and broadcaster subscribers are fields here, not module state: the
// manager acquires resources at start and disposes them in reverse order at
// shutdown. Workers never take a reference that outlives the manager.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Long-lived resources, closed in reverse acquisition order.
	StorageManager *postgres.Manager
	RedisClient    *redis.Client
	QueueService   *queue.Service
	VectorIndex    *vector.Service
	Provider       interfaces.EmbeddingProvider
	HTTPClient     *http.Client

	// Services
	EventService     interfaces.EventService
	AuthService      *auth.Service
	Watcher          *jobsvc.Watcher
	Controller       *jobsvc.Controller
	SchedulerService *scheduler.Service
	Limiters         *extraction.LimiterRegistry

	// HTTP handlers
	WSHandler  *handlers.WebSocketHandler
	OpsHandler *handlers.OpsHandler

	// Worker fabric
	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerWG     sync.WaitGroup
}

// New initializes the application with all dependencies. An unreachable
// broker or database is an unrecoverable initialization error: the caller
// exits non-zero.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// 1. Relational store (migrations run here when enabled).
	storageManager, err := postgres.NewManager(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	// 2. Broker connection and queue fabric.
	app.RedisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Broker.Addr,
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
	})
	if err := app.RedisClient.Ping(ctx).Err(); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("broker unreachable at %s: %w", cfg.Broker.Addr, err)
	}

	app.QueueService = queue.NewService(app.RedisClient, queue.Config{
		PublishAttempts:   cfg.Broker.PublishAttempts,
		VisibilityTimeout: common.Duration(cfg.Broker.VisibilityTimeout, 5*time.Minute),
		MaxReceive:        cfg.Broker.MaxReceive,
		BlockInterval:     common.Duration(cfg.Broker.BlockInterval, 2*time.Second),
	}, logger)

	for _, tenantID := range cfg.Workers.Tenants {
		if err := app.QueueService.DeclareTenantQueues(ctx, tenantID); err != nil {
			app.RedisClient.Close()
			storageManager.Close()
			return nil, fmt.Errorf("failed to declare queues for tenant %d: %w", tenantID, err)
		}
	}
	logger.Info().Int("tenants", len(cfg.Workers.Tenants)).Msg("Queue fabric initialized")

	// 3. Vector index client.
	app.VectorIndex, err = vector.NewService(vector.Config{
		Host:   cfg.Vector.Host,
		Port:   cfg.Vector.Port,
		APIKey: cfg.Vector.APIKey,
		UseTLS: cfg.Vector.UseTLS,
	}, logger)
	if err != nil {
		app.RedisClient.Close()
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	// 4. Embedding provider and shared HTTP client.
	app.Provider = gemini.NewProvider(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension, logger)
	app.HTTPClient = &http.Client{Timeout: common.Duration(cfg.Embedding.Timeout, 60*time.Second)}

	// 5. Event, auth, job control services.
	app.EventService = events.NewService(logger)
	app.AuthService = auth.NewService(storageManager.AuthStorage(), logger)
	app.Watcher = jobsvc.NewWatcher(storageManager.JobStorage(), app.QueueService, app.EventService, logger)
	app.Controller = jobsvc.NewController(
		storageManager.JobStorage(),
		storageManager.IntegrationStorage(),
		app.QueueService,
		app.EventService,
		app.Watcher,
		cfg.Location(),
		logger,
	)
	app.Limiters = extraction.NewLimiterRegistry()

	// 6. HTTP handlers.
	app.WSHandler = handlers.NewWebSocketHandler(app.AuthService, app.EventService, logger)
	app.OpsHandler = handlers.NewOpsHandler(
		app.QueueService,
		storageManager.JobStorage(),
		app.VectorIndex,
		cfg.Embedding.Dimension,
		cfg.Workers.Tenants,
		cfg.StageWorkerCount,
		logger,
	)

	// 7. Scheduler.
	app.SchedulerService = scheduler.NewService(
		app.Controller,
		storageManager.JobStorage(),
		storageManager.IntegrationStorage(),
		cfg.Workers.Tenants,
		logger,
	)
	if cfg.Scheduler.Enabled {
		if err := app.SchedulerService.Start(cfg.Scheduler.Schedule); err != nil {
			logger.Warn().Err(err).Msg("Failed to start scheduler service")
		}
	}

	logger.Info().Msg("Application initialization complete")
	return app, nil
}

// sourceClients builds the per-provider clients for one tenant. Provider
// credentials come from the environment; the clients share the app's HTTP
// client so shutdown can drain them in one place.
func (a *App) sourceClients(ctx context.Context) map[models.Provider]interfaces.SourceClient {
	clients := map[models.Provider]interfaces.SourceClient{
		models.ProviderJira: jirasvc.NewClient(
			a.HTTPClient,
			os.Getenv("PULSE_JIRA_EMAIL"),
			os.Getenv("PULSE_JIRA_TOKEN"),
			a.Logger,
		),
		models.ProviderGithub: githubsvc.NewClient(
			ctx,
			os.Getenv("PULSE_GITHUB_TOKEN"),
			a.Logger,
		),
	}
	return clients
}

// StartWorkers creates the per-tenant worker fabric. Counts per stage come
// from configuration and take effect on restart.
func (a *App) StartWorkers(ctx context.Context) {
	a.workerCtx, a.workerCancel = context.WithCancel(context.Background())

	for _, tenantID := range a.Config.Workers.Tenants {
		clients := a.sourceClients(ctx)

		extractionCount := a.Config.StageWorkerCount(tenantID, "extraction")
		for i := 0; i < extractionCount; i++ {
			worker := extraction.NewWorker(
				fmt.Sprintf("extraction-%d-%d", tenantID, i),
				tenantID,
				a.QueueService,
				a.StorageManager.IntegrationStorage(),
				a.StorageManager.RawStorage(),
				a.StorageManager.EntityStorage(),
				clients,
				a.Limiters,
				a.Controller,
				a.Config.Workers.RetryAttempts,
				a.Logger,
			)
			a.runWorker(worker.Run)
		}

		transformCount := a.Config.StageWorkerCount(tenantID, "transform")
		for i := 0; i < transformCount; i++ {
			worker := transformsvc.NewWorker(
				fmt.Sprintf("transform-%d-%d", tenantID, i),
				tenantID,
				a.QueueService,
				a.StorageManager.RawStorage(),
				a.StorageManager.EntityStorage(),
				a.StorageManager.MappingStorage(),
				a.StorageManager.IntegrationStorage(),
				a.Controller,
				a.Logger,
			)
			a.runWorker(worker.Run)
		}

		embeddingCount := a.Config.StageWorkerCount(tenantID, "embedding")
		for i := 0; i < embeddingCount; i++ {
			worker := embeddingsvc.NewWorker(
				fmt.Sprintf("embedding-%d-%d", tenantID, i),
				tenantID,
				a.QueueService,
				a.StorageManager.EntityStorage(),
				a.StorageManager.VectorBridgeStorage(),
				a.VectorIndex,
				a.Provider,
				a.Controller,
				a.Logger,
			)
			a.runWorker(worker.Run)
		}

		a.Logger.Info().
			Int("tenant_id", tenantID).
			Int("extraction", extractionCount).
			Int("transform", transformCount).
			Int("embedding", embeddingCount).
			Msg("Tenant workers started")
	}
}

func (a *App) runWorker(run func(context.Context)) {
	a.workerWG.Add(1)
	go func() {
		defer a.workerWG.Done()
		run(a.workerCtx)
	}()
}

// Close runs the shutdown sequence: reject new sessions, stop consuming,
// drain in-flight work, then finalize resources in reverse acquisition
// order. Finalizers run in the same scope that started the resources, so
// nothing is closed out from under an in-flight request.
func (a *App) Close() error {
	// 1. Reject new subscriber sessions.
	if a.AuthService != nil {
		a.AuthService.StartDraining()
	}

	// 2. Stop the scheduler and queue consumers.
	if a.SchedulerService != nil {
		_ = a.SchedulerService.Stop()
	}
	if a.workerCancel != nil {
		a.workerCancel()
	}

	// 3. Wait for in-flight processing up to the drain window.
	drained := make(chan struct{})
	go func() {
		a.workerWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		a.Logger.Info().Msg("Workers drained")
	case <-time.After(common.Duration(a.Config.Workers.DrainWindow, 30*time.Second)):
		a.Logger.Warn().Msg("Drain window elapsed with workers still in flight")
	}

	// 4. Finalizers, reverse acquisition order.
	if a.Watcher != nil {
		_ = a.Watcher.Close()
	}
	if a.WSHandler != nil {
		a.WSHandler.CloseAll()
	}
	if a.EventService != nil {
		_ = a.EventService.Close()
	}
	if a.Provider != nil {
		if err := a.Provider.Cleanup(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to clean up embedding provider")
		}
	}
	if a.HTTPClient != nil {
		a.HTTPClient.CloseIdleConnections()
	}
	if a.VectorIndex != nil {
		if err := a.VectorIndex.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close vector index client")
		}
	}
	if a.QueueService != nil {
		_ = a.QueueService.Close()
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close broker connection")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	common.Stop()
	return nil
}
