package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/bonus-orchestrator/internal/application/lock"
	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/application/service"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/persistence/redislease"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/worker"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	sqlDB        *sql.DB
	db           *sqlite.DB
	redis        *redis.Client
	repositories *RepositoryBundle

	// Infrastructure - External
	external *ExternalBundle

	// Application
	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine
	locks      lock.Manager
	services   *ServiceBundle

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Eligibility     port.EligibilityCheckRepository
	FamilyLease     port.FamilyLeaseRepository
	ProcessingMark  port.ProcessingMarkRepository
	Activation      port.BonusActivationRepository
	UserBonus       port.UserBonusRepository
	WorkflowInst    port.WorkflowInstanceRepository
	WorkflowHistory port.WorkflowHistoryRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Bonus service.BonusService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing:
// 1. Database, repositories and the lease store
// 2. External clients
// 3. Dispatcher, workflow engine and lock manager
// 4. Application services
// 5. Workers (the engine recovers interrupted instances here)
//
// On failure everything opened so far is closed.
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	defer func() {
		if err != nil {
			if closeErr := c.teardown(); closeErr != nil {
				c.logger.Error("Cleanup after failed start", zap.Error(closeErr))
			}
		}
	}()

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("lock_backend", c.config.Lock.Backend))

	external, err := ProvideExternalClients(c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.external = external
	c.logger.Info("External clients initialized")

	c.dispatcher = ProvideDispatcher(c.external.Alerter, c.logger)
	c.engine, c.locks, err = ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		External:   c.external,
		Config:     c.config,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	c.services = ProvideServices(c.repositories, c.locks, c.engine, c.logger)

	c.workers = ProvideWorkers(&WorkerDeps{
		Engine:   c.engine,
		Services: c.services,
		Alerter:  c.external.Alerter,
		Config:   &c.config.Reconciliation,
		Logger:   c.logger,
	})
	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.GetWorkerCount()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() error {
	var result *multierror.Error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
		}
		c.redis = nil
	}

	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close database: %w", err))
		}
		c.sqlDB = nil
	}

	return result.ErrorOrNil()
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	if c.sqlDB == nil {
		set("database", fmt.Errorf("not initialized"))
	} else {
		set("database", c.sqlDB.PingContext(ctx))
	}

	if c.redis != nil {
		set("redis", c.redis.Ping(ctx).Err())
	}

	switch {
	case c.workers == nil:
		set("workers", fmt.Errorf("not initialized"))
	case !c.workers.IsRunning():
		set("workers", fmt.Errorf("not running"))
	default:
		set("workers", nil)
	}

	return status
}

// initDatabase opens the database, runs migrations and builds repositories.
func (c *Container) initDatabase(ctx context.Context) error {
	dbBundle, err := ProvideDatabase(ctx, &c.config.Database, c.logger.Named("database"))
	if err != nil {
		return err
	}
	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger.Named("repository"))
	if err != nil {
		return err
	}

	if c.config.Lock.Backend == LockBackendRedis {
		client, err := ProvideRedisClient(ctx, c.config.Lock.RedisURL)
		if err != nil {
			return err
		}
		c.redis = client
		repos.FamilyLease = redislease.NewStore(client, c.config.Lock.RedisKeyPrefix, c.logger.Named("redislease"))
	}

	c.repositories = repos
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.Engine {
	return c.engine
}

// Locks returns the lock manager.
func (c *Container) Locks() lock.Manager {
	return c.locks
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
