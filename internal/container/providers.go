package container

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/activity"
	"github.com/garyjia/bonus-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/bonus-orchestrator/internal/application/lock"
	"github.com/garyjia/bonus-orchestrator/internal/application/orchestrator"
	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/application/service"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/event"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/grant"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/inquiry"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/lark"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/notification"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/report"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/worker"
	"github.com/garyjia/bonus-orchestrator/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds the outbound adapters.
type ExternalBundle struct {
	Inquiry      port.InquiryClient
	Grant        port.GrantClient
	Notification port.NotificationSender
	Alerter      port.OpsAlerter
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(ctx context.Context, cfg *database.Config, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	sqlDB, err := database.Open(*cfg, logger)
	if err != nil {
		return nil, err
	}

	if _, err := database.NewMigrator(sqlDB, logger).Run(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:          sqlDB,
		TransactionMgr: sqlite.NewDB(sqlDB, logger),
	}, nil
}

// ProvideRepositories creates all sqlite repositories. The family lease
// store is chosen separately by ProvideLeaseStore.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	return &RepositoryBundle{
		Eligibility:     repository.NewEligibilityCheckRepository(db, logger),
		FamilyLease:     repository.NewFamilyLeaseRepository(db, logger),
		ProcessingMark:  repository.NewProcessingMarkRepository(db, logger),
		Activation:      repository.NewBonusActivationRepository(db, logger),
		UserBonus:       repository.NewUserBonusRepository(db, logger),
		WorkflowInst:    repository.NewWorkflowInstanceRepository(db, logger),
		WorkflowHistory: repository.NewWorkflowHistoryRepository(db, logger),
	}, nil
}

// ProvideRedisClient connects to Redis and verifies the connection.
func ProvideRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// ProvideExternalClients creates the inquiry, grant and notification
// adapters and the ops alerter.
func ProvideExternalClients(cfg *Config, logger *zap.Logger) (*ExternalBundle, error) {
	grantClient, err := grant.NewClient(cfg.Grant, nil, logger.Named("grant"))
	if err != nil {
		return nil, err
	}

	return &ExternalBundle{
		Inquiry:      inquiry.NewClient(cfg.Inquiry, nil, logger.Named("inquiry")),
		Grant:        grantClient,
		Notification: notification.NewClient(cfg.Notification, nil, logger.Named("notification")),
		Alerter:      ProvideAlerter(cfg, logger),
	}, nil
}

// ProvideAlerter posts to Lark when a chat and credentials are configured,
// otherwise alerts go to the log.
func ProvideAlerter(cfg *Config, logger *zap.Logger) port.OpsAlerter {
	if cfg.Reconciliation.LarkChatID == "" || cfg.Lark.AppID == "" {
		return lark.NewLogAlerter(logger.Named("alert"))
	}
	sdk := lark.NewSDKClient(cfg.Lark, logger.Named("lark"))
	return lark.NewAlerter(sdk, cfg.Reconciliation.LarkChatID, logger.Named("alert"))
}

// ProvideDispatcher creates the event dispatcher with the lifecycle log
// handlers and the failure alert.
func ProvideDispatcher(alerter port.OpsAlerter, logger *zap.Logger) dispatcher.Dispatcher {
	log := logger.Named("events")
	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(log))

	logEvent := func(ctx context.Context, evt *event.Event) error {
		log.Info("Workflow event",
			zap.String("event_type", string(evt.Type)),
			zap.String("instance_id", evt.InstanceID),
			zap.String("workflow_type", evt.WorkflowType),
			zap.String("correlation_id", evt.CorrelationID),
			zap.Any("payload", evt.Payload))
		return nil
	}
	types := []event.Type{
		event.TypeWorkflowStarted,
		event.TypeWorkflowCompleted,
		event.TypeWorkflowFailed,
		event.TypeWorkflowTerminated,
		event.TypeActivityRetried,
	}
	for _, t := range types {
		disp.SubscribeNamed(t, "log", logEvent)
	}

	disp.SubscribeNamed(event.TypeWorkflowFailed, "ops-alert", func(ctx context.Context, evt *event.Event) error {
		return alerter.Alert(ctx, failureAlert(evt))
	})

	for _, t := range types {
		handlers := disp.ListHandlers(t)
		names := make([]string, 0, len(handlers))
		for _, h := range handlers {
			names = append(names, h.Name)
		}
		log.Debug("Event subscriptions", zap.String("event_type", string(t)), zap.Strings("handlers", names))
	}

	return disp
}

func failureAlert(evt *event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %s failed\nInstance: %s", evt.WorkflowType, evt.InstanceID)
	if msg := evt.GetPayloadString("error"); msg != "" {
		b.WriteString("\nError: ")
		b.WriteString(msg)
	}
	return b.String()
}

// WorkflowDeps are the inputs of ProvideWorkflowEngine
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	External   *ExternalBundle
	Config     *Config
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the engine and the lock manager and binds
// the bonus activities and workflows to it.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, lock.Manager, error) {
	if deps.Repos == nil || deps.External == nil {
		return nil, nil, fmt.Errorf("repositories and external clients are required")
	}

	engine := workflow.NewEngine(
		deps.Repos.WorkflowInst,
		deps.Repos.WorkflowHistory,
		deps.TxManager,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(deps.Logger.Named("engine")),
		workflow.WithMaxConcurrent(deps.Config.Engine.MaxConcurrentInstances),
		workflow.WithRecoverOnStart(deps.Config.Engine.RecoverOnStart),
	)

	locks := lock.NewManager(deps.Repos.FamilyLease, deps.Repos.ProcessingMark, engine, deps.Logger.Named("lock"))

	activity.New(activity.Dependencies{
		Checks:              deps.Repos.Eligibility,
		Activations:         deps.Repos.Activation,
		UserBonuses:         deps.Repos.UserBonus,
		Locks:               locks,
		TxManager:           deps.TxManager,
		Inquiry:             deps.External.Inquiry,
		Grant:               deps.External.Grant,
		Notifier:            deps.External.Notification,
		EligibilityValidity: deps.Config.EligibilityValidity,
	}, deps.Logger.Named("activity")).Register(engine)

	orchestrator.New(deps.Config.Orchestrator).Register(engine)

	return engine, locks, nil
}

// ProvideServices creates the application services.
func ProvideServices(repos *RepositoryBundle, locks lock.Manager, engine workflow.Client, logger *zap.Logger) *ServiceBundle {
	return &ServiceBundle{
		Bonus: service.NewBonusService(repos.Eligibility, repos.Activation, locks, engine, logger.Named("service")),
	}
}

// WorkerDeps are the inputs of ProvideWorkers
type WorkerDeps struct {
	Engine   workflow.Engine
	Services *ServiceBundle
	Alerter  port.OpsAlerter
	Config   *ReconciliationConfig
	Logger   *zap.Logger
}

// ProvideWorkers registers the engine and, when enabled, the reconciliation
// sweep. Workers are not started.
func ProvideWorkers(deps *WorkerDeps) *worker.WorkerManager {
	manager := worker.NewWorkerManager(deps.Logger.Named("workers"))
	manager.Register(deps.Engine)

	if deps.Config.Enabled {
		manager.Register(worker.NewReconciliationWorker(
			deps.Config.ReconciliationConfig,
			deps.Services.Bonus,
			report.NewStaleActivationReport(deps.Config.ReportDir, deps.Logger.Named("report")),
			deps.Alerter,
			deps.Logger.Named("reconciliation"),
		))
	}
	return manager
}
