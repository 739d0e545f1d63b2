package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/garyjia/bonus-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
	"github.com/garyjia/bonus-orchestrator/internal/domain/event"
)

const tracerName = "github.com/garyjia/bonus-orchestrator/internal/application/workflow"

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	instances  port.WorkflowInstanceRepository
	history    port.WorkflowHistoryRepository
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time

	maxConcurrent  int64
	sem            *semaphore.Weighted
	recoverOnStart bool

	regMu      sync.RWMutex
	workflows  map[string]WorkflowFunc
	activities map[string]ActivityFunc

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	running map[string]*runHandle
	wg      sync.WaitGroup
}

// runHandle identifies one in-process execution of an instance
type runHandle struct {
	cancel context.CancelFunc
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for lifecycle events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		e.tracer = tracer
	}
}

// WithMaxConcurrent bounds the number of instances executing at once
func WithMaxConcurrent(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.maxConcurrent = int64(n)
		}
	}
}

// WithRecoverOnStart controls whether Start relaunches interrupted
// instances. Enabled by default.
func WithRecoverOnStart(enabled bool) EngineOption {
	return func(e *engineImpl) {
		e.recoverOnStart = enabled
	}
}

// NewEngine creates a new workflow engine. Start must be called before
// instances can run.
func NewEngine(
	instances port.WorkflowInstanceRepository,
	history port.WorkflowHistoryRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		instances:      instances,
		history:        history,
		txManager:      txManager,
		logger:         zap.NewNop(),
		now:            func() time.Time { return time.Now().UTC() },
		maxConcurrent:  64,
		recoverOnStart: true,
		workflows:      make(map[string]WorkflowFunc),
		activities:     make(map[string]ActivityFunc),
		running:        make(map[string]*runHandle),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.sem = semaphore.NewWeighted(e.maxConcurrent)

	return e
}

// RegisterWorkflow panics on duplicate registration
func (e *engineImpl) RegisterWorkflow(workflowType string, fn WorkflowFunc) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	if _, dup := e.workflows[workflowType]; dup {
		panic(fmt.Sprintf("workflow %q registered twice", workflowType))
	}
	e.workflows[workflowType] = fn
}

// RegisterActivity panics on duplicate registration
func (e *engineImpl) RegisterActivity(name string, fn ActivityFunc) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	if _, dup := e.activities[name]; dup {
		panic(fmt.Sprintf("activity %q registered twice", name))
	}
	e.activities[name] = fn
}

func (e *engineImpl) workflow(workflowType string) (WorkflowFunc, bool) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	fn, ok := e.workflows[workflowType]
	return fn, ok
}

func (e *engineImpl) activity(name string) (ActivityFunc, bool) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	fn, ok := e.activities[name]
	return fn, ok
}

// Name implements the worker interface
func (e *engineImpl) Name() string {
	return "workflow-engine"
}

// Start enables execution and recovers interrupted instances
func (e *engineImpl) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.baseCtx != nil {
		e.mu.Unlock()
		return fmt.Errorf("workflow engine already started")
	}
	e.baseCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	e.logger.Info("Workflow engine started", zap.Int64("max_concurrent", e.maxConcurrent))
	if !e.recoverOnStart {
		return nil
	}
	return e.Recover(ctx)
}

// Stop interrupts every execution and waits for them to return. Interrupted
// instances stay RUNNING for the next Recover.
func (e *engineImpl) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.baseCtx, e.cancel = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	e.wg.Wait()

	e.logger.Info("Workflow engine stopped")
	return nil
}

// StartNew creates the instance record and launches it
func (e *engineImpl) StartNew(ctx context.Context, workflowType, instanceID string, input any) (string, error) {
	if _, ok := e.workflow(workflowType); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowType)
	}
	if !e.isStarted() {
		return "", ErrEngineNotStarted
	}
	if e.isRunning(instanceID) {
		return "", ErrAlreadyRunning
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow input: %w", err)
	}

	inst := &entity.WorkflowInstance{
		ID:           instanceID,
		WorkflowType: workflowType,
		Status:       entity.RuntimePending,
		Input:        payload,
	}

	err = e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := e.instances.Find(ctx, instanceID)
		switch {
		case err == nil:
			if !existing.Status.IsTerminal() {
				return ErrAlreadyRunning
			}
			// A finished instance id is reused: purge its history first.
			if err := e.history.DeleteByInstance(ctx, instanceID); err != nil {
				return fmt.Errorf("failed to purge history: %w", err)
			}
			if err := e.instances.Delete(ctx, instanceID); err != nil {
				return fmt.Errorf("failed to delete finished instance: %w", err)
			}
		case errors.Is(err, port.ErrNotFound):
		default:
			return fmt.Errorf("failed to load instance: %w", err)
		}

		if err := e.instances.Create(ctx, inst); err != nil {
			if errors.Is(err, port.ErrConflict) {
				return ErrAlreadyRunning
			}
			return fmt.Errorf("failed to create instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	e.logger.Info("Workflow instance created",
		zap.String("instance_id", instanceID),
		zap.String("workflow_type", workflowType))
	e.publish(ctx, event.NewEvent(event.TypeWorkflowStarted, instanceID, workflowType, nil))

	if err := e.launch(inst); err != nil {
		// The record is PENDING and will be picked up by the next Recover.
		e.logger.Warn("Failed to launch workflow instance",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}

	return instanceID, nil
}

// GetStatus returns the persisted status of an instance
func (e *engineImpl) GetStatus(ctx context.Context, instanceID string) (*Status, error) {
	inst, err := e.instances.Find(ctx, instanceID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	return statusFromInstance(inst), nil
}

// Terminate moves the instance to TERMINATED and interrupts its execution
func (e *engineImpl) Terminate(ctx context.Context, instanceID, reason string) error {
	inst, err := e.instances.Find(ctx, instanceID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("failed to load instance: %w", err)
	}
	if inst.Status.IsTerminal() {
		return ErrNotRunning
	}

	msg := "terminated"
	if reason != "" {
		msg = "terminated: " + reason
	}
	if err := e.instances.Complete(ctx, instanceID, entity.RuntimeTerminated, entity.CustomStatusCompleted, nil, msg); err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return ErrNotRunning
		}
		return fmt.Errorf("failed to terminate instance: %w", err)
	}

	e.mu.Lock()
	if h, ok := e.running[instanceID]; ok {
		h.cancel()
	}
	e.mu.Unlock()

	e.logger.Info("Workflow instance terminated",
		zap.String("instance_id", instanceID),
		zap.String("reason", reason))
	e.publish(ctx, event.NewEvent(event.TypeWorkflowTerminated, instanceID, inst.WorkflowType, map[string]interface{}{
		"reason": reason,
	}))
	return nil
}

// Recover relaunches every non-terminal instance. Instances of unregistered
// types are failed.
func (e *engineImpl) Recover(ctx context.Context) error {
	insts, err := e.instances.ListByStatus(ctx, entity.RuntimePending, entity.RuntimeRunning)
	if err != nil {
		return fmt.Errorf("failed to list unfinished instances: %w", err)
	}

	var result *multierror.Error
	launched := 0
	for _, inst := range insts {
		if _, ok := e.workflow(inst.WorkflowType); !ok {
			msg := fmt.Sprintf("%s: %s", ErrUnknownWorkflow, inst.WorkflowType)
			if err := e.instances.Complete(ctx, inst.ID, entity.RuntimeFailed, entity.CustomStatusCompleted, nil, msg); err != nil && !errors.Is(err, port.ErrNotFound) {
				result = multierror.Append(result, fmt.Errorf("instance %s: %w", inst.ID, err))
			}
			continue
		}
		if err := e.launch(inst); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				continue
			}
			result = multierror.Append(result, fmt.Errorf("instance %s: %w", inst.ID, err))
			continue
		}
		launched++
	}

	e.logger.Info("Recovered workflow instances",
		zap.Int("found", len(insts)),
		zap.Int("launched", launched))
	return result.ErrorOrNil()
}

func (e *engineImpl) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseCtx != nil
}

func (e *engineImpl) isRunning(instanceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[instanceID]
	return ok
}

// launch starts one execution of inst in its own goroutine
func (e *engineImpl) launch(inst *entity.WorkflowInstance) error {
	fn, ok := e.workflow(inst.WorkflowType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, inst.WorkflowType)
	}

	e.mu.Lock()
	if e.baseCtx == nil {
		e.mu.Unlock()
		return ErrEngineNotStarted
	}
	if _, ok := e.running[inst.ID]; ok {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(e.baseCtx)
	h := &runHandle{cancel: cancel}
	e.running[inst.ID] = h
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.release(inst.ID, h)

		if err := e.sem.Acquire(runCtx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)

		e.execute(runCtx, inst, fn, h)
	}()
	return nil
}

// release forgets the execution h. Safe to call more than once.
func (e *engineImpl) release(instanceID string, h *runHandle) {
	h.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[instanceID] == h {
		delete(e.running, instanceID)
	}
}

// execute runs the body once, replaying recorded history first
func (e *engineImpl) execute(ctx context.Context, inst *entity.WorkflowInstance, fn WorkflowFunc, h *runHandle) {
	runID := ulid.Make().String()
	logger := e.logger.With(
		zap.String("instance_id", inst.ID),
		zap.String("workflow_type", inst.WorkflowType),
		zap.String("run_id", runID),
	)

	ctx, span := e.tracer.Start(ctx, "workflow "+inst.WorkflowType,
		trace.WithAttributes(
			attribute.String("workflow.instance_id", inst.ID),
			attribute.String("workflow.type", inst.WorkflowType),
			attribute.String("workflow.run_id", runID),
		))
	defer span.End()

	if err := e.instances.MarkRunning(ctx, inst.ID); err != nil {
		if errors.Is(err, port.ErrNotFound) {
			logger.Info("Instance no longer runnable, skipping execution")
			return
		}
		logger.Error("Failed to mark instance running", zap.Error(err))
		return
	}
	inst.Status = entity.RuntimeRunning

	history, err := e.history.ListByInstance(ctx, inst.ID)
	if err != nil {
		logger.Error("Failed to load workflow history", zap.Error(err))
		return
	}

	wc := &execContext{
		engine:   e,
		ctx:      ctx,
		runID:    runID,
		instance: inst,
		logger:   logger,
		history:  history,
		handle:   h,
	}
	if len(history) > 0 {
		logger.Info("Replaying workflow instance", zap.Int("history_events", len(history)))
	} else {
		logger.Info("Executing workflow instance")
	}

	output, runErr := e.runBody(wc, fn)
	if wc.nondeterminism != nil {
		runErr = wc.nondeterminism
	}
	if wc.suspended || (runErr != nil && IsSuspended(runErr)) {
		logger.Info("Workflow execution suspended", zap.Int("next_seq", wc.next))
		span.SetAttributes(attribute.Bool("workflow.suspended", true))
		return
	}

	e.finish(ctx, wc, output, runErr, span)
}

// runBody converts a panic into an error
func (e *engineImpl) runBody(wc *execContext, fn WorkflowFunc) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			wc.logger.Error("Workflow body panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			output = nil
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return fn(wc)
}

func (e *engineImpl) finish(ctx context.Context, wc *execContext, output any, runErr error, span trace.Span) {
	inst := wc.instance
	logger := wc.logger
	pctx := wc.persistCtx()

	status := entity.RuntimeCompleted
	var payload []byte
	errMsg := ""
	if runErr == nil {
		var err error
		if payload, err = json.Marshal(output); err != nil {
			runErr = fmt.Errorf("failed to encode workflow output: %w", err)
		}
	}
	if runErr != nil {
		status = entity.RuntimeFailed
		payload = nil
		errMsg = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, errMsg)
	}

	err := e.instances.Complete(pctx, inst.ID, status, entity.CustomStatusCompleted, payload, errMsg)
	// The id may be restarted as soon as the terminal status is visible.
	e.release(inst.ID, wc.handle)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			logger.Info("Instance finished after it was terminated")
			return
		}
		logger.Error("Failed to record workflow completion", zap.Error(err))
		return
	}

	if runErr != nil {
		logger.Error("Workflow instance failed", zap.Error(runErr))
		e.publish(pctx, event.NewEventWithCorrelation(event.TypeWorkflowFailed, inst.ID, inst.WorkflowType, map[string]interface{}{
			"error": errMsg,
		}, wc.runID))
		return
	}

	logger.Info("Workflow instance completed")
	e.publish(pctx, event.NewEventWithCorrelation(event.TypeWorkflowCompleted, inst.ID, inst.WorkflowType, map[string]interface{}{
		"output": string(payload),
	}, wc.runID))
}

func (e *engineImpl) publish(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, evt)
}
