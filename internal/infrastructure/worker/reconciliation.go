package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// StaleActivationLister lists PROCESSING activations older than a threshold
type StaleActivationLister interface {
	ListStaleActivations(ctx context.Context, olderThan time.Duration) ([]*entity.BonusActivation, error)
}

// StaleActivationReporter persists a report and returns where it went
type StaleActivationReporter interface {
	Write(activations []*entity.BonusActivation, generatedAt time.Time) (string, error)
}

// ReconciliationConfig holds configuration for the reconciliation sweep
type ReconciliationConfig struct {
	Interval       time.Duration
	StaleThreshold time.Duration
}

// DefaultReconciliationConfig returns default configuration
func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		Interval:       time.Hour,
		StaleThreshold: 24 * time.Hour,
	}
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Stale      int
	ReportPath string
}

// ReconciliationWorker periodically looks for activations whose grant
// never settled. It only reports them: a grant may already be applied at the
// authority, so records are never mutated here.
type ReconciliationWorker struct {
	config   ReconciliationConfig
	lister   StaleActivationLister
	reporter StaleActivationReporter
	alerter  port.OpsAlerter
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastSweep time.Time
}

// NewReconciliationWorker creates a new reconciliation worker
func NewReconciliationWorker(
	config ReconciliationConfig,
	lister StaleActivationLister,
	reporter StaleActivationReporter,
	alerter port.OpsAlerter,
	logger *zap.Logger,
) *ReconciliationWorker {
	defaults := DefaultReconciliationConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = defaults.StaleThreshold
	}

	return &ReconciliationWorker{
		config:   config,
		lister:   lister,
		reporter: reporter,
		alerter:  alerter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the sweep loop
func (w *ReconciliationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("reconciliation worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("ReconciliationWorker started",
		zap.Duration("interval", w.config.Interval),
		zap.Duration("stale_threshold", w.config.StaleThreshold))

	go w.loop(runCtx, w.done)
	return nil
}

// Stop terminates the loop and waits for an in-flight sweep
func (w *ReconciliationWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("ReconciliationWorker stopped")
	return nil
}

// Name returns the worker name for identification
func (w *ReconciliationWorker) Name() string {
	return "ReconciliationWorker"
}

// LastSweep returns when the last sweep finished
func (w *ReconciliationWorker) LastSweep() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSweep
}

func (w *ReconciliationWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one reconciliation pass. Nothing is reported when there are no
// stale activations.
func (w *ReconciliationWorker) Sweep(ctx context.Context) (*SweepResult, error) {
	stale, err := w.lister.ListStaleActivations(ctx, w.config.StaleThreshold)
	if err != nil {
		return nil, err
	}

	now := w.now()
	defer func() {
		w.mu.Lock()
		w.lastSweep = now
		w.mu.Unlock()
	}()

	result := &SweepResult{Stale: len(stale)}
	if len(stale) == 0 {
		w.logger.Debug("No stale activations")
		return result, nil
	}

	w.logger.Warn("Stale activations found", zap.Int("count", len(stale)))

	path, err := w.reporter.Write(stale, now)
	if err != nil {
		// still alert, the ids are in the message
		w.logger.Error("Failed to write reconciliation report", zap.Error(err))
	}
	result.ReportPath = path

	if err := w.alerter.Alert(ctx, alertText(stale, path, w.config.StaleThreshold)); err != nil {
		return result, fmt.Errorf("failed to send reconciliation alert: %w", err)
	}
	return result, nil
}

const maxAlertIDs = 20

func alertText(stale []*entity.BonusActivation, reportPath string, threshold time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d bonus activations have been PROCESSING for more than %s.", len(stale), threshold)

	b.WriteString("\nBonus ids: ")
	ids := make([]string, 0, maxAlertIDs)
	for i, a := range stale {
		if i == maxAlertIDs {
			break
		}
		ids = append(ids, a.ID)
	}
	b.WriteString(strings.Join(ids, ", "))
	if len(stale) > maxAlertIDs {
		fmt.Fprintf(&b, " and %d more", len(stale)-maxAlertIDs)
	}

	if reportPath != "" {
		b.WriteString("\nReport: ")
		b.WriteString(reportPath)
	}
	return b.String()
}
