package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
	"github.com/garyjia/bonus-orchestrator/internal/domain/event"
)

const timerEventName = "timer"

// Context is handed to a workflow body. Every method that consumes a
// history slot must be called in the same order on every execution.
type Context interface {
	InstanceID() string
	WorkflowType() string

	// Input decodes the instance input into v
	Input(v any) error

	// IsReplaying reports whether the next call will be served from history
	IsReplaying() bool

	// Logger is silent while replaying so log lines are not duplicated
	Logger() *zap.Logger

	// CallActivity runs the named activity, or returns its recorded result
	// when replaying. A nil retry means a single attempt.
	CallActivity(name string, input any, retry *RetryOptions) (json.RawMessage, error)

	// CreateTimer blocks until d has elapsed since the timer was first
	// scheduled, across restarts.
	CreateTimer(d time.Duration) error

	// SetCustomStatus publishes a progress marker to pollers
	SetCustomStatus(status string) error
}

type failedPayload struct {
	Attempts  int  `json:"attempts"`
	Exhausted bool `json:"exhausted"`
}

// execContext is the Context of one execution of one instance
type execContext struct {
	engine   *engineImpl
	ctx      context.Context
	runID    string
	instance *entity.WorkflowInstance
	logger   *zap.Logger
	history  []*entity.HistoryEvent
	next     int
	handle   *runHandle

	suspended      bool
	nondeterminism error
}

func (c *execContext) InstanceID() string   { return c.instance.ID }
func (c *execContext) WorkflowType() string { return c.instance.WorkflowType }

func (c *execContext) Input(v any) error {
	if len(c.instance.Input) == 0 {
		return fmt.Errorf("instance %s has no input", c.instance.ID)
	}
	return json.Unmarshal(c.instance.Input, v)
}

func (c *execContext) IsReplaying() bool {
	return c.next < len(c.history)
}

func (c *execContext) Logger() *zap.Logger {
	if c.IsReplaying() {
		return zap.NewNop()
	}
	return c.logger
}

// persistCtx survives shutdown so that a completed step is still recorded
func (c *execContext) persistCtx() context.Context {
	return context.WithoutCancel(c.ctx)
}

func (c *execContext) diverged(seq int, want entity.HistoryEventType, name string, got *entity.HistoryEvent) error {
	err := fmt.Errorf("%w: seq %d expected %s %q, history has %s %q",
		ErrNondeterminism, seq, want, name, got.Type, got.Name)
	if c.nondeterminism == nil {
		c.nondeterminism = err
	}
	return err
}

func (c *execContext) interrupted() error {
	c.suspended = true
	return ErrSuspended
}

func (c *execContext) CallActivity(name string, input any, retry *RetryOptions) (json.RawMessage, error) {
	if c.nondeterminism != nil {
		return nil, c.nondeterminism
	}
	if c.suspended || c.ctx.Err() != nil {
		return nil, c.interrupted()
	}

	seq := c.next
	c.next++

	if seq < len(c.history) {
		return c.replayActivity(seq, name)
	}

	fn, ok := c.engine.activity(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, name)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input of %s: %w", name, err)
	}

	actx, span := c.engine.tracer.Start(c.ctx, "activity "+name,
		trace.WithAttributes(
			attribute.String("workflow.instance_id", c.instance.ID),
			attribute.String("workflow.activity", name),
			attribute.Int("workflow.seq", seq),
		))
	defer span.End()

	res := runActivity(actx, fn, payload, retry, func(attempt int, err error, next time.Duration) {
		c.logger.Warn("Activity attempt failed, retrying",
			zap.String("activity", name),
			zap.Int("attempt", attempt),
			zap.Duration("next_retry", next),
			zap.Error(err))
		c.engine.publish(actx, event.NewEventWithCorrelation(event.TypeActivityRetried, c.instance.ID, c.instance.WorkflowType, map[string]interface{}{
			"activity": name,
			"attempt":  attempt,
			"error":    err.Error(),
		}, c.runID))
	})
	span.SetAttributes(attribute.Int("workflow.attempts", res.attempts))

	if res.err != nil {
		if c.ctx.Err() != nil {
			// Cut short by shutdown or termination: record nothing so the
			// call runs again on the next execution.
			span.SetStatus(codes.Error, "suspended")
			return nil, c.interrupted()
		}
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		actErr := newActivityError(name, res.attempts, res.err.Error(), res.exhausted)
		meta, _ := json.Marshal(failedPayload{Attempts: res.attempts, Exhausted: res.exhausted})
		if err := c.record(&entity.HistoryEvent{
			Seq:     seq,
			Type:    entity.HistoryActivityFailed,
			Name:    name,
			Payload: meta,
			Error:   actErr.Message,
		}); err != nil {
			return nil, err
		}
		c.logger.Error("Activity failed",
			zap.String("activity", name),
			zap.Int("attempts", res.attempts),
			zap.Bool("retries_exhausted", res.exhausted),
			zap.Error(res.err))
		return nil, actErr
	}

	out, err := json.Marshal(res.output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of %s: %w", name, err)
	}
	if err := c.record(&entity.HistoryEvent{
		Seq:     seq,
		Type:    entity.HistoryActivityCompleted,
		Name:    name,
		Payload: out,
	}); err != nil {
		return nil, err
	}
	// A result that lands after cancellation is kept; the next call site
	// suspends instead.
	return out, nil
}

func (c *execContext) replayActivity(seq int, name string) (json.RawMessage, error) {
	evt := c.history[seq]
	switch {
	case evt.Seq != seq || evt.Name != name:
		return nil, c.diverged(seq, entity.HistoryActivityCompleted, name, evt)
	case evt.Type == entity.HistoryActivityCompleted:
		return json.RawMessage(evt.Payload), nil
	case evt.Type == entity.HistoryActivityFailed:
		var meta failedPayload
		if len(evt.Payload) > 0 {
			if err := json.Unmarshal(evt.Payload, &meta); err != nil {
				return nil, fmt.Errorf("corrupt history at seq %d: %w", seq, err)
			}
		}
		return nil, newActivityError(name, meta.Attempts, evt.Error, meta.Exhausted)
	default:
		return nil, c.diverged(seq, entity.HistoryActivityCompleted, name, evt)
	}
}

func (c *execContext) CreateTimer(d time.Duration) error {
	if c.nondeterminism != nil {
		return c.nondeterminism
	}
	if c.suspended || c.ctx.Err() != nil {
		return c.interrupted()
	}

	seq := c.next
	c.next += 2

	var fireAt time.Time
	if seq < len(c.history) {
		evt := c.history[seq]
		if evt.Seq != seq || evt.Type != entity.HistoryTimerScheduled || evt.FireAt == nil {
			return c.diverged(seq, entity.HistoryTimerScheduled, timerEventName, evt)
		}
		fireAt = *evt.FireAt
	} else {
		fireAt = c.engine.now().Add(d)
		if err := c.record(&entity.HistoryEvent{
			Seq:    seq,
			Type:   entity.HistoryTimerScheduled,
			Name:   timerEventName,
			FireAt: &fireAt,
		}); err != nil {
			return err
		}
	}

	if seq+1 < len(c.history) {
		evt := c.history[seq+1]
		if evt.Seq != seq+1 || evt.Type != entity.HistoryTimerFired {
			return c.diverged(seq+1, entity.HistoryTimerFired, timerEventName, evt)
		}
		return nil
	}

	if wait := fireAt.Sub(c.engine.now()); wait > 0 {
		c.logger.Debug("Waiting on durable timer", zap.Time("fire_at", fireAt))
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-c.ctx.Done():
			return c.interrupted()
		}
	}

	return c.record(&entity.HistoryEvent{
		Seq:    seq + 1,
		Type:   entity.HistoryTimerFired,
		Name:   timerEventName,
		FireAt: &fireAt,
	})
}

func (c *execContext) SetCustomStatus(status string) error {
	// Replayed and interrupted executions must not overwrite what the
	// original execution published.
	if c.IsReplaying() || c.suspended || c.ctx.Err() != nil {
		return nil
	}
	if err := c.engine.instances.UpdateCustomStatus(c.persistCtx(), c.instance.ID, status); err != nil {
		return fmt.Errorf("failed to set custom status: %w", err)
	}
	c.instance.CustomStatus = status
	return nil
}

func (c *execContext) record(evt *entity.HistoryEvent) error {
	evt.InstanceID = c.instance.ID
	if err := c.engine.history.Append(c.persistCtx(), evt); err != nil {
		return fmt.Errorf("failed to record %s at seq %d: %w", evt.Type, evt.Seq, err)
	}
	return nil
}

// IsSuspended reports whether err means the execution was interrupted and
// will resume later.
func IsSuspended(err error) bool {
	return errors.Is(err, ErrSuspended)
}
