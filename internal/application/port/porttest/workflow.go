package porttest

import (
	"context"
	"sort"
	"time"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

type instanceRepo struct{ s *Store }

func copyInstance(i entity.WorkflowInstance) entity.WorkflowInstance {
	i.Input = append([]byte(nil), i.Input...)
	i.Output = append([]byte(nil), i.Output...)
	return i
}

func (r instanceRepo) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("instances.create"); err != nil {
		return err
	}
	if _, ok := r.s.instances[inst.ID]; ok {
		return port.ErrConflict
	}
	now := time.Now().UTC()
	cp := copyInstance(*inst)
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.s.instances[inst.ID] = cp
	return nil
}

func (r instanceRepo) Find(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("instances.find"); err != nil {
		return nil, err
	}
	inst, ok := r.s.instances[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	inst = copyInstance(inst)
	return &inst, nil
}

func (r instanceRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.instances[id]; !ok {
		return port.ErrNotFound
	}
	delete(r.s.instances, id)
	return nil
}

func (r instanceRepo) MarkRunning(ctx context.Context, id string) error {
	return r.update(id, "instances.mark_running", func(inst *entity.WorkflowInstance) bool {
		if inst.Status != entity.RuntimePending && inst.Status != entity.RuntimeRunning {
			return false
		}
		inst.Status = entity.RuntimeRunning
		return true
	})
}

func (r instanceRepo) UpdateCustomStatus(ctx context.Context, id, customStatus string) error {
	return r.update(id, "instances.custom_status", func(inst *entity.WorkflowInstance) bool {
		inst.CustomStatus = customStatus
		return true
	})
}

func (r instanceRepo) Complete(ctx context.Context, id string, status entity.RuntimeStatus, customStatus string, output []byte, errMsg string) error {
	return r.update(id, "instances.complete", func(inst *entity.WorkflowInstance) bool {
		if inst.Status.IsTerminal() {
			return false
		}
		now := time.Now().UTC()
		inst.Status = status
		inst.CustomStatus = customStatus
		inst.Output = append([]byte(nil), output...)
		inst.Error = errMsg
		inst.CompletedAt = &now
		return true
	})
}

func (r instanceRepo) update(id, op string, fn func(*entity.WorkflowInstance) bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected(op); err != nil {
		return err
	}
	inst, ok := r.s.instances[id]
	if !ok || !fn(&inst) {
		return port.ErrNotFound
	}
	inst.UpdatedAt = time.Now().UTC()
	r.s.instances[id] = inst
	return nil
}

func (r instanceRepo) ListByStatus(ctx context.Context, statuses ...entity.RuntimeStatus) ([]*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[entity.RuntimeStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*entity.WorkflowInstance
	for _, inst := range r.s.instances {
		if want[inst.Status] {
			cp := copyInstance(inst)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type historyRepo struct{ s *Store }

func (r historyRepo) Append(ctx context.Context, evt *entity.HistoryEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("history.append"); err != nil {
		return err
	}
	for _, existing := range r.s.history[evt.InstanceID] {
		if existing.Seq == evt.Seq {
			return port.ErrConflict
		}
	}
	cp := *evt
	cp.Payload = append([]byte(nil), evt.Payload...)
	cp.CreatedAt = time.Now().UTC()
	r.s.history[evt.InstanceID] = append(r.s.history[evt.InstanceID], cp)
	return nil
}

func (r historyRepo) ListByInstance(ctx context.Context, instanceID string) ([]*entity.HistoryEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("history.list"); err != nil {
		return nil, err
	}
	events := r.s.history[instanceID]
	out := make([]*entity.HistoryEvent, 0, len(events))
	for _, e := range events {
		cp := e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r historyRepo) DeleteByInstance(ctx context.Context, instanceID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.history, instanceID)
	return nil
}
