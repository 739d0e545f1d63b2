// Package porttest provides in-memory implementations of the repository
// ports for tests.
package porttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// Store holds every entity in memory. Values are copied on the way in and
// out so callers cannot mutate stored state.
type Store struct {
	mu          sync.Mutex
	checks      map[string]entity.EligibilityCheck
	leases      map[string]entity.FamilyLease
	marks       map[string]entity.ProcessingMark
	activations map[string]entity.BonusActivation
	userBonuses map[string]entity.UserBonus
	instances   map[string]entity.WorkflowInstance
	history     map[string][]entity.HistoryEvent
	failures    map[string]error
	txMu        sync.Mutex
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{
		checks:      make(map[string]entity.EligibilityCheck),
		leases:      make(map[string]entity.FamilyLease),
		marks:       make(map[string]entity.ProcessingMark),
		activations: make(map[string]entity.BonusActivation),
		userBonuses: make(map[string]entity.UserBonus),
		instances:   make(map[string]entity.WorkflowInstance),
		history:     make(map[string][]entity.HistoryEvent),
		failures:    make(map[string]error),
	}
}

// FailOn makes the named operation (for example "leases.create") return err
// until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// caller must hold s.mu
func (s *Store) injected(op string) error {
	return s.failures[op]
}

func (s *Store) EligibilityChecks() port.EligibilityCheckRepository { return checkRepo{s} }
func (s *Store) FamilyLeases() port.FamilyLeaseRepository           { return leaseRepo{s} }
func (s *Store) ProcessingMarks() port.ProcessingMarkRepository     { return markRepo{s} }
func (s *Store) Activations() port.BonusActivationRepository        { return activationRepo{s} }
func (s *Store) UserBonuses() port.UserBonusRepository              { return userBonusRepo{s} }
func (s *Store) Instances() port.WorkflowInstanceRepository         { return instanceRepo{s} }
func (s *Store) History() port.WorkflowHistoryRepository            { return historyRepo{s} }
func (s *Store) TxManager() port.TransactionManager                 { return txManager{s} }

type txKey struct{}

type txManager struct{ s *Store }

// WithTransaction serializes transactions. Nested calls reuse the outer one.
// There is no rollback.
func (t txManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

// --- eligibility checks

type checkRepo struct{ s *Store }

func (r checkRepo) Upsert(ctx context.Context, check *entity.EligibilityCheck) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("checks.upsert"); err != nil {
		return err
	}
	r.s.checks[check.ID] = copyCheck(*check)
	return nil
}

func (r checkRepo) Find(ctx context.Context, applicantID string) (*entity.EligibilityCheck, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("checks.find"); err != nil {
		return nil, err
	}
	c, ok := r.s.checks[applicantID]
	if !ok {
		return nil, port.ErrNotFound
	}
	c = copyCheck(c)
	return &c, nil
}

func (r checkRepo) Delete(ctx context.Context, applicantID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("checks.delete"); err != nil {
		return err
	}
	if _, ok := r.s.checks[applicantID]; !ok {
		return port.ErrNotFound
	}
	delete(r.s.checks, applicantID)
	return nil
}

func copyCheck(c entity.EligibilityCheck) entity.EligibilityCheck {
	if c.DSU != nil {
		dsu := *c.DSU
		dsu.FamilyMembers = append([]string(nil), dsu.FamilyMembers...)
		c.DSU = &dsu
	}
	return c
}

// --- family leases

type leaseRepo struct{ s *Store }

func (r leaseRepo) Create(ctx context.Context, lease *entity.FamilyLease) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("leases.create"); err != nil {
		return err
	}
	if _, ok := r.s.leases[lease.ID]; ok {
		return port.ErrConflict
	}
	r.s.leases[lease.ID] = *lease
	return nil
}

func (r leaseRepo) Find(ctx context.Context, familyHash string) (*entity.FamilyLease, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("leases.find"); err != nil {
		return nil, err
	}
	l, ok := r.s.leases[familyHash]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &l, nil
}

func (r leaseRepo) Delete(ctx context.Context, familyHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("leases.delete"); err != nil {
		return err
	}
	if _, ok := r.s.leases[familyHash]; !ok {
		return port.ErrNotFound
	}
	delete(r.s.leases, familyHash)
	return nil
}

// --- processing marks

type markRepo struct{ s *Store }

func (r markRepo) Create(ctx context.Context, mark *entity.ProcessingMark) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("marks.create"); err != nil {
		return err
	}
	if _, ok := r.s.marks[mark.ID]; ok {
		return port.ErrConflict
	}
	r.s.marks[mark.ID] = *mark
	return nil
}

func (r markRepo) Find(ctx context.Context, applicantID string) (*entity.ProcessingMark, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("marks.find"); err != nil {
		return nil, err
	}
	m, ok := r.s.marks[applicantID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &m, nil
}

func (r markRepo) Delete(ctx context.Context, applicantID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("marks.delete"); err != nil {
		return err
	}
	if _, ok := r.s.marks[applicantID]; !ok {
		return port.ErrNotFound
	}
	delete(r.s.marks, applicantID)
	return nil
}

// --- activations

type activationRepo struct{ s *Store }

func copyActivation(a entity.BonusActivation) entity.BonusActivation {
	a.DSU.FamilyMembers = append([]string(nil), a.DSU.FamilyMembers...)
	return a
}

func (r activationRepo) Create(ctx context.Context, a *entity.BonusActivation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("activations.create"); err != nil {
		return err
	}
	if _, ok := r.s.activations[a.ID]; ok {
		return port.ErrConflict
	}
	r.s.activations[a.ID] = copyActivation(*a)
	return nil
}

func (r activationRepo) Find(ctx context.Context, bonusID string) (*entity.BonusActivation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("activations.find"); err != nil {
		return nil, err
	}
	a, ok := r.s.activations[bonusID]
	if !ok {
		return nil, port.ErrNotFound
	}
	a = copyActivation(a)
	return &a, nil
}

func (r activationRepo) Exists(ctx context.Context, bonusID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("activations.exists"); err != nil {
		return false, err
	}
	_, ok := r.s.activations[bonusID]
	return ok, nil
}

func (r activationRepo) Replace(ctx context.Context, a *entity.BonusActivation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("activations.replace"); err != nil {
		return err
	}
	if _, ok := r.s.activations[a.ID]; !ok {
		return port.ErrNotFound
	}
	r.s.activations[a.ID] = copyActivation(*a)
	return nil
}

func (r activationRepo) ListByApplicant(ctx context.Context, applicantID string) ([]*entity.BonusActivation, error) {
	return r.list(func(a entity.BonusActivation) bool { return a.ApplicantID == applicantID })
}

func (r activationRepo) ListByStatusBefore(ctx context.Context, status entity.ActivationStatus, before time.Time) ([]*entity.BonusActivation, error) {
	return r.list(func(a entity.BonusActivation) bool {
		return a.Status == status && a.CreatedAt.Before(before)
	})
}

func (r activationRepo) list(match func(entity.BonusActivation) bool) ([]*entity.BonusActivation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("activations.list"); err != nil {
		return nil, err
	}
	var out []*entity.BonusActivation
	for _, a := range r.s.activations {
		if match(a) {
			cp := copyActivation(a)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- user bonuses

type userBonusRepo struct{ s *Store }

func (r userBonusRepo) CreateBatch(ctx context.Context, rows []*entity.UserBonus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("userbonuses.create"); err != nil {
		return err
	}
	for _, row := range rows {
		key := row.BonusID + "/" + row.FiscalCode
		if _, ok := r.s.userBonuses[key]; !ok {
			r.s.userBonuses[key] = *row
		}
	}
	return nil
}

func (r userBonusRepo) ListByFiscalCode(ctx context.Context, fiscalCode string) ([]*entity.UserBonus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("userbonuses.list"); err != nil {
		return nil, err
	}
	var out []*entity.UserBonus
	for _, row := range r.s.userBonuses {
		if row.FiscalCode == fiscalCode {
			cp := row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BonusID < out[j].BonusID })
	return out, nil
}
