package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/bonus-orchestrator/internal/application/lock"
	"github.com/garyjia/bonus-orchestrator/internal/application/orchestrator"
	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/application/port/porttest"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

const (
	applicant = "RSSMRA85T10A562S"
	spouse    = "BNCLRA87A41F205X"
)

var fixedNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type startCall struct {
	workflowType string
	instanceID   string
	input        any
}

type mockClient struct {
	mu       sync.Mutex
	statuses map[string]*workflow.Status
	starts   []startCall
	startErr error
}

func newMockClient() *mockClient {
	return &mockClient{statuses: make(map[string]*workflow.Status)}
}

func (m *mockClient) StartNew(ctx context.Context, workflowType, instanceID string, input any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	m.starts = append(m.starts, startCall{workflowType: workflowType, instanceID: instanceID, input: input})
	m.statuses[instanceID] = &workflow.Status{
		InstanceID:    instanceID,
		WorkflowType:  workflowType,
		RuntimeStatus: entity.RuntimeRunning,
	}
	return instanceID, nil
}

func (m *mockClient) GetStatus(ctx context.Context, instanceID string) (*workflow.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[instanceID]
	if !ok {
		return nil, workflow.ErrInstanceNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *mockClient) Terminate(ctx context.Context, instanceID, reason string) error {
	return nil
}

func (m *mockClient) setStatus(st *workflow.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[st.InstanceID] = st
}

func (m *mockClient) Starts() []startCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]startCall(nil), m.starts...)
}

type fixture struct {
	store   *porttest.Store
	client  *mockClient
	service *bonusServiceImpl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := porttest.NewStore()
	client := newMockClient()
	locks := lock.NewManager(store.FamilyLeases(), store.ProcessingMarks(), client, nil)
	svc := NewBonusService(store.EligibilityChecks(), store.Activations(), locks, client, nil).(*bonusServiceImpl)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{store: store, client: client, service: svc}
}

func (f *fixture) seedEligible(t *testing.T, members ...string) *entity.EligibilityCheck {
	t.Helper()
	amount, benefit := entity.BonusAmount(len(members))
	check := &entity.EligibilityCheck{
		ID:          applicant,
		Status:      entity.EligibilityEligible,
		ValidBefore: fixedNow.Add(time.Hour),
		DSU: &entity.DSURequest{
			ISEEValue:     15000,
			FamilyMembers: members,
			MaxAmount:     amount,
			MaxTaxBenefit: benefit,
		},
		CreatedAt: fixedNow.Add(-time.Hour),
	}
	require.NoError(t, f.store.EligibilityChecks().Upsert(context.Background(), check))
	return check
}

func TestStartEligibilityCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("starts the workflow", func(t *testing.T) {
		f := newFixture(t)
		id, err := f.service.StartEligibilityCheck(ctx, " rssmra85t10a562s ")
		require.NoError(t, err)
		assert.Equal(t, applicant+"-BV-ELIGIBILITY-CHECK", id)

		starts := f.client.Starts()
		require.Len(t, starts, 1)
		assert.Equal(t, entity.WorkflowTypeEligibilityCheck, starts[0].workflowType)
		assert.Equal(t, orchestrator.EligibilityInput{ApplicantID: applicant}, starts[0].input)
	})

	t.Run("invalid applicant", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.StartEligibilityCheck(ctx, "nope")
		assert.ErrorIs(t, err, ErrInvalidApplicant)
		assert.Empty(t, f.client.Starts())
	})

	t.Run("already running returns the instance id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.StartEligibilityCheck(ctx, applicant)
		require.NoError(t, err)

		id, err := f.service.StartEligibilityCheck(ctx, applicant)
		assert.ErrorIs(t, err, ErrCheckInProgress)
		assert.Equal(t, entity.EligibilityInstanceID(applicant), id)
		assert.Len(t, f.client.Starts(), 1)
	})

	t.Run("engine reports a concurrent start", func(t *testing.T) {
		f := newFixture(t)
		f.client.startErr = workflow.ErrAlreadyRunning
		_, err := f.service.StartEligibilityCheck(ctx, applicant)
		assert.ErrorIs(t, err, ErrCheckInProgress)
	})

	t.Run("refused while an activation is processing", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.ProcessingMarks().Create(ctx, &entity.ProcessingMark{ID: applicant, BonusID: "ABCDEFGHJKLM"}))
		_, err := f.service.StartEligibilityCheck(ctx, applicant)
		assert.ErrorIs(t, err, ErrActivationInProgress)
	})
}

func TestGetEligibilityCheck(t *testing.T) {
	ctx := context.Background()
	instanceID := entity.EligibilityInstanceID(applicant)

	t.Run("processing until the result is stored", func(t *testing.T) {
		f := newFixture(t)
		f.seedEligible(t, applicant)
		f.client.setStatus(&workflow.Status{
			InstanceID: instanceID, RuntimeStatus: entity.RuntimeRunning, CustomStatus: entity.CustomStatusRunning,
		})

		view, err := f.service.GetEligibilityCheck(ctx, applicant)
		require.NoError(t, err)
		assert.True(t, view.Processing)
		assert.Nil(t, view.Check)
	})

	t.Run("stored result while the notification is pending", func(t *testing.T) {
		f := newFixture(t)
		f.seedEligible(t, applicant)
		f.client.setStatus(&workflow.Status{
			InstanceID: instanceID, RuntimeStatus: entity.RuntimeRunning, CustomStatus: entity.CustomStatusCompleted,
		})

		view, err := f.service.GetEligibilityCheck(ctx, applicant)
		require.NoError(t, err)
		assert.False(t, view.Processing)
		require.NotNil(t, view.Check)
		assert.Equal(t, entity.EligibilityEligible, view.Check.Status)
	})

	t.Run("failed instance without a record", func(t *testing.T) {
		f := newFixture(t)
		f.client.setStatus(&workflow.Status{
			InstanceID: instanceID, RuntimeStatus: entity.RuntimeFailed, Error: "inquiry unavailable",
		})

		view, err := f.service.GetEligibilityCheck(ctx, applicant)
		require.NoError(t, err)
		require.NotNil(t, view.Check)
		assert.Equal(t, entity.EligibilityFailure, view.Check.Status)
		assert.Equal(t, entity.EligibilityErrorInternal, view.Check.Error)
		assert.Equal(t, "inquiry unavailable", view.Check.ErrorDescription)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.GetEligibilityCheck(ctx, applicant)
		assert.ErrorIs(t, err, ErrEligibilityNotFound)
	})

	t.Run("repository error", func(t *testing.T) {
		f := newFixture(t)
		f.store.FailOn("checks.find", errors.New("disk I/O error"))
		_, err := f.service.GetEligibilityCheck(ctx, applicant)
		assert.ErrorContains(t, err, "disk I/O error")
	})
}

func TestStartBonusActivation_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedEligible(t, applicant, spouse)

	activation, err := f.service.StartBonusActivation(ctx, applicant)
	require.NoError(t, err)
	assert.Len(t, activation.ID, entity.BonusCodeLength)
	assert.Equal(t, entity.ActivationProcessing, activation.Status)
	assert.Equal(t, entity.FamilyHash([]string{spouse, applicant}), activation.FamilyHash)
	assert.Equal(t, 250, activation.DSU.MaxAmount)

	stored, err := f.store.Activations().Find(ctx, activation.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActivationProcessing, stored.Status)

	lease, err := f.store.FamilyLeases().Find(ctx, activation.FamilyHash)
	require.NoError(t, err)
	assert.Equal(t, activation.ID, lease.BonusID)

	mark, err := f.store.ProcessingMarks().Find(ctx, applicant)
	require.NoError(t, err)
	assert.Equal(t, activation.ID, mark.BonusID)

	starts := f.client.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, entity.ActivationInstanceID(applicant), starts[0].instanceID)
	assert.Equal(t, orchestrator.ActivationInput{ApplicantID: applicant, BonusID: activation.ID}, starts[0].input)

	_, err = f.store.EligibilityChecks().Find(ctx, applicant)
	assert.ErrorIs(t, err, port.ErrNotFound, "the check is consumed")
}

func TestStartBonusActivation_Preconditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		seed    func(t *testing.T, f *fixture)
		wantErr error
	}{
		{
			name:    "no check",
			seed:    func(t *testing.T, f *fixture) {},
			wantErr: ErrEligibilityNotFound,
		},
		{
			name: "ineligible",
			seed: func(t *testing.T, f *fixture) {
				check := f.seedEligible(t, applicant)
				check.Status = entity.EligibilityIneligible
				require.NoError(t, f.store.EligibilityChecks().Upsert(ctx, check))
			},
			wantErr: ErrNotEligible,
		},
		{
			name: "expired",
			seed: func(t *testing.T, f *fixture) {
				check := f.seedEligible(t, applicant)
				check.ValidBefore = fixedNow
				require.NoError(t, f.store.EligibilityChecks().Upsert(ctx, check))
			},
			wantErr: ErrEligibilityExpired,
		},
		{
			name: "processing mark held",
			seed: func(t *testing.T, f *fixture) {
				f.seedEligible(t, applicant)
				require.NoError(t, f.store.ProcessingMarks().Create(ctx, &entity.ProcessingMark{ID: applicant}))
			},
			wantErr: ErrActivationInProgress,
		},
		{
			name: "family already leased",
			seed: func(t *testing.T, f *fixture) {
				f.seedEligible(t, applicant, spouse)
				require.NoError(t, f.store.FamilyLeases().Create(ctx, &entity.FamilyLease{
					ID: entity.FamilyHash([]string{applicant, spouse}), ApplicantID: spouse,
				}))
			},
			wantErr: ErrFamilyAlreadyLeased,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.seed(t, f)

			_, err := f.service.StartBonusActivation(ctx, applicant)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.client.Starts())

			activations, err := f.store.Activations().ListByApplicant(ctx, applicant)
			require.NoError(t, err)
			assert.Empty(t, activations)
		})
	}
}

func TestStartBonusActivation_CodeCollisions(t *testing.T) {
	ctx := context.Background()

	t.Run("retries until a free code", func(t *testing.T) {
		f := newFixture(t)
		f.seedEligible(t, applicant)
		require.NoError(t, f.store.Activations().Create(ctx, &entity.BonusActivation{ID: "AAAAAAAAAAAA", ApplicantID: spouse}))

		codes := []string{"AAAAAAAAAAAA", "AAAAAAAAAAAA", "BBBBBBBBBBBB"}
		f.service.generateCode = func() (string, error) {
			code := codes[0]
			codes = codes[1:]
			return code, nil
		}

		activation, err := f.service.StartBonusActivation(ctx, applicant)
		require.NoError(t, err)
		assert.Equal(t, "BBBBBBBBBBBB", activation.ID)
	})

	t.Run("gives up after ten collisions", func(t *testing.T) {
		f := newFixture(t)
		f.seedEligible(t, applicant)
		require.NoError(t, f.store.Activations().Create(ctx, &entity.BonusActivation{ID: "AAAAAAAAAAAA", ApplicantID: spouse}))

		calls := 0
		f.service.generateCode = func() (string, error) {
			calls++
			return "AAAAAAAAAAAA", nil
		}

		_, err := f.service.StartBonusActivation(ctx, applicant)
		assert.ErrorIs(t, err, ErrBonusCodeExhausted)
		assert.Equal(t, maxCodeAttempts, calls)
	})
}

func TestStartBonusActivation_Compensation(t *testing.T) {
	ctx := context.Background()

	t.Run("workflow start failure undoes every step", func(t *testing.T) {
		f := newFixture(t)
		f.seedEligible(t, applicant, spouse)
		f.service.generateCode = func() (string, error) { return "CCCCCCCCCCCC", nil }
		f.client.startErr = errors.New("database is locked")

		_, err := f.service.StartBonusActivation(ctx, applicant)
		assert.ErrorContains(t, err, "database is locked")

		stored, err := f.store.Activations().Find(ctx, "CCCCCCCCCCCC")
		require.NoError(t, err)
		assert.Equal(t, entity.ActivationFailed, stored.Status)

		_, err = f.store.ProcessingMarks().Find(ctx, applicant)
		assert.ErrorIs(t, err, port.ErrNotFound)
		_, err = f.store.FamilyLeases().Find(ctx, entity.FamilyHash([]string{applicant, spouse}))
		assert.ErrorIs(t, err, port.ErrNotFound)

		_, err = f.store.EligibilityChecks().Find(ctx, applicant)
		assert.NoError(t, err, "the check survives so the applicant can retry")
	})

	t.Run("activation create failure releases the lease", func(t *testing.T) {
		f := newFixture(t)
		f.seedEligible(t, applicant)
		f.store.FailOn("activations.create", errors.New("disk full"))

		_, err := f.service.StartBonusActivation(ctx, applicant)
		assert.ErrorContains(t, err, "disk full")

		_, err = f.store.FamilyLeases().Find(ctx, entity.FamilyHash([]string{applicant}))
		assert.ErrorIs(t, err, port.ErrNotFound)
	})

	t.Run("compensation keeps going after a failing step", func(t *testing.T) {
		f := newFixture(t)
		f.seedEligible(t, applicant)
		f.service.generateCode = func() (string, error) { return "DDDDDDDDDDDD", nil }
		f.client.startErr = errors.New("boom")
		f.store.FailOn("marks.delete", errors.New("mark store down"))

		_, err := f.service.StartBonusActivation(ctx, applicant)
		assert.Error(t, err)

		stored, err := f.store.Activations().Find(ctx, "DDDDDDDDDDDD")
		require.NoError(t, err)
		assert.Equal(t, entity.ActivationFailed, stored.Status)
		_, err = f.store.FamilyLeases().Find(ctx, entity.FamilyHash([]string{applicant}))
		assert.ErrorIs(t, err, port.ErrNotFound)
	})
}

func TestCompensations_RunInReverse(t *testing.T) {
	var order []string
	slip := &compensations{}
	for _, name := range []string{"first", "second", "third"} {
		name := name
		slip.push(name, func(ctx context.Context) error {
			order = append(order, name)
			if name == "second" {
				return errors.New("failed")
			}
			return nil
		})
	}

	err := slip.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: failed")
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestGetBonusActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Activations().Create(ctx, &entity.BonusActivation{
		ID: "ABCDEFGHJKLM", ApplicantID: applicant, Status: entity.ActivationActive,
	}))
	require.NoError(t, f.store.Activations().Create(ctx, &entity.BonusActivation{
		ID: "MLKJHGFEDCBA", ApplicantID: spouse, Status: entity.ActivationActive,
	}))

	got, err := f.service.GetBonusActivation(ctx, applicant, "ABCDEFGHJKLM")
	require.NoError(t, err)
	assert.Equal(t, entity.ActivationActive, got.Status)

	_, err = f.service.GetBonusActivation(ctx, applicant, "MLKJHGFEDCBA")
	assert.ErrorIs(t, err, ErrBonusNotFound, "another applicant's bonus")

	_, err = f.service.GetBonusActivation(ctx, applicant, "ZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrBonusNotFound)

	_, err = f.service.GetBonusActivation(ctx, applicant, "bad code")
	assert.ErrorIs(t, err, ErrBonusNotFound)

	list, err := f.service.ListBonuses(ctx, applicant)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ABCDEFGHJKLM", list[0].ID)
}

func TestListStaleActivations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for id, created := range map[string]time.Time{
		"AAAAAAAAAAAA": fixedNow.Add(-3 * time.Hour),
		"BBBBBBBBBBBB": fixedNow.Add(-10 * time.Minute),
	} {
		require.NoError(t, f.store.Activations().Create(ctx, &entity.BonusActivation{
			ID: id, ApplicantID: applicant, Status: entity.ActivationProcessing, CreatedAt: created,
		}))
	}

	stale, err := f.service.ListStaleActivations(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "AAAAAAAAAAAA", stale[0].ID)
}
