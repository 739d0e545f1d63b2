package activity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/bonus-orchestrator/internal/application/lock"
	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/application/port/porttest"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

const (
	applicant = "AAAAAA00A00A000A"
	member    = "BBBBBB00B00B000B"
	bonusID   = "ABCDEFGHJKLM"
)

type fixture struct {
	store    *porttest.Store
	inquiry  *porttest.Inquiry
	grant    *porttest.Grant
	notifier *porttest.Notifier
	acts     *Activities
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    porttest.NewStore(),
		inquiry:  porttest.NewInquiry(),
		grant:    porttest.NewGrant(),
		notifier: porttest.NewNotifier(),
		now:      time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.acts = New(Dependencies{
		Checks:      f.store.EligibilityChecks(),
		Activations: f.store.Activations(),
		UserBonuses: f.store.UserBonuses(),
		Locks:       lock.NewManager(f.store.FamilyLeases(), f.store.ProcessingMarks(), nil, nil),
		TxManager:   f.store.TxManager(),
		Inquiry:     f.inquiry,
		Grant:       f.grant,
		Notifier:    f.notifier,
	}, nil)
	f.acts.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seedActivation(t *testing.T, status entity.ActivationStatus) *entity.BonusActivation {
	t.Helper()
	members := []string{applicant, member}
	a := &entity.BonusActivation{
		ID:          bonusID,
		ApplicantID: applicant,
		FamilyHash:  entity.FamilyHash(members),
		Status:      status,
		DSU:         entity.DSURequest{FamilyMembers: members, MaxAmount: 250, MaxTaxBenefit: 50},
		CreatedAt:   f.now,
	}
	require.NoError(t, f.store.Activations().Create(context.Background(), a))
	require.NoError(t, f.store.ProcessingMarks().Create(context.Background(), &entity.ProcessingMark{ID: applicant, BonusID: bonusID}))
	return a
}

func TestRunEligibilityInquiry(t *testing.T) {
	tests := []struct {
		name        string
		response    porttest.InquiryResponse
		wantStatus  entity.EligibilityStatus
		wantError   entity.EligibilityError
		wantAmount  int
		wantBenefit int
	}{
		{
			name: "single member below threshold",
			response: porttest.InquiryResponse{Result: &port.InquiryResult{
				Outcome: port.InquirySuccess, ISEEValue: 10000, FamilyMembers: []string{applicant},
			}},
			wantStatus: entity.EligibilityEligible, wantAmount: 150, wantBenefit: 30,
		},
		{
			name: "two members",
			response: porttest.InquiryResponse{Result: &port.InquiryResult{
				Outcome: port.InquirySuccess, ISEEValue: 39999.99, FamilyMembers: []string{applicant, member},
			}},
			wantStatus: entity.EligibilityEligible, wantAmount: 250, wantBenefit: 50,
		},
		{
			name: "large family",
			response: porttest.InquiryResponse{Result: &port.InquiryResult{
				Outcome: port.InquirySuccess, ISEEValue: 5000, FamilyMembers: []string{applicant, member, "CCCCCC00C00C000C", "DDDDDD00D00D000D"},
			}},
			wantStatus: entity.EligibilityEligible, wantAmount: 500, wantBenefit: 100,
		},
		{
			name: "at threshold",
			response: porttest.InquiryResponse{Result: &port.InquiryResult{
				Outcome: port.InquirySuccess, ISEEValue: 40000, FamilyMembers: []string{applicant},
			}},
			wantStatus: entity.EligibilityIneligible, wantAmount: 150, wantBenefit: 30,
		},
		{
			name:       "data not found",
			response:   porttest.InquiryResponse{Result: &port.InquiryResult{Outcome: port.InquiryDataNotFound, Message: "no DSU"}},
			wantStatus: entity.EligibilityFailure,
			wantError:  entity.EligibilityErrorDataNotFound,
		},
		{
			name:       "invalid request",
			response:   porttest.InquiryResponse{Result: &port.InquiryResult{Outcome: port.InquiryInvalidRequest, Message: "bad fiscal code"}},
			wantStatus: entity.EligibilityFailure,
			wantError:  entity.EligibilityErrorInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.inquiry = porttest.NewInquiry(tt.response)
			f.acts.deps.Inquiry = f.inquiry

			check, err := f.acts.RunEligibilityInquiry(context.Background(), applicant)
			require.NoError(t, err)
			assert.Equal(t, applicant, check.ID)
			assert.Equal(t, tt.wantStatus, check.Status)
			assert.Equal(t, tt.wantError, check.Error)
			assert.Equal(t, f.now.Add(DefaultEligibilityValidity), check.ValidBefore)
			if tt.wantAmount > 0 {
				require.NotNil(t, check.DSU)
				assert.Equal(t, tt.wantAmount, check.DSU.MaxAmount)
				assert.Equal(t, tt.wantBenefit, check.DSU.MaxTaxBenefit)
			} else {
				assert.Nil(t, check.DSU)
			}
		})
	}
}

func TestRunEligibilityInquiry_TransientError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("soap endpoint unreachable")
	f.acts.deps.Inquiry = porttest.NewInquiry(porttest.InquiryResponse{Err: boom})

	_, err := f.acts.RunEligibilityInquiry(context.Background(), applicant)
	assert.ErrorIs(t, err, boom)
}

func TestValidateFamilyNotLeased(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	members := []string{member, applicant}
	eligible := func() *entity.EligibilityCheck {
		return &entity.EligibilityCheck{
			ID:     applicant,
			Status: entity.EligibilityEligible,
			DSU:    &entity.DSURequest{FamilyMembers: members},
		}
	}

	got, err := f.acts.ValidateFamilyNotLeased(ctx, eligible())
	require.NoError(t, err)
	assert.Equal(t, entity.EligibilityEligible, got.Status)

	require.NoError(t, f.store.FamilyLeases().Create(ctx, &entity.FamilyLease{ID: entity.FamilyHash(members), ApplicantID: member}))

	got, err = f.acts.ValidateFamilyNotLeased(ctx, eligible())
	require.NoError(t, err)
	assert.Equal(t, entity.EligibilityConflict, got.Status)

	ineligible := &entity.EligibilityCheck{ID: applicant, Status: entity.EligibilityIneligible, DSU: &entity.DSURequest{FamilyMembers: members}}
	got, err = f.acts.ValidateFamilyNotLeased(ctx, ineligible)
	require.NoError(t, err)
	assert.Equal(t, entity.EligibilityIneligible, got.Status)
}

func TestEligibilityRecordLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.acts.DeleteStaleEligibilityCheck(ctx, applicant)
	require.NoError(t, err)
	assert.True(t, ok, "deleting an absent check is an ack")

	ok, err = f.acts.PersistEligibilityResult(ctx, &entity.EligibilityCheck{ID: applicant, Status: entity.EligibilityEligible})
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := f.store.EligibilityChecks().Find(ctx, applicant)
	require.NoError(t, err)
	assert.Equal(t, entity.EligibilityEligible, stored.Status)

	ok, err = f.acts.DeleteStaleEligibilityCheck(ctx, applicant)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = f.store.EligibilityChecks().Find(ctx, applicant)
	assert.ErrorIs(t, err, port.ErrNotFound)

	_, err = f.acts.PersistEligibilityResult(ctx, &entity.EligibilityCheck{})
	assert.Error(t, err)
}

func TestGetBonusActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lookup, err := f.acts.GetBonusActivation(ctx, bonusID)
	require.NoError(t, err)
	assert.False(t, lookup.Found)
	assert.NotEmpty(t, lookup.Reason)

	f.seedActivation(t, entity.ActivationProcessing)
	lookup, err = f.acts.GetBonusActivation(ctx, bonusID)
	require.NoError(t, err)
	require.True(t, lookup.Found)
	assert.Equal(t, applicant, lookup.Activation.ApplicantID)

	f.store.FailOn("activations.find", fmt.Errorf("%w: bad json", port.ErrCorruptRecord))
	lookup, err = f.acts.GetBonusActivation(ctx, bonusID)
	require.NoError(t, err)
	assert.False(t, lookup.Found)

	f.store.FailOn("activations.find", errors.New("database is locked"))
	_, err = f.acts.GetBonusActivation(ctx, bonusID)
	assert.Error(t, err)
}

func TestGrantBonusAtAuthority(t *testing.T) {
	f := newFixture(t)
	activation := f.seedActivation(t, entity.ActivationProcessing)

	f.acts.deps.Grant = porttest.NewGrant(
		porttest.GrantResponse{Err: errors.New("503")},
		porttest.GrantResponse{Result: &port.GrantResult{Granted: false, Reason: "duplicate code"}},
		porttest.GrantResponse{Result: &port.GrantResult{Granted: true}},
	)

	_, err := f.acts.GrantBonusAtAuthority(context.Background(), activation)
	assert.Error(t, err)

	out, err := f.acts.GrantBonusAtAuthority(context.Background(), activation)
	require.NoError(t, err)
	assert.False(t, out.Granted)
	assert.Equal(t, "duplicate code", out.Reason)

	out, err = f.acts.GrantBonusAtAuthority(context.Background(), activation)
	require.NoError(t, err)
	assert.True(t, out.Granted)

	snapshots := f.acts.deps.Grant.(*porttest.Grant).Snapshots()
	require.Len(t, snapshots, 3)
	assert.Equal(t, 250, snapshots[0].Amount)
	assert.Equal(t, 50, snapshots[0].TaxBenefit)
	assert.Equal(t, activation.FamilyHash, snapshots[0].FamilyHash)
}

func TestGrantBonusAtAuthority_RejectsRecordWithoutFamily(t *testing.T) {
	f := newFixture(t)
	activation := f.seedActivation(t, entity.ActivationProcessing)
	activation.DSU.FamilyMembers = nil

	grant := porttest.NewGrant(porttest.GrantResponse{Result: &port.GrantResult{Granted: true}})
	f.acts.deps.Grant = grant

	_, err := f.acts.GrantBonusAtAuthority(context.Background(), activation)
	require.Error(t, err)
	var perm *backoff.PermanentError
	assert.ErrorAs(t, err, &perm)
	assert.Empty(t, grant.Snapshots(), "nothing is submitted for an incomplete record")
}

func TestGrantBonusAtAuthority_SanitizesReason(t *testing.T) {
	f := newFixture(t)
	activation := f.seedActivation(t, entity.ActivationProcessing)
	f.acts.deps.Grant = porttest.NewGrant(
		porttest.GrantResponse{Result: &port.GrantResult{Granted: false, Reason: "code\x00 already\n used"}},
	)

	out, err := f.acts.GrantBonusAtAuthority(context.Background(), activation)
	require.NoError(t, err)
	assert.Equal(t, "code already used", out.Reason)
}

func TestMarkActivationActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedActivation(t, entity.ActivationProcessing)

	ok, err := f.acts.MarkActivationActive(ctx, bonusID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := f.store.Activations().Find(ctx, bonusID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActivationActive, stored.Status)

	_, err = f.store.ProcessingMarks().Find(ctx, applicant)
	assert.ErrorIs(t, err, port.ErrNotFound)

	rows, err := f.store.UserBonuses().ListByFiscalCode(ctx, member)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsApplicant)
	rows, err = f.store.UserBonuses().ListByFiscalCode(ctx, applicant)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsApplicant)

	// A replay after a crash acknowledges without duplicating rows.
	ok, err = f.acts.MarkActivationActive(ctx, bonusID)
	require.NoError(t, err)
	assert.True(t, ok)
	rows, err = f.store.UserBonuses().ListByFiscalCode(ctx, member)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// The other terminal status is out of reach.
	_, err = f.acts.MarkActivationFailed(ctx, bonusID)
	assert.Error(t, err)
	stored, err = f.store.Activations().Find(ctx, bonusID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActivationActive, stored.Status)
}

func TestMarkActivationFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedActivation(t, entity.ActivationProcessing)

	ok, err := f.acts.MarkActivationFailed(ctx, bonusID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := f.store.Activations().Find(ctx, bonusID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActivationFailed, stored.Status)

	_, err = f.store.ProcessingMarks().Find(ctx, applicant)
	assert.ErrorIs(t, err, port.ErrNotFound)

	rows, err := f.store.UserBonuses().ListByFiscalCode(ctx, applicant)
	require.NoError(t, err)
	assert.Empty(t, rows)

	ok, err = f.acts.MarkActivationFailed(ctx, bonusID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.acts.MarkActivationActive(ctx, bonusID)
	assert.Error(t, err)
}

func TestMarkActivation_RepositoryErrors(t *testing.T) {
	f := newFixture(t)
	f.seedActivation(t, entity.ActivationProcessing)
	f.store.FailOn("activations.replace", errors.New("disk full"))

	_, err := f.acts.MarkActivationActive(context.Background(), bonusID)
	assert.Error(t, err)

	_, err = f.acts.MarkActivationActive(context.Background(), "UNKNOWNBONUS")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestReleaseFamilyLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.FamilyLeases().Create(ctx, &entity.FamilyLease{ID: "hash"}))

	for i := 0; i < 2; i++ {
		ok, err := f.acts.ReleaseFamilyLock(ctx, "hash")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	_, err := f.store.FamilyLeases().Find(ctx, "hash")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestSendNotification(t *testing.T) {
	tests := []struct {
		name          string
		response      porttest.NotifierResponse
		wantErr       bool
		wantDelivered bool
	}{
		{name: "ok", response: porttest.NotifierResponse{StatusCode: 200}, wantDelivered: true},
		{name: "accepted", response: porttest.NotifierResponse{StatusCode: 202}, wantDelivered: true},
		{name: "server error", response: porttest.NotifierResponse{StatusCode: 503}, wantErr: true},
		{name: "transport error", response: porttest.NotifierResponse{Err: errors.New("dial tcp")}, wantErr: true},
		{name: "client error", response: porttest.NotifierResponse{StatusCode: 404}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.acts.deps.Notifier = porttest.NewNotifier(tt.response)

			res, err := f.acts.SendNotification(context.Background(), NotificationRequest{ApplicantID: applicant, Content: "hi"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDelivered, res.Delivered)
		})
	}
}

func TestEligibilityMessage(t *testing.T) {
	validBefore := time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)

	msg, err := EligibilityMessage(&entity.EligibilityCheck{
		Status:      entity.EligibilityEligible,
		ValidBefore: validBefore,
		DSU:         &entity.DSURequest{MaxAmount: 150, MaxTaxBenefit: 30},
	})
	require.NoError(t, err)
	assert.Contains(t, msg, "150 EUR")
	assert.Contains(t, msg, "30 EUR")
	assert.Contains(t, msg, "02/06/2026 10:00 UTC")

	msg, err = EligibilityMessage(&entity.EligibilityCheck{Status: entity.EligibilityIneligible})
	require.NoError(t, err)
	assert.Contains(t, msg, "40000 EUR")

	msg, err = EligibilityMessage(&entity.EligibilityCheck{Status: entity.EligibilityFailure, Error: entity.EligibilityErrorDataNotFound})
	require.NoError(t, err)
	assert.Contains(t, msg, "DATA_NOT_FOUND")

	_, err = EligibilityMessage(&entity.EligibilityCheck{Status: "UNKNOWN"})
	assert.Error(t, err)
}
