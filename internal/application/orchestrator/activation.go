package orchestrator

import (
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/activity"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// BonusActivation submits a PROCESSING activation to the grant authority and
// settles it. The result is true once the instance ran to a decision, false
// only for undecodable input. Business outcomes live in the activation
// status. Exhausted grant retries fail the instance and leave the record
// PROCESSING.
func (o *Orchestrators) BonusActivation(ctx workflow.Context) (any, error) {
	var in ActivationInput
	if err := ctx.Input(&in); err != nil || in.BonusID == "" {
		ctx.Logger().Error("Invalid activation input", zap.Error(err))
		return false, nil
	}
	logger := func() *zap.Logger {
		return ctx.Logger().With(
			zap.String("applicant_id", in.ApplicantID),
			zap.String("bonus_id", in.BonusID))
	}

	lookup, err := workflow.CallActivity[*activity.ActivationLookup](ctx, activity.NameGetBonusActivation, in.BonusID, o.cfg.LookupRetry)
	if err != nil {
		return nil, err
	}
	if lookup == nil || !lookup.Found || lookup.Activation == nil {
		logger().Error("Activation record unavailable, nothing to grant")
		return true, nil
	}
	if lookup.Activation.Status != entity.ActivationProcessing {
		logger().Info("Activation already settled", zap.String("status", string(lookup.Activation.Status)))
		return true, nil
	}

	if err := ctx.SetCustomStatus(entity.CustomStatusRunning); err != nil {
		return nil, err
	}

	outcome, err := workflow.CallActivity[*activity.GrantOutcome](ctx, activity.NameGrantBonusAtAuthority, lookup.Activation, o.cfg.GrantRetry)
	if err != nil {
		return nil, err
	}

	if outcome != nil && outcome.Granted {
		if _, err := workflow.CallActivity[bool](ctx, activity.NameMarkActivationActive, in.BonusID, nil); err != nil {
			return nil, err
		}
		logger().Info("Bonus activated")
		return true, nil
	}

	reason := ""
	if outcome != nil {
		reason = outcome.Reason
	}
	logger().Warn("Bonus rejected by the grant authority", zap.String("reason", reason))

	if _, err := workflow.CallActivity[bool](ctx, activity.NameMarkActivationFailed, in.BonusID, nil); err != nil {
		return nil, err
	}
	if _, err := workflow.CallActivity[bool](ctx, activity.NameReleaseFamilyLock, lookup.Activation.FamilyHash, nil); err != nil {
		return nil, err
	}
	return true, nil
}
