package orchestrator

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/activity"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// EligibilityCheck runs the inquiry, stores the resulting check and, after
// the notification delay, tells the applicant. Any error ends the instance
// as FAILED without notifying.
func (o *Orchestrators) EligibilityCheck(ctx workflow.Context) (any, error) {
	check, err := o.checkEligibility(ctx)
	if err != nil {
		if workflow.IsSuspended(err) {
			return nil, err
		}
		ctx.Logger().Error("Eligibility check failed", zap.Error(err))
		if statusErr := ctx.SetCustomStatus(entity.CustomStatusCompleted); statusErr != nil {
			ctx.Logger().Warn("Failed to publish completion", zap.Error(statusErr))
		}
		return nil, err
	}
	return check, nil
}

func (o *Orchestrators) checkEligibility(ctx workflow.Context) (*entity.EligibilityCheck, error) {
	var in EligibilityInput
	if err := ctx.Input(&in); err != nil {
		return nil, fmt.Errorf("invalid eligibility input: %w", err)
	}
	if in.ApplicantID == "" {
		return nil, errors.New("invalid eligibility input: missing applicant id")
	}
	logger := func() *zap.Logger {
		return ctx.Logger().With(zap.String("applicant_id", in.ApplicantID))
	}

	if err := ctx.SetCustomStatus(entity.CustomStatusRunning); err != nil {
		return nil, err
	}

	if _, err := workflow.CallActivity[bool](ctx, activity.NameDeleteStaleEligibilityCheck, in.ApplicantID, nil); err != nil {
		return nil, err
	}

	check, err := workflow.CallActivity[*entity.EligibilityCheck](ctx, activity.NameRunEligibilityInquiry, in.ApplicantID, o.cfg.InquiryRetry)
	if err != nil {
		return nil, err
	}
	if check == nil {
		return nil, errors.New("inquiry returned no check")
	}

	if check.Status == entity.EligibilityEligible {
		check, err = workflow.CallActivity[*entity.EligibilityCheck](ctx, activity.NameValidateFamilyNotLeased, check, nil)
		if err != nil {
			return nil, err
		}
	}

	if _, err := workflow.CallActivity[bool](ctx, activity.NamePersistEligibilityResult, check, o.cfg.PersistRetry); err != nil {
		return nil, err
	}
	logger().Info("Eligibility check stored", zap.String("status", string(check.Status)))

	// Pollers may read the stored check from here on.
	if err := ctx.SetCustomStatus(entity.CustomStatusCompleted); err != nil {
		return nil, err
	}

	if err := ctx.CreateTimer(o.cfg.NotificationDelay); err != nil {
		return nil, err
	}

	content, err := activity.EligibilityMessage(check)
	if err != nil {
		return nil, err
	}
	sent, err := workflow.CallActivity[*activity.NotificationResult](ctx, activity.NameSendNotification,
		activity.NotificationRequest{ApplicantID: in.ApplicantID, Content: content}, o.cfg.NotificationRetry)
	if err != nil {
		return nil, err
	}
	if sent != nil && !sent.Delivered {
		logger().Warn("Eligibility notification not delivered", zap.Int("status_code", sent.StatusCode))
	}

	return check, nil
}
