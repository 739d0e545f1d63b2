package config

import (
	"github.com/garyjia/bonus-orchestrator/internal/application/orchestrator"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/container"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/grant"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/inquiry"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/lark"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/notification"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/worker"
	"github.com/garyjia/bonus-orchestrator/pkg/database"
)

// ToContainerConfig converts the file-based configuration into the
// container's component configuration.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: database.Config{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Engine: container.EngineConfig{
			MaxConcurrentInstances: c.Engine.MaxConcurrentInstances,
			RecoverOnStart:         c.Engine.RecoverOnStart,
		},
		Orchestrator:        c.orchestratorConfig(),
		EligibilityValidity: c.Eligibility.Validity,
		Inquiry: inquiry.Config{
			Endpoint:      c.Inquiry.Endpoint,
			SOAPAction:    c.Inquiry.SOAPAction,
			ThresholdCode: c.Inquiry.ThresholdCode,
			Timeout:       c.Inquiry.Timeout,
		},
		Grant: grant.Config{
			Endpoint:      c.Grant.Endpoint,
			SigningSecret: c.Grant.SigningSecret,
			Issuer:        c.Grant.Issuer,
			Audience:      c.Grant.Audience,
			TokenTTL:      c.Grant.TokenTTL,
			Timeout:       c.Grant.Timeout,
		},
		Notification: notification.Config{
			Endpoint:     c.Notification.Endpoint,
			APIKey:       c.Notification.APIKey,
			APIKeyHeader: c.Notification.APIKeyHeader,
			Timeout:      c.Notification.Timeout,
		},
		Lark: lark.Config{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			BaseURL:   c.Lark.BaseURL,
		},
		Lock: container.LockConfig{
			Backend:        c.Lock.Backend,
			RedisURL:       c.Lock.RedisURL,
			RedisKeyPrefix: c.Lock.RedisKeyPrefix,
		},
		Reconciliation: container.ReconciliationConfig{
			Enabled: c.Reconciliation.Enabled,
			ReconciliationConfig: worker.ReconciliationConfig{
				Interval:       c.Reconciliation.Interval,
				StaleThreshold: c.Reconciliation.StaleThreshold,
			},
			ReportDir:  c.Reconciliation.ReportDir,
			LarkChatID: c.Reconciliation.LarkChatID,
		},
	}
}

// orchestratorConfig applies the shared retry policy to every call site
func (c *Config) orchestratorConfig() orchestrator.Config {
	policy := func(attempts int) *workflow.RetryOptions {
		return &workflow.RetryOptions{
			FirstRetryInterval:  c.Retry.FirstInterval,
			BackoffCoefficient:  c.Retry.Coefficient,
			MaxRetryInterval:    c.Retry.MaxInterval,
			MaxNumberOfAttempts: attempts,
			RetryTimeout:        c.Retry.Timeout,
		}
	}

	return orchestrator.Config{
		NotificationDelay: c.Eligibility.NotificationDelay,
		InquiryRetry:      policy(c.Retry.MaxAttempts),
		PersistRetry:      policy(c.Retry.MaxAttempts),
		NotificationRetry: policy(c.Retry.MaxAttempts),
		LookupRetry:       policy(c.Retry.MaxAttempts),
		GrantRetry:        policy(c.Retry.GrantMaxAttempts),
	}
}
