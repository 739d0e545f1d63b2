// Package container provides dependency injection and lifecycle management
// for the bonus orchestrator.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/bonus-orchestrator/internal/application/orchestrator"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/grant"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/inquiry"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/lark"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/external/notification"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/worker"
	"github.com/garyjia/bonus-orchestrator/pkg/database"
)

// Lock backends
const (
	LockBackendSQLite = "sqlite"
	LockBackendRedis  = "redis"
)

// Config holds all configuration for the Container.
type Config struct {
	Database database.Config

	Engine       EngineConfig
	Orchestrator orchestrator.Config

	// EligibilityValidity is how long a stored check can start an activation
	EligibilityValidity time.Duration

	Inquiry      inquiry.Config
	Grant        grant.Config
	Notification notification.Config
	Lark         lark.Config

	Lock           LockConfig
	Reconciliation ReconciliationConfig
}

// EngineConfig holds workflow engine settings.
type EngineConfig struct {
	MaxConcurrentInstances int
	RecoverOnStart         bool
}

// LockConfig selects the family lease store.
type LockConfig struct {
	// Backend is LockBackendSQLite or LockBackendRedis
	Backend        string
	RedisURL       string
	RedisKeyPrefix string
}

// ReconciliationConfig holds the stale activation sweep settings.
type ReconciliationConfig struct {
	Enabled bool
	worker.ReconciliationConfig
	ReportDir string
	// LarkChatID receives the alert. Empty logs the alert instead.
	LarkChatID string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: database.Config{
			Path:            "data/bonus.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Engine: EngineConfig{
			MaxConcurrentInstances: 64,
			RecoverOnStart:         true,
		},
		Orchestrator:        orchestrator.DefaultConfig(),
		EligibilityValidity: 24 * time.Hour,
		Lock: LockConfig{
			Backend: LockBackendSQLite,
		},
		Reconciliation: ReconciliationConfig{
			ReconciliationConfig: worker.DefaultReconciliationConfig(),
			ReportDir:            "reports",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Grant.SigningSecret == "" {
		return fmt.Errorf("grant signing secret is required")
	}

	switch c.Lock.Backend {
	case LockBackendSQLite:
	case LockBackendRedis:
		if c.Lock.RedisURL == "" {
			return fmt.Errorf("redis url is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}

	if c.Reconciliation.Enabled && c.Reconciliation.ReportDir == "" {
		return fmt.Errorf("reconciliation report dir is required")
	}

	return nil
}
