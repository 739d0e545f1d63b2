// Package redislease keeps family leases in Redis instead of sqlite. A
// lease is one key per family hash created with SET NX.
package redislease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

const defaultKeyPrefix = "bonus:lease:"

// Client is the minimal command surface used by Store
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store implements port.FamilyLeaseRepository on Redis. Leases never
// expire: a family stays leased until released.
type Store struct {
	client    Client
	keyPrefix string
	logger    *zap.Logger
}

// NewStore creates a Redis lease store. An empty prefix uses "bonus:lease:".
func NewStore(client Client, keyPrefix string, logger *zap.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, keyPrefix: keyPrefix, logger: logger}
}

func (s *Store) key(familyHash string) string {
	return s.keyPrefix + familyHash
}

func (s *Store) Create(ctx context.Context, lease *entity.FamilyLease) error {
	value, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("failed to encode family lease: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(lease.ID), value, 0).Result()
	if err != nil {
		s.logger.Error("Failed to create family lease", zap.String("family_hash", lease.ID), zap.Error(err))
		return fmt.Errorf("failed to create family lease: %w", err)
	}
	if !ok {
		return port.ErrConflict
	}
	return nil
}

func (s *Store) Find(ctx context.Context, familyHash string) (*entity.FamilyLease, error) {
	raw, err := s.client.Get(ctx, s.key(familyHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get family lease: %w", err)
	}

	var lease entity.FamilyLease
	if err := json.Unmarshal(raw, &lease); err != nil {
		return nil, fmt.Errorf("%w: family lease %s: %v", port.ErrCorruptRecord, familyHash, err)
	}
	return &lease, nil
}

func (s *Store) Delete(ctx context.Context, familyHash string) error {
	n, err := s.client.Del(ctx, s.key(familyHash)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete family lease: %w", err)
	}
	if n == 0 {
		return port.ErrNotFound
	}
	return nil
}

var _ port.FamilyLeaseRepository = (*Store)(nil)
