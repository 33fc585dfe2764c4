// Package store persists reconciliation state: the live ladder order
// references in Redis and the reconciliation history in Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bybit-tpsl-sync/internal/bybit"
	"bybit-tpsl-sync/internal/reconcile"
)

// Redis key layout for ladder order references
const (
	// LadderRefsKeyPrefix is the prefix for per-position ladder refs
	// Format: tpsl:ladder_refs:{symbol}:{side}
	LadderRefsKeyPrefix = "tpsl:ladder_refs"

	// LadderRefsTTL bounds how long stale refs survive a dead bot. A ref
	// older than this points at an order long filled or cancelled.
	LadderRefsTTL = 7 * 24 * time.Hour
)

// RefStore persists the client order ids of the currently live ladder
// orders per position, so the next reconciliation can supersede them.
type RefStore interface {
	Load(ctx context.Context, symbol string, side bybit.PositionSide) (reconcile.LadderRefs, error)
	Save(ctx context.Context, symbol string, side bybit.PositionSide, refs reconcile.LadderRefs) error
	Clear(ctx context.Context, symbol string, side bybit.PositionSide) error
}

// RedisRefStore keeps ladder refs as one JSON value per position.
type RedisRefStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisRefStore creates a ref store on the given Redis client.
func NewRedisRefStore(client *redis.Client, logger zerolog.Logger) *RedisRefStore {
	return &RedisRefStore{
		client: client,
		logger: logger.With().Str("component", "ref_store").Logger(),
	}
}

var _ RefStore = (*RedisRefStore)(nil)

func refsKey(symbol string, side bybit.PositionSide) string {
	return fmt.Sprintf("%s:%s:%s", LadderRefsKeyPrefix, symbol, side)
}

// Load returns the stored refs, or an empty map when none exist.
func (s *RedisRefStore) Load(ctx context.Context, symbol string, side bybit.PositionSide) (reconcile.LadderRefs, error) {
	data, err := s.client.Get(ctx, refsKey(symbol, side)).Bytes()
	if err == redis.Nil {
		return reconcile.LadderRefs{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ladder refs for %s %s: %w", symbol, side, err)
	}

	var refs reconcile.LadderRefs
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ladder refs for %s %s: %w", symbol, side, err)
	}
	return refs, nil
}

// Save overwrites the stored refs for a position.
func (s *RedisRefStore) Save(ctx context.Context, symbol string, side bybit.PositionSide, refs reconcile.LadderRefs) error {
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("failed to marshal ladder refs: %w", err)
	}

	key := refsKey(symbol, side)
	if err := s.client.Set(ctx, key, data, LadderRefsTTL).Err(); err != nil {
		return fmt.Errorf("failed to store ladder refs at %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Int("levels", len(refs)).Msg("Ladder refs saved")
	return nil
}

// Clear removes the refs, typically when the position closes.
func (s *RedisRefStore) Clear(ctx context.Context, symbol string, side bybit.PositionSide) error {
	if err := s.client.Del(ctx, refsKey(symbol, side)).Err(); err != nil {
		return fmt.Errorf("failed to clear ladder refs for %s %s: %w", symbol, side, err)
	}
	return nil
}

// MemoryRefStore is an in-process RefStore for tests and for running
// without Redis configured.
type MemoryRefStore struct {
	refs map[string]reconcile.LadderRefs
}

// NewMemoryRefStore creates an empty in-memory ref store.
func NewMemoryRefStore() *MemoryRefStore {
	return &MemoryRefStore{refs: make(map[string]reconcile.LadderRefs)}
}

var _ RefStore = (*MemoryRefStore)(nil)

func (s *MemoryRefStore) Load(ctx context.Context, symbol string, side bybit.PositionSide) (reconcile.LadderRefs, error) {
	stored, ok := s.refs[refsKey(symbol, side)]
	if !ok {
		return reconcile.LadderRefs{}, nil
	}
	out := make(reconcile.LadderRefs, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryRefStore) Save(ctx context.Context, symbol string, side bybit.PositionSide, refs reconcile.LadderRefs) error {
	copied := make(reconcile.LadderRefs, len(refs))
	for k, v := range refs {
		copied[k] = v
	}
	s.refs[refsKey(symbol, side)] = copied
	return nil
}

func (s *MemoryRefStore) Clear(ctx context.Context, symbol string, side bybit.PositionSide) error {
	delete(s.refs, refsKey(symbol, side))
	return nil
}
