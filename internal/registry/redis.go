package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/journal"
)

// Redis keeps consumed quote ids in Redis so several engine replicas sharing
// a ledger cannot execute the same quote twice.
type Redis struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis creates a registry whose keys live under prefix, typically
// scoped by chain id and engine address.
func NewRedis(rdb *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, prefix: prefix, logger: logger}
}

func (r *Redis) key(id common.Hash) string {
	return fmt.Sprintf("%s:quote:%s", r.prefix, id.Hex())
}

func (r *Redis) Consume(ctx context.Context, j *journal.Journal, id common.Hash) error {
	key := r.key(id)
	ok, err := r.rdb.SetNX(ctx, key, time.Now().UTC().Unix(), 0).Result()
	if err != nil {
		return fmt.Errorf("registry consume: %w", err)
	}
	if !ok {
		return ErrAlreadyExecuted
	}
	j.Append(func() {
		// the caller's ctx may already be canceled when the claim is released
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.rdb.Del(ctx, key).Err(); err != nil {
			r.logger.Error("registry.release_failed", zap.String("quote_id", id.Hex()), zap.Error(err))
		}
	})
	return nil
}

func (r *Redis) IsConsumed(ctx context.Context, id common.Hash) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("registry lookup: %w", err)
	}
	return n == 1, nil
}
