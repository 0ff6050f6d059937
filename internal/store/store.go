package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/pkg/model"
)

// ErrNotFound is returned when no settlement exists for a quote id.
var ErrNotFound = errors.New("settlement not found")

// Store defines the contract for caching and persisting settlement records.
type Store interface {
	RecordSettlement(ctx context.Context, s model.Settlement) error
	GetSettlement(ctx context.Context, quoteID common.Hash) (*model.Settlement, error)
	RecordFeeRateChange(ctx context.Context, ev model.FeeRateUpdated) error
	RecordWithdrawal(ctx context.Context, ev model.FeesWithdrawn) error
	RecordFeeSnapshot(ctx context.Context, balances []model.FeeBalance) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	ttl    time.Duration
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store. Postgres is
// optional: with an empty pgURL records live only in the Redis cache.
func NewHybrid(redisAddr string, redisDB int, redisPass, pgURL string, pgPoolConfig PGPoolConfig, cacheTTL time.Duration, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, ttl: cacheTTL, logger: logger}, nil
}

// Redis exposes the underlying client so other components can share it.
func (s *HybridStore) Redis() *redis.Client {
	return s.redis
}

func settlementKey(quoteID common.Hash) string {
	return "settlement:" + quoteID.Hex()
}

// RecordSettlement caches the record and inserts it into settlement.t_settlement.
func (s *HybridStore) RecordSettlement(ctx context.Context, rec model.Settlement) error {
	if err := s.SetJSON(ctx, settlementKey(rec.QuoteID), rec, s.ttl); err != nil {
		s.logger.Warn("store.redis.cache_settlement_failed",
			zap.String("quote_id", rec.QuoteID.Hex()),
			zap.Error(err))
	}
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO settlement.t_settlement (
			quote_id, digest, trade_model, caller, user_address, market_maker,
			token_in, token_out, amount_in, amount_out, fee, user_received,
			fee_rate_bps, executed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13, $14)
		ON CONFLICT (quote_id) DO NOTHING
	`, rec.QuoteID.Hex(), rec.Digest.Hex(), rec.Model.String(), rec.Caller.Hex(), rec.User.Hex(), rec.MarketMaker.Hex(),
		rec.TokenIn.Hex(), rec.TokenOut.Hex(), numeric(rec.AmountIn), numeric(rec.AmountOut), numeric(rec.Fee), numeric(rec.UserReceived),
		int64(rec.FeeRateBps), rec.ExecutedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_settlement_failed", zap.String("quote_id", rec.QuoteID.Hex()), zap.Error(err))
	}
	return err
}

// GetSettlement reads the cached record, falling back to Postgres.
func (s *HybridStore) GetSettlement(ctx context.Context, quoteID common.Hash) (*model.Settlement, error) {
	var rec model.Settlement
	err := s.GetJSON(ctx, settlementKey(quoteID), &rec)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if s.PG == nil {
		return nil, ErrNotFound
	}

	const q = `
		SELECT quote_id, digest, trade_model, caller, user_address, market_maker,
		       token_in, token_out, amount_in::text, amount_out::text, fee::text, user_received::text,
		       fee_rate_bps, executed_at
		FROM settlement.t_settlement
		WHERE quote_id = $1
		LIMIT 1;
	`
	var (
		qid, digest, tm, caller, user, mm, tin, tout string
		ain, aout, fee, recv                          string
		bps                                           int64
	)
	row := s.PG.QueryRow(ctx, q, quoteID.Hex())
	if err := row.Scan(&qid, &digest, &tm, &caller, &user, &mm, &tin, &tout, &ain, &aout, &fee, &recv, &bps, &rec.ExecutedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetSettlement scan failed: %w", err)
	}
	rec.QuoteID = common.HexToHash(qid)
	rec.Digest = common.HexToHash(digest)
	rec.Model = model.TradeModel(tm)
	rec.Caller = common.HexToAddress(caller)
	rec.User = common.HexToAddress(user)
	rec.MarketMaker = common.HexToAddress(mm)
	rec.TokenIn = common.HexToAddress(tin)
	rec.TokenOut = common.HexToAddress(tout)
	rec.AmountIn = fromNumeric(ain)
	rec.AmountOut = fromNumeric(aout)
	rec.Fee = fromNumeric(fee)
	rec.UserReceived = fromNumeric(recv)
	rec.FeeRateBps = uint64(bps)

	_ = s.SetJSON(ctx, settlementKey(quoteID), rec, s.ttl)
	return &rec, nil
}

// RecordFeeRateChange appends to settlement.t_fee_rate_change.
func (s *HybridStore) RecordFeeRateChange(ctx context.Context, ev model.FeeRateUpdated) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO settlement.t_fee_rate_change (old_rate_bps, new_rate_bps, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
	`, int64(ev.OldRateBps), int64(ev.NewRateBps), ev.UpdatedBy.Hex(), ev.UpdatedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_fee_rate_failed", zap.Error(err))
	}
	return err
}

// RecordWithdrawal appends to settlement.t_fee_withdrawal.
func (s *HybridStore) RecordWithdrawal(ctx context.Context, ev model.FeesWithdrawn) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO settlement.t_fee_withdrawal (asset, recipient, amount, withdrawn_by, withdrawn_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
	`, ev.Asset.Hex(), ev.Recipient.Hex(), numeric(ev.Amount), ev.WithdrawnBy.Hex(), ev.WithdrawnAt)
	if err != nil {
		s.logger.Error("store.pg.insert_withdrawal_failed", zap.Error(err))
	}
	return err
}

// RecordFeeSnapshot upserts the latest balance per asset in one batch.
func (s *HybridStore) RecordFeeSnapshot(ctx context.Context, balances []model.FeeBalance) error {
	if err := s.SetJSON(ctx, "settlement:fees:latest", balances, 0); err != nil {
		s.logger.Warn("store.redis.cache_fees_failed", zap.Error(err))
	}
	if s.PG == nil || len(balances) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(`
			INSERT INTO settlement.t_fee_snapshot (asset, amount, as_of)
			VALUES ($1, $2::numeric, $3)
			ON CONFLICT (asset) DO UPDATE SET amount = EXCLUDED.amount, as_of = EXCLUDED.as_of
		`, b.Asset.Hex(), numeric(b.Amount), b.AsOf)
	}
	if err := s.PG.SendBatch(ctx, batch).Close(); err != nil {
		s.logger.Error("store.pg.fee_snapshot_failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func fromNumeric(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
