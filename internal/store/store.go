// Package store persists instrument snapshots: Redis holds the hot copy and
// content hashes, Postgres keeps the reference table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/hashing"
	"github.com/Checker-Finance/instrument-provider/internal/metrics"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// Store defines the contract for caching and persisting instrument definitions.
type Store interface {
	// SaveInstruments writes definitions whose content hash changed and
	// reports how many did.
	SaveInstruments(ctx context.Context, instruments []model.Instrument) (int, error)
	// GetInstrument returns nil, nil when the instrument is unknown.
	GetInstrument(ctx context.Context, id model.InstrumentID) (*model.Instrument, error)
	// InstrumentHash returns "" when no hash is stored.
	InstrumentHash(ctx context.Context, id model.InstrumentID) (string, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// pgPool is the subset of *pgxpool.Pool the store uses.
type pgPool interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

type HybridStore struct {
	redis  *redis.Client
	pg     pgPool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first store. Postgres is optional: an empty pgURL
// keeps snapshots in Redis only.
func NewHybrid(redisAddr string, redisDB int, redisPass string, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*HybridStore, error) {
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
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := &HybridStore{redis: rdb, logger: logger}
	if pgURL == "" {
		return s, nil
	}

	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		_ = rdb.Close()
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
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.pg = pool
	return s, nil
}

func instrumentKey(id model.InstrumentID) string {
	return fmt.Sprintf("instrument:%s:%s", id.Venue, id.Symbol)
}

func hashKey(id model.InstrumentID) string {
	return fmt.Sprintf("instrument_hash:%s:%s", id.Venue, id.Symbol)
}

// ContentHash returns inst.Hash, or a hash of the definition when it is empty.
// AsOf is excluded so reloading an unchanged definition keeps its hash.
func ContentHash(inst model.Instrument) (string, error) {
	if inst.Hash != "" {
		return inst.Hash, nil
	}
	inst.AsOf = time.Time{}
	return hashing.Hash(inst)
}

func (s *HybridStore) SaveInstruments(ctx context.Context, instruments []model.Instrument) (int, error) {
	if len(instruments) == 0 {
		return 0, nil
	}

	hashes := make([]string, len(instruments))
	keys := make([]string, len(instruments))
	for i, inst := range instruments {
		if inst.ID.IsZero() {
			return 0, model.InvalidArgumentf("instruments[%d]: incomplete id %q", i, inst.ID.String())
		}
		h, err := ContentHash(inst)
		if err != nil {
			return 0, fmt.Errorf("hash %s: %w", inst.ID, err)
		}
		hashes[i] = h
		keys[i] = hashKey(inst.ID)
	}

	stored, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.Error("store.redis.hash_lookup_failed", zap.Error(err))
		return 0, fmt.Errorf("load stored hashes: %w", err)
	}

	var changed []model.Instrument
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, inst := range instruments {
			if prev, ok := stored[i].(string); ok && prev == hashes[i] {
				continue
			}
			inst.Hash = hashes[i]
			data, err := json.Marshal(inst)
			if err != nil {
				return fmt.Errorf("encode %s: %w", inst.ID, err)
			}
			pipe.Set(ctx, instrumentKey(inst.ID), data, 0)
			changed = append(changed, inst)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("store.redis.save_failed", zap.Error(err))
		return 0, fmt.Errorf("save instruments: %w", err)
	}
	if len(changed) == 0 {
		return 0, nil
	}

	metrics.AddStoreChanges(changed[0].ID.Venue, len(changed))
	// hashes are committed only once Postgres has the rows, so a failed
	// upsert is retried on the next save
	if err := s.upsertReference(ctx, changed); err != nil {
		return len(changed), err
	}
	if err := s.commitHashes(ctx, changed); err != nil {
		return len(changed), err
	}

	s.logger.Debug("store.instruments_saved",
		zap.Int("received", len(instruments)),
		zap.Int("changed", len(changed)))
	return len(changed), nil
}

func (s *HybridStore) commitHashes(ctx context.Context, instruments []model.Instrument) error {
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, inst := range instruments {
			pipe.Set(ctx, hashKey(inst.ID), inst.Hash, 0)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("store.redis.hash_commit_failed", zap.Error(err))
		return fmt.Errorf("commit instrument hashes: %w", err)
	}
	return nil
}

func (s *HybridStore) upsertReference(ctx context.Context, instruments []model.Instrument) error {
	if s.pg == nil {
		return nil
	}

	batch := &pgx.Batch{}
	for _, inst := range instruments {
		info, err := json.Marshal(inst.Info)
		if err != nil {
			return fmt.Errorf("encode info %s: %w", inst.ID, err)
		}
		batch.Queue(`
			INSERT INTO reference.venue_instruments (
				venue_code, instrument_symbol, raw_symbol, asset_class,
				base_currency, quote_currency, price_increment, size_increment,
				info, content_hash, as_of
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			ON CONFLICT (venue_code, instrument_symbol)
			DO UPDATE SET
				raw_symbol = EXCLUDED.raw_symbol,
				asset_class = EXCLUDED.asset_class,
				base_currency = EXCLUDED.base_currency,
				quote_currency = EXCLUDED.quote_currency,
				price_increment = EXCLUDED.price_increment,
				size_increment = EXCLUDED.size_increment,
				info = EXCLUDED.info,
				content_hash = EXCLUDED.content_hash,
				as_of = EXCLUDED.as_of;
		`, inst.ID.Venue, inst.ID.Symbol, inst.RawSymbol, inst.AssetClass,
			inst.BaseCurrency, inst.QuoteCurrency,
			inst.PriceIncrement.String(), inst.SizeIncrement.String(),
			info, inst.Hash)
	}

	br := s.pg.SendBatch(ctx, batch)
	var errs error
	for range instruments {
		if _, err := br.Exec(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	errs = multierr.Append(errs, br.Close())
	if errs != nil {
		s.logger.Error("store.pg.upsert_instruments_failed", zap.Error(errs))
		return fmt.Errorf("upsert reference instruments: %w", errs)
	}
	return nil
}

func (s *HybridStore) GetInstrument(ctx context.Context, id model.InstrumentID) (*model.Instrument, error) {
	data, err := s.redis.Get(ctx, instrumentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var inst model.Instrument
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &inst, nil
}

func (s *HybridStore) InstrumentHash(ctx context.Context, id model.InstrumentID) (string, error) {
	h, err := s.redis.Get(ctx, hashKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return h, err
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.pg != nil {
		if err := s.pg.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.pg != nil {
		s.pg.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
