package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Clark-Hu/coffeemap/db/migrations"
	"github.com/Clark-Hu/coffeemap/internal/config"
	"github.com/Clark-Hu/coffeemap/internal/metrics"
	"github.com/Clark-Hu/coffeemap/internal/store"
)

// Open builds the RecordStore selected by cfg.StoreBackend. The returned
// close function releases the backend's connections and is never nil.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (RecordStore, func(), error) {
	connTimeout := time.Duration(cfg.DBConnTimeoutSecs) * time.Second

	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Info("store: using in-memory backend")
		return NewMemoryStore(), func() {}, nil

	case config.BackendRedis:
		client, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DialTimeout: connTimeout,
			PoolSize:    cfg.DBMaxConns,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		rs := NewRedisStore(client, RedisOptions{
			KeyPrefix:  cfg.RedisKeyPrefix,
			MaxRetries: cfg.TxMaxRetries,
			Logger:     logger,
		})
		return rs, func() { _ = client.Close() }, nil

	case config.BackendPostgres:
		st, err := store.New(ctx, cfg.DBURL, store.Options{
			MaxConns:               int32(cfg.DBMaxConns),
			MinConns:               int32(cfg.DBMinConns),
			MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
			MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
			ConnTimeout:            connTimeout,
			StatementCacheCapacity: cfg.DBStatementCache,
			Logger:                 logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.Apply(ctx, st.Pool()); err != nil {
			st.Close()
			return nil, nil, err
		}
		ps := NewPostgresStore(st.Pool(), PostgresOptions{
			MaxRetries: cfg.TxMaxRetries,
			Ping:       st.HealthCheck,
			Logger:     logger,
		})
		metrics.ObservePool(st.Stats)
		return ps, func() {
			metrics.ObservePool(nil)
			st.Close()
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
