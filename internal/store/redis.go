package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/coffeemap/internal/logger"
)

// RedisOptions configures the Redis client.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	PoolSize    int
	Logger      *slog.Logger
}

// NewRedis connects to Redis and pings it once.
func NewRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	log := logger.OrDiscard(opts.Logger)
	log.Info("store: connecting to redis", "addr", opts.Addr, "db", opts.DB)

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		PoolSize:    opts.PoolSize,
	})

	pingCtx := ctx
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("store: redis connection established")
	return client, nil
}
