package repository

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/coffeemap/internal/domain"
	"github.com/Clark-Hu/coffeemap/internal/logger"
	"github.com/Clark-Hu/coffeemap/internal/metrics"
)

// RedisStore keeps each shop in a hash and indexes all of them in one sorted
// set whose members are "geohash|id" at score 0, so ZRANGEBYLEX walks them in
// geohash order.
//
// Writers of the same id inside one process take a striped local lock before
// WATCH, so optimistic conflicts only arise between processes.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	logger     *slog.Logger
	stripes    [lockStripes]sync.Mutex
}

const lockStripes = 64

// RedisOptions tunes a RedisStore.
type RedisOptions struct {
	KeyPrefix string
	// MaxRetries is the total number of WATCH attempts per Transaction.
	MaxRetries int
	Logger     *slog.Logger
}

func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	return &RedisStore{
		client:     client,
		prefix:     opts.KeyPrefix,
		maxRetries: maxRetriesOrDefault(opts.MaxRetries),
		logger:     logger.OrDiscard(opts.Logger),
	}
}

func (r *RedisStore) stripeFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.stripes[h.Sum32()%lockStripes]
}

func (r *RedisStore) shopKey(id string) string { return r.prefix + "shop:" + id }
func (r *RedisStore) indexKey() string         { return r.prefix + "shops:geohash" }

func indexMember(s domain.Shop) string { return s.Geohash + "|" + s.ID }

func (r *RedisStore) RangeQuery(ctx context.Context, low, high string) ([]domain.Shop, error) {
	// Geohash characters sort below '|', and UTF-8 never contains 0xff, so
	// this window holds every member with low <= geohash <= high plus some
	// longer keys that the filter below discards.
	members, err := r.client.ZRangeByLex(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "[" + low,
		Max: "[" + high + "|\xff",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: range query [%s, %s]: %w", ErrStoreUnavailable, low, high, err)
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		gh, id, ok := strings.Cut(m, "|")
		if !ok || gh < low || gh > high {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.shopKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: load shops: %w", ErrStoreUnavailable, err)
	}

	out := make([]domain.Shop, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		s, err := decodeShop(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (domain.Shop, error) {
	fields, err := r.client.HGetAll(ctx, r.shopKey(id)).Result()
	if err != nil {
		return domain.Shop{}, fmt.Errorf("%w: get shop: %w", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return domain.Shop{}, ErrNotFound
	}
	s, err := decodeShop(fields)
	if err != nil {
		return domain.Shop{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return s, nil
}

// Transaction watches the shop hash; EXEC aborts when another client wrote it
// in between and the whole read-modify-write is retried after a jittered
// backoff.
func (r *RedisStore) Transaction(ctx context.Context, id string, fn UpdateFunc) (domain.Shop, error) {
	key := r.shopKey(id)
	lock := r.stripeFor(id)
	lock.Lock()
	defer lock.Unlock()
	var (
		result domain.Shop
		fnErr  error
	)

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		var current *domain.Shop
		if len(fields) > 0 {
			s, err := decodeShop(fields)
			if err != nil {
				return err
			}
			current = &s
		}

		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil {
			if current == nil {
				return ErrNotFound
			}
			result = *current
			return nil
		}

		rec := *next
		rec.ID = id
		now := time.Now().UTC()
		rec.CreatedAt = now
		if current != nil {
			rec.CreatedAt = current.CreatedAt
		}
		rec.UpdatedAt = now

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeShop(rec))
			if current != nil && current.Geohash != rec.Geohash {
				pipe.ZRem(ctx, r.indexKey(), indexMember(*current))
			}
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: 0, Member: indexMember(rec)})
			return nil
		})
		if err != nil {
			return err
		}
		result = rec
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		fnErr = nil
		err := r.client.Watch(ctx, txf, key)
		if fnErr != nil {
			return domain.Shop{}, fnErr
		}
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrNotFound) {
			return domain.Shop{}, err
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return domain.Shop{}, fmt.Errorf("%w: transaction %s: %w", ErrStoreUnavailable, id, err)
		}
		lastErr = err
		if attempt == r.maxRetries {
			break
		}
		metrics.TransactionRetriesTotal.WithLabelValues("redis").Inc()
		r.logger.Debug("store: retrying transaction", "shop_id", id, "attempt", attempt)
		if err := waitRetry(ctx, attempt); err != nil {
			return domain.Shop{}, err
		}
	}
	return domain.Shop{}, fmt.Errorf("%w: %s after %d attempts: %w", ErrTransactionConflict, id, r.maxRetries, lastErr)
}

func (r *RedisStore) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func encodeShop(s domain.Shop) map[string]interface{} {
	return map[string]interface{}{
		"id":          s.ID,
		"name":        s.Name,
		"lat":         strconv.FormatFloat(s.Lat, 'g', -1, 64),
		"lng":         strconv.FormatFloat(s.Lng, 'g', -1, 64),
		"geohash":     s.Geohash,
		"total_score": strconv.FormatFloat(s.TotalScore, 'g', -1, 64),
		"num_ratings": strconv.FormatInt(s.NumRatings, 10),
		"avg_rating":  strconv.FormatFloat(s.AvgRating, 'g', -1, 64),
		"created_at":  s.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  s.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func decodeShop(fields map[string]string) (domain.Shop, error) {
	s := domain.Shop{
		ID:      fields["id"],
		Name:    fields["name"],
		Geohash: fields["geohash"],
	}
	var err error
	parseFloat := func(name string, dst *float64) {
		if err != nil {
			return
		}
		if *dst, err = strconv.ParseFloat(fields[name], 64); err != nil {
			err = fmt.Errorf("decode shop %s field %s: %w", s.ID, name, err)
		}
	}
	parseFloat("lat", &s.Lat)
	parseFloat("lng", &s.Lng)
	parseFloat("total_score", &s.TotalScore)
	parseFloat("avg_rating", &s.AvgRating)
	if err != nil {
		return domain.Shop{}, err
	}
	if s.NumRatings, err = strconv.ParseInt(fields["num_ratings"], 10, 64); err != nil {
		return domain.Shop{}, fmt.Errorf("decode shop %s field num_ratings: %w", s.ID, err)
	}
	if v := fields["created_at"]; v != "" {
		if s.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return domain.Shop{}, fmt.Errorf("decode shop %s field created_at: %w", s.ID, err)
		}
	}
	if v := fields["updated_at"]; v != "" {
		if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return domain.Shop{}, fmt.Errorf("decode shop %s field updated_at: %w", s.ID, err)
		}
	}
	return s, nil
}
