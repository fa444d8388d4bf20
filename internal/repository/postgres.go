package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/coffeemap/internal/domain"
	"github.com/Clark-Hu/coffeemap/internal/logger"
	"github.com/Clark-Hu/coffeemap/internal/metrics"
)

const shopColumns = `id, name, lat, lng, geohash, total_score, num_ratings, avg_rating, created_at, updated_at`

// PostgresStore keeps shops in the shops table. The geohash column uses the
// "C" collation so range predicates compare bytes.
type PostgresStore struct {
	pool       *pgxpool.Pool
	ping       func(context.Context) error
	maxRetries int
	logger     *slog.Logger
}

// PostgresOptions tunes a PostgresStore.
type PostgresOptions struct {
	// MaxRetries is the total number of attempts per Transaction.
	MaxRetries int
	// Ping backs HealthCheck. Defaults to pinging the pool.
	Ping   func(context.Context) error
	Logger *slog.Logger
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, opts PostgresOptions) *PostgresStore {
	ping := opts.Ping
	if ping == nil {
		ping = pool.Ping
	}
	return &PostgresStore{
		pool:       pool,
		ping:       ping,
		maxRetries: maxRetriesOrDefault(opts.MaxRetries),
		logger:     logger.OrDiscard(opts.Logger),
	}
}

func scanShop(row pgx.Row) (domain.Shop, error) {
	var s domain.Shop
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Lat,
		&s.Lng,
		&s.Geohash,
		&s.TotalScore,
		&s.NumRatings,
		&s.AvgRating,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

func (p *PostgresStore) RangeQuery(ctx context.Context, low, high string) ([]domain.Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE geohash >= $1 AND geohash <= $2`

	rows, err := p.pool.Query(ctx, query, low, high)
	if err != nil {
		return nil, fmt.Errorf("%w: range query [%s, %s]: %w", ErrStoreUnavailable, low, high, err)
	}
	defer rows.Close()

	var out []domain.Shop
	for rows.Next() {
		s, err := scanShop(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan shop: %w", ErrStoreUnavailable, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate shops: %w", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (domain.Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE id = $1`
	s, err := scanShop(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Shop{}, ErrNotFound
		}
		return domain.Shop{}, fmt.Errorf("%w: get shop: %w", ErrStoreUnavailable, err)
	}
	return s, nil
}

// Transaction locks the row with SELECT ... FOR UPDATE, so concurrent writers
// of one id queue behind each other. Two writers racing to create the same
// id collide on the primary key and the loser retries.
func (p *PostgresStore) Transaction(ctx context.Context, id string, fn UpdateFunc) (domain.Shop, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		rec, err := p.runTransaction(ctx, id, fn)
		var aborted updateAborted
		if errors.As(err, &aborted) {
			return domain.Shop{}, aborted.err
		}
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrNotFound) {
			return domain.Shop{}, err
		}
		if !isRetryable(err) {
			return domain.Shop{}, fmt.Errorf("%w: transaction %s: %w", ErrStoreUnavailable, id, err)
		}
		lastErr = err
		if attempt == p.maxRetries {
			break
		}
		metrics.TransactionRetriesTotal.WithLabelValues("postgres").Inc()
		p.logger.Debug("store: retrying transaction", "shop_id", id, "attempt", attempt, "err", err)
		if err := waitRetry(ctx, attempt); err != nil {
			return domain.Shop{}, err
		}
	}
	return domain.Shop{}, fmt.Errorf("%w: %s after %d attempts: %w", ErrTransactionConflict, id, p.maxRetries, lastErr)
}

// updateAborted carries an UpdateFunc error through BeginTxFunc untouched.
type updateAborted struct{ err error }

func (e updateAborted) Error() string { return e.err.Error() }

func (p *PostgresStore) runTransaction(ctx context.Context, id string, fn UpdateFunc) (domain.Shop, error) {
	const (
		selectForUpdate = `SELECT ` + shopColumns + ` FROM shops WHERE id = $1 FOR UPDATE`
		insertShop      = `
        INSERT INTO shops (id, name, lat, lng, geohash, total_score, num_ratings, avg_rating)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING ` + shopColumns
		updateShop = `
        UPDATE shops
        SET name = $2, lat = $3, lng = $4, geohash = $5,
            total_score = $6, num_ratings = $7, avg_rating = $8, updated_at = now()
        WHERE id = $1
        RETURNING ` + shopColumns
	)

	var result domain.Shop
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var current *domain.Shop
		existing, err := scanShop(tx.QueryRow(ctx, selectForUpdate, id))
		switch {
		case err == nil:
			current = &existing
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return err
		}

		next, err := fn(current)
		if err != nil {
			return updateAborted{err}
		}
		if next == nil {
			if current == nil {
				return ErrNotFound
			}
			result = *current
			return nil
		}

		query := updateShop
		if current == nil {
			query = insertShop
		}
		result, err = scanShop(tx.QueryRow(ctx, query,
			id, next.Name, next.Lat, next.Lng, next.Geohash,
			next.TotalScore, next.NumRatings, next.AvgRating,
		))
		return err
	})
	if err != nil {
		return domain.Shop{}, err
	}
	return result, nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"23505": // unique_violation
		return true
	}
	return false
}

func (p *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}
