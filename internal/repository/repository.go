package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/Clark-Hu/coffeemap/internal/domain"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrStoreUnavailable wraps any backend failure during a query or transaction.
var ErrStoreUnavailable = errors.New("repository: store unavailable")

// ErrTransactionConflict is returned once MaxRetries attempts of a
// transaction have all lost to concurrent writers.
var ErrTransactionConflict = errors.New("repository: transaction conflict")

// DefaultMaxRetries bounds optimistic retries for a single Transaction call.
const DefaultMaxRetries = 5

const (
	retryBaseDelay = 2 * time.Millisecond
	retryMaxDelay  = 100 * time.Millisecond
)

// UpdateFunc computes the next version of a record from the current one.
// current is nil when no record exists for the id. Returning a nil record
// leaves the store untouched. A non-nil error aborts the transaction and is
// handed back to the caller unchanged. fn may run more than once.
type UpdateFunc func(current *domain.Shop) (*domain.Shop, error)

// RecordStore is a flat keyed store of shops ordered by geohash.
type RecordStore interface {
	// RangeQuery returns every shop whose geohash lies in [low, high] under
	// byte-wise ordering. Order of the result is unspecified.
	RangeQuery(ctx context.Context, low, high string) ([]domain.Shop, error)
	// Transaction performs an isolated read-modify-write of a single shop and
	// returns the committed record.
	Transaction(ctx context.Context, id string, fn UpdateFunc) (domain.Shop, error)
	Get(ctx context.Context, id string) (domain.Shop, error)
	HealthCheck(ctx context.Context) error
}

func maxRetriesOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxRetries
	}
	return n
}

// retryDelay doubles per failed attempt up to retryMaxDelay and picks a
// random point in the upper half of that window.
func retryDelay(attempt int) time.Duration {
	d := retryMaxDelay
	if attempt < 8 {
		d = min(retryBaseDelay<<(attempt-1), retryMaxDelay)
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half+1)))
}

// waitRetry sleeps before the next attempt. It returns early with
// ErrStoreUnavailable when ctx ends first.
func waitRetry(ctx context.Context, attempt int) error {
	t := time.NewTimer(retryDelay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	case <-t.C:
		return nil
	}
}
