package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Clark-Hu/coffeemap/internal/domain"
)

// MemoryStore keeps shops in process. Transactions on the same id are
// serialized by a per-id mutex, so they never conflict and never retry.
// One mutex is kept for every id ever written and none is released, which
// suits tests, fixtures and single-node embedded use only.
type MemoryStore struct {
	mu    sync.RWMutex
	shops map[string]domain.Shop
	locks sync.Map // id -> *sync.Mutex
	now   func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shops: make(map[string]domain.Shop),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) lockFor(id string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// RangeQuery scans every record; fine for tests and small fixtures.
func (m *MemoryStore) RangeQuery(ctx context.Context, low, high string) ([]domain.Shop, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Shop
	for _, s := range m.shops {
		if s.Geohash >= low && s.Geohash <= high {
			out = append(out, s)
		}
	}
	return out, nil
}

// Transaction holds the id's lock for the whole read-modify-write.
func (m *MemoryStore) Transaction(ctx context.Context, id string, fn UpdateFunc) (domain.Shop, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Shop{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	m.mu.RLock()
	existing, ok := m.shops[id]
	m.mu.RUnlock()

	var current *domain.Shop
	if ok {
		cp := existing
		current = &cp
	}

	next, err := fn(current)
	if err != nil {
		return domain.Shop{}, err
	}
	if next == nil {
		if current == nil {
			return domain.Shop{}, ErrNotFound
		}
		return *current, nil
	}

	rec := *next
	rec.ID = id
	now := m.now()
	if current == nil {
		rec.CreatedAt = now
	} else {
		rec.CreatedAt = current.CreatedAt
	}
	rec.UpdatedAt = now

	m.mu.Lock()
	m.shops[id] = rec
	m.mu.Unlock()
	return rec, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (domain.Shop, error) {
	if err := ctx.Err(); err != nil {
		return domain.Shop{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shops[id]
	if !ok {
		return domain.Shop{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Len reports the number of stored shops.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shops)
}
