package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/coffeemap/internal/domain"
)

func newRedisTestStore(t *testing.T, maxRetries int) (*RedisStore, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, RedisOptions{KeyPrefix: "test:", MaxRetries: maxRetries}), client, mr
}

func TestRedisStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) RecordStore {
		st, _, _ := newRedisTestStore(t, 0)
		return st
	})
}

func TestRedisStoreKeysAndIndex(t *testing.T) {
	st, _, mr := newRedisTestStore(t, 0)
	putShop(t, st, "s1", "9q8yyz8k3p")

	if !mr.Exists("test:shop:s1") {
		t.Fatalf("shop hash not written under prefix")
	}
	members, err := mr.ZMembers("test:shops:geohash")
	if err != nil {
		t.Fatalf("index members: %v", err)
	}
	if len(members) != 1 || members[0] != "9q8yyz8k3p|s1" {
		t.Fatalf("index members = %v", members)
	}
}

func TestRedisStoreReindexesMovedShop(t *testing.T) {
	st, _, mr := newRedisTestStore(t, 0)
	putShop(t, st, "s1", "9q8yyz8k3p")

	_, err := st.Transaction(context.Background(), "s1", func(current *domain.Shop) (*domain.Shop, error) {
		next := *current
		next.Geohash = "dr5regw3pp"
		return &next, nil
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	members, _ := mr.ZMembers("test:shops:geohash")
	if len(members) != 1 || members[0] != "dr5regw3pp|s1" {
		t.Fatalf("index members after move = %v", members)
	}
}

func TestRedisStoreConflictExhaustsRetries(t *testing.T) {
	st, client, _ := newRedisTestStore(t, 3)
	putShop(t, st, "s1", "9q8yyz8k3p")

	calls := 0
	_, err := st.Transaction(context.Background(), "s1", func(current *domain.Shop) (*domain.Shop, error) {
		calls++
		// A write from another connection invalidates the WATCH every time.
		if err := client.HSet(context.Background(), "test:shop:s1", "name", "interloper").Err(); err != nil {
			return nil, err
		}
		return increment(current)
	})
	if !errors.Is(err, ErrTransactionConflict) {
		t.Fatalf("error = %v, want ErrTransactionConflict", err)
	}
	if calls != 3 {
		t.Fatalf("update func ran %d times, want 3", calls)
	}
}

func TestRedisStoreConcurrentIncrementsDefaultBudget(t *testing.T) {
	st, _, _ := newRedisTestStore(t, 0)
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Transaction(context.Background(), "hot", increment); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := st.Get(context.Background(), "hot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NumRatings != workers {
		t.Fatalf("num_ratings = %d, want %d", got.NumRatings, workers)
	}
}

// Two stores on one server stand in for two processes: their writers race on
// WATCH and every commit must still be counted exactly once.
func TestRedisStoreConflictsAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	newStore := func() *RedisStore {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisStore(client, RedisOptions{KeyPrefix: "test:"})
	}
	stores := []*RedisStore{newStore(), newStore()}
	const perStore = 10

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for _, st := range stores {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(st *RedisStore) {
				defer wg.Done()
				_, err := st.Transaction(context.Background(), "hot", increment)
				switch {
				case err == nil:
					mu.Lock()
					committed++
					mu.Unlock()
				case errors.Is(err, ErrTransactionConflict):
				default:
					t.Errorf("increment: %v", err)
				}
			}(st)
		}
	}
	wg.Wait()

	got, err := stores[0].Get(context.Background(), "hot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if committed == 0 || got.NumRatings != int64(committed) || got.TotalScore != float64(committed) {
		t.Fatalf("stats = %+v after %d commits", got.Stats(), committed)
	}
}

func TestRedisStoreRetryHonorsContext(t *testing.T) {
	st, client, _ := newRedisTestStore(t, 10)
	putShop(t, st, "s1", "9q8yyz8k3p")

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := st.Transaction(ctx, "s1", func(current *domain.Shop) (*domain.Shop, error) {
		calls++
		if err := client.HSet(context.Background(), "test:shop:s1", "name", "interloper").Err(); err != nil {
			return nil, err
		}
		cancel()
		return increment(current)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("update func ran %d times after cancel, want 1", calls)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	st, _, mr := newRedisTestStore(t, 0)
	mr.Close()

	if _, err := st.RangeQuery(context.Background(), "0", "~"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("RangeQuery error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := st.Transaction(context.Background(), "s1", increment); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Transaction error = %v, want ErrStoreUnavailable", err)
	}
	if err := st.HealthCheck(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("HealthCheck error = %v, want ErrStoreUnavailable", err)
	}
}

func TestDecodeShopRejectsCorruptHash(t *testing.T) {
	_, err := decodeShop(map[string]string{"id": "s1", "lat": "north", "lng": "1", "total_score": "0", "avg_rating": "0", "num_ratings": "0"})
	if err == nil {
		t.Fatalf("expected decode error for non-numeric lat")
	}
}
