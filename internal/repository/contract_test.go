package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/Clark-Hu/coffeemap/internal/domain"
)

func putShop(t testing.TB, st RecordStore, id, geohash string) domain.Shop {
	t.Helper()
	rec, err := st.Transaction(context.Background(), id, func(current *domain.Shop) (*domain.Shop, error) {
		return &domain.Shop{Name: "Shop " + id, Lat: 37.77, Lng: -122.41, Geohash: geohash}, nil
	})
	if err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
	return rec
}

func increment(current *domain.Shop) (*domain.Shop, error) {
	next := domain.Shop{Name: "Counter", Lat: 1, Lng: 1, Geohash: "s00twy01mt"}
	if current != nil {
		next = *current
	}
	next.TotalScore++
	next.NumRatings++
	next.AvgRating = domain.AverageOf(next.TotalScore, next.NumRatings)
	return &next, nil
}

func ids(shops []domain.Shop) []string {
	out := make([]string, 0, len(shops))
	for _, s := range shops {
		out = append(out, s.ID)
	}
	sort.Strings(out)
	return out
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) RecordStore) {
	t.Run("create then update", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		var sawNil bool
		created, err := st.Transaction(ctx, "s1", func(current *domain.Shop) (*domain.Shop, error) {
			sawNil = current == nil
			return &domain.Shop{Name: "Blue Bottle", Lat: 37.78, Lng: -122.4, Geohash: "9q8yyz8k3p", TotalScore: 4, NumRatings: 1, AvgRating: 4}, nil
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if !sawNil {
			t.Fatalf("first transaction should see a nil record")
		}
		if created.ID != "s1" || created.Name != "Blue Bottle" || created.NumRatings != 1 {
			t.Fatalf("created = %+v", created)
		}
		if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
			t.Fatalf("timestamps not set: %+v", created)
		}

		updated, err := st.Transaction(ctx, "s1", func(current *domain.Shop) (*domain.Shop, error) {
			if current == nil {
				return nil, fmt.Errorf("expected existing record")
			}
			next := *current
			next.TotalScore += 2
			next.NumRatings++
			next.AvgRating = domain.AverageOf(next.TotalScore, next.NumRatings)
			return &next, nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.TotalScore != 6 || updated.NumRatings != 2 || updated.AvgRating != 3 {
			t.Fatalf("updated stats = %+v", updated.Stats())
		}

		got, err := st.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Geohash != "9q8yyz8k3p" || got.NumRatings != 2 || got.Lat != 37.78 {
			t.Fatalf("get = %+v", got)
		}
		if !got.CreatedAt.Equal(created.CreatedAt) {
			t.Fatalf("created_at changed on update: %v -> %v", created.CreatedAt, got.CreatedAt)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("nil update on missing record", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Transaction(context.Background(), "ghost", func(*domain.Shop) (*domain.Shop, error) {
			return nil, nil
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("update func error aborts", func(t *testing.T) {
		st := newStore(t)
		putShop(t, st, "s1", "9q8yyz8k3p")
		boom := errors.New("boom")

		_, err := st.Transaction(context.Background(), "s1", func(current *domain.Shop) (*domain.Shop, error) {
			return nil, boom
		})
		if err != boom {
			t.Fatalf("error = %v, want the update func error unchanged", err)
		}
		got, err := st.Get(context.Background(), "s1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.NumRatings != 0 {
			t.Fatalf("aborted transaction wrote: %+v", got)
		}
	})

	t.Run("range query is inclusive", func(t *testing.T) {
		st := newStore(t)
		putShop(t, st, "a", "9q8yy00000")
		putShop(t, st, "b", "9q8yz00000")
		putShop(t, st, "c", "9q8z000000")
		putShop(t, st, "d", "dr5regw3pp")

		tests := []struct {
			low, high string
			want      []string
		}{
			{"9q8yy00000", "9q8yz00000", []string{"a", "b"}},
			{"9q8y", "9q8y~", []string{"a", "b"}},
			{"9q8z", "9q8z~", []string{"c"}},
			{"0", "~", []string{"a", "b", "c", "d"}},
			{"9q8yy00001", "9q8yyzzzzz", nil},
			{"e", "~", nil},
		}
		for _, tt := range tests {
			got, err := st.RangeQuery(context.Background(), tt.low, tt.high)
			if err != nil {
				t.Fatalf("RangeQuery(%q, %q): %v", tt.low, tt.high, err)
			}
			gotIDs := ids(got)
			if fmt.Sprint(gotIDs) != fmt.Sprint(tt.want) {
				t.Fatalf("RangeQuery(%q, %q) = %v, want %v", tt.low, tt.high, gotIDs, tt.want)
			}
		}
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		st := newStore(t)
		const workers = 20

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
		if got.NumRatings != workers || got.TotalScore != workers {
			t.Fatalf("stats = %+v after %d increments", got.Stats(), workers)
		}
	})

	t.Run("health check", func(t *testing.T) {
		st := newStore(t)
		if err := st.HealthCheck(context.Background()); err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
	})
}
