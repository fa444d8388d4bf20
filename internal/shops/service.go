// Package shops implements proximity search and rating aggregation over a
// repository.RecordStore.
package shops

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Clark-Hu/coffeemap/internal/domain"
	"github.com/Clark-Hu/coffeemap/internal/geo"
	"github.com/Clark-Hu/coffeemap/internal/repository"
)

// ErrInvalidInput is returned for malformed coordinates, radii or ratings,
// always before any store I/O.
var ErrInvalidInput = errors.New("shops: invalid input")

// Options configures a Service.
type Options struct {
	MaxRating float64
	Logger    *slog.Logger
}

// Service is the caller-facing API used by the HTTP server and the CLI.
type Service struct {
	store      repository.RecordStore
	finder     *Finder
	aggregator *Aggregator
}

func New(store repository.RecordStore, opts Options) *Service {
	return &Service{
		store:      store,
		finder:     NewFinder(store, opts.Logger),
		aggregator: NewAggregator(store, opts.MaxRating, opts.Logger),
	}
}

// FindNearby returns up to maxResults shops within radiusMeters of (lat, lng).
func (s *Service) FindNearby(ctx context.Context, lat, lng, radiusMeters float64, maxResults int) (Matches, error) {
	return s.finder.Search(ctx, geo.Point{Lat: lat, Lng: lng}, radiusMeters, maxResults)
}

// Rate records one rating for shopID and returns the new aggregate.
func (s *Service) Rate(ctx context.Context, shopID, name string, lat, lng, value float64) (Outcome, error) {
	return s.aggregator.Submit(ctx, Submission{
		ShopID: shopID,
		Name:   name,
		Lat:    lat,
		Lng:    lng,
		Value:  value,
	})
}

func (s *Service) Get(ctx context.Context, shopID string) (domain.Shop, error) {
	return s.store.Get(ctx, shopID)
}

func (s *Service) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}
