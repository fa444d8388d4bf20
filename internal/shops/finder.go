package shops

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/coffeemap/internal/domain"
	"github.com/Clark-Hu/coffeemap/internal/geo"
	"github.com/Clark-Hu/coffeemap/internal/logger"
	"github.com/Clark-Hu/coffeemap/internal/metrics"
	"github.com/Clark-Hu/coffeemap/internal/repository"
)

// Match is a shop found by a proximity search together with its distance
// from the search center.
type Match struct {
	Shop           domain.Shop
	DistanceMeters float64
}

// Matches is a ranked search result.
type Matches []Match

// ByID indexes the result by shop id. The map belongs to the caller and
// lives only as long as the result it was built from.
func (m Matches) ByID() map[string]Match {
	out := make(map[string]Match, len(m))
	for _, match := range m {
		out[match.Shop.ID] = match
	}
	return out
}

// Finder answers "which shops lie within r meters of a point" over a store
// that only supports ordered range scans on the geohash key.
type Finder struct {
	store  repository.RecordStore
	logger *slog.Logger
}

func NewFinder(store repository.RecordStore, logger *slog.Logger) *Finder {
	return &Finder{store: store, logger: logger}
}

// Search returns up to maxResults shops within radiusMeters of center,
// nearest first with ties broken by id. Any failing range query fails the
// whole search.
func (f *Finder) Search(ctx context.Context, center geo.Point, radiusMeters float64, maxResults int) (Matches, error) {
	if err := center.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := geo.ValidateRadius(radiusMeters); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if maxResults <= 0 {
		return Matches{}, nil
	}

	start := time.Now()
	ranges, err := geo.QueryBounds(center, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	batches := make([][]domain.Shop, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			found, err := f.store.RangeQuery(gctx, r.Low, r.High)
			if err != nil {
				metrics.RangeQueriesTotal.WithLabelValues("error").Inc()
				return fmt.Errorf("range [%s, %s]: %w", r.Low, r.High, err)
			}
			metrics.RangeQueriesTotal.WithLabelValues("ok").Inc()
			batches[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search near %.6f,%.6f: %w", center.Lat, center.Lng, err)
	}

	seen := make(map[string]struct{})
	matches := Matches{}
	candidates := 0
	for _, batch := range batches {
		for _, s := range batch {
			candidates++
			if _, dup := seen[s.ID]; dup {
				continue
			}
			seen[s.ID] = struct{}{}
			d := geo.Distance(center, geo.Point{Lat: s.Lat, Lng: s.Lng})
			if d > radiusMeters {
				continue
			}
			matches = append(matches, Match{Shop: s, DistanceMeters: d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].DistanceMeters != matches[j].DistanceMeters {
			return matches[i].DistanceMeters < matches[j].DistanceMeters
		}
		return matches[i].Shop.ID < matches[j].Shop.ID
	})
	inRadius := len(matches)
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	elapsed := time.Since(start)
	metrics.SearchesTotal.WithLabelValues("ok").Inc()
	metrics.SearchDurationMs.Observe(float64(elapsed.Milliseconds()))
	metrics.SearchCandidates.Observe(float64(candidates))
	metrics.SearchMatches.Observe(float64(inRadius))
	logger.OrDiscard(f.logger).Debug("shops: search",
		"lat", center.Lat,
		"lng", center.Lng,
		"radius_m", radiusMeters,
		"ranges", len(ranges),
		"candidates", candidates,
		"in_radius", inRadius,
		"returned", len(matches),
		"duration_ms", elapsed.Milliseconds(),
	)
	return matches, nil
}
