package shops

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Clark-Hu/coffeemap/internal/domain"
	"github.com/Clark-Hu/coffeemap/internal/geo"
	"github.com/Clark-Hu/coffeemap/internal/logger"
	"github.com/Clark-Hu/coffeemap/internal/metrics"
	"github.com/Clark-Hu/coffeemap/internal/repository"
)

// DefaultMaxRating is the top of the accepted rating scale.
const DefaultMaxRating = 5.0

// Submission is one rating for a shop. Name, Lat and Lng are used only when
// the shop has no record yet.
type Submission struct {
	ShopID string
	Name   string
	Lat    float64
	Lng    float64
	Value  float64
}

// Outcome is the committed aggregate after a submission.
type Outcome struct {
	domain.RatingStats
	// Created is true when this submission created the shop record.
	Created bool
}

// Aggregator folds rating submissions into each shop's running total.
type Aggregator struct {
	store     repository.RecordStore
	maxRating float64
	logger    *slog.Logger
}

func NewAggregator(store repository.RecordStore, maxRating float64, logger *slog.Logger) *Aggregator {
	if maxRating <= 0 {
		maxRating = DefaultMaxRating
	}
	return &Aggregator{store: store, maxRating: maxRating, logger: logger}
}

func (a *Aggregator) validate(sub Submission) error {
	if strings.TrimSpace(sub.ShopID) == "" {
		return fmt.Errorf("%w: shop id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(sub.Name) == "" {
		return fmt.Errorf("%w: shop name is required", ErrInvalidInput)
	}
	if err := geo.Validate(sub.Lat, sub.Lng); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if math.IsNaN(sub.Value) || math.IsInf(sub.Value, 0) || sub.Value < 0 || sub.Value > a.maxRating {
		return fmt.Errorf("%w: rating %v outside [0, %v]", ErrInvalidInput, sub.Value, a.maxRating)
	}
	return nil
}

// Submit adds one rating inside a single-key store transaction. The first
// rating for an id creates the record; later ones only touch the stats.
func (a *Aggregator) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	if err := a.validate(sub); err != nil {
		metrics.RatingsTotal.WithLabelValues("invalid").Inc()
		return Outcome{}, err
	}
	hash, err := geo.Encode(sub.Lat, sub.Lng)
	if err != nil {
		metrics.RatingsTotal.WithLabelValues("invalid").Inc()
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var created bool
	rec, err := a.store.Transaction(ctx, sub.ShopID, func(current *domain.Shop) (*domain.Shop, error) {
		if current == nil {
			created = true
			return &domain.Shop{
				ID:         sub.ShopID,
				Name:       sub.Name,
				Lat:        sub.Lat,
				Lng:        sub.Lng,
				Geohash:    hash,
				TotalScore: sub.Value,
				NumRatings: 1,
				AvgRating:  sub.Value,
			}, nil
		}
		created = false
		next := *current
		next.TotalScore = current.TotalScore + sub.Value
		next.NumRatings = current.NumRatings + 1
		next.AvgRating = domain.AverageOf(next.TotalScore, next.NumRatings)
		return &next, nil
	})
	if err != nil {
		metrics.RatingsTotal.WithLabelValues("error").Inc()
		return Outcome{}, fmt.Errorf("rate shop %s: %w", sub.ShopID, err)
	}

	outcome := "updated"
	if created {
		outcome = "created"
	}
	metrics.RatingsTotal.WithLabelValues(outcome).Inc()
	logger.OrDiscard(a.logger).Debug("shops: rating committed",
		"shop_id", rec.ID,
		"outcome", outcome,
		"num_ratings", rec.NumRatings,
		"avg_rating", rec.AvgRating,
	)
	return Outcome{RatingStats: rec.Stats(), Created: created}, nil
}
