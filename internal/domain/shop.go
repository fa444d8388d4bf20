package domain

import "time"

// Shop is the persisted record for one coffee shop, keyed by its external
// place identifier.
type Shop struct {
	ID         string
	Name       string
	Lat        float64
	Lng        float64
	Geohash    string
	TotalScore float64
	NumRatings int64
	AvgRating  float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Stats returns the rating triple with the average recomputed from total and count.
func (s Shop) Stats() RatingStats {
	return RatingStats{
		TotalScore: s.TotalScore,
		NumRatings: s.NumRatings,
		AvgRating:  AverageOf(s.TotalScore, s.NumRatings),
	}
}
