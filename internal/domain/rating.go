package domain

// RatingStats is the running aggregate kept per shop.
type RatingStats struct {
	TotalScore float64
	NumRatings int64
	AvgRating  float64
}

// AverageOf returns total/count, or zero when nothing has been rated.
func AverageOf(total float64, count int64) float64 {
	if count <= 0 {
		return 0
	}
	return total / float64(count)
}
