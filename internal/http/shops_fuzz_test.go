package httpserver

import (
	"net/url"
	"testing"
)

func FuzzParseNearbyQuery(f *testing.F) {
	seeds := []string{
		"lat=37.77&lng=-122.41&radius=1000&limit=5",
		"lat=abc",
		"lat=1&lng=1&radius=1e308",
		"lat=1&lng=1&prevLat=2&prevLng=3",
		"",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		values, err := url.ParseQuery(raw)
		if err != nil {
			return
		}
		q, err := parseNearbyQuery(values, testConfig())
		if err != nil {
			return
		}
		if q.RadiusMeters > testConfig().MaxRadiusMeters || q.Limit < 0 || q.Limit > testConfig().MaxResultsLimit {
			t.Fatalf("accepted out of bounds query %+v", q)
		}
	})
}
