// Package metrics holds the Prometheus collectors for search and rating paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coffeemap_searches_total",
		Help: "Proximity searches by outcome",
	}, []string{"outcome"})
	SearchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coffeemap_search_duration_ms",
		Help:    "Proximity search duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	RangeQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coffeemap_range_queries_total",
		Help: "Geohash range queries issued against the record store",
	}, []string{"outcome"})
	SearchCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coffeemap_search_candidates",
		Help:    "Records returned by range queries before the exact distance filter",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
	})
	SearchMatches = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coffeemap_search_matches",
		Help:    "Records within the radius after the exact distance filter",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
	})
	RatingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coffeemap_ratings_total",
		Help: "Rating submissions by outcome",
	}, []string{"outcome"})
	TransactionRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coffeemap_transaction_retries_total",
		Help: "Store transactions retried after a write conflict",
	}, []string{"store"})
)

func init() {
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(SearchDurationMs)
	prometheus.MustRegister(RangeQueriesTotal)
	prometheus.MustRegister(SearchCandidates)
	prometheus.MustRegister(SearchMatches)
	prometheus.MustRegister(RatingsTotal)
	prometheus.MustRegister(TransactionRetriesTotal)
	prometheus.MustRegister(dbPool)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
