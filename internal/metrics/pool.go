package metrics

import (
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector reports connection-pool gauges from whatever pool was last
// handed to ObservePool. It reports nothing while no pool is observed.
type poolCollector struct {
	mu   sync.RWMutex
	stat func() *pgxpool.Stat

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
}

func newPoolCollector() *poolCollector {
	return &poolCollector{
		acquired: prometheus.NewDesc("coffeemap_db_pool_acquired_conns", "Connections currently checked out of the pool", nil, nil),
		idle:     prometheus.NewDesc("coffeemap_db_pool_idle_conns", "Idle connections in the pool", nil, nil),
		total:    prometheus.NewDesc("coffeemap_db_pool_total_conns", "Open connections in the pool", nil, nil),
		max:      prometheus.NewDesc("coffeemap_db_pool_max_conns", "Configured pool size", nil, nil),
	}
}

var dbPool = newPoolCollector()

// ObservePool points the pool gauges at stat. Pass nil once the pool closes.
func ObservePool(stat func() *pgxpool.Stat) {
	dbPool.mu.Lock()
	dbPool.stat = stat
	dbPool.mu.Unlock()
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	statFn := c.stat
	c.mu.RUnlock()
	if statFn == nil {
		return
	}
	st := statFn()
	if st == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(st.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(st.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(st.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(st.MaxConns()))
}
