package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsCollector exports pgxpool statistics.
type PoolStatsCollector struct {
	stat func() *pgxpool.Stat

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
	acquires *prometheus.Desc
}

// NewPoolStatsCollector reads statistics from pool on every scrape.
func NewPoolStatsCollector(pool *pgxpool.Pool) *PoolStatsCollector {
	return newPoolStatsCollector(pool.Stat)
}

func newPoolStatsCollector(stat func() *pgxpool.Stat) *PoolStatsCollector {
	return &PoolStatsCollector{
		stat:     stat,
		acquired: prometheus.NewDesc("db_pool_acquired_connections", "Number of currently acquired connections", nil, nil),
		idle:     prometheus.NewDesc("db_pool_idle_connections", "Number of currently idle connections", nil, nil),
		total:    prometheus.NewDesc("db_pool_total_connections", "Total number of connections in the pool", nil, nil),
		max:      prometheus.NewDesc("db_pool_max_connections", "Maximum number of connections allowed", nil, nil),
		acquires: prometheus.NewDesc("db_pool_acquire_count_total", "Total number of connection acquires", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.acquires
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount()))
}
