package sql

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// Compile-time interface check.
var _ prometheus.Collector = (*collector)(nil)

// collector exposes the resources tracked behind a *sql.DB.
type collector struct {
	db   *sql.DB
	desc *prometheus.Desc
}

// NewCollector returns a Prometheus collector reporting the connections,
// statements and result sets currently tracked behind db, as the gauge
// "dstrace_tracked_resources" labelled by resource kind.
//
// A steadily growing value means resources are opened and never closed.
//
// Example:
//
//	db, _ := dstrace.Open("postgres", dsn, dstrace.WithDataSourceName("orders"))
//	prometheus.MustRegister(dstrace.NewCollector(db, prometheus.Labels{"data_source": "orders"}))
func NewCollector(db *sql.DB, constLabels prometheus.Labels) prometheus.Collector {
	return &collector{
		db: db,
		desc: prometheus.NewDesc(
			"dstrace_tracked_resources",
			"Number of connections, statements and result sets currently tracked.",
			[]string{"resource"},
			constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	stats, ok := StatsOf(c.db)
	if !ok {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(stats.Connections), kindConnection.String())
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(stats.Statements), kindStatement.String())
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(stats.Rows), kindRows.String())
}
