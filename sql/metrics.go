package sql

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments of one data source.
type metrics struct {
	// Query latency histogram
	queryDuration metric.Float64Histogram

	// Live registry entries by kind, observed from the registry on collection.
	trackedResources metric.Int64ObservableGauge
}

// newMetrics creates the metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	// Query duration histogram with recommended buckets for database operations
	m.queryDuration, err = meter.Float64Histogram(
		"db.client.operation.duration",
		metric.WithDescription("Duration of database client operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.trackedResources, err = meter.Int64ObservableGauge(
		"db.client.tracked_resources",
		metric.WithDescription("Number of connections, statements and result sets currently tracked"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// observeRegistry publishes the live entry count of reg per resource kind
// every time the meter collects.
func (m *metrics) observeRegistry(meter metric.Meter, reg *registry, attrs []attribute.KeyValue) error {
	if m == nil || m.trackedResources == nil {
		return nil
	}

	byKind := func(kind resourceKind) metric.ObserveOption {
		all := make([]attribute.KeyValue, 0, len(attrs)+1)
		all = append(all, attrs...)
		all = append(all, attribute.String("db.resource", kind.String()))
		return metric.WithAttributes(all...)
	}
	connections, statements, rows := byKind(kindConnection), byKind(kindStatement), byKind(kindRows)

	_, err := meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			stats := reg.stats()
			o.ObserveInt64(m.trackedResources, stats.Connections, connections)
			o.ObserveInt64(m.trackedResources, stats.Statements, statements)
			o.ObserveInt64(m.trackedResources, stats.Rows, rows)
			return nil
		},
		m.trackedResources,
	)
	return err
}

// recordQueryDuration records the duration of a query operation.
func (m *metrics) recordQueryDuration(
	ctx context.Context,
	duration time.Duration,
	operation string,
	attrs []attribute.KeyValue,
	err error,
) {
	if m == nil || m.queryDuration == nil {
		return
	}

	// Add operation and status attributes
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs, attrs...)

	if operation != "" {
		allAttrs = append(allAttrs, attribute.String("db.operation", operation))
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	allAttrs = append(allAttrs, attribute.String("status", status))

	m.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(allAttrs...))
}

// poolGauge is one connection gauge read from the pool and, for wrapped
// drivers, from the registry behind it.
type poolGauge struct {
	name        string
	description string
	value       func(pool sql.DBStats, tracked Stats) int64
	// wrappedOnly gauges need the registry of a wrapped driver.
	wrappedOnly bool
}

var poolGauges = []poolGauge{
	{
		name:        "db.client.connections.open",
		description: "Number of open connections in the pool",
		value:       func(p sql.DBStats, _ Stats) int64 { return int64(p.OpenConnections) },
	},
	{
		name:        "db.client.connections.idle",
		description: "Number of idle connections in the pool",
		value:       func(p sql.DBStats, _ Stats) int64 { return int64(p.Idle) },
	},
	{
		name:        "db.client.connections.max",
		description: "Maximum number of connections allowed in the pool",
		value:       func(p sql.DBStats, _ Stats) int64 { return int64(p.MaxOpenConnections) },
	},
	{
		name:        "db.client.connections.used",
		description: "Number of connections currently in use",
		value:       func(p sql.DBStats, _ Stats) int64 { return int64(p.InUse) },
	},
	{
		name:        "db.client.connections.tracked",
		description: "Number of connections with an open connection span",
		value:       func(_ sql.DBStats, t Stats) int64 { return t.Connections },
		wrappedOnly: true,
	},
	{
		name:        "db.client.resources.pending",
		description: "Number of statements and result sets not yet closed",
		value:       func(_ sql.DBStats, t Stats) int64 { return t.Statements + t.Rows },
		wrappedOnly: true,
	},
}

// registerPoolMetrics observes db.Stats() and, when reg is set, the
// registry of the wrapped driver in a single callback, so the pool and the
// tracked resources are read at the same instant.
func registerPoolMetrics(meter metric.Meter, db *sql.DB, reg *registry, attrs []attribute.KeyValue) error {
	type observed struct {
		gauge metric.Int64ObservableGauge
		value func(sql.DBStats, Stats) int64
	}

	var (
		gauges      []observed
		instruments []metric.Observable
	)
	for _, g := range poolGauges {
		if g.wrappedOnly && reg == nil {
			continue
		}
		gauge, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{connection}"),
		)
		if err != nil {
			return err
		}
		gauges = append(gauges, observed{gauge: gauge, value: g.value})
		instruments = append(instruments, gauge)
	}

	waitCount, err := meter.Int64ObservableCounter(
		"db.client.connections.wait_count",
		metric.WithDescription("Total number of times waited for a connection"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return err
	}
	waitDuration, err := meter.Float64ObservableCounter(
		"db.client.connections.wait_duration",
		metric.WithDescription("Total time waited for connections in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	instruments = append(instruments, waitCount, waitDuration)

	opt := metric.WithAttributes(attrs...)
	_, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			pool := db.Stats()
			var tracked Stats
			if reg != nil {
				tracked = reg.stats()
			}

			for _, g := range gauges {
				o.ObserveInt64(g.gauge, g.value(pool, tracked), opt)
			}
			o.ObserveInt64(waitCount, pool.WaitCount, opt)
			o.ObserveFloat64(waitDuration, pool.WaitDuration.Seconds(), opt)
			return nil
		},
		instruments...,
	)
	return err
}

// RecordPoolMetrics registers connection pool metrics for a database.
//
// When db was opened through this package, the wrapper's attributes are
// added to the given ones and two more gauges are published from its
// registry: db.client.connections.tracked and db.client.resources.pending.
// A tracked count above the pool's open count, or pending resources on an
// idle pool, point at leaked connections, statements or result sets.
//
// Example:
//
//	db, _ := dstrace.Open("postgres", dsn,
//	    dstrace.WithDBSystem("postgresql"),
//	    dstrace.WithDBName("mydb"),
//	)
//
//	err := dstrace.RecordPoolMetrics(db, otel.GetMeterProvider().Meter("myapp"))
func RecordPoolMetrics(db *sql.DB, meter metric.Meter, attrs ...attribute.KeyValue) error {
	var reg *registry
	if drv, ok := db.Driver().(*otelDriver); ok && drv.tracker != nil {
		attrs = append(drv.tracker.cfg.baseAttributes(), attrs...)
		reg = drv.tracker.registry
	}

	return registerPoolMetrics(meter, db, reg, attrs)
}
