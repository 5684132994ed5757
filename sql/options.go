package sql

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	// This identifies the library in traces and metrics.
	scope = "github.com/kroma-labs/dstrace/sql"

	// DefaultSpanScheme prefixes every span name: "<scheme>:/<data source>/<category>".
	DefaultSpanScheme = "jdbc"
)

// config holds the configuration for instrumentation.
type config struct {
	// TracerProvider is the tracer provider to use.
	// If not set, uses the global provider via otel.GetTracerProvider().
	// When no global provider is configured, a no-op tracer is used (safe, but no traces).
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If not set, uses the global provider via otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// Tracer is the tracer instance created from TracerProvider.
	Tracer trace.Tracer

	// Meter is the meter instance created from MeterProvider.
	Meter metric.Meter

	// Metrics holds the metric instruments.
	Metrics *metrics

	// Logger receives tracking failures. Defaults to a disabled logger.
	Logger zerolog.Logger

	// DBSystem identifies the database management system (DBMS) product.
	// Examples: "postgresql", "mysql", "sqlite", "mssql", "oracle"
	DBSystem string

	// DBName is the name of the database being accessed.
	DBName string

	// InstanceName identifies a specific database connection instance,
	// such as "primary" or "replica". Recorded as "db.instance".
	InstanceName string

	// DataSourceName is the logical name used in span names.
	// Falls back to DBName, then to a generated identifier.
	DataSourceName string

	// SpanScheme is the span name prefix. Default: DefaultSpanScheme.
	SpanScheme string

	// Categories is the set of span categories that are tracked at all.
	Categories categorySet

	// TraceRowCount adds affected-row and fetched-row counts to spans.
	TraceRowCount bool

	// QuerySanitizer sanitizes SQL queries before adding to spans.
	// If nil, queries are included as-is (may expose sensitive data).
	QuerySanitizer func(query string) string

	// DisableQuery disables recording of SQL queries in spans.
	DisableQuery bool

	// explicitName records whether DataSourceName or DBName came from an
	// option, as opposed to being generated.
	explicitName bool
}

// newConfig creates a new config with defaults and applies options.
func newConfig(opts ...Option) *config {
	cfg := &config{
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Logger:         zerolog.Nop(),
		SpanScheme:     DefaultSpanScheme,
		Categories:     newCategorySet(AllCategories()...),
		TraceRowCount:  true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.DataSourceName == "" {
		cfg.DataSourceName = cfg.DBName
	}
	cfg.explicitName = cfg.DataSourceName != ""
	if cfg.DataSourceName == "" {
		cfg.DataSourceName = uuid.NewString()
	}
	if cfg.SpanScheme == "" {
		cfg.SpanScheme = DefaultSpanScheme
	}

	// If no provider is configured globally, these will be no-op implementations.
	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	var err error
	cfg.Metrics, err = newMetrics(cfg.Meter)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("dstrace: metrics disabled")
	}

	return cfg
}

// Option configures the instrumentation.
type Option func(*config)

// WithTracerProvider sets a custom tracer provider.
// If not called, the global provider from otel.GetTracerProvider() is used.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(...)
//	db, _ := dstrace.Open("postgres", dsn,
//	    dstrace.WithTracerProvider(tp),
//	)
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		if tp != nil {
			cfg.TracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom meter provider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) {
		if mp != nil {
			cfg.MeterProvider = mp
		}
	}
}

// WithLogger sets the logger used for tracking failures and cascade closes.
// Tracking never fails a database call; problems are only logged here.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	db, _ := dstrace.Open("postgres", dsn, dstrace.WithLogger(logger))
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.Logger = l
	}
}

// WithDBSystem sets the database system identifier (DBMS product).
// This is added as the "db.system" attribute on all spans.
func WithDBSystem(system string) Option {
	return func(cfg *config) {
		cfg.DBSystem = system
	}
}

// WithDBName sets the database name being accessed.
// This is added as the "db.name" attribute on all spans, and names the
// data source when WithDataSourceName is not given.
func WithDBName(name string) Option {
	return func(cfg *config) {
		cfg.DBName = name
	}
}

// WithInstanceName sets an identifier for this specific database connection,
// such as "primary" or "replica". This is added as the "db.instance" attribute.
func WithInstanceName(name string) Option {
	return func(cfg *config) {
		cfg.InstanceName = name
	}
}

// WithDataSourceName sets the logical data source name used in span names.
//
// Example:
//
//	db, _ := dstrace.Open("postgres", dsn, dstrace.WithDataSourceName("orders"))
//	// spans: "jdbc:/orders/connection", "jdbc:/orders/query", "jdbc:/orders/fetch"
func WithDataSourceName(name string) Option {
	return func(cfg *config) {
		cfg.DataSourceName = name
	}
}

// WithSpanScheme replaces the "jdbc" prefix of span names.
func WithSpanScheme(scheme string) Option {
	return func(cfg *config) {
		cfg.SpanScheme = scheme
	}
}

// WithCategories restricts which categories produce spans.
// Resources of an excluded category are not tracked at all.
//
// Example:
//
//	// Only connection and query spans; result sets are passed through.
//	db, _ := dstrace.Open("postgres", dsn,
//	    dstrace.WithCategories(dstrace.CategoryConnection, dstrace.CategoryQuery),
//	)
func WithCategories(cats ...Category) Option {
	return func(cfg *config) {
		cfg.Categories = newCategorySet(cats...)
	}
}

// WithTraceRowCount toggles the "db.rows_affected" tag on exec spans and the
// "db.rows_fetched" tag on fetch spans. Enabled by default.
func WithTraceRowCount(enabled bool) Option {
	return func(cfg *config) {
		cfg.TraceRowCount = enabled
	}
}

// WithQuerySanitizer sets a custom query sanitizer function.
// Use DefaultQuerySanitizer for a basic implementation that replaces
// string literals, numbers, and hex values with "?" placeholders.
//
// Example:
//
//	db, _ := dstrace.Open("postgres", dsn,
//	    dstrace.WithQuerySanitizer(dstrace.DefaultQuerySanitizer),
//	)
//	// Query: "SELECT * FROM users WHERE id = 123"
//	// Recorded as: "SELECT * FROM users WHERE id = ?"
func WithQuerySanitizer(fn func(string) string) Option {
	return func(cfg *config) {
		cfg.QuerySanitizer = fn
	}
}

// WithDisableQuery disables recording of SQL queries in spans entirely.
// The "db.operation" attribute (SELECT, INSERT, etc.) is still recorded.
func WithDisableQuery() Option {
	return func(cfg *config) {
		cfg.DisableQuery = true
	}
}
