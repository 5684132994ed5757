// Package sql provides an instrumented database/sql driver wrapper that
// tracks the lifecycle of every connection, statement and result set and
// emits exactly one OpenTelemetry span per tracked resource.
//
// # Features
//
//   - One span per connection, per statement execution and per result set
//   - Correct nesting: fetch under query under connection
//   - Close in any order, any number of times: spans still finish once
//   - Closing a connection finishes the spans of everything left open under it
//   - Category filter to keep only connection, query or fetch spans
//   - Native driver errors are returned untouched
//   - Full compatibility with database/sql interface
//
// # Quick Start
//
//	import dstrace "github.com/kroma-labs/dstrace/sql"
//
//	db, err := dstrace.Open("postgres", dsn,
//	    dstrace.WithDBSystem("postgresql"),
//	    dstrace.WithDataSourceName("orders"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// # Wrapping a Connector
//
//	connector, _ := pq.NewConnector(dsn)
//	db := dstrace.OpenDB(connector, dstrace.WithDataSourceName("orders"))
//
// # Span Model
//
// Span names follow "jdbc:/<data source>/<category>":
//
//	jdbc:/orders/connection   driver connection, open to close
//	├── jdbc:/orders/query    one per execution, tagged db.statement
//	│   └── jdbc:/orders/fetch  first Next to rows close
//	└── jdbc:/orders/query
//
// Commit and rollback are recorded as "commit" and "rollback" events on the
// connection span. Exec spans carry "db.rows_affected" and fetch spans
// "db.rows_fetched" unless WithTraceRowCount(false) is given.
//
// A connection span lasts as long as the physical driver connection, which
// *sql.DB keeps in its pool between uses.
//
// # Category Filter
//
//	db, _ := dstrace.Open("postgres", dsn,
//	    dstrace.WithCategories(dstrace.CategoryQuery, dstrace.CategoryFetch),
//	)
//
// Excluded categories are not tracked at all.
//
// # Observability
//
// Metrics:
//   - db.client.operation.duration (histogram by operation)
//   - db.client.tracked_resources (gauge by resource kind, read from the registry)
//   - dstrace_tracked_resources via NewCollector for Prometheus
package sql
