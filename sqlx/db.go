package sqlx

import (
	"context"
	"database/sql/driver"

	"github.com/jmoiron/sqlx"

	dstrace "github.com/kroma-labs/dstrace/sql"
)

// Option configures the underlying traced driver. It is the same type as
// the options of the sql package.
type Option = dstrace.Option

// Open opens a traced database and wraps it with sqlx.
// driverName also selects the sqlx bind variable style.
//
// Example:
//
//	db, err := dstracesqlx.Open("postgres", dsn,
//	    dstrace.WithDBSystem("postgresql"),
//	    dstrace.WithDataSourceName("users"),
//	)
func Open(driverName, dsn string, opts ...Option) (*sqlx.DB, error) {
	db, err := dstrace.Open(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(db, driverName), nil
}

// OpenDB wraps connector with tracing and sqlx. driverName only selects the
// bind variable style, e.g. "postgres" for $1 or "mysql" for ?.
//
// Example:
//
//	connector, _ := pq.NewConnector(dsn)
//	db := dstracesqlx.OpenDB(connector, "postgres", dstrace.WithDataSourceName("users"))
func OpenDB(connector driver.Connector, driverName string, opts ...Option) *sqlx.DB {
	return sqlx.NewDb(dstrace.OpenDB(connector, opts...), driverName)
}

// Connect opens and verifies a traced database connection.
// It is equivalent to Open followed by Ping.
//
// Example:
//
//	db, err := dstracesqlx.Connect(ctx, "postgres", dsn,
//	    dstrace.WithDBSystem("postgresql"),
//	)
func Connect(ctx context.Context, driverName, dsn string, opts ...Option) (*sqlx.DB, error) {
	db, err := Open(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MustConnect is like Connect but panics on error.
func MustConnect(ctx context.Context, driverName, dsn string, opts ...Option) *sqlx.DB {
	db, err := Connect(ctx, driverName, dsn, opts...)
	if err != nil {
		panic(err)
	}
	return db
}
