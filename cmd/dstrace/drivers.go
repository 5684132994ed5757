package main

import (
	"database/sql"
	"database/sql/driver"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	dstrace "github.com/kroma-labs/dstrace/sql"
)

// openTraced opens driverName through a driver wrapper of its own, so every
// run gets a fresh registry and the tracer provider passed in opts.
func openTraced(driverName, dsn string, opts ...dstrace.Option) (*sql.DB, error) {
	raw, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	native := raw.Driver()
	_ = raw.Close()

	wrapped := dstrace.WrapDriver(native, opts...).(driver.DriverContext)
	connector, err := wrapped.OpenConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}
