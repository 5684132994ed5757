// Package sqlx opens jmoiron/sqlx databases on top of the dstrace driver,
// so struct scanning and named queries are traced like plain database/sql.
//
// # Quick Start
//
//	import (
//	    dstrace "github.com/kroma-labs/dstrace/sql"
//	    dstracesqlx "github.com/kroma-labs/dstrace/sqlx"
//	)
//
//	db, err := dstracesqlx.Open("postgres", dsn,
//	    dstrace.WithDBSystem("postgresql"),
//	    dstrace.WithDataSourceName("users"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// # Struct Scanning
//
//	type User struct {
//	    ID   int    `db:"id"`
//	    Name string `db:"name"`
//	}
//
//	// Single row: one query span and one fetch span
//	var user User
//	err := db.GetContext(ctx, &user, "SELECT id, name FROM users WHERE id = $1", 1)
//
//	// Multiple rows
//	var users []User
//	err := db.SelectContext(ctx, &users, "SELECT id, name FROM users")
//
// # Named Parameters
//
//	user := User{Name: "John"}
//	result, err := db.NamedExecContext(ctx,
//	    "INSERT INTO users (name) VALUES (:name)",
//	    user,
//	)
//
// The query span records the statement after sqlx has bound the named
// parameters, as the driver receives it.
//
// # Observability
//
// Spans come from the driver layer, not from sqlx methods:
//   - jdbc:/<data source>/connection per pooled connection
//   - jdbc:/<data source>/query per execution
//   - jdbc:/<data source>/fetch per result set that was read
package sqlx
