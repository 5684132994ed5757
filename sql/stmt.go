package sql

import (
	"context"
	"database/sql/driver"
	"sync/atomic"
	"time"
)

// Compile-time interface checks.
var (
	_ driver.Stmt              = (*otelStmt)(nil)
	_ driver.StmtExecContext   = (*otelStmt)(nil)
	_ driver.StmtQueryContext  = (*otelStmt)(nil)
	_ driver.NamedValueChecker = (*otelStmt)(nil)
)

// otelStmt wraps a prepared driver.Stmt. Every execution emits one query
// span; result sets it returns are tracked as its children.
type otelStmt struct {
	stmt   driver.Stmt
	conn   *otelConn
	query  string
	res    *trackedResource
	closed atomic.Bool
}

// newOtelStmt creates a new instrumented statement owned by conn.
func newOtelStmt(stmt driver.Stmt, conn *otelConn, query string) *otelStmt {
	return &otelStmt{
		stmt:  stmt,
		conn:  conn,
		query: query,
		res:   conn.tracker.statementOpened(conn.res, stmt),
	}
}

// Close implements driver.Stmt. The native statement is closed once, even
// if the statement was already finished by its connection closing.
func (s *otelStmt) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.stmt.Close()
	s.conn.tracker.closeResource(s.res, err)
	return err
}

// NumInput implements driver.Stmt.
func (s *otelStmt) NumInput() int {
	return s.stmt.NumInput()
}

// Exec implements driver.Stmt.
// Deprecated: Use ExecContext instead. This exists for driver.Stmt interface compatibility.
func (s *otelStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valueToNamedValue(args))
}

// Query implements driver.Stmt.
// Deprecated: Use QueryContext instead. This exists for driver.Stmt interface compatibility.
func (s *otelStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valueToNamedValue(args))
}

// ExecContext implements driver.StmtExecContext.
func (s *otelStmt) ExecContext(
	ctx context.Context,
	args []driver.NamedValue,
) (driver.Result, error) {
	start := time.Now()

	var result driver.Result
	var err error

	if execer, ok := s.stmt.(driver.StmtExecContext); ok {
		result, err = execer.ExecContext(ctx, args)
	} else {
		// Fallback to non-context version
		values := namedValueToValue(args)
		result, err = s.stmt.Exec(values) //nolint:staticcheck // Fallback for older drivers
	}

	s.conn.tracker.executed(ctx, s.res, s.query, start, result, err)

	return result, err
}

// QueryContext implements driver.StmtQueryContext.
func (s *otelStmt) QueryContext(
	ctx context.Context,
	args []driver.NamedValue,
) (driver.Rows, error) {
	start := time.Now()

	var rows driver.Rows
	var err error

	if queryer, ok := s.stmt.(driver.StmtQueryContext); ok {
		rows, err = queryer.QueryContext(ctx, args)
	} else {
		// Fallback to non-context version
		values := namedValueToValue(args)
		rows, err = s.stmt.Query(values) //nolint:staticcheck // Fallback for older drivers
	}

	s.conn.tracker.executed(ctx, s.res, s.query, start, nil, err)

	if err != nil {
		return rows, err
	}
	return s.conn.wrapRows(ctx, rows, s.res, false), nil
}

// CheckNamedValue implements driver.NamedValueChecker. database/sql only
// asks the connection when the statement has no checker, so the lookup
// falls through to the connection here.
func (s *otelStmt) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := s.stmt.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return s.conn.CheckNamedValue(nv)
}

// namedValueToValue converts NamedValue slice to Value slice.
func namedValueToValue(named []driver.NamedValue) []driver.Value {
	values := make([]driver.Value, len(named))
	for i, nv := range named {
		values[i] = nv.Value
	}
	return values
}

// valueToNamedValue converts Value slice to ordinal NamedValue slice.
func valueToNamedValue(values []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(values))
	for i, v := range values {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}
