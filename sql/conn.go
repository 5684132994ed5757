package sql

import (
	"context"
	"database/sql/driver"
	"sync/atomic"
	"time"
)

// Compile-time interface checks.
var (
	_ driver.Conn               = (*otelConn)(nil)
	_ driver.ConnPrepareContext = (*otelConn)(nil)
	_ driver.ConnBeginTx        = (*otelConn)(nil)
	_ driver.ExecerContext      = (*otelConn)(nil)
	_ driver.QueryerContext     = (*otelConn)(nil)
	_ driver.Pinger             = (*otelConn)(nil)
	_ driver.SessionResetter    = (*otelConn)(nil)
	_ driver.Validator          = (*otelConn)(nil)
	_ driver.NamedValueChecker  = (*otelConn)(nil)
)

// otelConn wraps a driver.Conn. Its tracked resource is nil when
// connections are not traced; statements still go through it.
type otelConn struct {
	conn    driver.Conn
	tracker *tracker
	res     *trackedResource
	closed  atomic.Bool
}

// newOtelConn creates a new instrumented connection and opens its span.
func newOtelConn(ctx context.Context, conn driver.Conn, t *tracker) *otelConn {
	return &otelConn{
		conn:    conn,
		tracker: t,
		res:     t.connectionOpened(ctx, conn),
	}
}

// Prepare implements driver.Conn.
func (c *otelConn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return newOtelStmt(stmt, c, query), nil
}

// Close implements driver.Conn. The native connection is closed once; its
// span finishes after every statement and result set still open under it.
func (c *otelConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	c.tracker.closeResource(c.res, err)
	return err
}

// Begin implements driver.Conn.
// Deprecated: Use BeginTx instead. This exists for driver.Conn interface compatibility.
func (c *otelConn) Begin() (driver.Tx, error) {
	tx, err := c.conn.Begin() //nolint:staticcheck // Required for driver.Conn interface
	if err != nil {
		return nil, err
	}
	return newOtelTx(tx, c), nil
}

// PrepareContext implements driver.ConnPrepareContext.
func (c *otelConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var stmt driver.Stmt
	var err error

	if preparer, ok := c.conn.(driver.ConnPrepareContext); ok {
		stmt, err = preparer.PrepareContext(ctx, query)
	} else {
		stmt, err = c.conn.Prepare(query)
	}

	if err != nil {
		return nil, err
	}
	return newOtelStmt(stmt, c, query), nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *otelConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	start := time.Now()

	var tx driver.Tx
	var err error

	if beginner, ok := c.conn.(driver.ConnBeginTx); ok {
		tx, err = beginner.BeginTx(ctx, opts)
	} else {
		tx, err = c.conn.Begin() //nolint:staticcheck // Fallback for older drivers
	}

	c.tracker.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), "BEGIN", c.tracker.cfg.baseAttributes(), err)

	if err != nil {
		return nil, err
	}
	return newOtelTx(tx, c), nil
}

// ExecContext implements driver.ExecerContext. The call is tracked as an
// implicit statement that closes when the call returns.
func (c *otelConn) ExecContext(
	ctx context.Context,
	query string,
	args []driver.NamedValue,
) (driver.Result, error) {
	execer, ok := c.conn.(driver.ExecerContext)
	if !ok {
		// Fallback: let database/sql prepare and execute
		return nil, driver.ErrSkip
	}

	start := time.Now()
	result, err := execer.ExecContext(ctx, query, args)
	if err == driver.ErrSkip {
		return nil, err
	}

	stmt := c.tracker.statementOpened(c.res, nil)
	c.tracker.executed(ctx, stmt, query, start, result, err)
	c.tracker.closeResource(stmt, nil)

	return result, err
}

// QueryContext implements driver.QueryerContext. The call is tracked as an
// implicit statement that closes together with the returned rows.
func (c *otelConn) QueryContext(
	ctx context.Context,
	query string,
	args []driver.NamedValue,
) (driver.Rows, error) {
	queryer, ok := c.conn.(driver.QueryerContext)
	if !ok {
		// Fallback: let database/sql prepare and execute
		return nil, driver.ErrSkip
	}

	start := time.Now()
	rows, err := queryer.QueryContext(ctx, query, args)
	if err == driver.ErrSkip {
		return nil, err
	}

	stmt := c.tracker.statementOpened(c.res, nil)
	c.tracker.executed(ctx, stmt, query, start, nil, err)
	if err != nil {
		c.tracker.closeResource(stmt, nil)
		return rows, err
	}

	return c.wrapRows(ctx, rows, stmt, true), nil
}

// wrapRows wraps native rows produced under stmt. When implicit is set,
// stmt exists only for these rows and closes with them.
func (c *otelConn) wrapRows(ctx context.Context, rows driver.Rows, stmt *trackedResource, implicit bool) driver.Rows {
	owner := stmt
	if owner == nil {
		owner = c.res
	}

	res := c.tracker.rowsOpened(ctx, owner, rows)
	if res == nil {
		if implicit {
			c.tracker.closeResource(stmt, nil)
		}
		return rows
	}

	r := newOtelRows(rows, c.tracker, res)
	if implicit {
		r.implicit = stmt
	}
	return r
}

// Ping implements driver.Pinger.
func (c *otelConn) Ping(ctx context.Context) error {
	start := time.Now()

	var err error
	if pinger, ok := c.conn.(driver.Pinger); ok {
		err = pinger.Ping(ctx)
	}

	c.tracker.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), "PING", c.tracker.cfg.baseAttributes(), err)

	return err
}

// ResetSession implements driver.SessionResetter.
func (c *otelConn) ResetSession(ctx context.Context) error {
	if resetter, ok := c.conn.(driver.SessionResetter); ok {
		return resetter.ResetSession(ctx)
	}
	return nil
}

// IsValid implements driver.Validator.
func (c *otelConn) IsValid() bool {
	if validator, ok := c.conn.(driver.Validator); ok {
		return validator.IsValid()
	}
	return true
}

// CheckNamedValue implements driver.NamedValueChecker. Returning ErrSkip
// makes database/sql apply its default conversion.
func (c *otelConn) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := c.conn.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}
