package sql

import (
	"database/sql/driver"
	"io"
	"reflect"
	"sync/atomic"
	"time"
)

// Compile-time interface checks.
var (
	_ driver.Rows                           = (*otelRows)(nil)
	_ driver.RowsNextResultSet              = (*otelRows)(nil)
	_ driver.RowsColumnTypeScanType         = (*otelRows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*otelRows)(nil)
	_ driver.RowsColumnTypeLength           = (*otelRows)(nil)
	_ driver.RowsColumnTypeNullable         = (*otelRows)(nil)
	_ driver.RowsColumnTypePrecisionScale   = (*otelRows)(nil)
)

// scanTypeAny is what database/sql reports when a driver has no scan type.
var scanTypeAny = reflect.TypeOf(new(any)).Elem()

// otelRows wraps driver.Rows. Its fetch span starts on the first Next call
// that reaches the driver, not when the rows are created. Rows closed
// without a Next get a fetch span stamped at close.
type otelRows struct {
	rows    driver.Rows
	tracker *tracker
	res     *trackedResource

	// implicit is the statement of a conn-level query, closed with the rows.
	implicit *trackedResource

	started atomic.Bool
	closed  atomic.Bool
}

func newOtelRows(rows driver.Rows, t *tracker, res *trackedResource) *otelRows {
	return &otelRows{
		rows:    rows,
		tracker: t,
		res:     res,
	}
}

// Columns implements driver.Rows.
func (r *otelRows) Columns() []string {
	return r.rows.Columns()
}

// Close implements driver.Rows.
func (r *otelRows) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.rows.Close()
	r.tracker.closeResource(r.res, err)
	r.tracker.closeResource(r.implicit, nil)
	return err
}

// Next implements driver.Rows.
func (r *otelRows) Next(dest []driver.Value) error {
	start := time.Now()
	err := r.rows.Next(dest)

	switch err {
	case nil:
		r.res.fetched.Add(1)
		r.startFetch(start)
	case io.EOF:
		r.startFetch(start)
	default:
		r.startFetch(start)
		r.tracker.fetchFailed(r.res, err)
	}

	return err
}

func (r *otelRows) startFetch(start time.Time) {
	if r.started.CompareAndSwap(false, true) {
		r.tracker.fetchStarted(r.res, start)
	}
}

// HasNextResultSet implements driver.RowsNextResultSet.
func (r *otelRows) HasNextResultSet() bool {
	if nrs, ok := r.rows.(driver.RowsNextResultSet); ok {
		return nrs.HasNextResultSet()
	}
	return false
}

// NextResultSet implements driver.RowsNextResultSet.
func (r *otelRows) NextResultSet() error {
	if nrs, ok := r.rows.(driver.RowsNextResultSet); ok {
		return nrs.NextResultSet()
	}
	return io.EOF
}

// ColumnTypeScanType implements driver.RowsColumnTypeScanType.
func (r *otelRows) ColumnTypeScanType(index int) reflect.Type {
	if ct, ok := r.rows.(driver.RowsColumnTypeScanType); ok {
		return ct.ColumnTypeScanType(index)
	}
	return scanTypeAny
}

// ColumnTypeDatabaseTypeName implements driver.RowsColumnTypeDatabaseTypeName.
func (r *otelRows) ColumnTypeDatabaseTypeName(index int) string {
	if ct, ok := r.rows.(driver.RowsColumnTypeDatabaseTypeName); ok {
		return ct.ColumnTypeDatabaseTypeName(index)
	}
	return ""
}

// ColumnTypeLength implements driver.RowsColumnTypeLength.
func (r *otelRows) ColumnTypeLength(index int) (int64, bool) {
	if ct, ok := r.rows.(driver.RowsColumnTypeLength); ok {
		return ct.ColumnTypeLength(index)
	}
	return 0, false
}

// ColumnTypeNullable implements driver.RowsColumnTypeNullable.
func (r *otelRows) ColumnTypeNullable(index int) (bool, bool) {
	if ct, ok := r.rows.(driver.RowsColumnTypeNullable); ok {
		return ct.ColumnTypeNullable(index)
	}
	return false, false
}

// ColumnTypePrecisionScale implements driver.RowsColumnTypePrecisionScale.
func (r *otelRows) ColumnTypePrecisionScale(index int) (int64, int64, bool) {
	if ct, ok := r.rows.(driver.RowsColumnTypePrecisionScale); ok {
		return ct.ColumnTypePrecisionScale(index)
	}
	return 0, 0, false
}
