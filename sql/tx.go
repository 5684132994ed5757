package sql

import (
	"context"
	"database/sql/driver"
	"time"
)

// Compile-time interface check.
var _ driver.Tx = (*otelTx)(nil)

// otelTx wraps a driver.Tx. Commit and rollback are annotations on the
// connection span rather than spans of their own.
type otelTx struct {
	tx   driver.Tx
	conn *otelConn
}

// newOtelTx creates a new instrumented transaction.
func newOtelTx(tx driver.Tx, conn *otelConn) *otelTx {
	return &otelTx{
		tx:   tx,
		conn: conn,
	}
}

// Commit implements driver.Tx.
func (t *otelTx) Commit() error {
	start := time.Now()
	err := t.tx.Commit()
	t.finish(start, "COMMIT", EventCommit, err)
	return err
}

// Rollback implements driver.Tx.
func (t *otelTx) Rollback() error {
	start := time.Now()
	err := t.tx.Rollback()
	t.finish(start, "ROLLBACK", EventRollback, err)
	return err
}

func (t *otelTx) finish(start time.Time, operation, event string, err error) {
	tr := t.conn.tracker
	tr.cfg.Metrics.recordQueryDuration(context.Background(), time.Since(start), operation, tr.cfg.baseAttributes(), err)
	tr.annotate(t.conn.res, event, err)
}
