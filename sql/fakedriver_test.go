package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Errors raised by the fake driver when a closed object is used.
var (
	errFakeConnClosed = errors.New("fakedb: connection is closed")
	errFakeStmtClosed = errors.New("fakedb: statement is closed")
	errFakeRowsClosed = errors.New("fakedb: rows are closed")
)

// fakeDriver is a minimal in-memory driver. Every query returns rows rows
// with a single int64 column; every exec affects rowsAffected rows.
// Fields must be set before the first connection is opened.
type fakeDriver struct {
	rows         int
	rowsAffected int64
	execErr      error
	nextErr      error
	txErr        error

	// plain makes connections expose only driver.Conn.
	plain bool
}

func (d *fakeDriver) Open(string) (driver.Conn, error) {
	return d.newConn(), nil
}

func (d *fakeDriver) newConn() driver.Conn {
	c := &fakeConn{d: d}
	if d.plain {
		return plainConn{c}
	}
	return c
}

// plainConn hides every optional interface of the wrapped connection.
type plainConn struct {
	driver.Conn
}

type fakeConnector struct {
	d          *fakeDriver
	connectErr error
}

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return c.d.newConn(), nil
}

func (c *fakeConnector) Driver() driver.Driver {
	return c.d
}

type fakeConn struct {
	d      *fakeDriver
	closed atomic.Bool
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	if c.closed.Load() {
		return nil, errFakeConnClosed
	}
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) PrepareContext(_ context.Context, query string) (driver.Stmt, error) {
	return c.Prepare(query)
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	if c.closed.Load() {
		return nil, errFakeConnClosed
	}
	return &fakeTx{err: c.d.txErr}, nil
}

func (c *fakeConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	if c.closed.Load() {
		return nil, errFakeConnClosed
	}
	if c.d.execErr != nil {
		return nil, c.d.execErr
	}
	return driver.RowsAffected(c.d.rowsAffected), nil
}

func (c *fakeConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	if c.closed.Load() {
		return nil, errFakeConnClosed
	}
	if c.d.execErr != nil {
		return nil, c.d.execErr
	}
	return &fakeRows{n: c.d.rows, err: c.d.nextErr}, nil
}

type fakeStmt struct {
	conn   *fakeConn
	query  string
	closed atomic.Bool
}

func (s *fakeStmt) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeStmt) NumInput() int {
	return -1
}

func (s *fakeStmt) check() error {
	if s.closed.Load() {
		return errFakeStmtClosed
	}
	if s.conn.closed.Load() {
		return errFakeConnClosed
	}
	return s.conn.d.execErr
}

func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return driver.RowsAffected(s.conn.d.rowsAffected), nil
}

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &fakeRows{n: s.conn.d.rows, err: s.conn.d.nextErr}, nil
}

type fakeRows struct {
	n, pos int
	// err replaces io.EOF once the rows are exhausted.
	err    error
	closed atomic.Bool
}

func (r *fakeRows) Columns() []string {
	return []string{"n"}
}

func (r *fakeRows) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.closed.Load() {
		return errFakeRowsClosed
	}
	if r.pos >= r.n {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	dest[0] = int64(r.pos)
	r.pos++
	return nil
}

type fakeTx struct {
	err error
}

func (t *fakeTx) Commit() error   { return t.err }
func (t *fakeTx) Rollback() error { return t.err }

// harness wires a fake driver to a wrapped connector that reports spans
// into an in-memory exporter.
type harness struct {
	exporter  *tracetest.InMemoryExporter
	driver    *fakeDriver
	connector *otelConnector
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d := &fakeDriver{rows: 1}
	opts = append([]Option{WithTracerProvider(tp), WithDataSourceName("test")}, opts...)

	return &harness{
		exporter:  exporter,
		driver:    d,
		connector: WrapConnector(&fakeConnector{d: d}, opts...).(*otelConnector),
	}
}

func (h *harness) registry() *registry {
	return h.connector.tracker.registry
}

func (h *harness) connect(t *testing.T) *otelConn {
	t.Helper()
	conn, err := h.connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return conn.(*otelConn)
}

func (h *harness) spans() tracetest.SpanStubs {
	return h.exporter.GetSpans()
}

func (h *harness) spanNames() []string {
	spans := h.spans()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name
	}
	return names
}

// spanNamed returns the first finished span called name.
func (h *harness) spanNamed(t *testing.T, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range h.spans() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no span named %q in %v", name, h.spanNames())
	return tracetest.SpanStub{}
}

func attrValue(s tracetest.SpanStub, key string) (string, bool) {
	for _, kv := range s.Attributes {
		if kv.Key == attribute.Key(key) {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func eventNames(s tracetest.SpanStub) []string {
	names := make([]string, len(s.Events))
	for i, e := range s.Events {
		names[i] = e.Name
	}
	return names
}

// panicTracerProvider hands out tracers whose Start panics.
type panicTracerProvider struct {
	noop.TracerProvider
}

func (panicTracerProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return panicTracer{}
}

type panicTracer struct {
	noop.Tracer
}

func (panicTracer) Start(context.Context, string, ...trace.SpanStartOption) (context.Context, trace.Span) {
	panic("tracer exploded")
}
