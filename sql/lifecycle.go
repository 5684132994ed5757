package sql

import (
	"context"
	"database/sql/driver"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracker is one interception-layer instance: the configuration, the
// category filter and the registry shared by every wrapper it creates.
//
// Hooks never return errors. A failing hook is recovered and logged, and the
// native result flows back to the caller untouched.
type tracker struct {
	cfg      *config
	registry *registry
}

func newTracker(cfg *config) *tracker {
	t := &tracker{
		cfg:      cfg,
		registry: newRegistry(),
	}

	attrs := append(cfg.baseAttributes(), attribute.String("db.data_source", cfg.DataSourceName))
	if err := cfg.Metrics.observeRegistry(cfg.Meter, t.registry, attrs); err != nil {
		cfg.Logger.Warn().Err(err).Msg("dstrace: tracked resources metric disabled")
	}
	return t
}

func (t *tracker) enabled(c Category) bool {
	return t.cfg.Categories.isEnabled(c)
}

// guard runs fn, swallowing and logging any panic raised by the tracer or
// by tracking code.
func (t *tracker) guard(hook string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			t.cfg.Logger.Error().
				Interface("panic", rec).
				Str("hook", hook).
				Str("data_source", t.cfg.DataSourceName).
				Str("stack", string(debug.Stack())).
				Msg("dstrace: tracking hook failed")
		}
	}()
	fn()
}

// open starts a span of category c. The span is a child of parent when it
// is valid, otherwise of whatever span ctx carries. A zero start means now.
func (t *tracker) open(
	ctx context.Context,
	c Category,
	parent trace.SpanContext,
	start time.Time,
	attrs []attribute.KeyValue,
) trace.Span {
	if parent.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, parent)
	}

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	}
	if !start.IsZero() {
		opts = append(opts, trace.WithTimestamp(start))
	}

	_, span := t.cfg.Tracer.Start(ctx, spanName(t.cfg.SpanScheme, t.cfg.DataSourceName, c), opts...)
	return span
}

// adopt registers res and then attaches it to its parent, so a cascade
// that reaches res always finds it registered. When the parent is already
// closed, res is closed and unregistered again and emits nothing.
func (t *tracker) adopt(res *trackedResource) *trackedResource {
	t.registry.register(res)
	if res.parent == nil || res.parent.attach(res) {
		return res
	}

	res.mu.Lock()
	res.closed = true
	res.mu.Unlock()
	t.registry.unregister(res.id)
	return res
}

// connectionOpened registers a connection and opens its span.
// It returns nil when connections are not traced.
func (t *tracker) connectionOpened(ctx context.Context, native driver.Conn) *trackedResource {
	if !t.enabled(CategoryConnection) {
		return nil
	}

	res := t.registry.newResource(kindConnection, native, nil)
	t.guard("connection open", func() {
		span := t.open(ctx, CategoryConnection, trace.SpanContext{}, time.Time{}, t.cfg.baseAttributes())
		res.span = span
		res.spanCtx = span.SpanContext()
	})
	t.registry.register(res)
	return res
}

// statementOpened registers a statement owned by conn (which may be nil when
// connections are not traced). It returns nil when queries are not traced.
func (t *tracker) statementOpened(conn *trackedResource, native any) *trackedResource {
	if !t.enabled(CategoryQuery) {
		return nil
	}
	return t.adopt(t.registry.newResource(kindStatement, native, conn))
}

// executed emits the query span of one finished statement execution that
// started at start. Executions on a closed statement emit nothing.
func (t *tracker) executed(
	ctx context.Context,
	stmt *trackedResource,
	query string,
	start time.Time,
	result driver.Result,
	err error,
) {
	t.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), extractOperation(query), t.cfg.baseAttributes(), err)

	if stmt == nil || stmt.isClosed() {
		return
	}

	t.guard("statement execute", func() {
		span := t.open(ctx, CategoryQuery, stmt.parent.parentSpanContext(), start, t.cfg.queryAttributes(query))
		defer span.End()

		stmt.mu.Lock()
		stmt.spanCtx = span.SpanContext()
		stmt.mu.Unlock()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		if result != nil && t.cfg.TraceRowCount {
			if n, rerr := result.RowsAffected(); rerr == nil {
				span.SetAttributes(countAttribute(AttrRowsAffected, n))
			}
		}
	})
}

// rowsOpened registers a result set owned by owner, whose fetch span will
// hang off the owner's current span. It returns nil when fetches are not
// traced.
func (t *tracker) rowsOpened(ctx context.Context, owner *trackedResource, native driver.Rows) *trackedResource {
	if !t.enabled(CategoryFetch) {
		return nil
	}

	res := t.registry.newResource(kindRows, native, owner)
	res.fetchCtx = ctx
	if res.fetchCtx == nil {
		res.fetchCtx = context.Background()
	}
	res.fetchParent = owner.parentSpanContext()
	return t.adopt(res)
}

// fetchStarted opens the fetch span of rows, stamped with start, on the
// first Next that reached the driver. Later calls are no-ops.
func (t *tracker) fetchStarted(rows *trackedResource, start time.Time) {
	if rows == nil || !rows.claimFetch() {
		return
	}

	t.guard("fetch start", func() {
		span := t.open(rows.fetchCtx, CategoryFetch, rows.fetchParent, start, t.cfg.baseAttributes())

		rows.mu.Lock()
		if rows.closed {
			// Closed while the span was starting; the close path left it to us.
			rows.mu.Unlock()
			t.endFetch(rows, span, nil)
			return
		}
		rows.span = span
		rows.spanCtx = span.SpanContext()
		rows.mu.Unlock()
	})
}

// endFetch finishes the fetch span of rows with its row count.
func (t *tracker) endFetch(rows *trackedResource, span trace.Span, err error) {
	if t.cfg.TraceRowCount {
		span.SetAttributes(countAttribute(AttrRowsFetched, rows.fetched.Load()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// fetchFailed records a Next error on an open fetch span.
func (t *tracker) fetchFailed(rows *trackedResource, err error) {
	if rows == nil {
		return
	}

	rows.mu.Lock()
	span := rows.span
	rows.mu.Unlock()
	if span == nil {
		return
	}

	t.guard("fetch error", func() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	})
}

// annotate adds event to the span of res, typically a connection.
func (t *tracker) annotate(res *trackedResource, event string, err error) {
	if res == nil {
		return
	}

	res.mu.Lock()
	span, closed := res.span, res.closed
	res.mu.Unlock()
	if closed || span == nil {
		return
	}

	t.guard("annotate", func() {
		var opts []trace.EventOption
		if err != nil {
			opts = append(opts, trace.WithAttributes(attribute.String("error", err.Error())))
		}
		span.AddEvent(event, opts...)
	})
}

// closeResource finishes res exactly once: open children first, then its
// own span, then its registry entry. Later calls are no-ops. err is the
// native close error, if any, and is only recorded.
func (t *tracker) closeResource(res *trackedResource, err error) {
	if res == nil {
		return
	}

	won, span, children := res.markClosed()
	if !won {
		return
	}

	for _, c := range children {
		t.cfg.Logger.Debug().
			Str("data_source", t.cfg.DataSourceName).
			Str("owner", res.kind.String()).
			Str("resource", c.kind.String()).
			Msg("dstrace: closing resource left open by its owner")
		t.closeResource(c, nil)
	}

	switch {
	case res.kind == kindRows && span == nil && res.claimFetchOnClose():
		// Never read: the fetch span starts and ends here.
		t.guard("close", func() {
			fetch := t.open(res.fetchCtx, CategoryFetch, res.fetchParent, time.Time{}, t.cfg.baseAttributes())
			t.endFetch(res, fetch, err)
		})
	case res.kind == kindRows && span != nil:
		t.guard("close", func() {
			t.endFetch(res, span, err)
		})
	case span != nil:
		t.guard("close", func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		})
	}

	if res.parent != nil {
		res.parent.detach(res)
	}
	t.registry.unregister(res.id)
}
