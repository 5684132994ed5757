package sql

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// resourceKind identifies which wrapper owns a tracked resource.
type resourceKind uint8

const (
	kindConnection resourceKind = iota
	kindStatement
	kindRows
)

func (k resourceKind) String() string {
	switch k {
	case kindConnection:
		return "connection"
	case kindStatement:
		return "statement"
	case kindRows:
		return "rows"
	}
	return "unknown"
}

// resourceID is the registry handle of a tracked resource. Driver values
// are not guaranteed to be comparable, so identity is assigned at wrap time.
type resourceID uint64

// trackedResource correlates a native driver object with its span and owner.
//
// mu guards span, spanCtx, closed, fetching and children. It is never held
// while another resource's mu is acquired or while the native driver is called.
type trackedResource struct {
	id     resourceID
	kind   resourceKind
	native any
	parent *trackedResource

	mu      sync.Mutex
	span    trace.Span
	spanCtx trace.SpanContext
	closed  bool
	// children holds resources opened under this one that are still open.
	children map[resourceID]*trackedResource

	// fetching is set once the fetch span of a result set has been claimed,
	// either by the first Next or by the close path.
	fetching bool

	// fetchCtx and fetchParent are where the fetch span of a result set
	// starts from. They are set before the resource is registered.
	fetchCtx    context.Context
	fetchParent trace.SpanContext

	// fetched counts rows read through a result set.
	fetched atomic.Int64
}

func (r *trackedResource) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// claimFetch reserves the fetch span for the first Next. It reports false
// once the span is claimed or the resource is closed.
func (r *trackedResource) claimFetch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.fetching {
		return false
	}
	r.fetching = true
	return true
}

// claimFetchOnClose reserves the fetch span for the close path of a result
// set that was never read. The caller has already marked r closed.
func (r *trackedResource) claimFetchOnClose() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetching {
		return false
	}
	r.fetching = true
	return true
}

// parentSpanContext returns the span context new children should hang off.
func (r *trackedResource) parentSpanContext() trace.SpanContext {
	if r == nil {
		return trace.SpanContext{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spanCtx
}

// attach records child as open under r. It reports false when r is already
// closed, in which case the child is left without an owner.
func (r *trackedResource) attach(child *trackedResource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if r.children == nil {
		r.children = make(map[resourceID]*trackedResource)
	}
	r.children[child.id] = child
	return true
}

func (r *trackedResource) detach(child *trackedResource) {
	r.mu.Lock()
	delete(r.children, child.id)
	r.mu.Unlock()
}

// markClosed flips closed exactly once. On the winning call it returns the
// span to finish and a snapshot of the children still open.
func (r *trackedResource) markClosed() (bool, trace.Span, []*trackedResource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, nil, nil
	}
	r.closed = true
	span := r.span
	r.span = nil

	children := make([]*trackedResource, 0, len(r.children))
	for _, c := range r.children {
		children = append(children, c)
	}
	r.children = nil
	return true, span, children
}

// Stats is a snapshot of the resources currently tracked by a data source.
type Stats struct {
	Connections int64
	Statements  int64
	Rows        int64
}

// Total returns the number of tracked resources of any kind.
func (s Stats) Total() int64 {
	return s.Connections + s.Statements + s.Rows
}

// registry maps resource ids to tracked resources. Entries are added when a
// resource is created and removed once its close path has completed, which
// makes an empty registry the leak detector for a closed session.
type registry struct {
	entries sync.Map // resourceID -> *trackedResource
	nextID  atomic.Uint64
	counts  [3]atomic.Int64
}

func newRegistry() *registry {
	return &registry{}
}

// newResource allocates a resource with a fresh id. It is not registered.
func (r *registry) newResource(kind resourceKind, native any, parent *trackedResource) *trackedResource {
	return &trackedResource{
		id:     resourceID(r.nextID.Add(1)),
		kind:   kind,
		native: native,
		parent: parent,
	}
}

func (r *registry) register(res *trackedResource) {
	if _, loaded := r.entries.LoadOrStore(res.id, res); !loaded {
		r.counts[res.kind].Add(1)
	}
}

func (r *registry) lookup(id resourceID) (*trackedResource, bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*trackedResource), true
}

// unregister removes id. Removing an absent id is a no-op.
func (r *registry) unregister(id resourceID) bool {
	v, loaded := r.entries.LoadAndDelete(id)
	if loaded {
		r.counts[v.(*trackedResource).kind].Add(-1)
	}
	return loaded
}

func (r *registry) len() int {
	return int(r.stats().Total())
}

func (r *registry) stats() Stats {
	return Stats{
		Connections: r.counts[kindConnection].Load(),
		Statements:  r.counts[kindStatement].Load(),
		Rows:        r.counts[kindRows].Load(),
	}
}
