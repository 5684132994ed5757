package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	dstrace "github.com/kroma-labs/dstrace/sql"
)

// treeAttributes are printed next to span names, in this order.
var treeAttributes = []string{dstrace.AttrStatement, dstrace.AttrRowsAffected, dstrace.AttrRowsFetched}

// printSpanTree writes spans as an indented tree ordered by start time.
// Spans whose parent was not recorded are printed as roots.
func printSpanTree(w io.Writer, spans tracetest.SpanStubs) {
	known := make(map[trace.SpanID]bool, len(spans))
	for _, s := range spans {
		known[s.SpanContext.SpanID()] = true
	}

	children := make(map[trace.SpanID][]tracetest.SpanStub)
	var roots []tracetest.SpanStub
	for _, s := range spans {
		if s.Parent.IsValid() && known[s.Parent.SpanID()] {
			children[s.Parent.SpanID()] = append(children[s.Parent.SpanID()], s)
			continue
		}
		roots = append(roots, s)
	}

	byStart := func(a, b tracetest.SpanStub) int {
		return a.StartTime.Compare(b.StartTime)
	}
	slices.SortStableFunc(roots, byStart)
	for id := range children {
		slices.SortStableFunc(children[id], byStart)
	}

	var walk func(s tracetest.SpanStub, depth int)
	walk = func(s tracetest.SpanStub, depth int) {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), formatSpan(s))
		for _, e := range s.Events {
			fmt.Fprintf(w, "%s  @ %s\n", strings.Repeat("  ", depth), e.Name)
		}
		for _, c := range children[s.SpanContext.SpanID()] {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
}

func formatSpan(s tracetest.SpanStub) string {
	var b strings.Builder
	b.WriteString(s.Name)
	fmt.Fprintf(&b, " [%s]", s.EndTime.Sub(s.StartTime).Round(time.Microsecond))

	for _, key := range treeAttributes {
		for _, kv := range s.Attributes {
			if string(kv.Key) == key {
				fmt.Fprintf(&b, " %s=%s", key, strconv.Quote(kv.Value.Emit()))
			}
		}
	}
	if s.Status.Code == codes.Error {
		fmt.Fprintf(&b, " error=%s", strconv.Quote(s.Status.Description))
	}
	return b.String()
}
