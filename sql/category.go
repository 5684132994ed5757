package sql

import (
	"fmt"
	"strings"
)

// Category is a kind of tracked resource lifecycle that can produce spans.
type Category string

const (
	// CategoryConnection covers a driver connection from open to close.
	CategoryConnection Category = "connection"

	// CategoryQuery covers each statement execution.
	CategoryQuery Category = "query"

	// CategoryFetch covers a result set from its first Next call to close.
	CategoryFetch Category = "fetch"
)

// AllCategories returns every category, in nesting order.
func AllCategories() []Category {
	return []Category{CategoryConnection, CategoryQuery, CategoryFetch}
}

// ParseCategories parses a comma or whitespace separated list of category
// names. Matching is case-insensitive. An empty list yields all categories.
//
// Example:
//
//	cats, err := dstrace.ParseCategories("connection, query")
func ParseCategories(s string) ([]Category, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return AllCategories(), nil
	}

	cats := make([]Category, 0, len(fields))
	for _, f := range fields {
		c := Category(strings.ToLower(f))
		if c.bit() == 0 {
			return nil, fmt.Errorf("unknown trace category %q", f)
		}
		cats = append(cats, c)
	}
	return cats, nil
}

func (c Category) bit() categorySet {
	switch c {
	case CategoryConnection:
		return 1 << 0
	case CategoryQuery:
		return 1 << 1
	case CategoryFetch:
		return 1 << 2
	}
	return 0
}

// categorySet is the immutable set of enabled categories.
type categorySet uint8

func newCategorySet(cats ...Category) categorySet {
	var s categorySet
	for _, c := range cats {
		s |= c.bit()
	}
	return s
}

func (s categorySet) isEnabled(c Category) bool {
	b := c.bit()
	return b != 0 && s&b == b
}

func (s categorySet) list() []Category {
	out := make([]Category, 0, 3)
	for _, c := range AllCategories() {
		if s.isEnabled(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s categorySet) String() string {
	names := make([]string, 0, 3)
	for _, c := range s.list() {
		names = append(names, string(c))
	}
	return strings.Join(names, ",")
}
