package thread

import "marginalia/api/internal/annotation"

// CompareFn is a less-than predicate over two annotations. Sorting places a
// before b when the predicate accepts (a, b), b before a when it accepts
// (b, a), and otherwise keeps their relative order.
type CompareFn func(a, b *annotation.Annotation) bool

// FilterFn decides item-level visibility for a single annotation.
type FilterFn func(*annotation.Annotation) bool

// ThreadFilterFn decides whether a top-level thread node is kept at all.
type ThreadFilterFn func(*Node) bool

// Options configures a projection. The zero value is valid: no filtering,
// no overrides, default ordering.
type Options struct {
	// Selected restricts top-level children to exactly these ids.
	Selected []string
	// ForceVisible ids are shown even when Filter would reject them.
	ForceVisible []string
	// Filter is the item-level visibility predicate.
	Filter FilterFn
	// ThreadFilter structurally prunes top-level nodes.
	ThreadFilter ThreadFilterFn
	// Expanded holds explicit user expand/collapse overrides by id. An
	// absent key means "no override".
	Expanded map[string]bool
	// Highlighted ids are marked "highlight"; when the set is non-empty all
	// other nodes are marked "dim".
	Highlighted []string
	// SortCompare orders top-level children. Defaults to ByID.
	SortCompare CompareFn
	// ReplySortCompare orders every reply level. Defaults to OldestFirst.
	ReplySortCompare CompareFn
}

// ByID orders annotations lexicographically by their resolved identifier.
func ByID(a, b *annotation.Annotation) bool {
	return annotation.ResolveID(a) < annotation.ResolveID(b)
}

// OldestFirst orders annotations by ascending creation time.
func OldestFirst(a, b *annotation.Annotation) bool {
	return a.Created.Before(b.Created)
}

// NewestFirst orders annotations by descending creation time.
func NewestFirst(a, b *annotation.Annotation) bool {
	return b.Created.Before(a.Created)
}
