// Package thread builds hierarchical reply trees from flat annotation
// records and projects them for display: visibility filtering, forced
// visibility, highlighting, expand/collapse state, ordering and
// reply-count/depth passes.
//
// The package performs no I/O and keeps no state between calls. Every
// projection pass returns freshly built nodes; input records and previously
// returned trees are never mutated.
package thread

import (
	"marginalia/api/internal/annotation"
)

// RootID is the reserved identifier of the synthetic root node.
const RootID = "__root__"

// HighlightState marks how a node should be emphasized when a highlight set
// is active.
type HighlightState string

const (
	HighlightNone HighlightState = ""
	HighlightDim  HighlightState = "dim"
	Highlighted   HighlightState = "highlight"
)

// Node is one node of a thread tree. Placeholder nodes stand in for
// referenced-but-missing ancestors and carry no annotation; the synthetic
// root carries none either.
type Node struct {
	ID         string
	Annotation *annotation.Annotation
	// Parent is the id of the owning node, or "" for top-level nodes and
	// the root. A node is linked to at most one parent; the link is never
	// reassigned.
	Parent   string
	Children []*Node
	Visible  bool
	// Collapsed hides the node's replies in the UI. Top-level nodes start
	// collapsed.
	Collapsed bool
	// TotalChildren counts direct children at build time, before any
	// filtering hides them. The projector never recomputes it.
	TotalChildren int
	Highlight     HighlightState
	// ReplyCount is the number of descendant nodes (all levels), and Depth
	// the distance from the root, which sits at -1. Both are filled by the
	// final projection pass.
	ReplyCount int
	Depth      int
}

// nodeTable is the id-indexed working set of the tree builder. Creation
// order is remembered so that children keep insertion order until an
// explicit sort pass.
type nodeTable struct {
	nodes map[string]*Node
	order []string
}

func newNodeTable(capacity int) *nodeTable {
	return &nodeTable{
		nodes: make(map[string]*Node, capacity),
		order: make([]string, 0, capacity),
	}
}

func (t *nodeTable) put(id string, n *Node) {
	if _, ok := t.nodes[id]; !ok {
		t.order = append(t.order, id)
	}
	// Last record for a given id wins; earlier attributes are overwritten.
	t.nodes[id] = n
}

// buildTree converts flat records into a tree rooted at a synthetic node.
// Missing ancestors become placeholder nodes, links that would form a cycle
// are skipped, and nodes whose parent cannot be established end up as
// children of the root. Malformed input never fails the build.
func buildTree(annotations []*annotation.Annotation) *Node {
	table := newNodeTable(len(annotations) + 1)

	for _, ann := range annotations {
		id := annotation.ResolveID(ann)
		if id == "" {
			continue
		}
		table.put(id, &Node{ID: id, Annotation: ann, Visible: true})
	}

	for _, ann := range annotations {
		if !annotation.IsReply(ann) {
			continue
		}
		attach(table, annotation.ResolveID(ann), ann.References)
	}

	root := &Node{ID: RootID, Visible: true}
	for _, id := range table.order {
		node := table.nodes[id]
		node.TotalChildren = len(node.Children)
		if node.Parent != "" {
			continue
		}
		node.Collapsed = true
		root.Children = append(root.Children, node)
	}
	root.TotalChildren = len(root.Children)
	return root
}

// attach links the node with the given id to its nearest ancestor from the
// references chain. If the ancestor is unknown, a placeholder node is
// synthesized and itself attached using the remaining chain, reconstructing
// missing intermediate ancestors. Repeat calls are no-ops once a parent is
// set.
func attach(table *nodeTable, id string, references []string) {
	child, ok := table.nodes[id]
	if !ok || child.Parent != "" || len(references) == 0 {
		return
	}

	parentID := references[len(references)-1]
	if _, ok := table.nodes[parentID]; !ok {
		table.put(parentID, &Node{ID: parentID, Visible: true})
		attach(table, parentID, references[:len(references)-1])
	}

	// Refuse links that would make the child its own ancestor.
	if pathExists(table.nodes, parentID, id) {
		return
	}

	parent := table.nodes[parentID]
	child.Parent = parentID
	parent.Children = append(parent.Children, child)
}

// pathExists walks the parent chain starting at from and reports whether it
// reaches to. The walk is bounded by the table size so it terminates even on
// corrupt chains; a node claiming itself as parent, or a missing ancestor
// entry, ends the walk with "no path".
func pathExists(nodes map[string]*Node, from, to string) bool {
	current := from
	for i := 0; i <= len(nodes); i++ {
		if current == to {
			return true
		}
		node, ok := nodes[current]
		if !ok || node.Parent == "" || node.Parent == current {
			return false
		}
		current = node.Parent
	}
	return false
}

// mapNodes rebuilds the tree, applying fn to a copy of every node. fn
// receives the node with its pre-pass children; the returned tree carries
// freshly mapped children.
func mapNodes(n *Node, fn func(Node) Node) *Node {
	out := fn(*n)
	if len(n.Children) > 0 {
		children := make([]*Node, len(n.Children))
		for i, child := range n.Children {
			children[i] = mapNodes(child, fn)
		}
		out.Children = children
	}
	return &out
}

// withChildren returns a copy of n owning the given children sequence.
func withChildren(n *Node, children []*Node) *Node {
	out := *n
	out.Children = children
	return &out
}

// HasVisibleChildren reports whether any descendant of n is visible.
func HasVisibleChildren(n *Node) bool {
	for _, child := range n.Children {
		if child.Visible || HasVisibleChildren(child) {
			return true
		}
	}
	return false
}

// countRepliesAndDepth fills Depth and ReplyCount bottom-up. The root is
// conventionally at depth -1 so that top-level annotations sit at 0.
func countRepliesAndDepth(n *Node, depth int) *Node {
	out := *n
	out.Depth = depth
	if len(n.Children) == 0 {
		out.ReplyCount = 0
		return &out
	}
	children := make([]*Node, len(n.Children))
	total := 0
	for i, child := range n.Children {
		children[i] = countRepliesAndDepth(child, depth+1)
		total += children[i].ReplyCount + 1
	}
	out.Children = children
	out.ReplyCount = total
	return &out
}

func stringSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
