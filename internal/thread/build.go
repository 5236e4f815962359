package thread

import "marginalia/api/internal/annotation"

// Build converts flat annotation records into a fully projected thread tree
// and returns its synthetic root. The input records and any previously
// returned tree are left untouched.
//
// The pipeline order is load-bearing: selected-prune runs before the thread
// filter, which runs before visibility is computed, which runs before dead
// top-level branches are pruned. Reordering changes which branches survive.
func Build(annotations []*annotation.Annotation, opts Options) *Node {
	root := buildTree(annotations)

	if len(opts.Selected) > 0 {
		selected := stringSet(opts.Selected)
		root = withChildren(root, keepChildren(root, func(c *Node) bool {
			return selected[c.ID]
		}))
	}

	if opts.ThreadFilter != nil {
		root = withChildren(root, keepChildren(root, func(c *Node) bool {
			return opts.ThreadFilter(c)
		}))
	}

	root = applyVisibility(root, opts)

	// A top-level branch survives when it, or anything beneath it, should
	// render.
	root = withChildren(root, keepChildren(root, func(c *Node) bool {
		return c.Visible || HasVisibleChildren(c)
	}))

	root = applyUIState(root, opts)

	topCompare := opts.SortCompare
	if topCompare == nil {
		topCompare = ByID
	}
	replyCompare := opts.ReplySortCompare
	if replyCompare == nil {
		replyCompare = OldestFirst
	}
	root = sortTree(root, topCompare, replyCompare)

	return countRepliesAndDepth(root, -1)
}

// applyVisibility recomputes Visible for every node independently of its
// ancestors. Placeholder nodes are never visible; force-visible ids bypass
// the item filter; otherwise a configured filter decides.
func applyVisibility(root *Node, opts Options) *Node {
	forced := stringSet(opts.ForceVisible)
	return mapNodes(root, func(n Node) Node {
		visible := n.Visible
		switch {
		case n.Annotation == nil:
			visible = false
		case forced[n.ID]:
			visible = true
		case opts.Filter != nil:
			visible = opts.Filter(n.Annotation)
		}
		n.Visible = visible
		return n
	})
}

// applyUIState computes highlight and collapse state per node. An explicit
// expansion override wins; otherwise the node keeps its collapse flag unless
// active item filtering uncovered a visible descendant, which forces the
// node open so the match can be seen.
func applyUIState(root *Node, opts Options) *Node {
	highlighted := stringSet(opts.Highlighted)
	return mapNodes(root, func(n Node) Node {
		switch {
		case len(highlighted) == 0:
			n.Highlight = HighlightNone
		case highlighted[n.ID]:
			n.Highlight = Highlighted
		default:
			n.Highlight = HighlightDim
		}

		if expanded, ok := opts.Expanded[n.ID]; ok {
			n.Collapsed = !expanded
		} else if opts.Filter != nil && HasVisibleChildren(&n) {
			n.Collapsed = false
		}
		return n
	})
}

func keepChildren(n *Node, keep func(*Node) bool) []*Node {
	kept := make([]*Node, 0, len(n.Children))
	for _, child := range n.Children {
		if keep(child) {
			kept = append(kept, child)
		}
	}
	return kept
}
