package thread

import "sort"

// sortTree orders the root's children with the top-level comparison and
// every deeper level with the reply comparison, rebuilding nodes as it goes.
func sortTree(root *Node, topCompare, replyCompare CompareFn) *Node {
	children := make([]*Node, len(root.Children))
	for i, child := range root.Children {
		children[i] = sortReplies(child, replyCompare)
	}
	sortSiblings(children, topCompare)
	return withChildren(root, children)
}

func sortReplies(n *Node, compare CompareFn) *Node {
	children := make([]*Node, len(n.Children))
	for i, child := range n.Children {
		children[i] = sortReplies(child, compare)
	}
	sortSiblings(children, compare)
	return withChildren(n, children)
}

func sortSiblings(nodes []*Node, compare CompareFn) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodeLess(nodes[i], nodes[j], compare)
	})
}

// nodeLess orders annotation-less nodes (placeholders) before
// annotation-bearing ones; two placeholders compare equal, keeping their
// relative order.
func nodeLess(a, b *Node, compare CompareFn) bool {
	if a.Annotation == nil {
		return b.Annotation != nil
	}
	if b.Annotation == nil {
		return false
	}
	return compare(a.Annotation, b.Annotation)
}
