package export

import (
	"fmt"
	"time"

	"marginalia/api/internal/thread"
)

// Service renders projected thread trees for download.
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// Export renders the projected tree in the requested format. The tree's
// visibility, collapse and highlight state carry through to the output.
func (s *Service) Export(root *thread.Node, req Request) (*Result, error) {
	title := req.Title
	if title == "" {
		title = "Annotations for " + req.URI
	}

	data := TemplateData{
		Title:       title,
		URI:         req.URI,
		Total:       root.ReplyCount,
		GeneratedAt: time.Now(),
		Nodes:       templateNodes(root.Children),
	}

	html, err := RenderThreadHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, title, req.URI)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// templateNodes converts projected nodes, dropping subtrees with nothing to
// show. A hidden node whose descendants are visible still renders as a stub
// so the replies keep their place in the hierarchy.
func templateNodes(nodes []*thread.Node) []TemplateNode {
	out := make([]TemplateNode, 0, len(nodes))
	for _, n := range nodes {
		if !n.Visible && !thread.HasVisibleChildren(n) {
			continue
		}
		tn := TemplateNode{
			ID:         n.ID,
			Depth:      n.Depth,
			Collapsed:  n.Collapsed,
			Highlight:  string(n.Highlight),
			Missing:    n.Annotation == nil || !n.Visible,
			ReplyCount: n.ReplyCount,
			Children:   templateNodes(n.Children),
		}
		if n.Annotation != nil && n.Visible {
			tn.User = n.Annotation.User
			tn.Text = n.Annotation.Text
			tn.Created = n.Annotation.Created
		}
		out = append(out, tn)
	}
	return out
}
