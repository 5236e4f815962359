package export

import (
	"strings"
	"testing"
	"time"

	"marginalia/api/internal/annotation"
	"marginalia/api/internal/thread"
)

func projectedTree(t *testing.T, opts thread.Options) *thread.Node {
	t.Helper()
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return thread.Build([]*annotation.Annotation{
		{ID: "A", URI: "https://example.com/a", User: "Avery", Text: "top note", Created: created},
		{ID: "B", URI: "https://example.com/a", User: "Blake", Text: "a reply", References: []string{"A"}, Created: created.Add(time.Minute)},
	}, opts)
}

func TestExportHTMLRendersThread(t *testing.T) {
	svc := NewService()
	root := projectedTree(t, thread.Options{Expanded: map[string]bool{"A": true}})

	result, err := svc.Export(root, Request{URI: "https://example.com/a", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "text/html; charset=utf-8" {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}
	html := string(result.Data)
	if !strings.Contains(html, "top note") || !strings.Contains(html, "a reply") {
		t.Errorf("expected both annotations in output:\n%s", html)
	}
	if !strings.Contains(html, "Avery") {
		t.Errorf("expected author name in output")
	}
}

func TestExportHTMLHonorsCollapse(t *testing.T) {
	svc := NewService()
	// Top-level nodes default to collapsed; replies stay hidden.
	root := projectedTree(t, thread.Options{})

	result, err := svc.Export(root, Request{URI: "https://example.com/a", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	html := string(result.Data)
	if strings.Contains(html, "a reply") {
		t.Errorf("collapsed node must not render its replies:\n%s", html)
	}
	if !strings.Contains(html, "hidden replies") {
		t.Errorf("collapsed node must render a reply count stub")
	}
}

func TestExportHTMLMarksHighlights(t *testing.T) {
	svc := NewService()
	root := projectedTree(t, thread.Options{
		Highlighted: []string{"A"},
		Expanded:    map[string]bool{"A": true},
	})

	result, err := svc.Export(root, Request{URI: "https://example.com/a", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	html := string(result.Data)
	if !strings.Contains(html, `node highlight`) {
		t.Errorf("expected highlight class in output")
	}
	if !strings.Contains(html, `node dim`) {
		t.Errorf("expected dim class in output")
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService()
	root := projectedTree(t, thread.Options{})

	if _, err := svc.Export(root, Request{URI: "https://example.com/a", Format: Format("docx")}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename("Annotations for https://example.com/a"); strings.ContainsAny(got, "/:") {
		t.Errorf("filename must not contain path characters, got %q", got)
	}
	if got := sanitizeFilename("!!!"); got != "thread" {
		t.Errorf("expected fallback filename, got %q", got)
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	encoded := percentEncodeForDataURL("<p>hello world</p>")
	if strings.Contains(encoded, " ") || strings.Contains(encoded, "+") {
		t.Errorf("spaces must be percent-encoded, got %q", encoded)
	}
	if !strings.Contains(encoded, "%20") {
		t.Errorf("expected %%20 encoding, got %q", encoded)
	}
}

func TestPercentEncodeForDataURLMultiByte(t *testing.T) {
	// Multi-byte characters must encode as their UTF-8 byte sequences; a
	// per-rune %XX would emit bytes invalid under charset=utf-8.
	if got := percentEncodeForDataURL("café"); got != "caf%C3%A9" {
		t.Errorf("percentEncodeForDataURL(café) = %q, want caf%%C3%%A9", got)
	}
	if got := percentEncodeForDataURL("日本"); got != "%E6%97%A5%E6%9C%AC" {
		t.Errorf("percentEncodeForDataURL(日本) = %q, want %%E6%%97%%A5%%E6%%9C%%AC", got)
	}
}

func TestPDFHeaderFooterEscapeMetadata(t *testing.T) {
	header := pdfHeader(`Annotations for <script>"x"</script>`)
	if strings.Contains(header, "<script>") {
		t.Errorf("header must escape markup in the title, got %q", header)
	}
	footer := pdfFooter("https://example.com/a?b=<c>")
	if strings.Contains(footer, "<c>") {
		t.Errorf("footer must escape markup in the uri, got %q", footer)
	}
	if !strings.Contains(footer, `class="pageNumber"`) {
		t.Errorf("footer must carry page numbering, got %q", footer)
	}
}
