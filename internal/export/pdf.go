package export

import (
	"context"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// percentEncodeForDataURL percent-encodes a string for embedding in a data
// URL. It walks UTF-8 bytes, not runes, so multi-byte characters come out as
// their full byte sequences (é → %C3%A9); spaces become %20, never +.
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'a' && b <= 'z',
			b >= 'A' && b <= 'Z',
			b >= '0' && b <= '9',
			b == '-', b == '_', b == '.', b == '~':
			// Unreserved characters per RFC 3986
			result.WriteByte(b)
		default:
			fmt.Fprintf(&result, "%%%02X", b)
		}
	}
	return result.String()
}

// exportPDF prints the rendered thread through headless Chrome. The export
// title repeats in the page header and the source URI in the footer so
// multi-page thread exports stay attributable.
func exportPDF(htmlContent, title, uri string) (*Result, error) {
	if !chromiumAvailable() {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(htmlContent)

	var pdfData []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			// Letter size; narrow side margins leave room for the
			// left-border indentation of deep reply chains.
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.5).
				WithPaperHeight(11.0).
				WithMarginTop(0.9).
				WithMarginBottom(0.9).
				WithMarginLeft(0.5).
				WithMarginRight(0.5).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(pdfHeader(title)).
				WithFooterTemplate(pdfFooter(uri)).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}

	return &Result{
		Data:     pdfData,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

func chromiumAvailable() bool {
	for _, name := range []string{"chromium-browser", "chromium"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// pdfHeader and pdfFooter are Chrome print templates. Styles must be inline
// and font sizes explicit or Chrome renders the bands blank.
func pdfHeader(title string) string {
	return fmt.Sprintf(
		`<div style="font-size:8px;width:100%%;padding:0 0.5in;color:#666;">%s</div>`,
		html.EscapeString(title),
	)
}

func pdfFooter(uri string) string {
	return fmt.Sprintf(
		`<div style="font-size:8px;width:100%%;padding:0 0.5in;color:#666;display:flex;justify-content:space-between;">`+
			`<span>%s</span>`+
			`<span><span class="pageNumber"></span> / <span class="totalPages"></span></span>`+
			`</div>`,
		html.EscapeString(uri),
	)
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	var result strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result.WriteRune(r)
		case r == ' ':
			result.WriteByte('-')
		case r == '-', r == '_':
			result.WriteRune(r)
		}
	}

	name := result.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "thread"
	}
	return name
}
