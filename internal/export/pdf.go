package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var chromeCandidates = []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"}

const pdfMarginInches = 0.75

type chromeRenderer struct {
	execPath string
	opts     Options
}

// lookupExecutable returns explicit when set, else the first candidate found on PATH.
func lookupExecutable(explicit string, candidates ...string) (string, bool) {
	if explicit != "" {
		path, err := exec.LookPath(explicit)
		return path, err == nil
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

func newChromeRenderer(opts Options) renderFunc {
	return func(ctx context.Context, html, title string) (*Result, error) {
		path, ok := lookupExecutable(opts.ChromePath, chromeCandidates...)
		if !ok {
			return nil, fmt.Errorf("%w: no chrome or chromium executable", ErrPDFDependencyMissing)
		}
		return chromeRenderer{execPath: path, opts: opts}.render(ctx, html, title)
	}
}

// render loads html into a blank tab and prints it.
func (c chromeRenderer) render(parent context.Context, html, title string) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, c.opts.Timeout)
	defer cancel()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(c.execPath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var data []byte
	err := chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(c.opts.Paper.Width).
				WithPaperHeight(c.opts.Paper.Height).
				WithMarginTop(pdfMarginInches).
				WithMarginBottom(pdfMarginInches).
				WithMarginLeft(pdfMarginInches).
				WithMarginRight(pdfMarginInches).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}

	return &Result{
		Data:     data,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// sanitizeFilename keeps ASCII letters, digits, '-' and '_' and maps spaces to '-'.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
		if b.Len() >= 50 {
			break
		}
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
