package export

import (
	"context"
	"fmt"
	"time"
)

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

const defaultTimeout = 30 * time.Second

// Service renders documents through headless Chrome (PDF) and pandoc (DOCX).
type Service struct {
	pdf  renderFunc
	docx renderFunc
}

func NewService(opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Paper == (Paper{}) {
		opts.Paper = PaperLetter
	}
	return &Service{pdf: newChromeRenderer(opts), docx: newPandocRenderer(opts)}
}

// Export generates an export in the requested format.
func (s *Service) Export(ctx context.Context, doc Document, format Format) (*Result, error) {
	html, err := RenderDocumentHTML(doc)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, doc.Title)
	case FormatDOCX:
		return s.docx(ctx, html, doc.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
