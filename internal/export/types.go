// Package export renders documents to HTML, PDF and DOCX downloads.
package export

import (
	"errors"
	"strings"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts html, pdf and docx; empty means pdf.
func ParseFormat(raw string) (Format, bool) {
	switch Format(raw) {
	case "":
		return FormatPDF, true
	case FormatHTML, FormatPDF, FormatDOCX:
		return Format(raw), true
	default:
		return "", false
	}
}

// Paper is a page size in inches.
type Paper struct {
	Width  float64
	Height float64
}

var (
	PaperLetter = Paper{Width: 8.5, Height: 11}
	PaperA4     = Paper{Width: 8.27, Height: 11.69}
)

// ParsePaper maps "letter" and "a4"; anything else is letter.
func ParsePaper(name string) Paper {
	if strings.EqualFold(strings.TrimSpace(name), "a4") {
		return PaperA4
	}
	return PaperLetter
}

// Options locate the external runtimes. Empty paths are searched on PATH.
type Options struct {
	ChromePath string
	PandocPath string
	Paper      Paper
	Timeout    time.Duration
}

// Document is what gets printed.
type Document struct {
	Title       string
	ContentHTML string
	Author      string
	UpdatedAt   time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat is returned for formats other than html, pdf and docx.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
