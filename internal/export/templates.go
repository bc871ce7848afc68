package export

import (
	"bytes"
	"html/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// contentPolicy strips scripts, handlers and other active content from stored editor HTML.
var contentPolicy = newContentPolicy()

func newContentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("style").OnElements("p", "span", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "td", "th")
	p.AllowStyles("text-align").MatchingEnum("left", "right", "center", "justify").Globally()
	p.AllowStyles("font-weight", "font-style", "text-decoration").Globally()
	return p
}

// SanitizeHTML returns editor HTML that is safe to embed in a rendered page.
func SanitizeHTML(raw string) string {
	return contentPolicy.Sanitize(raw)
}

type templateData struct {
	Title       string
	ContentHTML template.HTML
	Author      string
	UpdatedAt   time.Time
}

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).Parse(printTemplate))

// RenderDocumentHTML renders the print page for a document, sanitizing its content.
func RenderDocumentHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	err := documentTemplate.Execute(&buf, templateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(SanitizeHTML(doc.ContentHTML)),
		Author:      doc.Author,
		UpdatedAt:   doc.UpdatedAt,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

const printTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: Letter; margin: 1in; }
    body { font-family: Arial, sans-serif; font-size: 11pt; line-height: 1.5; color: #202124; max-width: 8.5in; margin: 0 auto; }
    h1.doc-title { font-size: 20pt; font-weight: normal; margin-bottom: 0.25rem; }
    .meta { color: #5f6368; font-size: 9pt; margin-bottom: 1.5rem; }
    img { max-width: 100%; }
    table { border-collapse: collapse; }
    td, th { border: 1px solid #dadce0; padding: 4px 8px; }
  </style>
</head>
<body>
  <h1 class="doc-title">{{.Title}}</h1>
  <div class="meta">{{.Author}}{{with formatDate .UpdatedAt "Jan 2, 2006"}} | {{.}}{{end}}</div>
  <div class="content">{{.ContentHTML}}</div>
</body>
</html>`
