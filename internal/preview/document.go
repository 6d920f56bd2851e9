// Package preview turns editor buffers into a single HTML document and
// publishes it to a sandboxed surface.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/instantpreview/instantpreview/internal/executor"
	"github.com/instantpreview/instantpreview/internal/languages"
)

// ErrSynthesis is returned when a document cannot be built. Nothing is
// written to the surface in that case.
var ErrSynthesis = errors.New("preview synthesis failed")

var (
	closeStyle  = regexp.MustCompile(`(?i)</(style)`)
	closeScript = regexp.MustCompile(`(?i)</(script)`)
)

// BuildDocument assembles the html, css and js buffers into one page: the
// css in a style block in the head, the html as the body and the js in a
// script block at the end of the body. The result only depends on its
// inputs.
func BuildDocument(html, css, js string) (string, error) {
	for name, buf := range map[string]string{"html": html, "css": css, "js": js} {
		if !utf8.ValidString(buf) {
			return "", fmt.Errorf("%w: %s buffer is not valid UTF-8", ErrSynthesis, name)
		}
	}
	return shell(closeStyle.ReplaceAllString(css, `<\/$1`), html, closeScript.ReplaceAllString(js, `<\/$1`)), nil
}

func shell(css, body, js string) string {
	var b strings.Builder
	b.Grow(len(css) + len(body) + len(js) + 128)
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><style>`)
	b.WriteString(css)
	b.WriteString(`</style></head><body>`)
	b.WriteString(body)
	b.WriteString(`<script>`)
	b.WriteString(js)
	b.WriteString(`</script></body></html>`)
	return b.String()
}

const markdownCSS = `body{font-family:system-ui,sans-serif;max-width:760px;margin:2rem auto;padding:0 1rem;line-height:1.6}` +
	`pre{background:#f6f8fa;padding:1rem;overflow:auto}code{font-family:ui-monospace,monospace}` +
	`table{border-collapse:collapse}td,th{border:1px solid #d0d7de;padding:.3rem .6rem}`

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	goldmark.WithRendererOptions(gmhtml.WithXHTML()),
)

// RenderMarkdown renders a markdown buffer into a preview page. Raw HTML in
// the source is omitted.
func RenderMarkdown(src string) (string, error) {
	if !utf8.ValidString(src) {
		return "", fmt.Errorf("%w: markdown buffer is not valid UTF-8", ErrSynthesis)
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	return shell(markdownCSS, buf.String(), ""), nil
}

var consoleTemplate = template.Must(template.New("console").Parse(
	`<div class="vm"><div class="bar">{{.Name}} virtual machine{{if .Simulated}} (simulated){{end}}</div>` +
		`<pre class="out">{{.Output}}</pre>` +
		`{{if .Diagnostics}}<ul class="diag">{{range .Diagnostics}}<li class="{{.Severity}}">line {{.Line}}:{{.Column}} {{.Message}}</li>{{end}}</ul>{{end}}` +
		`<div class="meta">finished in {{.DurationMs}} ms</div></div>`))

const consoleCSS = `body{margin:0;background:#1e1e1e;color:#d4d4d4;font-family:ui-monospace,monospace}` +
	`.bar{background:#333;padding:.4rem .8rem;font-size:.85rem}.out{margin:0;padding:.8rem;white-space:pre-wrap}` +
	`.diag{color:#f48771;margin:0;padding:.4rem 2rem}.meta{color:#888;padding:.4rem .8rem;font-size:.8rem}`

// RenderExecution renders an executor result as a console page. Output and
// diagnostics are HTML-escaped.
func RenderExecution(language string, res executor.Result) (string, error) {
	name := language
	if l, ok := languages.Lookup(language); ok {
		name = l.Name
	}
	var buf bytes.Buffer
	err := consoleTemplate.Execute(&buf, struct {
		Name string
		executor.Result
	}{name, res})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	return shell(consoleCSS, buf.String(), ""), nil
}
