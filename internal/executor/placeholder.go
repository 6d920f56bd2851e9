package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/languages"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metrics"
)

// Template placeholders understood by Placeholder output templates.
const (
	VarLanguage = "{{language}}"
	VarOutput   = "{{output}}"
	VarLines    = "{{lines}}"
)

const (
	interpretedTemplate = "$ run {{language}} ({{lines}} lines)\n{{output}}\n[process exited with code 0]"
	compiledTemplate    = "$ build {{language}} ({{lines}} lines)\nBuild succeeded.\n$ ./main\n{{output}}\n[process exited with code 0]"
	sandboxedTemplate   = "{{language}} cannot run in this sandbox. Showing the expected output instead:\n{{output}}"
)

// printCall matches string literals passed to common print statements.
var printCall = regexp.MustCompile(
	`(?:print|println!?|puts|echo|printf|console\.log|fmt\.Print(?:ln|f)?|System\.out\.print(?:ln)?|Console\.Write(?:Line)?|std::cout\s*<<)\s*\(?\s*(?:f)?["']([^"'\\\n]*)["']`)

// Placeholder is the built-in Executor. It never runs code: it checks the
// syntax with tree-sitter, waits a simulated compile/run latency and renders
// an output template filled with the literals the program would print.
type Placeholder struct {
	latency time.Duration
	log     *zap.Logger

	mu        sync.RWMutex
	templates map[string]string
}

// NewPlaceholder returns a placeholder executor with the given simulated latency.
func NewPlaceholder(latency time.Duration) *Placeholder {
	return &Placeholder{
		latency:   latency,
		log:       logging.Named("executor"),
		templates: make(map[string]string),
	}
}

// SetTemplates replaces per-language output templates, keyed by language tag.
func (p *Placeholder) SetTemplates(templates map[string]string) {
	m := make(map[string]string, len(templates))
	for tag, tpl := range templates {
		m[languages.Canonical(tag)] = tpl
	}
	p.mu.Lock()
	p.templates = m
	p.mu.Unlock()
}

// Execute simulates a run. The wait is cut short when ctx ends, in which
// case ctx.Err() is returned and no result is produced.
func (p *Placeholder) Execute(ctx context.Context, req Request) (Result, error) {
	lang := languages.Canonical(req.Language)
	if strings.TrimSpace(req.Code) == "" {
		return Result{Language: lang}, ErrEmptyCode
	}
	start := time.Now()

	diags := Diagnose(ctx, req.Code, lang)

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RecordExecution(lang, false)
			return Result{Language: lang}, ctx.Err()
		case <-timer.C:
		}
	}

	res := Result{
		Language:    lang,
		Diagnostics: diags,
		Simulated:   true,
	}
	if res.HasErrors() {
		res.Output = failureOutput(lang, diags)
	} else {
		res.Output = p.render(lang, req.Code)
	}
	res.DurationMs = time.Since(start).Milliseconds()

	metrics.RecordExecution(lang, !res.HasErrors())
	p.log.Debug("simulated execution",
		zap.String("language", lang),
		zap.Int("diagnostics", len(diags)),
		zap.Int64("duration_ms", res.DurationMs))
	return res, nil
}

func (p *Placeholder) render(lang, code string) string {
	p.mu.RLock()
	tpl, ok := p.templates[lang]
	p.mu.RUnlock()
	if !ok {
		tpl = defaultTemplate(lang)
	}

	r := strings.NewReplacer(
		VarLanguage, displayName(lang),
		VarOutput, PrintedLiterals(code),
		VarLines, fmt.Sprint(strings.Count(code, "\n")+1),
	)
	return r.Replace(tpl)
}

func defaultTemplate(lang string) string {
	l, ok := languages.Lookup(lang)
	switch {
	case ok && l.NonExecutable():
		return sandboxedTemplate
	case ok && l.Class == languages.ClassCompiled:
		return compiledTemplate
	default:
		return interpretedTemplate
	}
}

func displayName(lang string) string {
	if l, ok := languages.Lookup(lang); ok {
		return l.Name
	}
	if lang == "" {
		return "code"
	}
	return lang
}

func failureOutput(lang string, diags []Diagnostic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d syntax error(s)\n", displayName(lang), len(diags))
	for _, d := range diags {
		fmt.Fprintf(&b, "  line %d, column %d: %s\n", d.Line, d.Column, d.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// PrintedLiterals returns the string literals passed to print-like calls,
// one per line, or "(no output)".
func PrintedLiterals(code string) string {
	matches := printCall.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		return "(no output)"
	}
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, m[1])
	}
	return strings.Join(lines, "\n")
}
