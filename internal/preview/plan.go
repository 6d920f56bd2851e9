package preview

import (
	"strings"

	"github.com/instantpreview/instantpreview/internal/fingerprint"
	"github.com/instantpreview/instantpreview/internal/languages"
)

// Input is everything a run needs: the three web slots plus the active
// language and, for non-web languages, its buffer.
type Input struct {
	HTML string
	CSS  string
	JS   string

	// Language is the active language. Empty means the web triple.
	Language string
	// Code is the active buffer when Language is not a web language.
	Code string
}

// Fingerprint identifies the content a run would use.
func (in Input) Fingerprint() fingerprint.Sum {
	switch in.Plan() {
	case PlanWeb:
		return fingerprint.Of(string(PlanWeb), in.HTML, in.CSS, in.JS)
	default:
		return fingerprint.Of(string(in.Plan()), languages.Canonical(in.Language), in.Code)
	}
}

// AutoRunnable reports whether a content change alone may start a run.
func (in Input) AutoRunnable() bool {
	if in.Language == "" {
		return true
	}
	return languages.IsAutoRunnable(in.Language)
}

// Plan is how an input is turned into a document.
type Plan string

const (
	// PlanWeb concatenates the html, css and js slots.
	PlanWeb Plan = "web"
	// PlanMarkdown renders the active markdown buffer.
	PlanMarkdown Plan = "markdown"
	// PlanExecute hands the active buffer to the executor.
	PlanExecute Plan = "execute"
)

// Plan picks the run path: the web triple unless a non-web language is
// active and its buffer has content.
func (in Input) Plan() Plan {
	if in.Language == "" || languages.IsWeb(in.Language) || strings.TrimSpace(in.Code) == "" {
		return PlanWeb
	}
	if l, ok := languages.Lookup(in.Language); ok && l.Class == languages.ClassMarkup {
		return PlanMarkdown
	}
	return PlanExecute
}
