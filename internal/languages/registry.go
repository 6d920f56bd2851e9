// Package languages is the registry of language tags known to the editor:
// display metadata, default templates, how a buffer in that language runs,
// and the tree-sitter grammar used for syntax diagnostics.
//
// Tags are free-form on the wire. Lookup canonicalizes aliases such as
// "js" or "c++"; tags the registry does not know still work everywhere, they
// just get no template, no grammar and are never auto-run.
package languages

import (
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Class describes how the preview treats a buffer.
type Class string

const (
	// ClassWeb buffers are assembled into the preview document directly.
	ClassWeb Class = "web"
	// ClassMarkup buffers are rendered to HTML.
	ClassMarkup Class = "markup"
	// ClassInterpreted and ClassCompiled buffers go through the executor.
	ClassInterpreted Class = "interpreted"
	ClassCompiled    Class = "compiled"
	// ClassData buffers are shown as text.
	ClassData Class = "data"
)

// Language is one registry entry.
type Language struct {
	Tag        string
	Name       string
	Icon       string
	Extensions []string
	Aliases    []string
	Class      Class
	Template   string

	// nonExecutable marks languages the sandbox cannot run at all.
	nonExecutable bool
	grammar       func() *sitter.Language
}

// IsWeb reports whether the language is part of the html/css/javascript triple.
func (l *Language) IsWeb() bool { return l.Class == ClassWeb }

// NonExecutable reports whether the language must never be run automatically.
func (l *Language) NonExecutable() bool { return l.nonExecutable }

// AutoRunnable reports whether a content change alone may trigger a run.
func (l *Language) AutoRunnable() bool { return l.IsWeb() && !l.nonExecutable }

// Executable reports whether an explicit run can produce output.
func (l *Language) Executable() bool {
	return !l.nonExecutable && l.Class != ClassData
}

// Grammar returns the tree-sitter grammar, or nil when none is bundled.
func (l *Language) Grammar() *sitter.Language {
	if l.grammar == nil {
		return nil
	}
	return l.grammar()
}

var (
	byTag   = map[string]*Language{}
	byAlias = map[string]*Language{}
	byExt   = map[string]*Language{}
)

func init() {
	for _, l := range builtin {
		register(l)
	}
}

func register(l *Language) {
	byTag[l.Tag] = l
	for _, a := range l.Aliases {
		byAlias[a] = l
	}
	for _, e := range l.Extensions {
		byExt[e] = l
	}
}

func normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Lookup finds a language by tag or alias, case-insensitively.
func Lookup(tag string) (*Language, bool) {
	t := normalize(tag)
	if l, ok := byTag[t]; ok {
		return l, true
	}
	l, ok := byAlias[t]
	return l, ok
}

// Canonical maps aliases to their registry tag. Unknown tags are returned
// lower-cased.
func Canonical(tag string) string {
	if l, ok := Lookup(tag); ok {
		return l.Tag
	}
	return normalize(tag)
}

// FromFilename picks a language by file extension.
func FromFilename(name string) (*Language, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return nil, false
	}
	l, ok := byExt[ext]
	return l, ok
}

// DefaultContent returns the starter template for a tag, or "" when the
// registry has none.
func DefaultContent(tag string) string {
	if l, ok := Lookup(tag); ok {
		return l.Template
	}
	return ""
}

// IsWeb reports whether tag names html, css or javascript.
func IsWeb(tag string) bool {
	l, ok := Lookup(tag)
	return ok && l.IsWeb()
}

// IsAutoRunnable reports whether a content change in tag may trigger a run.
func IsAutoRunnable(tag string) bool {
	l, ok := Lookup(tag)
	return ok && l.AutoRunnable()
}

// IsNonExecutable reports whether tag is one of the languages the sandbox
// cannot run.
func IsNonExecutable(tag string) bool {
	l, ok := Lookup(tag)
	return ok && l.NonExecutable()
}

// All returns every registered language sorted by tag.
func All() []*Language {
	out := make([]*Language, 0, len(byTag))
	for _, l := range byTag {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}
