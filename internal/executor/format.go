package executor

import (
	"fmt"

	"mvdan.cc/gofumpt/format"

	"github.com/instantpreview/instantpreview/internal/languages"
)

// Format pretty-prints a buffer. Go is formatted with gofumpt; every other
// language is returned unchanged.
func Format(language, code string) (string, error) {
	if languages.Canonical(language) != "go" {
		return code, nil
	}
	out, err := format.Source([]byte(code), format.Options{})
	if err != nil {
		return code, fmt.Errorf("format go: %w", err)
	}
	return string(out), nil
}
