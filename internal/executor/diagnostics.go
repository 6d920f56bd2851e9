package executor

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/instantpreview/instantpreview/internal/languages"
)

// maxDiagnostics caps how many syntax errors one buffer reports.
const maxDiagnostics = 20

// Diagnose parses code with the language's tree-sitter grammar and reports
// every ERROR and MISSING node. Languages without a bundled grammar yield nil.
func Diagnose(ctx context.Context, code, language string) []Diagnostic {
	lang, ok := languages.Lookup(language)
	if !ok {
		return nil
	}
	grammar := lang.Grammar()
	if grammar == nil {
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil {
		return nil
	}

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil
	}

	var diags []Diagnostic
	collect(root, &diags)
	if len(diags) == 0 {
		diags = append(diags, Diagnostic{Line: 1, Column: 1, Severity: SeverityError, Message: "syntax error"})
	}
	return diags
}

func collect(node *sitter.Node, diags *[]Diagnostic) {
	if len(*diags) >= maxDiagnostics {
		return
	}
	if node.IsMissing() {
		*diags = append(*diags, diagnosticAt(node, fmt.Sprintf("missing %s", node.Type())))
		return
	}
	if node.IsError() {
		*diags = append(*diags, diagnosticAt(node, "syntax error"))
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child != nil && (child.HasError() || child.IsMissing()) {
			collect(child, diags)
		}
	}
}

func diagnosticAt(node *sitter.Node, msg string) Diagnostic {
	p := node.StartPoint()
	return Diagnostic{
		Line:     int(p.Row) + 1,
		Column:   int(p.Column) + 1,
		Severity: SeverityError,
		Message:  msg,
	}
}
