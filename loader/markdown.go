package loader

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownText returns the text content of a markdown document. Each block
// becomes one paragraph; code blocks keep their lines verbatim.
func MarkdownText(source []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var blocks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			blocks = append(blocks, s)
		}
		current.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				flush()
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			current.Write(node.Segment.Value(source))
			if node.SoftLineBreak() {
				current.WriteByte(' ')
			}
			if node.HardLineBreak() {
				current.WriteByte('\n')
			}
		case *ast.String:
			current.Write(node.Value)
		case *ast.AutoLink:
			current.Write(node.URL(source))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				current.Write(line.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(blocks, "\n\n")
}
