package markdown

import (
	"strings"

	"github.com/gomarkdown/markdown/ast"
)

// PlainText reduces markdown to its readable text: markup, link
// destinations and reference definitions are dropped, code is kept.
func PlainText(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	doc := parse(src)

	var b strings.Builder
	ast.WalkFunc(doc, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.CodeBlock, *ast.ListItem, *ast.TableCell:
				b.WriteByte('\n')
			}
			return ast.GoToNext
		}
		switch n := n.(type) {
		case *ast.Softbreak, *ast.Hardbreak:
			b.WriteByte(' ')
		default:
			if leaf := n.AsLeaf(); leaf != nil && leaf.Literal != nil {
				b.Write(leaf.Literal)
			}
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(b.String())
}

// Summary returns the text of the first paragraph, which rustdoc treats as
// the item's one-line description.
func Summary(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	doc := parse(src)
	for _, child := range doc.GetChildren() {
		switch child.(type) {
		case *ast.Paragraph:
			return strings.Join(strings.Fields(nodeText(child)), " ")
		case *ast.Heading:
			return ""
		}
	}
	return ""
}
