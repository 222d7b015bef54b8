package markdown

import (
	"regexp"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	gmparser "github.com/gomarkdown/markdown/parser"
)

// Link is one link found in a markdown document. Start and End are byte
// offsets of the whole link syntax in the source, or -1 when the link could
// not be located (e.g. a full reference link whose definition rewrote it).
type Link struct {
	Text  string
	Dest  string
	Start int
	End   int
}

var refDefRe = regexp.MustCompile(`(?m)^ {0,3}\[([^\]]+)\]:[ \t]*<?([^\s>]+)>?`)

// referenceDefinitions collects `[ref]: dest` lines, keyed case-insensitively.
func referenceDefinitions(src string) map[string]string {
	defs := make(map[string]string)
	for _, m := range refDefRe.FindAllStringSubmatch(src, -1) {
		key := strings.ToLower(m[1])
		if _, ok := defs[key]; !ok {
			defs[key] = m[2]
		}
	}
	return defs
}

// newParser returns a parser that turns every bracketed reference into a
// link, so undefined shortcut references like [`Vec`] survive as links whose
// destination is the bracket text. That is how intra-doc links are written.
func newParser(defs map[string]string) *gmparser.Parser {
	p := gmparser.NewWithExtensions(gmparser.CommonExtensions | gmparser.Autolink)
	p.ReferenceOverride = func(ref string) (*gmparser.Reference, bool) {
		if dest, ok := defs[strings.ToLower(ref)]; ok {
			return &gmparser.Reference{Link: dest}, true
		}
		return &gmparser.Reference{Link: ref}, true
	}
	return p
}

func parse(src string) ast.Node {
	return gm.Parse([]byte(src), newParser(referenceDefinitions(src)))
}

// Links returns every link in src in document order.
func Links(src string) []Link {
	if !strings.ContainsAny(src, "[:") {
		return nil
	}
	doc := parse(src)

	var links []Link
	cursor := 0
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		link, ok := node.(*ast.Link)
		if !ok {
			return ast.GoToNext
		}
		l := Link{Text: nodeText(link), Dest: string(link.Destination), Start: -1, End: -1}
		if start, end, ok := locate(src, cursor, l.Dest); ok {
			l.Start, l.End = start, end
			cursor = end
		}
		links = append(links, l)
		return ast.SkipChildren
	})
	return links
}

// locate finds the source span of the next link to dest at or after cursor,
// trying inline, shortcut and bare autolink syntax in that order.
func locate(src string, cursor int, dest string) (int, int, bool) {
	if dest == "" || cursor >= len(src) {
		return 0, 0, false
	}
	rest := src[cursor:]

	if i := strings.Index(rest, "]("+dest); i >= 0 {
		closeBracket := cursor + i
		tail := src[closeBracket+2+len(dest):]
		if j := strings.IndexByte(tail, ')'); j >= 0 {
			if start := openBracket(src, closeBracket); start >= 0 {
				return start, closeBracket + 2 + len(dest) + j + 1, true
			}
		}
	}
	if i := strings.Index(rest, "["+dest+"]"); i >= 0 {
		return cursor + i, cursor + i + len(dest) + 2, true
	}
	if strings.Contains(dest, "://") {
		if i := strings.Index(rest, dest); i >= 0 {
			return cursor + i, cursor + i + len(dest), true
		}
	}
	return 0, 0, false
}

// openBracket finds the '[' matching the ']' at closeIdx.
func openBracket(src string, closeIdx int) int {
	depth := 0
	for i := closeIdx; i >= 0; i-- {
		switch src[i] {
		case ']':
			depth++
		case '[':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// nodeText concatenates the literal text below node.
func nodeText(node ast.Node) string {
	var b strings.Builder
	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if leaf := n.AsLeaf(); leaf != nil && leaf.Literal != nil {
			b.Write(leaf.Literal)
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(b.String())
}
