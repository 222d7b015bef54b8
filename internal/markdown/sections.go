package markdown

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown/ast"
)

// DocSection is a heading-delimited part of a doc comment, such as the
// "# Examples" or "# Panics" sections rustdoc conventions call for.
type DocSection struct {
	Title string
	Slug  string
	Text  string
}

// DocSections splits src at its top-level headings. Text before the first
// heading belongs to no section. Slugs are unique within the result.
func DocSections(src string) []DocSection {
	if !strings.Contains(src, "#") {
		return nil
	}
	doc := parse(src)

	var offsets []int
	var titles []string
	from := 0
	for _, child := range doc.GetChildren() {
		h, ok := child.(*ast.Heading)
		if !ok {
			continue
		}
		title := strings.Join(strings.Fields(nodeText(h)), " ")
		offset := headingOffset(src, h.Level, title, from)
		if offset < 0 {
			continue
		}
		offsets = append(offsets, offset)
		titles = append(titles, title)
		from = offset + 1
	}

	used := make(map[string]int)
	out := make([]DocSection, 0, len(offsets))
	for i, offset := range offsets {
		end := len(src)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		slug := slugify(titles[i])
		if slug == "" {
			slug = "section"
		}
		used[slug]++
		if n := used[slug]; n > 1 {
			slug = fmt.Sprintf("%s-%d", slug, n)
		}
		out = append(out, DocSection{
			Title: titles[i],
			Slug:  slug,
			Text:  strings.TrimSpace(src[offset:end]),
		})
	}
	return out
}

// headingOffset finds the line where an ATX heading with the given level and
// text starts. Matching the text skips hidden doctest lines such as
// "# use foo;" that only look like headings. Setext headings are not found.
func headingOffset(src string, level int, title string, from int) int {
	prefix := strings.Repeat("#", level) + " "
	for i := from; i < len(src); i++ {
		if i > 0 && src[i-1] != '\n' {
			continue
		}
		if !strings.HasPrefix(src[i:], prefix) {
			continue
		}
		line, _, _ := strings.Cut(src[i+len(prefix):], "\n")
		line = strings.TrimRight(strings.TrimSpace(line), "#")
		if strings.Join(strings.Fields(PlainText(line)), " ") == title {
			return i
		}
	}
	return -1
}

func slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
