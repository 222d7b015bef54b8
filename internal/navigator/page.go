package navigator

import (
	"fmt"
	"strings"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/links"
	"github.com/jcdickinson/ferrisdoc/internal/markdown"
)

// Entry is a one-line reference to another item.
type Entry struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	URI     string `json:"uri"`
	Summary string `json:"summary,omitempty"`
}

// Section is a titled list of entries. Name doubles as the URI fragment that
// selects it.
type Section struct {
	Name    string
	Title   string
	Entries []Entry
}

// Page is the rendered view of one item.
type Page struct {
	Crate      graph.Identity
	Item       *graph.Item
	Path       string
	URI        string
	Kind       string
	Breadcrumb []Entry
	Aliases    []string
	Sections   []Section
	Docs       []markdown.DocSection
	Links      []links.Link
	Markdown   string

	g *graph.Graph
}

// Section returns the named section, if present.
func (p *Page) Section(name string) (Section, bool) {
	for _, s := range p.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Fragments lists the URI fragments the page answers to: member sections
// first, then the headings of the item's docs.
func (p *Page) Fragments() []string {
	out := make([]string, 0, len(p.Sections)+len(p.Docs))
	for _, s := range p.Sections {
		out = append(out, s.Name)
	}
	for _, d := range p.Docs {
		out = append(out, d.Slug)
	}
	return out
}

func (p *Page) fragment(name string) (string, bool) {
	if s, ok := p.Section(name); ok {
		return renderSection(s), true
	}
	for _, d := range p.Docs {
		if d.Slug == name {
			return markdown.RewriteLinks(d.Text, linkMap(p.Links)) + "\n", true
		}
	}
	return "", false
}

var sectionOrder = []struct {
	name  string
	title string
	kind  graph.Kind
}{
	{"modules", "Modules", graph.KindModule},
	{"types", "Types", graph.KindType},
	{"traits", "Traits", graph.KindTrait},
	{"functions", "Functions", graph.KindFunction},
	{"constants", "Constants", graph.KindConstant},
	{"macros", "Macros", graph.KindMacro},
	{"reexports", "Re-exports", graph.KindReexport},
	{"members", "Members", graph.KindOther},
}

func (n *Navigator) page(g *graph.Graph, it *graph.Item, fragment string) (*Page, error) {
	p := &Page{
		Crate: g.Identity(),
		Item:  it,
		Path:  displayPath(g, it),
		URI:   URI(g.Identity(), address(g, it)),
		Kind:  kindLabel(it),
		Docs:  markdown.DocSections(it.Docs),
		Links: n.reg.Links().Resolve(g, it),
		g:     g,
	}
	for _, b := range g.Breadcrumb(it.ID) {
		p.Breadcrumb = append(p.Breadcrumb, entry(g, b))
	}
	for _, a := range g.Aliases(it.ID) {
		p.Aliases = append(p.Aliases, g.Identity().Name+"::"+strings.Join(a, "::"))
	}

	grouped := make(map[graph.Kind][]Entry)
	for _, c := range g.Children(it.ID) {
		if c.Kind == graph.KindTraitImpl {
			continue
		}
		grouped[c.Kind] = append(grouped[c.Kind], entry(g, c))
	}
	for _, s := range sectionOrder {
		if es := grouped[s.kind]; len(es) > 0 {
			p.Sections = append(p.Sections, Section{Name: s.name, Title: s.title, Entries: es})
		}
	}
	if impls := entries(g, g.Implementations(it.ID)); len(impls) > 0 {
		p.Sections = append(p.Sections, Section{Name: "implementations", Title: "Implementations", Entries: impls})
	}
	if impls := entries(g, g.Implementors(it.ID)); len(impls) > 0 {
		p.Sections = append(p.Sections, Section{Name: "implementors", Title: "Implementors", Entries: impls})
	}

	if fragment != "" {
		text, ok := p.fragment(fragment)
		if !ok {
			return nil, &FragmentError{URI: p.URI, Fragment: fragment, Available: p.Fragments()}
		}
		p.Markdown = fmt.Sprintf("# %s\n\n", p.Path) + text
		return p, nil
	}
	p.Markdown = p.render()
	return p, nil
}

func (p *Page) render() string {
	it := p.Item
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Path)
	fmt.Fprintf(&b, "**Kind:** %s\n\n", p.Kind)
	if d := it.Deprecation; d != nil {
		b.WriteString("**Deprecated**")
		if d.Since != "" {
			fmt.Fprintf(&b, " since %s", d.Since)
		}
		if d.Note != "" {
			fmt.Fprintf(&b, ": %s", d.Note)
		}
		b.WriteString("\n\n")
	}
	if it.Signature != "" {
		fmt.Fprintf(&b, "```rust\n%s\n```\n\n", it.Signature)
	}
	if it.Docs != "" {
		b.WriteString(markdown.RewriteLinks(it.Docs, linkMap(p.Links)))
		b.WriteString("\n\n")
	}
	if len(p.Aliases) > 0 {
		b.WriteString("## Also available as\n\n")
		for _, a := range p.Aliases {
			fmt.Fprintf(&b, "- `%s`\n", a)
		}
		b.WriteString("\n")
	}
	for _, s := range p.Sections {
		b.WriteString(renderSection(s))
	}

	text := strings.TrimRight(b.String(), "\n") + "\n"
	fragURIs := make(map[string]string)
	for _, name := range p.Fragments() {
		if _, ok := fragURIs[name]; !ok {
			fragURIs[name] = p.URI + "#" + name
		}
	}
	return markdown.AddFrontMatter(text, fragURIs)
}

func renderSection(s Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", s.Title)
	for _, e := range s.Entries {
		fmt.Fprintf(&b, "- [`%s`](%s)", e.Name, e.URI)
		if e.Summary != "" {
			fmt.Fprintf(&b, ": %s", e.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func linkMap(ls []links.Link) map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		if uri := l.URI(); uri != "" && l.Ref.Dest != "" {
			m[l.Ref.Dest] = uri
		}
	}
	return m
}

func entry(g *graph.Graph, it *graph.Item) Entry {
	name := it.Name
	if it.IsRoot() {
		name = g.Identity().Name
	}
	return Entry{
		Name:    name,
		Kind:    kindLabel(it),
		Path:    displayPath(g, it),
		URI:     URI(g.Identity(), address(g, it)),
		Summary: markdown.Summary(it.Docs),
	}
}

func entries(g *graph.Graph, items []*graph.Item) []Entry {
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		out = append(out, entry(g, it))
	}
	return out
}

func kindLabel(it *graph.Item) string {
	if it.RawKind != "" {
		return it.RawKind
	}
	return it.Kind.String()
}

// displayPath is the item path qualified with the crate name.
func displayPath(g *graph.Graph, it *graph.Item) string {
	if it.IsRoot() {
		return g.Identity().Name
	}
	return g.Identity().Name + "::" + it.PathString()
}

// address is the shortest path expression that resolves back to it: the
// plain path when that is unique, the kind-discriminated one otherwise.
func address(g *graph.Graph, it *graph.Item) string {
	plain := it.PathString()
	if res := g.ResolvePath(plain); res.Status == graph.Unique && res.Item().ID == it.ID {
		return plain
	}
	return strings.TrimPrefix(strings.TrimPrefix(g.DiscriminatedPath(it.ID), g.Identity().Name), "::")
}
