package graph

import (
	"slices"
	"strings"
)

// Graph is the immutable item arena for one crate. All methods are safe for
// concurrent use.
type Graph struct {
	id           Identity
	fp           Fingerprint
	items        []Item
	children     [][]ID
	aliases      map[ID][][]string
	paths        map[string][]ID
	externals    []ExternalPrefix
	impls        map[ID][]ID
	implementors map[ID][]ID
}

func (g *Graph) Identity() Identity       { return g.id }
func (g *Graph) Fingerprint() Fingerprint { return g.fp }
func (g *Graph) Len() int                 { return len(g.items) }
func (g *Graph) Root() *Item              { return &g.items[0] }

// Item returns the item with the given id.
func (g *Graph) Item(id ID) (*Item, bool) {
	if int(id) >= len(g.items) {
		return nil, false
	}
	return &g.items[id], true
}

// All returns every item in id order.
func (g *Graph) All() []*Item {
	out := make([]*Item, len(g.items))
	for i := range g.items {
		out[i] = &g.items[i]
	}
	return out
}

// CanonicalPath returns the item's path from the crate root. The root's path
// is empty.
func (g *Graph) CanonicalPath(id ID) ([]string, bool) {
	it, ok := g.Item(id)
	if !ok {
		return nil, false
	}
	return slices.Clone(it.Path), true
}

// Breadcrumb returns the ancestors of id from the root down to and including
// the item itself.
func (g *Graph) Breadcrumb(id ID) []*Item {
	it, ok := g.Item(id)
	if !ok {
		return nil
	}
	var out []*Item
	for {
		out = append(out, it)
		if it.Parent == NoID {
			break
		}
		it = &g.items[it.Parent]
	}
	slices.Reverse(out)
	return out
}

// Children lists the items directly owned by id, ordered by kind priority
// and then name.
func (g *Graph) Children(id ID) []*Item {
	if int(id) >= len(g.items) {
		return nil
	}
	ids := g.children[id]
	out := make([]*Item, len(ids))
	for i, c := range ids {
		out[i] = &g.items[c]
	}
	return out
}

// Aliases returns the additional paths through which id is reachable.
func (g *Graph) Aliases(id ID) [][]string {
	return g.aliases[id]
}

// Implementations lists the trait implementation items of a type.
func (g *Graph) Implementations(typeID ID) []*Item {
	return g.lookup(g.impls[typeID])
}

// Implementors lists the trait implementation items for a local trait.
func (g *Graph) Implementors(traitID ID) []*Item {
	return g.lookup(g.implementors[traitID])
}

// Externals lists the glob re-exports of other crates' modules.
func (g *Graph) Externals() []ExternalPrefix {
	return g.externals
}

func (g *Graph) lookup(ids []ID) []*Item {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Item, len(ids))
	for i, id := range ids {
		out[i] = &g.items[id]
	}
	return out
}

// DiscriminatedPath renders the item's full path with a kind discriminator on
// the last segment, e.g. `mycrate::both::fn@both`. ResolvePath maps it back
// to exactly this item.
func (g *Graph) DiscriminatedPath(id ID) string {
	it, ok := g.Item(id)
	if !ok {
		return ""
	}
	if it.IsRoot() {
		return g.id.Name
	}
	var b strings.Builder
	b.WriteString(g.id.Name)
	for i, seg := range it.Path {
		b.WriteString("::")
		if i == len(it.Path)-1 {
			b.WriteString(it.Discriminator())
			b.WriteString("@")
		}
		b.WriteString(seg)
	}
	return b.String()
}
