package graph

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// ExternalPrefix records a glob re-export of a module that lives in another
// crate: every path under Local continues at Target.Path in Target.Crate.
type ExternalPrefix struct {
	Local  []string
	Target Target
}

// Builder accumulates items for a Graph. The first item added is the crate
// root and every later item must name an already added parent.
type Builder struct {
	id        Identity
	fp        Fingerprint
	items     []Item
	aliases   map[ID][][]string
	externals []ExternalPrefix
}

func NewBuilder(id Identity) *Builder {
	return &Builder{
		id:      id,
		fp:      Fingerprint{Version: id.Version, Revision: id.Revision},
		aliases: make(map[ID][][]string),
	}
}

func (b *Builder) SetFingerprint(fp Fingerprint) {
	b.fp = fp
}

// Add appends an item under parent (NoID for the root) and returns its ID.
// The item's Path is derived from its parent.
func (b *Builder) Add(parent ID, it Item) ID {
	id := ID(len(b.items))
	it.ID = id
	it.Parent = parent
	it.Path = nil
	if parent != NoID && int(parent) < len(b.items) {
		pp := b.items[parent].Path
		it.Path = make([]string, 0, len(pp)+1)
		it.Path = append(it.Path, pp...)
		it.Path = append(it.Path, it.Name)
	}
	b.items = append(b.items, it)
	return id
}

// Item exposes an added item so callers can attach late-bound data such as
// reference spans. The pointer is invalidated by the next Add.
func (b *Builder) Item(id ID) *Item {
	if int(id) >= len(b.items) {
		return nil
	}
	return &b.items[id]
}

func (b *Builder) Len() int {
	return len(b.items)
}

// AddAlias makes id additionally reachable at path.
func (b *Builder) AddAlias(id ID, path []string) {
	if len(path) == 0 {
		return
	}
	if int(id) < len(b.items) && slices.Equal(b.items[id].Path, path) {
		return
	}
	for _, p := range b.aliases[id] {
		if slices.Equal(p, path) {
			return
		}
	}
	b.aliases[id] = append(b.aliases[id], slices.Clone(path))
}

func (b *Builder) AddExternalPrefix(local []string, t Target) {
	b.externals = append(b.externals, ExternalPrefix{Local: slices.Clone(local), Target: t})
}

// Build validates the accumulated items and freezes them into a Graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.items) == 0 {
		return nil, &InvariantError{Item: NoID, Rule: "graph has no root item"}
	}
	if b.items[0].Parent != NoID {
		return nil, &InvariantError{Item: 0, Rule: "first item is not the crate root"}
	}

	n := ID(len(b.items))
	checkTarget := func(item ID, t *Target, what string) error {
		if t != nil && t.Kind == TargetLocal && t.ID >= n {
			return &InvariantError{Item: item, Rule: fmt.Sprintf("%s references nonexistent item %d", what, t.ID)}
		}
		return nil
	}

	for i := 1; i < len(b.items); i++ {
		it := &b.items[i]
		switch {
		case it.Parent == NoID:
			return nil, &InvariantError{Item: it.ID, Rule: "multiple crate roots"}
		case it.Parent >= it.ID:
			return nil, &InvariantError{Item: it.ID, Rule: fmt.Sprintf("parent %d does not precede its child", it.Parent)}
		case it.Name == "":
			return nil, &InvariantError{Item: it.ID, Rule: "item has no name"}
		case strings.Contains(it.Name, "::"):
			return nil, &InvariantError{Item: it.ID, Rule: "item name contains a path separator"}
		}
		if err := checkTarget(it.ID, it.Target, "re-export"); err != nil {
			return nil, err
		}
		if err := checkTarget(it.ID, it.Trait, "trait implementation"); err != nil {
			return nil, err
		}
		for j := range it.Refs {
			if err := checkTarget(it.ID, &it.Refs[j].Target, "doc link"); err != nil {
				return nil, err
			}
		}
	}
	for id := range b.aliases {
		if id >= n {
			return nil, &InvariantError{Item: id, Rule: "alias for nonexistent item"}
		}
	}

	g := &Graph{
		id:           b.id,
		fp:           b.fp,
		items:        b.items,
		children:     make([][]ID, len(b.items)),
		aliases:      b.aliases,
		paths:        make(map[string][]ID),
		externals:    b.externals,
		impls:        make(map[ID][]ID),
		implementors: make(map[ID][]ID),
	}
	for i := 1; i < len(g.items); i++ {
		it := &g.items[i]
		g.children[it.Parent] = append(g.children[it.Parent], it.ID)
		g.paths[it.PathString()] = append(g.paths[it.PathString()], it.ID)
		if it.Kind == KindTraitImpl {
			g.impls[it.Parent] = append(g.impls[it.Parent], it.ID)
			if it.Trait != nil && it.Trait.Kind == TargetLocal {
				g.implementors[it.Trait.ID] = append(g.implementors[it.Trait.ID], it.ID)
			}
		}
	}
	for id, paths := range b.aliases {
		for _, p := range paths {
			key := strings.Join(p, "::")
			if !slices.Contains(g.paths[key], id) {
				g.paths[key] = append(g.paths[key], id)
			}
		}
	}
	for _, ids := range g.paths {
		slices.Sort(ids)
	}
	for i := range g.children {
		slices.SortFunc(g.children[i], g.compareIDs)
	}

	b.items = nil
	b.aliases = nil
	return g, nil
}

// compareIDs orders items by kind priority, then name, then id.
func (g *Graph) compareIDs(a, b ID) int {
	ia, ib := &g.items[a], &g.items[b]
	if c := cmp.Compare(ia.Kind.Priority(), ib.Kind.Priority()); c != 0 {
		return c
	}
	if c := cmp.Compare(ia.Name, ib.Name); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}
