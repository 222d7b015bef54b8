// Package links binds the reference spans of documented items to concrete
// items, possibly in other crates.
package links

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

// Status says how far a reference could be bound.
type Status uint8

const (
	Unresolvable Status = iota
	Resolved
	Deferred
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Deferred:
		return "deferred"
	default:
		return "unresolvable"
	}
}

// maxHops bounds how many crates a chain of re-exports may cross.
const maxHops = 8

// CrateSet gives access to already loaded crates. An empty version matches
// any loaded version.
type CrateSet interface {
	Lookup(name, version string) (*graph.Graph, bool)
}

// Link is one bound reference span.
//
// Resolved links name the crate and item they land on. Deferred links name a
// crate that is not loaded (Crate.Version may be empty, meaning any version)
// and the symbolic path to look up once it is. Unresolvable links carry a
// Reason.
type Link struct {
	Ref    graph.Ref
	Status Status
	Crate  graph.Identity
	Item   graph.ID
	Path   []string
	Reason string
}

// URI renders the link as an rsdoc:// URI, or "" when it is unresolvable.
func (l Link) URI() string {
	if l.Status == Unresolvable {
		return ""
	}
	version := l.Crate.Version
	if version == "" {
		version = "latest"
	}
	if len(l.Path) == 0 {
		return fmt.Sprintf("rsdoc://%s/%s", l.Crate.Name, version)
	}
	return fmt.Sprintf("rsdoc://%s/%s/%s", l.Crate.Name, version, strings.Join(l.Path, "::"))
}

// Resolver binds references. It never loads crates: references into a crate
// missing from Crates come back Deferred.
type Resolver struct {
	Crates CrateSet
}

// Resolve binds every reference of item, keeping span order.
func (r Resolver) Resolve(g *graph.Graph, item *graph.Item) []Link {
	if len(item.Refs) == 0 {
		return nil
	}
	out := make([]Link, 0, len(item.Refs))
	for _, ref := range item.Refs {
		l := r.bind(g, item, ref.Target)
		l.Ref = ref
		out = append(out, l)
	}
	return out
}

// ResolveAll binds the references of every item in g.
func (r Resolver) ResolveAll(g *graph.Graph) map[graph.ID][]Link {
	out := make(map[graph.ID][]Link)
	for _, it := range g.All() {
		if links := r.Resolve(g, it); len(links) > 0 {
			out[it.ID] = links
		}
	}
	return out
}

func (r Resolver) bind(g *graph.Graph, item *graph.Item, t graph.Target) Link {
	switch t.Kind {
	case graph.TargetLocal:
		return resolvedLink(g, t.ID)
	case graph.TargetExternal:
		return r.external(g, t, 0)
	}

	if len(t.Path) == 0 {
		return Link{Status: Unresolvable, Reason: "reference has no target"}
	}
	if t.Crate != "" && !graph.SameCrateName(t.Crate, g.Identity().Name) {
		t.Kind = graph.TargetExternal
		return r.external(g, t, 0)
	}

	// Unbound paths are tried relative to the enclosing scope first, the way
	// rustdoc resolves them, then from the crate root.
	var candidates [][]string
	if t.Crate == "" {
		for scope := scopeOf(g, item); len(scope) > 0; scope = scope[:len(scope)-1] {
			candidates = append(candidates, append(slices.Clone(scope), t.Path...))
		}
	}
	candidates = append(candidates, t.Path)

	var last Link
	for _, path := range candidates {
		last = r.within(g, path, t.RawKind, 0)
		if last.Status != Unresolvable || last.Reason != notFound {
			return last
		}
	}
	return last
}

// scopeOf is the path of the module-like item enclosing item.
func scopeOf(g *graph.Graph, item *graph.Item) []string {
	for _, it := range slices.Backward(g.Breadcrumb(item.ID)) {
		if it.ID == item.ID && it.Kind != graph.KindModule {
			continue
		}
		switch it.Kind {
		case graph.KindModule, graph.KindType, graph.KindTrait:
			return slices.Clone(it.Path)
		}
	}
	return nil
}

const notFound = "no item at this path"

func (r Resolver) external(from *graph.Graph, t graph.Target, hops int) Link {
	if hops >= maxHops {
		return Link{Status: Unresolvable, Reason: "re-export chain too long"}
	}
	if graph.SameCrateName(t.Crate, from.Identity().Name) && (t.Version == "" || t.Version == from.Identity().Version) {
		return r.within(from, t.Path, t.RawKind, hops)
	}
	if r.Crates == nil {
		return deferredLink(t)
	}
	g, ok := r.Crates.Lookup(t.Crate, t.Version)
	if !ok {
		return deferredLink(t)
	}
	return r.within(g, t.Path, t.RawKind, hops+1)
}

func (r Resolver) within(g *graph.Graph, path []string, kind string, hops int) Link {
	res := g.ResolvePath(expression(path, kind))
	if res.Status == graph.NotFound && kind != "" {
		res = g.ResolvePath(expression(path, ""))
	}
	switch res.Status {
	case graph.Unique:
		it := res.Item()
		if it.Kind == graph.KindReexport && it.Target != nil && it.Target.Kind == graph.TargetExternal {
			return r.external(g, *it.Target, hops)
		}
		return resolvedLink(g, it.ID)
	case graph.Ambiguous:
		return Link{Status: Unresolvable, Reason: fmt.Sprintf("ambiguous: %d candidates", len(res.Items))}
	}
	if res.Redirect != nil {
		return r.external(g, *res.Redirect, hops)
	}
	return Link{Status: Unresolvable, Reason: notFound}
}

func expression(path []string, kind string) string {
	if kind == "" || len(path) == 0 {
		return strings.Join(path, "::")
	}
	segs := slices.Clone(path)
	segs[len(segs)-1] = kind + "@" + segs[len(segs)-1]
	return strings.Join(segs, "::")
}

func resolvedLink(g *graph.Graph, id graph.ID) Link {
	path, _ := g.CanonicalPath(id)
	return Link{Status: Resolved, Crate: g.Identity(), Item: id, Path: path}
}

func deferredLink(t graph.Target) Link {
	return Link{
		Status: Deferred,
		Crate:  graph.Identity{Name: t.Crate, Version: t.Version},
		Path:   slices.Clone(t.Path),
	}
}
