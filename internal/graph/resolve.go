package graph

import (
	"cmp"
	"slices"
	"strings"
)

// Status is the outcome of a path resolution.
type Status uint8

const (
	NotFound Status = iota
	Unique
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not found"
	}
}

// Resolution holds the items matched by a path expression. Ambiguous results
// are ordered by kind priority. A NotFound result may carry a Redirect when
// the path continues inside another crate through a re-export.
type Resolution struct {
	Status   Status
	Items    []*Item
	Redirect *Target
}

// Item returns the single match of a Unique resolution.
func (r Resolution) Item() *Item {
	if r.Status != Unique {
		return nil
	}
	return r.Items[0]
}

type segment struct {
	name string
	disc string
}

// parseSegments splits `a::b::fn@c` into segments. Rustdoc-style suffixes
// `name!` and `name()` select macros and functions.
func parseSegments(expr string) []segment {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	parts := strings.Split(expr, "::")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var s segment
		if at := strings.Index(p, "@"); at > 0 && !strings.Contains(p[:at], " ") {
			s.disc, p = p[:at], p[at+1:]
		}
		switch {
		case strings.HasSuffix(p, "!"):
			p = strings.TrimSuffix(p, "!")
			if s.disc == "" {
				s.disc = "macro"
			}
		case strings.HasSuffix(p, "()"):
			p = strings.TrimSuffix(p, "()")
			if s.disc == "" {
				s.disc = "fn"
			}
		}
		if lt := strings.IndexByte(p, '<'); lt > 0 && !strings.Contains(p, " ") {
			p = p[:lt]
		}
		s.name = p
		segs = append(segs, s)
	}
	return segs
}

// edge is a named step from an item to something reachable below it.
type edge struct {
	name string
	id   ID
}

// reachable lists the names visible directly below id. Local re-exports are
// replaced by their targets, local globs are expanded, and a type exposes
// the members of its trait implementations.
func (g *Graph) reachable(id ID, visited map[ID]bool) []edge {
	if visited[id] {
		return nil
	}
	visited[id] = true

	var out []edge
	for _, c := range g.children[id] {
		it := &g.items[c]
		switch {
		case it.Kind == KindReexport && it.Glob:
			if it.Target != nil && it.Target.Kind == TargetLocal {
				out = append(out, g.reachable(it.Target.ID, visited)...)
			}
		case it.Kind == KindReexport && it.Target != nil && it.Target.Kind == TargetLocal:
			out = append(out, edge{name: it.Name, id: it.Target.ID})
		case it.Kind == KindTraitImpl:
			out = append(out, edge{name: it.Name, id: c})
			for _, m := range g.children[c] {
				out = append(out, edge{name: g.items[m].Name, id: m})
			}
		default:
			out = append(out, edge{name: it.Name, id: c})
		}
	}
	return out
}

// ResolvePath resolves a `::`-separated path expression. A leading crate name
// or `crate` is optional. Re-exports are followed transparently, and when
// several items share the final segment all of them are returned ordered by
// kind priority.
func (g *Graph) ResolvePath(expr string) Resolution {
	segs := parseSegments(expr)
	if len(segs) > 0 {
		first := segs[0]
		if (first.name == "crate" || SameCrateName(first.name, g.id.Name)) && (first.disc == "" || first.disc == "mod" || first.disc == "crate") {
			segs = segs[1:]
		}
	}
	if len(segs) == 0 {
		return Resolution{Status: Unique, Items: []*Item{g.Root()}}
	}

	frontier := []ID{0}
	names := make([]string, 0, len(segs))
	for i, seg := range segs {
		var next []ID
		seen := make(map[ID]bool)
		add := func(id ID) {
			if seen[id] || !matchesDiscriminator(&g.items[id], seg.disc) {
				return
			}
			seen[id] = true
			next = append(next, id)
		}

		for _, f := range frontier {
			for _, e := range g.reachable(f, make(map[ID]bool)) {
				if e.name == seg.name {
					add(e.id)
				}
			}
		}
		names = append(names, seg.name)
		for _, id := range g.paths[strings.Join(names, "::")] {
			it := &g.items[id]
			if it.Kind == KindReexport && it.Target != nil && it.Target.Kind == TargetLocal && !it.Glob {
				add(it.Target.ID)
				continue
			}
			add(id)
		}

		if len(next) == 0 {
			if next = g.fallback(segs); len(next) == 0 {
				return Resolution{Status: NotFound, Redirect: g.redirect(frontier, segs, i)}
			}
			frontier = next
			break
		}
		frontier = next
	}

	slices.SortFunc(frontier, func(a, b ID) int {
		ia, ib := &g.items[a], &g.items[b]
		if c := cmp.Compare(ia.Kind.Priority(), ib.Kind.Priority()); c != 0 {
			return c
		}
		if c := cmp.Compare(ia.PathString(), ib.PathString()); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	res := Resolution{Items: g.lookup(frontier)}
	if len(frontier) == 1 {
		res.Status = Unique
	} else {
		res.Status = Ambiguous
	}
	return res
}

// fallback looks the whole expression up in the path index, which also
// covers alias and definition paths the tree walk cannot reach.
func (g *Graph) fallback(segs []segment) []ID {
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.name
	}
	disc := segs[len(segs)-1].disc
	var out []ID
	for _, id := range g.paths[strings.Join(names, "::")] {
		it := &g.items[id]
		if it.Kind == KindReexport && it.Target != nil && it.Target.Kind == TargetLocal && !it.Glob {
			id, it = it.Target.ID, &g.items[it.Target.ID]
		}
		if matchesDiscriminator(it, disc) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// redirect finds where a path that failed at segs[failed] continues in
// another crate, either through an external re-export in the frontier or an
// external glob prefix.
func (g *Graph) redirect(frontier []ID, segs []segment, failed int) *Target {
	rest := make([]string, 0, len(segs)-failed)
	for _, s := range segs[failed:] {
		rest = append(rest, s.name)
	}
	for _, f := range frontier {
		it := &g.items[f]
		if it.Kind == KindReexport && it.Target != nil && it.Target.Kind == TargetExternal {
			t := *it.Target
			t.Path = append(slices.Clone(t.Path), rest...)
			t.RawKind = ""
			return &t
		}
	}

	walked := make([]string, 0, len(segs))
	for _, s := range segs {
		walked = append(walked, s.name)
	}
	for _, ext := range g.externals {
		if len(ext.Local) > len(walked) || !slices.Equal(ext.Local, walked[:len(ext.Local)]) {
			continue
		}
		t := ext.Target
		t.Path = append(slices.Clone(ext.Target.Path), walked[len(ext.Local):]...)
		t.RawKind = ""
		return &t
	}
	return nil
}
