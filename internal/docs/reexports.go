package docs

import (
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

type rustdocUse struct {
	Source string  `json:"source"`
	Name   string  `json:"name"`
	ID     *uint32 `json:"id"`
	IsGlob bool    `json:"is_glob"`
}

// drainUses processes queued `pub use` items. Inlining a private module can
// queue more uses, so the queue is consumed until it stays empty.
func (n *normalizer) drainUses() error {
	for i := 0; i < len(n.uses); i++ {
		if err := n.addUse(n.uses[i]); err != nil {
			return err
		}
	}
	n.uses = nil
	return nil
}

func (n *normalizer) addUse(u pendingUse) error {
	key := [2]uint64{uint64(u.parent), uint64(u.rid)}
	if n.seenUse[key] {
		return nil
	}
	n.seenUse[key] = true

	_, data, err := n.inner(u.rid, u.item)
	if err != nil {
		return err
	}
	var use rustdocUse
	if err := json.Unmarshal(data, &use); err != nil {
		return malformed(itemLocation(ridKey(u.rid))+".inner.use", err)
	}

	parentPath := slices.Clone(n.b.Item(u.parent).Path)

	if use.ID != nil {
		rid := *use.ID
		if gid, ok := n.added[rid]; ok {
			return n.localUse(u, use, gid, parentPath)
		}
		target, err := n.item(rid)
		if err != nil {
			return err
		}
		if target != nil && target.CrateID == 0 {
			if hidden, err := n.hidden(rid, target); err != nil || hidden {
				return err
			}
			if use.IsGlob {
				return n.inlineGlob(u.parent, rid, target)
			}
			_, err := n.addTree(u.parent, rid, target, use.Name)
			return err
		}
	}

	var t graph.Target
	if use.ID != nil {
		t = n.target(*use.ID)
	}
	if t.Kind == graph.TargetNone && len(t.Path) == 0 {
		t = n.targetFromSource(use.Source)
	}
	name := use.Name
	if use.IsGlob {
		name = "*"
		if t.Kind == graph.TargetExternal {
			n.b.AddExternalPrefix(parentPath, t)
		}
	}
	if name == "" {
		return nil
	}
	gid, err := n.add(u.parent, u.rid, u.item, name)
	if err != nil {
		return err
	}
	it := n.b.Item(gid)
	it.Target = &t
	it.Glob = use.IsGlob
	return nil
}

// localUse records a re-export of an item that is already in the graph.
func (n *normalizer) localUse(u pendingUse, use rustdocUse, target graph.ID, parentPath []string) error {
	if use.IsGlob {
		if target == u.parent {
			return nil
		}
		use.Name = "*"
	} else if slices.Equal(n.b.Item(target).Path, append(parentPath, use.Name)) {
		return nil
	}
	if use.Name == "" {
		return nil
	}
	gid, err := n.add(u.parent, u.rid, u.item, use.Name)
	if err != nil {
		return err
	}
	it := n.b.Item(gid)
	it.Target = &graph.Target{Kind: graph.TargetLocal, ID: target, RawKind: n.b.Item(target).RawKind}
	it.Glob = use.IsGlob
	return nil
}

// inlineGlob places the public contents of a module or enum that is not
// itself reachable, as rustdoc does for `pub use private::*`.
func (n *normalizer) inlineGlob(parent graph.ID, rid uint32, it *rustdocItem) error {
	key := [2]uint64{uint64(parent), uint64(rid)}
	if n.seenGlob[key] {
		return nil
	}
	n.seenGlob[key] = true

	kind, data, err := n.inner(rid, it)
	if err != nil {
		return err
	}
	switch kind {
	case "module":
		return n.walkModule(rid, parent)
	case "enum":
		var e struct {
			Variants []uint32 `json:"variants"`
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return malformed(itemLocation(ridKey(rid))+".inner.enum", err)
		}
		for _, v := range e.Variants {
			if _, _, err := n.addChild(parent, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// target describes where rustdoc id rid lives. Local items already in the
// graph get a local target. Local items the graph does not contain keep
// their crate-relative path, and dependency items name their crate.
func (n *normalizer) target(rid uint32) graph.Target {
	if gid, ok := n.added[rid]; ok {
		return graph.Target{Kind: graph.TargetLocal, ID: gid, RawKind: n.b.Item(gid).RawKind}
	}
	s, ok := n.crate.Paths[ridKey(rid)]
	if !ok || len(s.Path) == 0 {
		return graph.Target{}
	}
	t := graph.Target{Path: slices.Clone(s.Path[1:]), RawKind: summaryDiscriminator(s.Kind)}
	if s.CrateID == 0 {
		t.Crate = n.id.Name
		return t
	}
	ext, ok := n.crate.ExternalCrates[strconv.FormatUint(uint64(s.CrateID), 10)]
	if !ok {
		return graph.Target{}
	}
	t.Kind = graph.TargetExternal
	t.Crate = ext.crateName()
	t.Version = ext.version()
	return t
}

// targetFromSource interprets the written source path of a use whose id
// rustdoc did not resolve.
func (n *normalizer) targetFromSource(source string) graph.Target {
	segs := strings.Split(strings.TrimPrefix(source, "::"), "::")
	if len(segs) == 0 || segs[0] == "" {
		return graph.Target{}
	}
	switch first := segs[0]; {
	case first == "crate" || first == "self" || graph.SameCrateName(first, n.id.Name):
		return graph.Target{Crate: n.id.Name, Path: segs[1:]}
	default:
		if ext, ok := n.externalByName(first); ok {
			return graph.Target{Kind: graph.TargetExternal, Crate: ext.crateName(), Version: ext.version(), Path: segs[1:]}
		}
	}
	return graph.Target{Path: segs}
}
