package docs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

// Normalize converts one rustdoc JSON export into an immutable item graph.
// revision is the format revision the provider declared. It selects the
// adapter, and a revision without one fails before the body is read. An
// empty id.Version is filled from the export's crate_version.
func Normalize(ctx context.Context, data []byte, revision int, id graph.Identity) (*graph.Graph, error) {
	a, ok := adapters[revision]
	if !ok {
		return nil, &UnsupportedRevisionError{Revision: revision}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var crate rustdocCrate
	if err := json.Unmarshal(data, &crate); err != nil {
		return nil, malformed("", err)
	}
	if crate.FormatVersion != revision {
		return nil, malformed("format_version", fmt.Errorf("export is revision %d but %d was declared", crate.FormatVersion, revision))
	}
	if crate.Root == nil {
		return nil, malformed("root", errors.New("missing"))
	}

	id.Revision = revision
	if id.Version == "" && crate.CrateVersion != nil {
		id.Version = *crate.CrateVersion
	}

	n := &normalizer{
		ctx:      ctx,
		r:        renderer{a: a, crate: &crate},
		crate:    &crate,
		id:       id,
		b:        graph.NewBuilder(id),
		items:    make(map[uint32]*rustdocItem),
		added:    make(map[uint32]graph.ID),
		impls:    make(map[uint32]bool),
		onStack:  make(map[uint32]bool),
		seenUse:  make(map[[2]uint64]bool),
		seenGlob: make(map[[2]uint64]bool),
	}
	n.b.SetFingerprint(graph.NewFingerprint(id, data))
	if err := n.run(); err != nil {
		return nil, err
	}
	return n.b.Build()
}

type placed struct {
	gid  graph.ID
	rid  uint32
	item *rustdocItem
}

type pendingUse struct {
	parent graph.ID
	rid    uint32
	item   *rustdocItem
}

type pendingTrait struct {
	impl  graph.ID
	trait uint32
}

type traitImpls struct {
	gid   graph.ID
	impls []uint32
}

// normalizer performs the single pass from rustdoc's flat index to the
// graph builder. Items are placed by walking modules from the root; uses are
// processed once the public tree is known so local re-exports can point at
// already placed items.
type normalizer struct {
	ctx   context.Context
	r     renderer
	crate *rustdocCrate
	id    graph.Identity
	b     *graph.Builder

	items      map[uint32]*rustdocItem
	added      map[uint32]graph.ID
	order      []placed
	uses       []pendingUse
	traits     []traitImpls
	implTraits []pendingTrait
	impls      map[uint32]bool
	onStack    map[uint32]bool
	seenUse    map[[2]uint64]bool
	seenGlob   map[[2]uint64]bool
	steps      int
}

func ridKey(rid uint32) string {
	return strconv.FormatUint(uint64(rid), 10)
}

// item decodes an index entry on first use. A missing entry is not an error:
// rustdoc drops stripped items but keeps references to them.
func (n *normalizer) item(rid uint32) (*rustdocItem, error) {
	if it, ok := n.items[rid]; ok {
		return it, nil
	}
	key := ridKey(rid)
	raw, ok := n.crate.Index[key]
	if !ok {
		return nil, nil
	}
	var it rustdocItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, malformed(itemLocation(key), err)
	}
	n.items[rid] = &it
	return &it, nil
}

func (n *normalizer) inner(rid uint32, it *rustdocItem) (string, json.RawMessage, error) {
	kind, data, err := splitInner(it.Inner)
	if err != nil {
		return "", nil, malformed(itemLocation(ridKey(rid))+".inner", err)
	}
	return kind, data, nil
}

func (n *normalizer) hidden(rid uint32, it *rustdocItem) (bool, error) {
	attrs, err := n.r.a.attrs(it.Attrs)
	if err != nil {
		return false, malformed(itemLocation(ridKey(rid))+".attrs", err)
	}
	return isHidden(attrs), nil
}

func (n *normalizer) run() error {
	rootID := *n.crate.Root
	root, err := n.item(rootID)
	if err != nil {
		return err
	}
	if root == nil {
		return malformed("root", fmt.Errorf("item %d is not in the index", rootID))
	}
	kind, _, err := n.inner(rootID, root)
	if err != nil {
		return err
	}
	if kind != "module" {
		return malformed(itemLocation(ridKey(rootID))+".inner", fmt.Errorf("crate root is a %s, not a module", kind))
	}

	name := root.name()
	if name == "" {
		name = n.id.Name
	}
	gid, err := n.add(graph.NoID, rootID, root, name)
	if err != nil {
		return err
	}
	n.onStack[rootID] = true
	if err := n.walkModule(rootID, gid); err != nil {
		return err
	}
	delete(n.onStack, rootID)
	if err := n.drainUses(); err != nil {
		return err
	}
	if err := n.attachTraitImpls(); err != nil {
		return err
	}
	n.resolveImplTraits()
	n.addDefinitionPaths()
	n.attachRefs()
	return nil
}

// add places one item under parent.
func (n *normalizer) add(parent graph.ID, rid uint32, it *rustdocItem, name string) (graph.ID, error) {
	if n.steps++; n.steps%512 == 0 {
		if err := n.ctx.Err(); err != nil {
			return 0, err
		}
	}

	loc := itemLocation(ridKey(rid))
	kind, data, err := n.inner(rid, it)
	if err != nil {
		return 0, err
	}
	attrs, err := n.r.a.attrs(it.Attrs)
	if err != nil {
		return 0, malformed(loc+".attrs", err)
	}
	vis, err := visibility(it.Visibility)
	if err != nil {
		return 0, malformed(loc+".visibility", err)
	}

	canonical, raw := canonicalKind(kind, data)
	gi := graph.Item{
		Kind:       canonical,
		RawKind:    raw,
		Name:       name,
		Signature:  n.r.signature(kind, name, data),
		Docs:       it.docs(),
		Visibility: vis,
		Attrs:      attrs,
	}
	if d := it.Deprecation; d != nil {
		gi.Deprecation = &graph.Deprecation{}
		if d.Since != nil {
			gi.Deprecation.Since = *d.Since
		}
		if d.Note != nil {
			gi.Deprecation.Note = *d.Note
		}
	}

	gid := n.b.Add(parent, gi)
	if _, ok := n.added[rid]; !ok {
		n.added[rid] = gid
	}
	n.order = append(n.order, placed{gid: gid, rid: rid, item: it})
	return gid, nil
}

// addTree places an item and everything it owns. An item that owns one of
// its own ancestors is malformed.
func (n *normalizer) addTree(parent graph.ID, rid uint32, it *rustdocItem, name string) (graph.ID, error) {
	if n.onStack[rid] {
		return 0, malformed(itemLocation(ridKey(rid)), errors.New("ownership cycle"))
	}
	n.onStack[rid] = true
	defer delete(n.onStack, rid)

	gid, err := n.add(parent, rid, it, name)
	if err != nil {
		return 0, err
	}
	kind, data, _ := splitInner(it.Inner)
	switch kind {
	case "module":
		err = n.walkModule(rid, gid)
	case "struct", "enum", "union", "primitive":
		err = n.addMembers(gid, rid, kind, data)
	case "trait":
		err = n.addTraitItems(gid, rid, data)
	}
	return gid, err
}

// addChild places a member item under its owner, skipping stripped and
// hidden ones.
func (n *normalizer) addChild(parent graph.ID, rid uint32) (graph.ID, bool, error) {
	it, err := n.item(rid)
	if err != nil || it == nil || it.name() == "" {
		return 0, false, err
	}
	if hidden, err := n.hidden(rid, it); err != nil || hidden {
		return 0, false, err
	}
	gid, err := n.addTree(parent, rid, it, it.name())
	return gid, err == nil, err
}

func (n *normalizer) walkModule(rid uint32, gid graph.ID) error {
	mod, err := n.item(rid)
	if err != nil || mod == nil {
		return err
	}
	_, data, err := n.inner(rid, mod)
	if err != nil {
		return err
	}
	var m struct {
		Items []uint32 `json:"items"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return malformed(itemLocation(ridKey(rid))+".inner.module", err)
	}

	for _, c := range m.Items {
		child, err := n.item(c)
		if err != nil {
			return err
		}
		if child == nil || child.CrateID != 0 {
			continue
		}
		hidden, err := n.hidden(c, child)
		if err != nil {
			return err
		}
		if hidden {
			continue
		}
		kind, _, err := n.inner(c, child)
		if err != nil {
			return err
		}
		switch kind {
		case "use":
			n.uses = append(n.uses, pendingUse{parent: gid, rid: c, item: child})
		case "impl":
			// attached through their types
		default:
			if child.name() == "" {
				continue
			}
			if _, err := n.addTree(gid, c, child, child.name()); err != nil {
				return err
			}
		}
	}
	return nil
}

// addDefinitionPaths records where each item was defined when that differs
// from where it is documented, so `private::Thing` still finds an item that
// is only public through a re-export.
func (n *normalizer) addDefinitionPaths() {
	for _, p := range n.order {
		s, ok := n.crate.Paths[ridKey(p.rid)]
		if !ok || s.CrateID != 0 || len(s.Path) < 2 {
			continue
		}
		if n.added[p.rid] != p.gid {
			continue
		}
		n.b.AddAlias(p.gid, s.Path[1:])
	}
}

func (n *normalizer) attachRefs() {
	for _, p := range n.order {
		if refs := n.refs(p.item); len(refs) > 0 {
			n.b.Item(p.gid).Refs = refs
		}
	}
}
