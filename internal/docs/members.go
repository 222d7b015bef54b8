package docs

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

// addMembers places the fields, variants and impl blocks of a type.
func (n *normalizer) addMembers(gid graph.ID, rid uint32, kind string, data json.RawMessage) error {
	loc := itemLocation(ridKey(rid)) + ".inner." + kind
	var t struct {
		Kind     json.RawMessage `json:"kind"`
		Fields   []uint32        `json:"fields"`
		Variants []uint32        `json:"variants"`
		Impls    []uint32        `json:"impls"`
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return malformed(loc, err)
	}

	fields := t.Fields
	if kind == "struct" {
		sf, err := structFields(t.Kind)
		if err != nil {
			return malformed(loc+".kind", err)
		}
		fields = sf
	}
	for _, f := range fields {
		if _, _, err := n.addChild(gid, f); err != nil {
			return err
		}
	}

	for _, v := range t.Variants {
		vid, ok, err := n.addChild(gid, v)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := n.addVariantFields(vid, v); err != nil {
			return err
		}
	}

	for _, impl := range t.Impls {
		if err := n.addImpl(gid, impl); err != nil {
			return err
		}
	}
	return nil
}

// structFields reads the field ids of a struct kind: "unit",
// {"tuple": [id|null, ...]} or {"plain": {"fields": [...]}}.
func structFields(raw json.RawMessage) ([]uint32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var unit string
	if json.Unmarshal(raw, &unit) == nil {
		return nil, nil
	}
	var k struct {
		Tuple []*uint32 `json:"tuple"`
		Plain *struct {
			Fields []uint32 `json:"fields"`
		} `json:"plain"`
	}
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, err
	}
	if k.Plain != nil {
		return k.Plain.Fields, nil
	}
	var out []uint32
	for _, f := range k.Tuple {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (n *normalizer) addVariantFields(vid graph.ID, rid uint32) error {
	it, err := n.item(rid)
	if err != nil || it == nil {
		return err
	}
	_, data, err := n.inner(rid, it)
	if err != nil {
		return err
	}
	var v struct {
		Kind json.RawMessage `json:"kind"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return malformed(itemLocation(ridKey(rid))+".inner.variant", err)
	}
	var unit string
	if len(v.Kind) == 0 || json.Unmarshal(v.Kind, &unit) == nil {
		return nil
	}
	var k struct {
		Tuple  []*uint32 `json:"tuple"`
		Struct *struct {
			Fields []uint32 `json:"fields"`
		} `json:"struct"`
	}
	if err := json.Unmarshal(v.Kind, &k); err != nil {
		return malformed(itemLocation(ridKey(rid))+".inner.variant.kind", err)
	}
	if k.Struct == nil {
		return nil
	}
	for _, f := range k.Struct.Fields {
		if _, _, err := n.addChild(vid, f); err != nil {
			return err
		}
	}
	return nil
}

type rustdocImpl struct {
	IsSynthetic bool            `json:"is_synthetic"`
	IsNegative  bool            `json:"is_negative"`
	Trait       *rustdocPath    `json:"trait"`
	For         json.RawMessage `json:"for"`
	Items       []uint32        `json:"items"`
	BlanketImpl json.RawMessage `json:"blanket_impl"`
}

func (n *normalizer) decodeImpl(rid uint32) (*rustdocItem, *rustdocImpl, error) {
	it, err := n.item(rid)
	if err != nil || it == nil {
		return nil, nil, err
	}
	kind, data, err := n.inner(rid, it)
	if err != nil {
		return nil, nil, err
	}
	if kind != "impl" {
		return nil, nil, nil
	}
	var impl rustdocImpl
	if err := json.Unmarshal(data, &impl); err != nil {
		return nil, nil, malformed(itemLocation(ridKey(rid))+".inner.impl", err)
	}
	return it, &impl, nil
}

// addImpl attaches an impl block to parent. Inherent impl members become
// direct children of the type; a trait impl becomes its own item whose
// children are the implemented members. Synthetic auto-trait impls and
// blanket impls are dropped.
func (n *normalizer) addImpl(parent graph.ID, rid uint32) error {
	if n.impls[rid] {
		return nil
	}
	it, impl, err := n.decodeImpl(rid)
	if err != nil || impl == nil {
		return err
	}
	if impl.IsSynthetic || (len(impl.BlanketImpl) > 0 && string(impl.BlanketImpl) != "null") {
		return nil
	}
	if hidden, err := n.hidden(rid, it); err != nil || hidden {
		return err
	}
	n.impls[rid] = true

	owner := parent
	if impl.Trait != nil {
		gid, err := n.add(parent, rid, it, n.implName(impl))
		if err != nil {
			return err
		}
		n.implTraits = append(n.implTraits, pendingTrait{impl: gid, trait: impl.Trait.ID})
		owner = gid
	}
	for _, m := range impl.Items {
		if _, _, err := n.addChild(owner, m); err != nil {
			return err
		}
	}
	return nil
}

var pathQualifier = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*::`)

// implName names a trait impl "impl Trait for Type". Path qualifiers are
// dropped so the name stays a single path segment.
func (n *normalizer) implName(impl *rustdocImpl) string {
	var b strings.Builder
	b.WriteString("impl ")
	if impl.IsNegative {
		b.WriteString("!")
	}
	b.WriteString(n.r.pathName(impl.Trait))
	b.WriteString(n.r.genericArgs(impl.Trait.Args))
	b.WriteString(" for ")
	b.WriteString(n.r.typeName(impl.For))
	name := pathQualifier.ReplaceAllString(b.String(), "")
	return strings.ReplaceAll(name, "::", ".")
}

// addTraitItems places a trait's declared items and remembers its impl list
// so implementations of local traits on foreign types can be attached later.
func (n *normalizer) addTraitItems(gid graph.ID, rid uint32, data json.RawMessage) error {
	var t struct {
		Items           []uint32 `json:"items"`
		Implementations []uint32 `json:"implementations"`
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return malformed(itemLocation(ridKey(rid))+".inner.trait", err)
	}
	for _, m := range t.Items {
		if _, _, err := n.addChild(gid, m); err != nil {
			return err
		}
	}
	if len(t.Implementations) > 0 {
		n.traits = append(n.traits, traitImpls{gid: gid, impls: t.Implementations})
	}
	return nil
}

// attachTraitImpls places trait impls that no type walk reached. An impl for
// a local type that is in the graph goes under that type; anything else,
// such as an impl on a foreign type, goes under the trait.
func (n *normalizer) attachTraitImpls() error {
	for _, t := range n.traits {
		for _, rid := range t.impls {
			if n.impls[rid] {
				continue
			}
			_, impl, err := n.decodeImpl(rid)
			if err != nil {
				return err
			}
			if impl == nil {
				continue
			}
			parent := t.gid
			if id, ok := n.forType(impl.For); ok {
				parent = id
			}
			if err := n.addImpl(parent, rid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *normalizer) forType(raw json.RawMessage) (graph.ID, bool) {
	var t struct {
		ResolvedPath *rustdocPath `json:"resolved_path"`
	}
	if err := json.Unmarshal(raw, &t); err != nil || t.ResolvedPath == nil {
		return 0, false
	}
	gid, ok := n.added[t.ResolvedPath.ID]
	return gid, ok
}

func (n *normalizer) resolveImplTraits() {
	for _, p := range n.implTraits {
		t := n.target(p.trait)
		if t.Kind == graph.TargetNone && len(t.Path) == 0 {
			continue
		}
		n.b.Item(p.impl).Trait = &t
	}
}
