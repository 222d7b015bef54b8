package graph

import "strings"

// ID identifies an item within one crate's graph.
type ID uint32

// NoID is the parent of the crate root.
const NoID ID = ^ID(0)

// Kind is the canonical item category.
type Kind uint8

const (
	KindOther Kind = iota
	KindModule
	KindType
	KindFunction
	KindTrait
	KindConstant
	KindMacro
	KindTraitImpl
	KindReexport
)

var kindNames = [...]string{
	KindOther:     "other",
	KindModule:    "module",
	KindType:      "type",
	KindFunction:  "function",
	KindTrait:     "trait",
	KindConstant:  "constant",
	KindMacro:     "macro",
	KindTraitImpl: "trait-impl",
	KindReexport:  "re-export",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "other"
}

// Priority orders kinds sharing a path segment: type, trait, function, macro,
// module, then everything else.
func (k Kind) Priority() int {
	switch k {
	case KindType:
		return 0
	case KindTrait:
		return 1
	case KindFunction:
		return 2
	case KindMacro:
		return 3
	case KindModule:
		return 4
	default:
		return 5
	}
}

// TargetKind says where a reference points.
type TargetKind uint8

const (
	TargetNone TargetKind = iota
	TargetLocal
	TargetExternal
)

// Target is the destination of a re-export, trait reference or doc link.
// Local targets carry an ID; external targets carry a crate name, an
// optional version and a symbolic path within that crate.
type Target struct {
	Kind    TargetKind
	ID      ID
	Crate   string
	Version string
	Path    []string
	RawKind string
}

func (t Target) PathString() string {
	return strings.Join(t.Path, "::")
}

// Ref is a reference span inside an item's documentation. Start and End are
// byte offsets into Item.Docs; both are -1 when the span could not be located.
type Ref struct {
	Text   string
	Dest   string
	Start  int
	End    int
	Target Target
}

type Deprecation struct {
	Since string
	Note  string
}

// Item is one documented entity. Items are immutable once the graph is built.
type Item struct {
	ID          ID
	Parent      ID
	Kind        Kind
	RawKind     string
	Name        string
	Path        []string
	Signature   string
	Docs        string
	Refs        []Ref
	Visibility  string
	Deprecation *Deprecation
	Attrs       []string

	// Target is set for re-exports and Glob marks `use m::*`.
	Target *Target
	Glob   bool

	// Trait is set for trait implementations; the implementing type is Parent.
	Trait *Target
}

func (it *Item) PathString() string {
	return strings.Join(it.Path, "::")
}

func (it *Item) IsRoot() bool {
	return it.Parent == NoID
}

// Discriminator returns the prefix used in `kind@name` path segments.
func (it *Item) Discriminator() string {
	if it.RawKind != "" {
		return it.RawKind
	}
	switch it.Kind {
	case KindModule:
		return "mod"
	case KindFunction:
		return "fn"
	case KindTrait:
		return "trait"
	case KindMacro:
		return "macro"
	case KindConstant:
		return "const"
	case KindType:
		return "type"
	}
	return "item"
}

// matchesDiscriminator reports whether a `d@name` segment selects it.
func matchesDiscriminator(it *Item, d string) bool {
	if d == "" || d == it.RawKind {
		return true
	}
	switch d {
	case "mod", "module":
		return it.Kind == KindModule
	case "fn", "function", "method":
		return it.Kind == KindFunction
	case "type":
		return it.Kind == KindType
	case "trait":
		return it.Kind == KindTrait
	case "macro", "derive", "attr":
		return it.Kind == KindMacro
	case "const", "constant", "static", "value":
		return it.Kind == KindConstant
	case "prim", "primitive":
		return it.RawKind == "prim"
	case "struct", "enum", "union", "tyalias":
		return it.RawKind == d
	}
	return false
}
