package docs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// renderer turns rustdoc Type and Generics JSON into plain Rust syntax.
type renderer struct {
	a     adapter
	crate *rustdocCrate
}

// typeName renders a rustdoc Type. Unknown shapes render as "_".
func (r *renderer) typeName(typeJSON json.RawMessage) string {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(typeJSON, &outer); err != nil {
		return "_"
	}

	if resolved, ok := outer["resolved_path"]; ok {
		return r.resolvedPath(resolved)
	}

	if prim, ok := outer["primitive"]; ok {
		var name string
		if err := json.Unmarshal(prim, &name); err == nil {
			return name
		}
	}

	if dt, ok := outer["dyn_trait"]; ok {
		return r.dynTrait(dt)
	}

	if it, ok := outer["impl_trait"]; ok {
		return "impl " + r.bounds(it)
	}

	if br, ok := outer["borrowed_ref"]; ok {
		return r.borrowedRef(br)
	}

	if rp, ok := outer["raw_pointer"]; ok {
		var p struct {
			IsMutable bool            `json:"is_mutable"`
			Type      json.RawMessage `json:"type"`
		}
		if err := json.Unmarshal(rp, &p); err == nil {
			if p.IsMutable {
				return "*mut " + r.typeName(p.Type)
			}
			return "*const " + r.typeName(p.Type)
		}
	}

	if sl, ok := outer["slice"]; ok {
		return "[" + r.typeName(sl) + "]"
	}

	if arr, ok := outer["array"]; ok {
		var a struct {
			Type json.RawMessage `json:"type"`
			Len  string          `json:"len"`
		}
		if err := json.Unmarshal(arr, &a); err == nil {
			return "[" + r.typeName(a.Type) + "; " + a.Len + "]"
		}
	}

	if g, ok := outer["generic"]; ok {
		var name string
		if err := json.Unmarshal(g, &name); err == nil {
			return name
		}
	}

	if qp, ok := outer["qualified_path"]; ok {
		return r.qualifiedPath(qp)
	}

	if tp, ok := outer["tuple"]; ok {
		return r.tuple(tp)
	}

	if fp, ok := outer["function_pointer"]; ok {
		return r.functionPointer(fp)
	}

	return "_"
}

// pathName returns the name of a Path, falling back to the paths map when
// the export left it empty.
func (r *renderer) pathName(p *rustdocPath) string {
	name := r.a.pathName(p)
	if name == "" {
		if summary, ok := r.crate.Paths[strconv.FormatUint(uint64(p.ID), 10)]; ok && len(summary.Path) > 0 {
			name = summary.Path[len(summary.Path)-1]
		}
	}
	return name
}

func (r *renderer) resolvedPath(resolved json.RawMessage) string {
	var p rustdocPath
	if err := json.Unmarshal(resolved, &p); err != nil {
		return "_"
	}
	name := r.pathName(&p)
	if name == "" {
		return "_"
	}
	return name + r.genericArgs(p.Args)
}

func (r *renderer) genericArgs(argsJSON json.RawMessage) string {
	if len(argsJSON) == 0 || string(argsJSON) == "null" {
		return ""
	}
	var args struct {
		AngleBracketed *struct {
			Args        []json.RawMessage `json:"args"`
			Constraints []struct {
				Name    string `json:"name"`
				Binding struct {
					Equality *struct {
						Type json.RawMessage `json:"type"`
					} `json:"equality"`
				} `json:"binding"`
			} `json:"constraints"`
		} `json:"angle_bracketed"`
		Parenthesized *struct {
			Inputs []json.RawMessage `json:"inputs"`
			Output json.RawMessage   `json:"output"`
		} `json:"parenthesized"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return ""
	}

	if p := args.Parenthesized; p != nil {
		parts := make([]string, 0, len(p.Inputs))
		for _, in := range p.Inputs {
			parts = append(parts, r.typeName(in))
		}
		out := "(" + strings.Join(parts, ", ") + ")"
		if len(p.Output) > 0 && string(p.Output) != "null" {
			out += " -> " + r.typeName(p.Output)
		}
		return out
	}
	if args.AngleBracketed == nil {
		return ""
	}

	var parts []string
	for _, arg := range args.AngleBracketed.Args {
		var a map[string]json.RawMessage
		if err := json.Unmarshal(arg, &a); err != nil {
			var unit string
			if json.Unmarshal(arg, &unit) == nil && unit == "infer" {
				parts = append(parts, "_")
			}
			continue
		}
		if typeData, ok := a["type"]; ok {
			parts = append(parts, r.typeName(typeData))
		} else if lifetime, ok := a["lifetime"]; ok {
			var lt string
			if json.Unmarshal(lifetime, &lt) == nil {
				parts = append(parts, lt)
			}
		} else if c, ok := a["const"]; ok {
			var cv struct {
				Expr string `json:"expr"`
			}
			if json.Unmarshal(c, &cv) == nil {
				parts = append(parts, cv.Expr)
			}
		}
	}
	for _, c := range args.AngleBracketed.Constraints {
		if c.Binding.Equality != nil {
			parts = append(parts, c.Name+" = "+r.typeName(c.Binding.Equality.Type))
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return "<" + strings.Join(parts, ", ") + ">"
}

// bounds renders a list of GenericBound joined with " + ".
func (r *renderer) bounds(raw json.RawMessage) string {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return "_"
	}
	parts := make([]string, 0, len(list))
	for _, b := range list {
		var bound struct {
			TraitBound *struct {
				Trait    rustdocPath `json:"trait"`
				Modifier string      `json:"modifier"`
			} `json:"trait_bound"`
			Outlives *string `json:"outlives"`
		}
		if err := json.Unmarshal(b, &bound); err != nil {
			continue
		}
		switch {
		case bound.TraitBound != nil:
			name := r.pathName(&bound.TraitBound.Trait) + r.genericArgs(bound.TraitBound.Trait.Args)
			if bound.TraitBound.Modifier == "maybe" {
				name = "?" + name
			}
			parts = append(parts, name)
		case bound.Outlives != nil:
			parts = append(parts, *bound.Outlives)
		}
	}
	return strings.Join(parts, " + ")
}

func (r *renderer) dynTrait(dt json.RawMessage) string {
	var d struct {
		Traits []struct {
			Trait rustdocPath `json:"trait"`
		} `json:"traits"`
		Lifetime *string `json:"lifetime"`
	}
	if err := json.Unmarshal(dt, &d); err != nil || len(d.Traits) == 0 {
		return "dyn _"
	}

	parts := make([]string, 0, len(d.Traits)+1)
	for _, t := range d.Traits {
		parts = append(parts, r.pathName(&t.Trait)+r.genericArgs(t.Trait.Args))
	}
	if d.Lifetime != nil && *d.Lifetime != "" {
		parts = append(parts, *d.Lifetime)
	}
	return "dyn " + strings.Join(parts, " + ")
}

func (r *renderer) borrowedRef(br json.RawMessage) string {
	var ref struct {
		Lifetime  *string         `json:"lifetime"`
		IsMutable bool            `json:"is_mutable"`
		Type      json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(br, &ref); err != nil {
		return "&_"
	}

	prefix := "&"
	if ref.Lifetime != nil && *ref.Lifetime != "" {
		prefix += *ref.Lifetime + " "
	}
	if ref.IsMutable {
		prefix += "mut "
	}
	return prefix + r.typeName(ref.Type)
}

func (r *renderer) qualifiedPath(qp json.RawMessage) string {
	var q struct {
		Name     string          `json:"name"`
		SelfType json.RawMessage `json:"self_type"`
		Trait    *rustdocPath    `json:"trait"`
	}
	if err := json.Unmarshal(qp, &q); err != nil {
		return "_"
	}
	selfType := r.typeName(q.SelfType)
	if q.Trait != nil {
		if trait := r.pathName(q.Trait); trait != "" {
			return fmt.Sprintf("<%s as %s>::%s", selfType, trait, q.Name)
		}
	}
	return fmt.Sprintf("%s::%s", selfType, q.Name)
}

func (r *renderer) tuple(tp json.RawMessage) string {
	var types []json.RawMessage
	if err := json.Unmarshal(tp, &types); err != nil {
		return "()"
	}
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, r.typeName(t))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (r *renderer) functionPointer(fp json.RawMessage) string {
	var f struct {
		Sig struct {
			Inputs []json.RawMessage `json:"inputs"`
			Output json.RawMessage   `json:"output"`
		} `json:"sig"`
	}
	if err := json.Unmarshal(fp, &f); err != nil {
		return "fn(_)"
	}
	params := make([]string, 0, len(f.Sig.Inputs))
	for _, input := range f.Sig.Inputs {
		var pair []json.RawMessage
		if err := json.Unmarshal(input, &pair); err != nil || len(pair) < 2 {
			continue
		}
		params = append(params, r.typeName(pair[1]))
	}
	out := "fn(" + strings.Join(params, ", ") + ")"
	if len(f.Sig.Output) > 0 && string(f.Sig.Output) != "null" {
		out += " -> " + r.typeName(f.Sig.Output)
	}
	return out
}

// generics renders the declared generic parameters, skipping the synthetic
// ones rustdoc invents for `impl Trait` arguments.
func (r *renderer) generics(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var g struct {
		Params []struct {
			Name string `json:"name"`
			Kind struct {
				Type *struct {
					IsSynthetic bool `json:"is_synthetic"`
				} `json:"type"`
				Const *struct {
					Type json.RawMessage `json:"type"`
				} `json:"const"`
			} `json:"kind"`
		} `json:"params"`
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return ""
	}
	var names []string
	for _, p := range g.Params {
		if p.Name == "" || (p.Kind.Type != nil && p.Kind.Type.IsSynthetic) {
			continue
		}
		if p.Kind.Const != nil {
			names = append(names, "const "+p.Name+": "+r.typeName(p.Kind.Const.Type))
			continue
		}
		names = append(names, p.Name)
	}
	if len(names) == 0 {
		return ""
	}
	return "<" + strings.Join(names, ", ") + ">"
}
