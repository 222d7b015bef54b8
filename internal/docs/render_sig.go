package docs

import (
	"strings"

	"github.com/goccy/go-json"
)

// fnSig builds a plain-text Rust function signature from structured rustdoc JSON.
// Example output: "fn record_debug(&mut self, field: &Field, value: &dyn Debug)"
func (r *renderer) fnSig(name string, fnData json.RawMessage) string {
	var fn struct {
		Sig struct {
			Inputs      []json.RawMessage `json:"inputs"`
			Output      json.RawMessage   `json:"output"`
			IsCVariadic bool              `json:"is_c_variadic"`
		} `json:"sig"`
		Generics json.RawMessage `json:"generics"`
		Header   struct {
			IsConst  bool `json:"is_const"`
			IsUnsafe bool `json:"is_unsafe"`
			IsAsync  bool `json:"is_async"`
		} `json:"header"`
	}
	if err := json.Unmarshal(fnData, &fn); err != nil {
		return "fn " + name
	}

	var b strings.Builder

	// Header qualifiers
	if fn.Header.IsConst {
		b.WriteString("const ")
	}
	if fn.Header.IsAsync {
		b.WriteString("async ")
	}
	if fn.Header.IsUnsafe {
		b.WriteString("unsafe ")
	}

	b.WriteString("fn ")
	b.WriteString(name)
	b.WriteString(r.generics(fn.Generics))

	b.WriteString("(")
	params := make([]string, 0, len(fn.Sig.Inputs)+1)
	for _, input := range fn.Sig.Inputs {
		var pair []json.RawMessage
		if err := json.Unmarshal(input, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var paramName string
		json.Unmarshal(pair[0], &paramName)

		// Render self params with Rust shorthand
		if paramName == "self" {
			params = append(params, selfShorthand(pair[1]))
		} else {
			params = append(params, paramName+": "+r.typeName(pair[1]))
		}
	}
	if fn.Sig.IsCVariadic {
		params = append(params, "...")
	}
	b.WriteString(strings.Join(params, ", "))
	b.WriteString(")")

	if len(fn.Sig.Output) > 0 && string(fn.Sig.Output) != "null" {
		b.WriteString(" -> ")
		b.WriteString(r.typeName(fn.Sig.Output))
	}

	return b.String()
}

// selfShorthand converts a rustdoc self-parameter type to Rust shorthand.
// {"generic": "Self"} → "self", {"borrowed_ref": {is_mutable: false, type: {generic: Self}}} → "&self", etc.
func selfShorthand(typeJSON json.RawMessage) string {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(typeJSON, &outer); err != nil {
		return "self"
	}
	if br, ok := outer["borrowed_ref"]; ok {
		var r struct {
			Lifetime  *string `json:"lifetime"`
			IsMutable bool    `json:"is_mutable"`
		}
		json.Unmarshal(br, &r)
		prefix := "&"
		if r.Lifetime != nil && *r.Lifetime != "" {
			prefix += *r.Lifetime + " "
		}
		if r.IsMutable {
			prefix += "mut "
		}
		return prefix + "self"
	}
	return "self"
}

// signature renders the declaration line for any item kind. Rendering is
// best effort: a body that does not decode leaves its parts empty, and the
// walk reports malformed items where it reads them.
func (r *renderer) signature(kind, name string, data json.RawMessage) string {
	switch kind {
	case "function":
		return r.fnSig(name, data)
	case "module":
		return "mod " + name
	case "struct", "enum", "union", "trait":
		var t struct {
			Generics json.RawMessage `json:"generics"`
			IsUnsafe bool            `json:"is_unsafe"`
			IsAuto   bool            `json:"is_auto"`
			Bounds   json.RawMessage `json:"bounds"`
		}
		json.Unmarshal(data, &t)
		prefix := ""
		if t.IsUnsafe && kind == "trait" {
			prefix += "unsafe "
		}
		if t.IsAuto {
			prefix += "auto "
		}
		sig := prefix + kind + " " + name + r.generics(t.Generics)
		if kind == "trait" && len(t.Bounds) > 0 && string(t.Bounds) != "[]" {
			if bounds := r.bounds(t.Bounds); bounds != "" {
				sig += ": " + bounds
			}
		}
		return sig
	case "trait_alias":
		var t struct {
			Generics json.RawMessage `json:"generics"`
			Params   json.RawMessage `json:"params"`
		}
		json.Unmarshal(data, &t)
		return "trait " + name + r.generics(t.Generics) + " = " + r.bounds(t.Params)
	case "type_alias":
		var t struct {
			Type     json.RawMessage `json:"type"`
			Generics json.RawMessage `json:"generics"`
		}
		json.Unmarshal(data, &t)
		return "type " + name + r.generics(t.Generics) + " = " + r.typeName(t.Type)
	case "constant":
		var c struct {
			Type  json.RawMessage `json:"type"`
			Const struct {
				Expr  string  `json:"expr"`
				Value *string `json:"value"`
			} `json:"const"`
		}
		json.Unmarshal(data, &c)
		sig := "const " + name + ": " + r.typeName(c.Type)
		if c.Const.Value != nil {
			sig += " = " + *c.Const.Value
		} else if c.Const.Expr != "" && c.Const.Expr != "_" {
			sig += " = " + c.Const.Expr
		}
		return sig
	case "static":
		var s struct {
			Type      json.RawMessage `json:"type"`
			IsMutable bool            `json:"is_mutable"`
		}
		json.Unmarshal(data, &s)
		if s.IsMutable {
			return "static mut " + name + ": " + r.typeName(s.Type)
		}
		return "static " + name + ": " + r.typeName(s.Type)
	case "assoc_const":
		var c struct {
			Type  json.RawMessage `json:"type"`
			Value *string         `json:"value"`
		}
		json.Unmarshal(data, &c)
		sig := "const " + name + ": " + r.typeName(c.Type)
		if c.Value != nil {
			sig += " = " + *c.Value
		}
		return sig
	case "assoc_type":
		var t struct {
			Bounds json.RawMessage `json:"bounds"`
			Type   json.RawMessage `json:"type"`
		}
		json.Unmarshal(data, &t)
		sig := "type " + name
		if len(t.Bounds) > 0 && string(t.Bounds) != "[]" {
			sig += ": " + r.bounds(t.Bounds)
		}
		if len(t.Type) > 0 && string(t.Type) != "null" {
			sig += " = " + r.typeName(t.Type)
		}
		return sig
	case "macro":
		var src string
		if json.Unmarshal(data, &src) == nil && src != "" {
			return strings.TrimSpace(strings.SplitN(src, "\n", 2)[0])
		}
		return "macro_rules! " + name
	case "proc_macro":
		var pm struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(data, &pm); err == nil {
			switch pm.Kind {
			case "derive":
				return "#[derive(" + name + ")]"
			case "attr":
				return "#[" + name + "]"
			}
		}
		return name + "!()"
	case "primitive":
		return "primitive " + name
	case "variant":
		return r.variant(name, data)
	case "struct_field":
		return name + ": " + r.typeName(data)
	case "use":
		var u struct {
			Source string `json:"source"`
			Name   string `json:"name"`
			IsGlob bool   `json:"is_glob"`
		}
		if err := json.Unmarshal(data, &u); err != nil {
			return "use"
		}
		switch {
		case u.IsGlob:
			return "use " + u.Source + "::*"
		case u.Name != "" && !strings.HasSuffix(u.Source, "::"+u.Name) && u.Source != u.Name:
			return "use " + u.Source + " as " + u.Name
		}
		return "use " + u.Source
	case "impl":
		return r.implHeader(data)
	}
	return ""
}

func (r *renderer) variant(name string, data json.RawMessage) string {
	var v struct {
		Kind json.RawMessage `json:"kind"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return name
	}
	var unit string
	if json.Unmarshal(v.Kind, &unit) == nil {
		return name
	}
	var k struct {
		Tuple  []*uint32 `json:"tuple"`
		Struct *struct {
			Fields []uint32 `json:"fields"`
		} `json:"struct"`
	}
	if err := json.Unmarshal(v.Kind, &k); err != nil {
		return name
	}
	if k.Struct != nil {
		return name + " { .. }"
	}
	if k.Tuple != nil {
		return name + "(" + strings.TrimSuffix(strings.Repeat("_, ", len(k.Tuple)), ", ") + ")"
	}
	return name
}

// implHeader renders "impl<T> Trait for Type" or "impl Type".
func (r *renderer) implHeader(data json.RawMessage) string {
	var impl struct {
		Generics   json.RawMessage `json:"generics"`
		Trait      *rustdocPath    `json:"trait"`
		For        json.RawMessage `json:"for"`
		IsNegative bool            `json:"is_negative"`
		IsUnsafe   bool            `json:"is_unsafe"`
	}
	if err := json.Unmarshal(data, &impl); err != nil {
		return "impl"
	}
	var b strings.Builder
	if impl.IsUnsafe {
		b.WriteString("unsafe ")
	}
	b.WriteString("impl")
	b.WriteString(r.generics(impl.Generics))
	b.WriteString(" ")
	if impl.Trait != nil {
		if impl.IsNegative {
			b.WriteString("!")
		}
		b.WriteString(r.pathName(impl.Trait))
		b.WriteString(r.genericArgs(impl.Trait.Args))
		b.WriteString(" for ")
	}
	b.WriteString(r.typeName(impl.For))
	return b.String()
}
