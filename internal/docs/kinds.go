package docs

import (
	"github.com/goccy/go-json"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

// splitInner returns the single key of an item's inner object and its value.
// Inner is shaped like {"struct": {...}} or {"enum": {...}}.
func splitInner(inner json.RawMessage) (string, json.RawMessage, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(inner, &outer); err != nil {
		return "", nil, err
	}
	for k, v := range outer {
		return k, v, nil
	}
	return "", nil, errEmptyInner
}

// canonicalKind maps a rustdoc inner key to the canonical kind and the
// discriminator used in `kind@name` paths.
func canonicalKind(inner string, data json.RawMessage) (graph.Kind, string) {
	switch inner {
	case "module":
		return graph.KindModule, "mod"
	case "struct":
		return graph.KindType, "struct"
	case "enum":
		return graph.KindType, "enum"
	case "union":
		return graph.KindType, "union"
	case "type_alias":
		return graph.KindType, "tyalias"
	case "primitive":
		return graph.KindType, "prim"
	case "assoc_type":
		return graph.KindType, "type"
	case "extern_type":
		return graph.KindType, "foreigntype"
	case "trait":
		return graph.KindTrait, "trait"
	case "trait_alias":
		return graph.KindTrait, "traitalias"
	case "function":
		return graph.KindFunction, "fn"
	case "constant", "assoc_const":
		return graph.KindConstant, "const"
	case "static":
		return graph.KindConstant, "static"
	case "macro":
		return graph.KindMacro, "macro"
	case "proc_macro":
		var pm struct {
			Kind string `json:"kind"`
		}
		// A body that does not decode reads as a function-like macro.
		if err := json.Unmarshal(data, &pm); err == nil {
			switch pm.Kind {
			case "derive":
				return graph.KindMacro, "derive"
			case "attr":
				return graph.KindMacro, "attr"
			}
		}
		return graph.KindMacro, "macro"
	case "use":
		return graph.KindReexport, "use"
	case "impl":
		return graph.KindTraitImpl, "impl"
	case "variant":
		return graph.KindOther, "variant"
	case "struct_field":
		return graph.KindOther, "field"
	}
	return graph.KindOther, "item"
}

// summaryDiscriminator maps the kind names of the paths table.
func summaryDiscriminator(kind string) string {
	switch kind {
	case "module":
		return "mod"
	case "function":
		return "fn"
	case "type_alias":
		return "tyalias"
	case "constant", "assoc_const":
		return "const"
	case "trait_alias":
		return "traitalias"
	case "proc_attribute":
		return "attr"
	case "proc_derive":
		return "derive"
	case "assoc_type":
		return "type"
	case "primitive":
		return "prim"
	case "struct_field":
		return "field"
	}
	return kind
}
