package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/lattice-dev/lattice/internal/meta"
)

var rustRules = &ruleSet{
	lang: meta.LangRust,
	querySrc: `
(function_item name: (identifier) @name) @definition.function
(struct_item name: (type_identifier) @name) @definition.type
(enum_item name: (type_identifier) @name) @definition.type
(trait_item name: (type_identifier) @name) @definition.interface
(const_item name: (identifier) @name) @definition.constant
(use_declaration argument: (_) @source) @reference.import
(call_expression function: (identifier) @callee) @reference.call
(call_expression function: (field_expression field: (field_identifier) @callee)) @reference.call
(call_expression function: (scoped_identifier name: (identifier) @callee)) @reference.call
(type_identifier) @reference.type
`,
	exported: func(_ string, def *sitter.Node) bool {
		if def == nil {
			return false
		}
		for i := 0; i < int(def.ChildCount()); i++ {
			if def.Child(i).Type() == "visibility_modifier" {
				return true
			}
		}
		return false
	},
	adjustKind: func(kind meta.SymbolKind, def *sitter.Node) meta.SymbolKind {
		if kind == meta.KindFunction && hasAncestor(def, "impl_item") {
			return meta.KindMethod
		}
		return kind
	},
	cleanImport: func(raw string) string {
		// "use foo::bar::{a, b}" captures "foo::bar::{a, b}"; keep the
		// module path up to any brace group.
		if i := strings.Index(raw, "::{"); i >= 0 {
			return raw[:i]
		}
		return strings.TrimSuffix(raw, ";")
	},
	enclosingDefs: map[string]bool{
		"function_item": true,
	},
}
