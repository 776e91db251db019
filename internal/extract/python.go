package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/lattice-dev/lattice/internal/meta"
)

var pythonRules = &ruleSet{
	lang: meta.LangPython,
	querySrc: `
(class_definition name: (identifier) @name) @definition.class
(function_definition name: (identifier) @name) @definition.function
(import_statement name: (dotted_name) @source) @reference.import
(import_from_statement module_name: (dotted_name) @source) @reference.import
(call function: (identifier) @callee) @reference.call
(call function: (attribute attribute: (identifier) @callee)) @reference.call
`,
	exported: func(name string, _ *sitter.Node) bool {
		return !strings.HasPrefix(name, "_")
	},
	adjustKind: func(kind meta.SymbolKind, def *sitter.Node) meta.SymbolKind {
		if kind == meta.KindFunction && hasAncestor(def, "class_definition") {
			return meta.KindMethod
		}
		return kind
	},
	enclosingDefs: map[string]bool{
		"function_definition": true,
		"class_definition":    true,
	},
}
