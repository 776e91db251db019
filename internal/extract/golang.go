package extract

import (
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/lattice-dev/lattice/internal/meta"
)

var goRules = &ruleSet{
	lang: meta.LangGo,
	querySrc: `
(function_declaration name: (identifier) @name) @definition.function
(method_declaration name: (field_identifier) @name) @definition.method
(type_declaration (type_spec name: (type_identifier) @name)) @definition.type
(const_declaration (const_spec name: (identifier) @name)) @definition.constant
(var_declaration (var_spec name: (identifier) @name)) @definition.variable
(import_spec path: (interpreted_string_literal) @source) @reference.import
(call_expression function: (identifier) @callee) @reference.call
(call_expression function: (selector_expression field: (field_identifier) @callee)) @reference.call
(type_identifier) @reference.type
`,
	exported: func(name string, _ *sitter.Node) bool {
		r, _ := utf8.DecodeRuneInString(name)
		return unicode.IsUpper(r)
	},
	cleanImport: trimQuotes,
	enclosingDefs: map[string]bool{
		"function_declaration": true,
		"method_declaration":   true,
	},
}
