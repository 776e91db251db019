package extract

import (
	"github.com/lattice-dev/lattice/internal/meta"
)

// TypeScript shares most structure with JavaScript; the query adds the
// type-level declarations the JS grammar lacks. Name captures use
// wildcards because the TS grammar names class identifiers differently.
var typescriptRules = &ruleSet{
	lang: meta.LangTypeScript,
	querySrc: `
(function_declaration name: (_) @name) @definition.function
(class_declaration name: (_) @name) @definition.class
(method_definition name: (_) @name) @definition.method
(interface_declaration name: (_) @name) @definition.interface
(type_alias_declaration name: (_) @name) @definition.type
(enum_declaration name: (_) @name) @definition.type
(lexical_declaration (variable_declarator name: (identifier) @name)) @definition.variable
(import_statement source: (string) @source) @reference.import
(call_expression function: (identifier) @callee) @reference.call
(call_expression function: (member_expression property: (property_identifier) @callee)) @reference.call
(type_identifier) @reference.type
`,
	exported:      jsExported,
	cleanImport:   trimQuotes,
	enclosingDefs: jsEnclosingDefs,
}
