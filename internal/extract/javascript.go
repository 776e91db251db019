package extract

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/lattice-dev/lattice/internal/meta"
)

var javascriptRules = &ruleSet{
	lang: meta.LangJavaScript,
	querySrc: `
(function_declaration name: (identifier) @name) @definition.function
(class_declaration name: (identifier) @name) @definition.class
(method_definition name: (property_identifier) @name) @definition.method
(lexical_declaration (variable_declarator name: (identifier) @name)) @definition.variable
(import_statement source: (string) @source) @reference.import
(call_expression function: (identifier) @callee) @reference.call
(call_expression function: (member_expression property: (property_identifier) @callee)) @reference.call
`,
	exported:      jsExported,
	cleanImport:   trimQuotes,
	enclosingDefs: jsEnclosingDefs,
}

// jsExported: a declaration is public when it sits under an export statement.
func jsExported(_ string, def *sitter.Node) bool {
	if def == nil {
		return false
	}
	return def.Type() == "export_statement" || hasAncestor(def, "export_statement")
}

var jsEnclosingDefs = map[string]bool{
	"function_declaration": true,
	"method_definition":    true,
	"class_declaration":    true,
}
