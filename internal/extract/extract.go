// Package extract walks normalized parse trees and produces
// DocumentMetadata. Language support is a closed dispatch table: each
// supported language contributes a compiled tree-sitter query plus a few
// closures for the judgments a query cannot express (visibility, kind
// adjustment). Adding a language means adding a rule set to the table.
// Languages absent from the table degrade to empty metadata.
package extract

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/lattice-dev/lattice/internal/meta"
	"github.com/lattice-dev/lattice/internal/parse"
)

// RuleVersion participates in content fingerprints. Bump it whenever a
// query table changes, so stale cache entries computed under old rules
// can never satisfy a lookup.
const RuleVersion = "1"

// ruleSet holds the structural queries and per-language closures for one
// language. The compiled query is shared and goroutine-safe; compilation
// happens once on first use.
type ruleSet struct {
	lang     meta.LanguageTag
	querySrc string

	// exported reports whether a definition is visible outside its unit.
	exported func(name string, def *sitter.Node) bool

	// adjustKind lets a language reclassify a definition after matching,
	// e.g. a Rust function_item inside an impl block is a method.
	adjustKind func(kind meta.SymbolKind, def *sitter.Node) meta.SymbolKind

	// cleanImport normalizes a captured import source (strips quotes etc.).
	cleanImport func(raw string) string

	// enclosingDefs are the node types that name a caller for call sites.
	enclosingDefs map[string]bool

	once     sync.Once
	query    *sitter.Query
	queryErr error
}

// captureKinds maps definition capture names to symbol kinds.
var captureKinds = map[string]meta.SymbolKind{
	"definition.function":  meta.KindFunction,
	"definition.method":    meta.KindMethod,
	"definition.class":     meta.KindClass,
	"definition.type":      meta.KindType,
	"definition.interface": meta.KindInterface,
	"definition.variable":  meta.KindVariable,
	"definition.constant":  meta.KindConstant,
}

// rules is the closed dispatch table over LanguageTag.
var rules = map[meta.LanguageTag]*ruleSet{
	meta.LangGo:         goRules,
	meta.LangPython:     pythonRules,
	meta.LangJavaScript: javascriptRules,
	meta.LangTypeScript: typescriptRules,
	meta.LangRust:       rustRules,
}

// compiled returns the rule set's query, compiling it on first use.
func (rs *ruleSet) compiled() (*sitter.Query, error) {
	rs.once.Do(func() {
		grammar, ok := parse.Grammar(rs.lang)
		if !ok {
			rs.queryErr = &parse.ErrUnsupportedLanguage{Language: rs.lang}
			return
		}
		rs.query, rs.queryErr = sitter.NewQuery([]byte(rs.querySrc), grammar)
	})
	return rs.query, rs.queryErr
}

// Extract derives metadata from a normalized tree. Deterministic given
// the tree: captures are visited in document order and map writes keyed
// by symbol name keep the last occurrence. Unsupported languages return
// empty metadata, and a partial tree yields degraded (but usable) output.
func Extract(tree *parse.Tree) *meta.DocumentMetadata {
	md := meta.NewDocumentMetadata()
	md.Degraded = tree.Partial

	rs, ok := rules[tree.Language]
	if !ok {
		return md
	}
	query, err := rs.compiled()
	if err != nil {
		// A rule table that fails to compile is a programming error, but
		// a degraded unit beats a crashed batch.
		md.Degraded = true
		md.Extra = map[string]string{"extract_error": err.Error()}
		return md
	}

	source := tree.Source
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.Root())

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var container, nameNode, sourceNode, calleeNode, typeNode *sitter.Node
		var containerName string
		for _, c := range match.Captures {
			switch cname := query.CaptureNameForId(c.Index); cname {
			case "name":
				nameNode = c.Node
			case "source":
				sourceNode = c.Node
			case "callee":
				calleeNode = c.Node
			case "type":
				typeNode = c.Node
			default:
				container = c.Node
				containerName = cname
			}
		}

		switch {
		case strings.HasPrefix(containerName, "definition.") && nameNode != nil:
			rs.addDefinition(md, containerName, nameNode, container, source)
		case containerName == "reference.import" && sourceNode != nil:
			rs.addImport(md, sourceNode, source)
		case containerName == "reference.call" && calleeNode != nil:
			rs.addCall(md, calleeNode, source)
		case containerName == "reference.type" || typeNode != nil:
			if typeNode == nil {
				typeNode = container
			}
			addTypeRef(md, typeNode, source)
		}
	}

	pruneSelfTypeRefs(md)
	return md
}

func (rs *ruleSet) addDefinition(md *meta.DocumentMetadata, capture string, nameNode, def *sitter.Node, source []byte) {
	name := nameNode.Content(source)
	if name == "" {
		return
	}
	kind := captureKinds[capture]
	if rs.adjustKind != nil {
		kind = rs.adjustKind(kind, def)
	}

	vis := meta.Private
	if rs.exported(name, def) {
		vis = meta.Public
	}

	scopeFrom := def
	if scopeFrom == nil {
		scopeFrom = nameNode
	}
	pos := position(nameNode)
	md.Defined[name] = meta.SymbolInfo{
		Name:       name,
		Kind:       kind,
		Position:   pos,
		Scope:      rs.enclosingDef(scopeFrom, source),
		Visibility: vis,
	}
	if vis == meta.Public {
		md.Exported[name] = meta.ExportInfo{SymbolName: name, Kind: kind, Position: pos}
	}
}

func (rs *ruleSet) addImport(md *meta.DocumentMetadata, sourceNode *sitter.Node, source []byte) {
	raw := sourceNode.Content(source)
	path := raw
	if rs.cleanImport != nil {
		path = rs.cleanImport(raw)
	}
	if path == "" {
		return
	}
	name := importedName(path)
	md.Imported[name] = meta.ImportInfo{
		SymbolName: name,
		SourcePath: path,
		Kind:       "module",
		Position:   position(sourceNode),
	}
}

func (rs *ruleSet) addCall(md *meta.DocumentMetadata, calleeNode *sitter.Node, source []byte) {
	callee := calleeNode.Content(source)
	if callee == "" {
		return
	}
	md.Calls = append(md.Calls, meta.CallSite{
		Caller:   rs.enclosingDef(calleeNode, source),
		Callee:   callee,
		Position: position(calleeNode),
	})
}

func addTypeRef(md *meta.DocumentMetadata, node *sitter.Node, source []byte) {
	name := node.Content(source)
	if name == "" {
		return
	}
	md.TypeRefs = append(md.TypeRefs, meta.TypeRef{Name: name, Position: position(node)})
}

// enclosingDef walks up from a node to the nearest enclosing definition
// and returns its name, or "" at top level.
func (rs *ruleSet) enclosingDef(node *sitter.Node, source []byte) string {
	for cur := node.Parent(); cur != nil; cur = cur.Parent() {
		if !rs.enclosingDefs[cur.Type()] {
			continue
		}
		if nameNode := cur.ChildByFieldName("name"); nameNode != nil {
			return nameNode.Content(source)
		}
	}
	return ""
}

// pruneSelfTypeRefs drops type references that are really a definition's
// own name at the definition site.
func pruneSelfTypeRefs(md *meta.DocumentMetadata) {
	if len(md.TypeRefs) == 0 {
		return
	}
	kept := md.TypeRefs[:0]
	for _, tr := range md.TypeRefs {
		if sym, ok := md.Defined[tr.Name]; ok && sym.Position == tr.Position {
			continue
		}
		kept = append(kept, tr)
	}
	md.TypeRefs = kept
}

// importedName returns the trailing segment of an import path, which is
// the name the importing unit binds. Dots only separate segments in
// dotted module paths (no slashes), so "./api.js" keeps its extension.
func importedName(path string) string {
	p := strings.TrimRight(path, "/")
	if i := strings.LastIndex(p, "::"); i >= 0 {
		return p[i+2:]
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	if i := strings.LastIndex(p, "."); i >= 0 {
		return p[i+1:]
	}
	if p == "" {
		return path
	}
	return p
}

func position(n *sitter.Node) meta.Position {
	pt := n.StartPoint()
	return meta.Position{Line: int(pt.Row), Col: int(pt.Column)}
}

// hasAncestor reports whether any ancestor of n has the given node type.
func hasAncestor(n *sitter.Node, nodeType string) bool {
	for cur := n.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Type() == nodeType {
			return true
		}
	}
	return false
}

// trimQuotes strips one matching pair of string delimiters.
func trimQuotes(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"',
			s[0] == '\'' && s[len(s)-1] == '\'',
			s[0] == '`' && s[len(s)-1] == '`':
			return s[1 : len(s)-1]
		}
	}
	return s
}
