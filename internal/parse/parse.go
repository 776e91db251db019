// Package parse adapts tree-sitter into the narrow parsing contract the
// rest of the engine depends on. No tree-sitter types leak past Tree and
// its accessors; the extractor receives a normalized tree and never
// constructs parsers itself.
package parse

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/lattice-dev/lattice/internal/meta"
)

// Tree is a normalized parse result: the syntax tree plus the source it
// was parsed from. Partial reports whether the tree contains error nodes
// from tree-sitter's error recovery; a partial tree is still valid input
// for extraction, just best-effort.
type Tree struct {
	Language meta.LanguageTag
	Source   []byte
	Partial  bool

	tree *sitter.Tree
}

// Root returns the root syntax node.
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Close releases the underlying tree. Safe to call more than once.
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}

// Failure is a recoverable parse failure. When the parser recovered
// enough to produce a partial tree it rides along so the caller can
// extract degraded metadata instead of dropping the unit.
type Failure struct {
	Language   meta.LanguageTag
	Diagnostic string
	Partial    *Tree
}

func (f *Failure) Error() string {
	return fmt.Sprintf("parse %s: %s", f.Language, f.Diagnostic)
}

// ErrUnsupportedLanguage is returned for language tags without a grammar.
type ErrUnsupportedLanguage struct {
	Language meta.LanguageTag
}

func (e *ErrUnsupportedLanguage) Error() string {
	return fmt.Sprintf("unsupported language %q", e.Language)
}

// Adapter parses source text into normalized trees. Each goroutine must
// use its own Adapter: tree-sitter parsers are not safe for concurrent
// use, but constructing one is cheap.
type Adapter struct {
	parser *sitter.Parser
}

// NewAdapter creates a parser adapter.
func NewAdapter() *Adapter {
	return &Adapter{parser: sitter.NewParser()}
}

// Parse turns content into a normalized tree. On syntax errors it returns
// a *Failure carrying a best-effort partial tree alongside a diagnostic;
// the tree in the failure must still be Closed by the caller.
func (a *Adapter) Parse(ctx context.Context, content []byte, lang meta.LanguageTag) (*Tree, error) {
	grammar, ok := Grammar(lang)
	if !ok {
		return nil, &ErrUnsupportedLanguage{Language: lang}
	}
	a.parser.SetLanguage(grammar)

	st, err := a.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lang, err)
	}

	tree := &Tree{Language: lang, Source: content, tree: st}
	root := st.RootNode()
	if root.HasError() {
		tree.Partial = true
		return nil, &Failure{
			Language:   lang,
			Diagnostic: firstErrorDiagnostic(root, content),
			Partial:    tree,
		}
	}
	return tree, nil
}

// firstErrorDiagnostic walks the tree for the first ERROR or missing node
// and describes its location.
func firstErrorDiagnostic(root *sitter.Node, source []byte) string {
	cursor := sitter.NewTreeCursor(root)
	defer cursor.Close()

	var found *sitter.Node
	var walk func() bool
	walk = func() bool {
		n := cursor.CurrentNode()
		if n.IsError() || n.IsMissing() {
			found = n
			return true
		}
		if cursor.GoToFirstChild() {
			for {
				if walk() {
					return true
				}
				if !cursor.GoToNextSibling() {
					break
				}
			}
			cursor.GoToParent()
		}
		return false
	}
	walk()

	if found == nil {
		return "syntax error"
	}
	pt := found.StartPoint()
	return fmt.Sprintf("syntax error at line %d, col %d", pt.Row+1, pt.Column+1)
}
