// Package meta defines the analysis data model shared by the parser,
// extractor, graph, cache, and storage layers. Everything here is pure
// data: records are produced wholesale by extraction and never mutated
// in place; a changed source unit yields a brand-new DocumentMetadata.
package meta

import "sort"

// Identity names a source unit: a repo-relative path or a logical name.
// It is the graph node key and the unit of change notification.
type Identity string

// LanguageTag is the canonical language name for a source unit.
type LanguageTag string

const (
	LangGo         LanguageTag = "go"
	LangPython     LanguageTag = "python"
	LangJavaScript LanguageTag = "javascript"
	LangTypeScript LanguageTag = "typescript"
	LangRust       LanguageTag = "rust"

	// LangUnknown marks units whose language could not be determined.
	// They degrade to empty metadata rather than failing.
	LangUnknown LanguageTag = ""
)

// Position is a zero-based source location.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// SymbolKind classifies a defined symbol.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindType      SymbolKind = "type"
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindVariable  SymbolKind = "variable"
	KindConstant  SymbolKind = "constant"
	KindModule    SymbolKind = "module"
)

// Visibility is the declared or inferred visibility of a symbol.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// SymbolInfo describes a symbol defined in a document.
type SymbolInfo struct {
	Name       string     `json:"name"`
	Kind       SymbolKind `json:"kind"`
	Position   Position   `json:"position"`
	Scope      string     `json:"scope,omitempty"`
	Visibility Visibility `json:"visibility"`
}

// ImportInfo describes a symbol or module imported from another unit.
type ImportInfo struct {
	SymbolName string   `json:"symbol_name"`
	SourcePath string   `json:"source_path"`
	Kind       string   `json:"kind"` // "module" or "symbol"
	Position   Position `json:"position"`
}

// ExportInfo describes a symbol this unit makes visible to others.
type ExportInfo struct {
	SymbolName string     `json:"symbol_name"`
	Kind       SymbolKind `json:"kind"`
	Position   Position   `json:"position"`
}

// CallSite records a call made in a document. Resolution against an
// exporting unit happens later in the graph; Target stays empty until then.
type CallSite struct {
	Caller   string   `json:"caller,omitempty"` // enclosing definition, "" at top level
	Callee   string   `json:"callee"`
	Position Position `json:"position"`
	Resolved bool     `json:"resolved"`
	Target   Identity `json:"target,omitempty"`
}

// TypeRef records a reference to a named type.
type TypeRef struct {
	Name          string   `json:"name"`
	Position      Position `json:"position"`
	GenericParams []string `json:"generic_params,omitempty"`
}

// DocumentMetadata is the full structural summary of one source unit,
// derived deterministically from its parse tree. Degraded marks units
// whose tree was partial (recoverable parse failure); their metadata is
// best-effort but still usable downstream.
type DocumentMetadata struct {
	Defined  map[string]SymbolInfo `json:"defined"`
	Imported map[string]ImportInfo `json:"imported"`
	Exported map[string]ExportInfo `json:"exported"`
	Calls    []CallSite            `json:"calls,omitempty"`
	TypeRefs []TypeRef             `json:"type_refs,omitempty"`
	Extra    map[string]string     `json:"extra,omitempty"`
	Degraded bool                  `json:"degraded,omitempty"`
}

// NewDocumentMetadata returns an empty metadata record with maps allocated.
func NewDocumentMetadata() *DocumentMetadata {
	return &DocumentMetadata{
		Defined:  make(map[string]SymbolInfo),
		Imported: make(map[string]ImportInfo),
		Exported: make(map[string]ExportInfo),
	}
}

// ApproxSize estimates the metadata's memory footprint in bytes for
// cache accounting. String and slice payloads are counted exactly, map
// buckets and struct headers as a flat per-element overhead.
func (m *DocumentMetadata) ApproxSize() int {
	size := 96
	for name, s := range m.Defined {
		size += len(name) + len(s.Name) + len(s.Kind) + len(s.Scope) + len(s.Visibility) + 64
	}
	for name, imp := range m.Imported {
		size += len(name) + len(imp.SymbolName) + len(imp.SourcePath) + len(imp.Kind) + 64
	}
	for name, exp := range m.Exported {
		size += len(name) + len(exp.SymbolName) + len(exp.Kind) + 64
	}
	for _, c := range m.Calls {
		size += len(c.Caller) + len(c.Callee) + len(c.Target) + 48
	}
	for _, tr := range m.TypeRefs {
		size += len(tr.Name) + 32
		for _, p := range tr.GenericParams {
			size += len(p) + 16
		}
	}
	for k, v := range m.Extra {
		size += len(k) + len(v) + 32
	}
	return size
}

// ExportedNames returns the sorted names of exported symbols.
func (m *DocumentMetadata) ExportedNames() []string {
	names := make([]string, 0, len(m.Exported))
	for name := range m.Exported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ImportedNames returns the sorted names of imported symbols.
func (m *DocumentMetadata) ImportedNames() []string {
	names := make([]string, 0, len(m.Imported))
	for name := range m.Imported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortIdentities sorts a slice of identities lexicographically in place
// and returns it. Batch reconciliation and resolution tie-breaks rely on
// this ordering being stable across runs.
func SortIdentities(ids []Identity) []Identity {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
