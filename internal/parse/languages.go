package parse

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/lattice-dev/lattice/internal/meta"
)

// extToLanguage maps file extensions to canonical language tags.
var extToLanguage = map[string]meta.LanguageTag{
	".go":  meta.LangGo,
	".py":  meta.LangPython,
	".js":  meta.LangJavaScript,
	".jsx": meta.LangJavaScript,
	".mjs": meta.LangJavaScript,
	".ts":  meta.LangTypeScript,
	".tsx": meta.LangTypeScript,
	".rs":  meta.LangRust,
}

// langToGrammar maps language tags to tree-sitter grammars.
// Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[meta.LanguageTag]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[meta.LanguageTag]*sitter.Language{
			meta.LangGo:         golang.GetLanguage(),
			meta.LangPython:     python.GetLanguage(),
			meta.LangJavaScript: javascript.GetLanguage(),
			meta.LangTypeScript: ts.GetLanguage(),
			meta.LangRust:       rust.GetLanguage(),
		}
	})
}

// LanguageForFile returns the language tag for a file path based on its
// extension. Returns (LangUnknown, false) if the extension is not recognized.
func LanguageForFile(path string) (meta.LanguageTag, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// Grammar returns the tree-sitter grammar for a language tag.
// Returns (nil, false) if the language is not supported.
func Grammar(lang meta.LanguageTag) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}

// SupportedLanguages returns the tags of every language the adapter can parse.
func SupportedLanguages() []meta.LanguageTag {
	initGrammars()
	tags := make([]meta.LanguageTag, 0, len(langToGrammar))
	for tag := range langToGrammar {
		tags = append(tags, tag)
	}
	return tags
}
