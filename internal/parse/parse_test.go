package parse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/meta"
)

func TestLanguageForFile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		lang meta.LanguageTag
		ok   bool
	}{
		{"main.go", meta.LangGo, true},
		{"src/app.py", meta.LangPython, true},
		{"web/index.js", meta.LangJavaScript, true},
		{"web/app.tsx", meta.LangTypeScript, true},
		{"lib.rs", meta.LangRust, true},
		{"README.md", meta.LangUnknown, false},
		{"Makefile", meta.LangUnknown, false},
	}
	for _, tt := range tests {
		lang, ok := LanguageForFile(tt.path)
		assert.Equal(t, tt.lang, lang, tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
	}
}

func TestParse_ValidGo(t *testing.T) {
	t.Parallel()
	a := NewAdapter()

	tree, err := a.Parse(context.Background(), []byte("package main\n\nfunc main() {}\n"), meta.LangGo)
	require.NoError(t, err)
	defer tree.Close()

	assert.False(t, tree.Partial)
	assert.Equal(t, "source_file", tree.Root().Type())
}

func TestParse_UnsupportedLanguage(t *testing.T) {
	t.Parallel()
	a := NewAdapter()

	_, err := a.Parse(context.Background(), []byte("whatever"), meta.LanguageTag("cobol"))
	require.Error(t, err)

	var unsupported *ErrUnsupportedLanguage
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, meta.LanguageTag("cobol"), unsupported.Language)
}

func TestParse_MalformedReturnsPartialTree(t *testing.T) {
	t.Parallel()
	a := NewAdapter()

	_, err := a.Parse(context.Background(), []byte("package main\n\nfunc broken( {\n"), meta.LangGo)
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, meta.LangGo, failure.Language)
	assert.Contains(t, failure.Diagnostic, "syntax error")

	// The partial tree is usable for degraded extraction.
	require.NotNil(t, failure.Partial)
	defer failure.Partial.Close()
	assert.True(t, failure.Partial.Partial)
	assert.NotNil(t, failure.Partial.Root())
}

func TestParse_AdapterReusableAcrossLanguages(t *testing.T) {
	t.Parallel()
	a := NewAdapter()

	goTree, err := a.Parse(context.Background(), []byte("package p\n"), meta.LangGo)
	require.NoError(t, err)
	goTree.Close()

	pyTree, err := a.Parse(context.Background(), []byte("x = 1\n"), meta.LangPython)
	require.NoError(t, err)
	defer pyTree.Close()

	assert.Equal(t, meta.LangPython, pyTree.Language)
}

func TestTreeClose_Idempotent(t *testing.T) {
	t.Parallel()
	a := NewAdapter()
	tree, err := a.Parse(context.Background(), []byte("package p\n"), meta.LangGo)
	require.NoError(t, err)
	tree.Close()
	tree.Close()
}
