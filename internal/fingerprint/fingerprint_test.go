package fingerprint

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/meta"
)

func TestNew_Deterministic(t *testing.T) {
	t.Parallel()
	cfg := Config{RuleVersion: "v1", Languages: []string{"go", "python"}}

	a := New([]byte("package main"), meta.LangGo, cfg)
	b := New([]byte("package main"), meta.LangGo, cfg)
	assert.Equal(t, a, b)
}

func TestNew_ContentSensitive(t *testing.T) {
	t.Parallel()
	cfg := Config{RuleVersion: "v1"}

	a := New([]byte("package main"), meta.LangGo, cfg)
	b := New([]byte("package main\n"), meta.LangGo, cfg)
	assert.NotEqual(t, a, b)
}

func TestNew_ConfigAndLanguageSensitive(t *testing.T) {
	t.Parallel()
	content := []byte("x = 1")

	base := New(content, meta.LangPython, Config{RuleVersion: "v1"})
	otherRules := New(content, meta.LangPython, Config{RuleVersion: "v2"})
	otherLang := New(content, meta.LangJavaScript, Config{RuleVersion: "v1"})

	assert.NotEqual(t, base, otherRules)
	assert.NotEqual(t, base, otherLang)
}

func TestNew_LanguageOrderIrrelevant(t *testing.T) {
	t.Parallel()
	content := []byte("fn main() {}")

	a := New(content, meta.LangRust, Config{RuleVersion: "v1", Languages: []string{"go", "rust"}})
	b := New(content, meta.LangRust, Config{RuleVersion: "v1", Languages: []string{"rust", "go"}})
	assert.Equal(t, a, b)
}

func TestNew_NoCollisionsOverCorpus(t *testing.T) {
	t.Parallel()
	cfg := Config{RuleVersion: "v1"}
	seen := make(map[Fingerprint]string, 5000)
	for i := 0; i < 5000; i++ {
		content := fmt.Sprintf("unit-%d\ncontent body %d\n", i, i*7)
		f := New([]byte(content), meta.LangGo, cfg)
		prev, dup := seen[f]
		require.False(t, dup, "collision between %q and %q", prev, content)
		seen[f] = content
	}
}

func TestHexParseRoundTrip(t *testing.T) {
	t.Parallel()
	f := New([]byte("roundtrip"), meta.LangGo, Config{RuleVersion: "v1"})

	parsed, err := Parse(f.Hex())
	require.NoError(t, err)
	assert.Equal(t, f, parsed)

	_, err = Parse("zz")
	assert.Error(t, err)
	_, err = Parse("abcd")
	assert.Error(t, err)
}

func TestShort(t *testing.T) {
	t.Parallel()
	f := New([]byte("short"), meta.LangGo, Config{})
	assert.Len(t, f.Short(), 12)
	assert.Equal(t, f.Hex()[:12], f.Short())
}

func TestZero(t *testing.T) {
	t.Parallel()
	assert.True(t, Zero.IsZero())
	assert.False(t, New(nil, meta.LangUnknown, Config{}).IsZero())
}

func TestDerive_OrderIndependent(t *testing.T) {
	t.Parallel()
	cfg := Config{RuleVersion: "v1"}
	base := New([]byte("base"), meta.LangGo, cfg)
	x := New([]byte("x"), meta.LangGo, cfg)
	y := New([]byte("y"), meta.LangGo, cfg)

	a := Derive("edges", base, x, y)
	b := Derive("edges", base, y, x)
	assert.Equal(t, a, b)

	// A different label or base produces a different derived key.
	assert.NotEqual(t, a, Derive("other", base, x, y))
	assert.NotEqual(t, a, Derive("edges", x, base, y))
}
