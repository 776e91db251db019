// Package fingerprint computes stable content hashes used as cache and
// graph keys. Equal inputs always produce equal fingerprints; the whole
// caching layer leans on that, so everything here is deterministic and
// side-effect free.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/lattice-dev/lattice/internal/meta"
)

// Size is the fingerprint width in bytes.
const Size = sha256.Size

// Fingerprint is a fixed-width content hash. It is a value type: usable
// as a map key and comparable with ==.
type Fingerprint [Size]byte

// Zero is the all-zero fingerprint, used as the "absent" sentinel.
var Zero Fingerprint

// Hex returns the full lowercase hex encoding.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, for logs and CLI output.
func (f Fingerprint) Short() string {
	return f.Hex()[:12]
}

// IsZero reports whether f is the absent sentinel.
func (f Fingerprint) IsZero() bool {
	return f == Zero
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return f.Short()
}

// Parse decodes a full hex fingerprint as produced by Hex.
func Parse(s string) (Fingerprint, error) {
	var f Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse fingerprint: %w", err)
	}
	if len(b) != Size {
		return Zero, fmt.Errorf("parse fingerprint: got %d bytes, want %d", len(b), Size)
	}
	copy(f[:], b)
	return f, nil
}

// Config is the configuration snapshot mixed into every content hash.
// Two runs with different extraction rules must not share cache entries,
// so the rule version and language set participate in the fingerprint.
type Config struct {
	// RuleVersion changes whenever extraction query tables change shape.
	RuleVersion string

	// Languages is the enabled language filter, nil meaning all.
	Languages []string
}

// canonical returns a stable textual form of the snapshot.
func (c Config) canonical() string {
	langs := make([]string, len(c.Languages))
	copy(langs, c.Languages)
	sort.Strings(langs)
	return "rules=" + c.RuleVersion + ";langs=" + strings.Join(langs, ",")
}

// New hashes content together with the language tag and configuration
// snapshot. Pure and total: any byte sequence is hashable.
func New(content []byte, lang meta.LanguageTag, cfg Config) Fingerprint {
	h := sha256.New()
	h.Write([]byte("lang:" + string(lang) + "\n"))
	h.Write([]byte("cfg:" + cfg.canonical() + "\n"))
	h.Write(content)
	var f Fingerprint
	h.Sum(f[:0])
	return f
}

// Derive combines a base fingerprint with others into a new one, used
// for derived artifacts such as a document's resolved edge set (which
// depends on the document and every exporter it resolved against).
// Inputs are sorted so argument order does not matter.
func Derive(label string, base Fingerprint, others ...Fingerprint) Fingerprint {
	sorted := make([]Fingerprint, len(others))
	copy(sorted, others)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].Hex(), sorted[j].Hex()) < 0
	})

	h := sha256.New()
	h.Write([]byte("derive:" + label + "\n"))
	h.Write(base[:])
	for _, o := range sorted {
		h.Write(o[:])
	}
	var f Fingerprint
	h.Sum(f[:0])
	return f
}
