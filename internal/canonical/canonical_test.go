package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	data, err := Marshal(map[string]any{
		"suite":  "complex_unit",
		"passed": true,
		"count":  2,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"count":2,"passed":true,"suite":"complex_unit"}`, string(data))
}

func TestMarshalNested(t *testing.T) {
	data, err := Marshal(map[string]any{
		"order": []string{"a.mon", "b.mon"},
		"evidence": []any{
			map[string]any{"line": 3, "text": "x ERROR y"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"evidence":[{"line":3,"text":"x ERROR y"}],"order":["a.mon","b.mon"]}`, string(data))
}

func TestMarshalNoHTMLEscape(t *testing.T) {
	data, err := Marshal("<a & b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(data))
}

func TestMarshalEscapesControlCharacters(t *testing.T) {
	data, err := Marshal("tab\there\x01\"q\"\\")
	require.NoError(t, err)
	assert.Equal(t, `"tab\there\u0001\"q\"\\"`, string(data))
}

func TestMarshalLineSeparatorsLiteral(t *testing.T) {
	data, err := Marshal("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(data))
}

func TestMarshalNFCNormalizes(t *testing.T) {
	// "e" followed by a combining acute accent normalizes to U+00E9.
	data, err := Marshal("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(data))
}

func TestMarshalRejectsFloatsAndNull(t *testing.T) {
	_, err := Marshal(1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = Marshal(map[string]any{"k": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")
}

func TestMarshalRejectsUnsupported(t *testing.T) {
	_, err := Marshal(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestSortedKeysUTF16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...), which sorts before
	// U+FF21 (0xFF21) in UTF-16 even though its UTF-8 bytes sort after.
	keys := SortedKeys(map[string]int{"\uFF21": 1, "\U0001F600": 2, "a": 3})
	assert.Equal(t, []string{"a", "\U0001F600", "\uFF21"}, keys)
}

func TestDigestDomainSeparation(t *testing.T) {
	data := []byte("monitor M {}")
	a := Digest(DomainArtifact, data)
	e := Digest(DomainEvidence, data)
	assert.NotEqual(t, a, e)
	assert.Len(t, a, 64)
	assert.Equal(t, a, ArtifactDigest(data))
}

func TestEvidenceFingerprintStable(t *testing.T) {
	f1, err := EvidenceFingerprint("b.mon", "2026 ERROR [engine] boom")
	require.NoError(t, err)
	f2, err := EvidenceFingerprint("b.mon", "2026 ERROR [engine] boom")
	require.NoError(t, err)
	f3, err := EvidenceFingerprint("a.mon", "2026 ERROR [engine] boom")
	require.NoError(t, err)

	assert.Equal(t, f1, f2)
	assert.NotEqual(t, f1, f3)
}
