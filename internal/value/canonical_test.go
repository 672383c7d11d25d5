package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool", Bool(true), "true"},
		{"null", Null{}, "null"},
		{"nil", nil, "null"},
		{"empty list", List{}, "[]"},
		{"empty map", Map{}, "{}"},
		{"list", List{Int(1), String("a"), Bool(false)}, `[1,"a",false]`},
		{"native map", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{"no html escaping", String("<a&b>"), `"<a&b>"`},
		{"cleared property", Map{"title": Null{}}, `{"title":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonical_SortsKeysByUTF16(t *testing.T) {
	// U+1F600 encodes as a surrogate pair starting 0xD83D, which sorts before
	// U+FF21 in UTF-16 even though its UTF-8 bytes sort after.
	m := Map{"\uFF21": Int(1), "\U0001F600": Int(2)}

	got, err := MarshalCanonical(m)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFF21\":1}", string(got))
}

func TestMarshalCanonical_NormalizesNFC(t *testing.T) {
	decomposed := "e\u0301"
	got, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonical_LineSeparatorsStayLiteral(t *testing.T) {
	got, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(got))
}

func TestMarshalCanonical_EscapedBackslashBeforeU2028Text(t *testing.T) {
	// a literal backslash followed by the text "u2028" must stay escaped
	got, err := MarshalCanonical(String(`\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(got))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"ratio": 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not supported")
}

func TestDigest_Deterministic(t *testing.T) {
	a, err := Digest(DomainObject, Map{"x": Int(1), "y": String("z")})
	require.NoError(t, err)
	b, err := Digest(DomainObject, Map{"y": String("z"), "x": Int(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDigest_DomainSeparation(t *testing.T) {
	v := Map{"x": Int(1)}
	a, err := Digest(DomainObject, v)
	require.NoError(t, err)
	b, err := Digest(DomainChangeSet, v)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
