package safeyaml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func TestDecode(t *testing.T) {
	d := NewDecoder(DefaultLimits())

	var s server
	require.NoError(t, d.Decode([]byte("host: localhost\nport: 8080\n"), &s))
	assert.Equal(t, server{Host: "localhost", Port: 8080}, s)

	s = server{Host: "kept"}
	require.NoError(t, d.Decode(nil, &s))
	assert.Equal(t, "kept", s.Host)
}

func TestDecode_Limits(t *testing.T) {
	limits := Limits{MaxBytes: 64, MaxDepth: 2, MaxNodes: 8, MaxKeyBytes: 8}

	tests := []struct {
		name string
		yaml string
	}{
		{"too large", "host: " + strings.Repeat("x", 80)},
		{"too deep", "a:\n  b:\n    c: 1\n"},
		{"too many nodes", "[1, 2, 3, 4, 5, 6, 7, 8, 9]"},
		{"key too long", "averylongkey: 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v any
			err := NewDecoder(limits).Decode([]byte(tt.yaml), &v)
			assert.ErrorIs(t, err, ErrLimitExceeded)
		})
	}
}

func TestDecode_AliasExpansion(t *testing.T) {
	doc := `
a: &a [x, x, x, x]
b: &b [*a, *a, *a, *a]
c: [*b, *b, *b, *b]
`
	limits := DefaultLimits()
	limits.MaxNodes = 50
	var v any
	err := NewDecoder(limits).Decode([]byte(doc), &v)
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestDecode_KnownFields(t *testing.T) {
	var s server
	err := NewDecoder(DefaultLimits()).Decode([]byte("host: a\nprot: 1\n"), &s)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLimitExceeded)

	lenient := DefaultLimits()
	lenient.KnownFields = false
	require.NoError(t, NewDecoder(lenient).Decode([]byte("host: a\nprot: 1\n"), &s))
}

func TestDecodeReader(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxBytes = 16

	var s server
	err := NewDecoder(limits).DecodeReader(strings.NewReader("host: "+strings.Repeat("y", 64)), &s)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	require.NoError(t, NewDecoder(limits).DecodeReader(strings.NewReader("port: 1"), &s))
	assert.Equal(t, 1, s.Port)
}
