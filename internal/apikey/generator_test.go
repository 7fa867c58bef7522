package apikey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	raw, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, KeyPrefix))
	assert.Len(t, raw, RawKeyLength)
	assert.True(t, ValidFormat(raw))
}

func TestGenerateKey_NoCollisions(t *testing.T) {
	const n = 10000

	hashes := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		raw, err := GenerateKey()
		require.NoError(t, err)

		h := HashKey(raw)
		_, dup := hashes[h]
		require.False(t, dup, "hash collision after %d keys", i)
		hashes[h] = struct{}{}
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	raw, err := GenerateKey()
	require.NoError(t, err)

	assert.Equal(t, HashKey(raw), HashKey(raw))
	assert.Len(t, HashKey(raw), 64)
	assert.NotEqual(t, raw, HashKey(raw))
}

func TestDisplayPrefix(t *testing.T) {
	raw, err := GenerateKey()
	require.NoError(t, err)

	prefix := DisplayPrefix(raw)
	assert.Len(t, prefix, DisplayPrefixLength)
	assert.True(t, strings.HasPrefix(raw, prefix))

	assert.Equal(t, "tk_short", DisplayPrefix("tk_short"))
}

func TestValidFormat(t *testing.T) {
	valid, err := GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "generated key", raw: valid, want: true},
		{name: "empty", raw: "", want: false},
		{name: "missing prefix", raw: strings.TrimPrefix(valid, KeyPrefix), want: false},
		{name: "wrong prefix", raw: "sk_" + valid[len(KeyPrefix):], want: false},
		{name: "too short", raw: KeyPrefix + "abcdef", want: false},
		{name: "too long", raw: valid + "00", want: false},
		{name: "non-hex body", raw: valid[:len(valid)-1] + "Z", want: false},
		{name: "uppercase hex rejected", raw: valid[:len(valid)-1] + "A", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidFormat(tt.raw))
		})
	}
}

func TestHashEquals(t *testing.T) {
	h := HashKey("tk_x")
	assert.True(t, HashEquals(h, HashKey("tk_x")))
	assert.False(t, HashEquals(h, HashKey("tk_y")))
}
