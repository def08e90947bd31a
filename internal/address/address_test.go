package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and trims", "  123 Main St  ", "123 main st"},
		{"collapses whitespace", "123\tMain\n\nSt", "123 main st"},
		{"drops separators", "123 Main St., Springfield, IL 62704", "123 main st springfield il 62704"},
		{"strips html remnants", "123 Main St<wbr><span></span>", "123 main st"},
		{"unit marker", "10 Elm Ave #4", "10 elm ave 4"},
		{"empty", "", ""},
		{"only punctuation", " ,.# ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestHashEquivalentSpellingsCollide(t *testing.T) {
	h := NewHasher("")
	a, err := h.Hash("123 Main St, Springfield, IL")
	require.NoError(t, err)
	b, err := h.Hash("  123 MAIN ST  springfield   il ")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "main")
}

func TestHashDistinctAddressesDiffer(t *testing.T) {
	h := NewHasher("")
	a, _ := h.Hash("123 Main St, Springfield, IL")
	b, _ := h.Hash("125 Main St, Springfield, IL")
	assert.NotEqual(t, a, b)
}

func TestHashPepperChangesDigest(t *testing.T) {
	plain, err := NewHasher("").Hash("123 Main St")
	require.NoError(t, err)
	peppered, err := NewHasher("s3cret").Hash("123 Main St")
	require.NoError(t, err)
	assert.NotEqual(t, plain, peppered)
	assert.Len(t, peppered, 64)
}

func TestHashRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", ",,,"} {
		_, err := NewHasher("").Hash(in)
		assert.ErrorIs(t, err, ErrEmptyAddress)
	}
}

func TestCoarsen(t *testing.T) {
	assert.Equal(t, 39.7817, Coarsen(39.781712, 4))
	assert.Equal(t, -89.65, Coarsen(-89.649987, 3))
	assert.Equal(t, 40.0, Coarsen(39.6, 0))
	assert.Equal(t, 40.0, Coarsen(39.6, -2))
}

func TestValidCoordinate(t *testing.T) {
	assert.True(t, ValidCoordinate(39.78, -89.65))
	assert.True(t, ValidCoordinate(0, 0))
	assert.False(t, ValidCoordinate(91, 0))
	assert.False(t, ValidCoordinate(0, -181))
}

func TestZipRoute(t *testing.T) {
	assert.Equal(t, "62704C045", ZipRoute("62704", "c045"))
	assert.Equal(t, "62704C045", ZipRoute("62704-1234", "C045"))

	zip, route, ok := SplitZipRoute("62704c045")
	require.True(t, ok)
	assert.Equal(t, "62704", zip)
	assert.Equal(t, "C045", route)

	_, _, ok = SplitZipRoute("C045")
	assert.False(t, ok)
}
