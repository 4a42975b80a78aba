package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocale(t *testing.T) {
	for _, in := range []string{"ru", "EN", " de ", "ja", "ko"} {
		loc, err := ParseLocale(in)
		require.NoError(t, err, in)
		assert.NotEmpty(t, loc)
	}

	loc, err := ParseLocale("EN")
	require.NoError(t, err)
	assert.Equal(t, Locale("en"), loc)

	_, err = ParseLocale("en-US")
	assert.Error(t, err)

	_, err = ParseLocale("not a locale")
	assert.Error(t, err)
}

func TestFlatRowDepth(t *testing.T) {
	var r FlatRow
	assert.Equal(t, 0, r.Depth())

	r.Equipment[0] = ID(1)
	r.Equipment[1] = ID(2)
	assert.Equal(t, 2, r.Depth())
}

func TestDropTypeValid(t *testing.T) {
	assert.True(t, DropMaterial.Valid())
	assert.True(t, DropRune.Valid())
	assert.False(t, DropType("potion").Valid())
}
