package captoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMint(t *testing.T) {
	t.Parallel()

	token, hash, err := Mint()
	require.NoError(t, err)
	assert.Len(t, token, 43)
	assert.Len(t, hash, 64)
	assert.NotEqual(t, token, hash)
	assert.True(t, Matches(hash, token))

	other, _, err := Mint()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
	assert.False(t, Matches(hash, other))
}

func TestMatches_EmptyInputs(t *testing.T) {
	t.Parallel()

	assert.False(t, Matches("", ""))
	assert.False(t, Matches(Hash("x"), ""))
	assert.False(t, Matches("", "x"))
}
