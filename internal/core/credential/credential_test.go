package credential

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	c, err := Generate()
	require.NoError(t, err)

	assert.Len(t, c.Hash, 64)
	assert.GreaterOrEqual(t, len(c.Plaintext), 43)
	assert.Equal(t, Hash(c.Plaintext), c.Hash)
	assert.True(t, Verify(c.Plaintext, c.Hash))
	assert.False(t, Verify(c.Plaintext+"x", c.Hash))
	assert.False(t, Verify(c.Hash, c.Hash))
}

func TestVerifyEmptyInputs(t *testing.T) {
	c, err := Generate()
	require.NoError(t, err)

	assert.False(t, Verify("", c.Hash))
	assert.False(t, Verify(c.Plaintext, ""))
	assert.False(t, Verify("", ""))
	assert.False(t, VerifyPtr(c.Plaintext, nil))
	assert.True(t, VerifyPtr(c.Plaintext, &c.Hash))
}

func TestGenerateIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		c, err := Generate()
		require.NoError(t, err)
		require.False(t, seen[c.Plaintext])
		seen[c.Plaintext] = true
	}
}

func TestCredentialFormattingRedactsPlaintext(t *testing.T) {
	c, err := Generate()
	require.NoError(t, err)

	for _, s := range []string{fmt.Sprint(c), fmt.Sprintf("%v", c), fmt.Sprintf("%#v", c), c.String()} {
		assert.False(t, strings.Contains(s, c.Plaintext), "plaintext leaked in %q", s)
	}
}
