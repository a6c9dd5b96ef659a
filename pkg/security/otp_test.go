package security

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func TestGenerateOTP_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateOTP()
		require.NoError(t, err)
		assert.Regexp(t, sixDigits, code)
	}
}

func TestGenerateOTP_Varies(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateOTP()
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 40)
}

func TestEqualCodes(t *testing.T) {
	assert.True(t, EqualCodes("012345", "012345"))
	assert.False(t, EqualCodes("012345", "12345"))
	assert.False(t, EqualCodes("012345", "012346"))
}

func TestGenerateSecret_Base32(t *testing.T) {
	s, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, s, 32)
	assert.Regexp(t, `^[A-Z2-7]+$`, s)
}
