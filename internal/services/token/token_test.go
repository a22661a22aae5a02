package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesWellFormedTokens(t *testing.T) {
	codec, err := NewCodec("test-salt")
	require.NoError(t, err)

	plaintext, keyID, err := codec.Generate(EnvironmentLive)
	require.NoError(t, err)

	assert.NoError(t, CheckFormat(plaintext))
	assert.True(t, strings.HasPrefix(plaintext, "kg_live_"))
	assert.NotEmpty(t, keyID)
	assert.NotContains(t, keyID, plaintext)
}

func TestGenerateDefaultsToLive(t *testing.T) {
	codec, err := NewCodec("test-salt")
	require.NoError(t, err)

	plaintext, _, err := codec.Generate("")
	require.NoError(t, err)
	assert.Equal(t, EnvironmentLive, Environment(plaintext))
}

func TestGenerateRejectsUnknownEnvironment(t *testing.T) {
	codec, err := NewCodec("test-salt")
	require.NoError(t, err)

	_, _, err = codec.Generate("staging")
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestHashIsDeterministic(t *testing.T) {
	codec, err := NewCodec("test-salt")
	require.NoError(t, err)

	plaintext, _, err := codec.Generate(EnvironmentTest)
	require.NoError(t, err)

	first := codec.Hash(plaintext)
	second := codec.Hash(plaintext)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestHashDependsOnSalt(t *testing.T) {
	codecA, err := NewCodec("salt-a")
	require.NoError(t, err)
	codecB, err := NewCodec("salt-b")
	require.NoError(t, err)

	assert.NotEqual(t, codecA.Hash("kg_live_abc"), codecB.Hash("kg_live_abc"))
}

func TestDistinctTokensNeverCollide(t *testing.T) {
	codec, err := NewCodec("test-salt")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for range 1000 {
		plaintext, _, err := codec.Generate(EnvironmentLive)
		require.NoError(t, err)

		digest := codec.Hash(plaintext)
		assert.False(t, seen[digest], "digest collision for %s", plaintext)
		seen[digest] = true
	}
}

// The base64url alphabet includes the segment separator, so roughly half of
// all mints carry an underscore in the random segment. Every one of them must
// still parse.
func TestGeneratedTokensAlwaysRoundTripCheckFormat(t *testing.T) {
	codec, err := NewCodec("test-salt")
	require.NoError(t, err)

	for _, env := range []string{EnvironmentLive, EnvironmentTest} {
		for range 2000 {
			plaintext, _, err := codec.Generate(env)
			require.NoError(t, err)
			require.NoError(t, CheckFormat(plaintext), "minted token %s rejected", plaintext)
			require.Equal(t, env, Environment(plaintext))
		}
	}
}

func TestDisplayPrefixNeverExposesSecret(t *testing.T) {
	codec, err := NewCodec("test-salt")
	require.NoError(t, err)

	plaintext, _, err := codec.Generate(EnvironmentLive)
	require.NoError(t, err)

	prefix := DisplayPrefix(plaintext)
	assert.True(t, strings.HasSuffix(prefix, "..."))
	assert.Less(t, len(prefix), len(plaintext))

	assert.Equal(t, "short", DisplayPrefix("short"))
}

func TestCheckFormat(t *testing.T) {
	tests := []struct {
		name  string
		token string
		err   error
	}{
		{"empty", "", ErrEmptyToken},
		{"wrong prefix", "sk_live_abcdef", ErrInvalidPrefix},
		{"missing segment", "kg_live", ErrMalformedToken},
		{"empty random", "kg_live_", ErrMalformedToken},
		{"unknown environment", "kg_staging_abcdef", ErrUnknownEnvironment},
		{"valid live", "kg_live_abcdef", nil},
		{"valid test", "kg_test_abcdef", nil},
		{"separator inside random segment", "kg_live_abc_def", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFormat(tt.token)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestNewCodecRequiresSalt(t *testing.T) {
	_, err := NewCodec("")
	assert.Error(t, err)
}
