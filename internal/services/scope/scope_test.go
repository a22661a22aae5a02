package scope

import (
	"testing"

	"github.com/solstream/keygate/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern  string
		resource string
		want     bool
	}{
		{"acct_*", "acct_123", true},
		{"acct_*", "acct_abc", true},
		{"acct_*", "other_123", false},
		{"acct_123", "acct_123", true},
		{"acct_123", "acct_1234", false},
		{"*", "anything", true},
		{"", "acct_123", false},
		{"acct_*", "", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.pattern, tt.resource),
			"pattern %q vs resource %q", tt.pattern, tt.resource)
	}
}

func TestAuthorizeWildcardGrant(t *testing.T) {
	key := &models.APIKey{AllowedResourceScopes: "acct_*,shop_42"}

	assert.True(t, Authorize(key, "acct_123").Allowed)
	assert.True(t, Authorize(key, "acct_abc").Allowed)
	assert.True(t, Authorize(key, "shop_42").Allowed)

	decision := Authorize(key, "other_123")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "other_123")
	assert.Contains(t, decision.Reason, "acct_*")
}

func TestAuthorizeEmptyScopesMatchNothing(t *testing.T) {
	key := &models.APIKey{}

	decision := Authorize(key, "acct_123")
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)
}
