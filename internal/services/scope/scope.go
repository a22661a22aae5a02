package scope

import (
	"fmt"
	"strings"

	"github.com/solstream/keygate/internal/models"
)

// WildcardMarker terminates a prefix grant: "acct_*" matches any resource
// whose identifier starts with "acct_".
const WildcardMarker = "*"

// Decision is the outcome of a scope check. Reason is only set on denial and
// is safe to show to the key's own owner.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Authorize checks whether the key may act on resourceID. A scope entry is
// either an exact identifier or a prefix grant ending in the wildcard
// marker. A key with no scopes matches nothing.
func Authorize(key *models.APIKey, resourceID string) Decision {
	scopes := key.ScopeList()

	for _, pattern := range scopes {
		if Matches(pattern, resourceID) {
			return Decision{Allowed: true}
		}
	}

	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("resource %q is not covered by the key's scopes %v", resourceID, scopes),
	}
}

// Matches reports whether a single scope pattern covers resourceID.
func Matches(pattern, resourceID string) bool {
	if pattern == "" || resourceID == "" {
		return false
	}
	if strings.HasSuffix(pattern, WildcardMarker) {
		return strings.HasPrefix(resourceID, strings.TrimSuffix(pattern, WildcardMarker))
	}
	return pattern == resourceID
}
