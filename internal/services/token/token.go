package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Token layout: kg_<environment>_<random>. The random segment carries
// 32 bytes from crypto/rand, well past the 128-bit guessing floor.
const (
	Prefix          = "kg"
	EnvironmentLive = "live"
	EnvironmentTest = "test"

	randomBytes = 32
	segments    = 3
)

// prefixDisplayLen covers "kg_live_" plus a short slice of the random
// segment; never enough to reconstruct the secret.
const prefixDisplayLen = 12

var (
	ErrEmptyToken         = errors.New("token is empty")
	ErrInvalidPrefix      = errors.New("token does not carry the expected prefix")
	ErrMalformedToken     = errors.New("token does not match the expected format")
	ErrUnknownEnvironment = errors.New("token environment is not recognized")
)

// Codec mints opaque bearer tokens and derives their storable digests. The
// salt keys the digest HMAC; it is fixed at construction and must match the
// salt the existing key population was hashed under.
type Codec struct {
	salt []byte
}

func NewCodec(salt string) (*Codec, error) {
	if salt == "" {
		return nil, errors.New("token codec requires a non-empty salt")
	}
	return &Codec{salt: []byte(salt)}, nil
}

// Generate mints a fresh token for the given environment and a companion
// keyID. The keyID is independent of the secret and safe to log.
func (c *Codec) Generate(environment string) (plaintext, keyID string, err error) {
	if environment == "" {
		environment = EnvironmentLive
	}
	if environment != EnvironmentLive && environment != EnvironmentTest {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, environment)
	}

	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	random := base64.RawURLEncoding.EncodeToString(b)
	plaintext = fmt.Sprintf("%s_%s_%s", Prefix, environment, random)

	return plaintext, uuid.NewString(), nil
}

// Hash derives the storable digest of a token. Deterministic and keyed:
// the same plaintext always yields the same digest, and the digest cannot
// be inverted or recomputed without the salt.
func (c *Codec) Hash(plaintext string) string {
	mac := hmac.New(sha256.New, c.salt)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// DisplayPrefix returns a short fragment of the token for UI identification.
func DisplayPrefix(plaintext string) string {
	if len(plaintext) <= prefixDisplayLen {
		return plaintext
	}
	return plaintext[:prefixDisplayLen] + "..."
}

// CheckFormat verifies a presented token's shape before any lookup happens:
// non-empty, correctly prefixed, the right number of segments, and a
// recognized environment tag. The random segment's alphabet includes the
// separator, so splitting stops after the environment tag.
func CheckFormat(plaintext string) error {
	if plaintext == "" {
		return ErrEmptyToken
	}

	if !strings.HasPrefix(plaintext, Prefix+"_") {
		return ErrInvalidPrefix
	}

	parts := strings.SplitN(plaintext, "_", segments)
	if len(parts) != segments || parts[2] == "" {
		return ErrMalformedToken
	}

	if parts[1] != EnvironmentLive && parts[1] != EnvironmentTest {
		return fmt.Errorf("%w: %q", ErrUnknownEnvironment, parts[1])
	}

	return nil
}

// Environment extracts the environment tag from a well-formed token.
func Environment(plaintext string) string {
	parts := strings.SplitN(plaintext, "_", segments)
	if len(parts) != segments {
		return ""
	}
	return parts[1]
}
