package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/solstream/keygate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
auth:
  salt: "unit-test-salt"
  jwt_secret: "unit-test-secret"
`

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Keys.MaxPerTenant)
	assert.Equal(t, models.Expiration90Days, cfg.Keys.DefaultExpiration)
	assert.Equal(t, int64(1000), cfg.RateLimits[models.TierStandard])
	assert.Equal(t, int64(5000), cfg.RateLimits[models.TierPremium])
	assert.Equal(t, int64(25000), cfg.RateLimits[models.TierEnterprise])
	assert.Equal(t, 4, cfg.Usage.WorkerPoolSize)
	assert.Equal(t, 256, cfg.Usage.WorkerBufferSize)
	assert.Equal(t, 60, cfg.Redis.TTLSecs)
}

func TestLoadFromFileEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_KEYGATE_SALT", "salt-from-env")
	t.Setenv("TEST_KEYGATE_PORT", "")

	cfg, err := LoadFromFile(writeConfig(t, `
server:
  port: "${TEST_KEYGATE_PORT:-9090}"
auth:
  salt: "${TEST_KEYGATE_SALT}"
  jwt_secret: "${TEST_KEYGATE_JWT:-fallback-secret}"
`))
	require.NoError(t, err)

	assert.Equal(t, "salt-from-env", cfg.Auth.Salt)
	assert.Equal(t, "fallback-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "9090", cfg.Server.Port, "unset variable falls back to its default")
}

func TestLoadFromFileRequiresSalt(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
auth:
  jwt_secret: "unit-test-secret"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.salt")
}

func TestLoadFromFileRequiresJWTSecret(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
auth:
  salt: "unit-test-salt"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestLoadFromFileRejectsUnknownExpirationPolicy(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, minimalConfig+`
keys:
  default_expiration: "45d"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_expiration")
}

func TestLoadFromFileRejectsNonPositiveBudget(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, minimalConfig+`
rate_limits:
  standard: 0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limits")
}

func TestLoadFromFileOverrides(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig+`
keys:
  max_per_tenant: 25
  default_expiration: "never"
rate_limits:
  standard: 500
usage:
  logging_enabled: true
  worker_pool_size: 2
`))
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Keys.MaxPerTenant)
	assert.Equal(t, models.ExpirationNever, cfg.Keys.DefaultExpiration)
	assert.Equal(t, int64(500), cfg.RateLimits[models.TierStandard])
	assert.True(t, cfg.Usage.LoggingEnabled)
	assert.Equal(t, 2, cfg.Usage.WorkerPoolSize)
}

func TestLoadFromFileRejectsBadPaths(t *testing.T) {
	_, err := LoadFromFile("config.json")
	assert.Error(t, err)

	_, err = LoadFromFile("../../../etc/config.yaml")
	assert.Error(t, err)
}
