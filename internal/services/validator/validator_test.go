package validator

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/solstream/keygate/internal/models"
	"github.com/solstream/keygate/internal/services/keystore"
	"github.com/solstream/keygate/internal/services/ratelimit"
	"github.com/solstream/keygate/internal/services/token"
	"github.com/solstream/keygate/internal/services/usagelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	codec     *token.Codec
	store     *keystore.Service
	usage     *usagelog.Service
	validator *Validator
}

func newFixture(t *testing.T, budget int64) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.APIKey{}, &models.APIKeyUsage{}, &models.TenantSettings{}))

	codec, err := token.NewCodec("test-salt")
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(map[models.RateLimitTier]int64{
		models.TierStandard: budget,
	})
	store := keystore.NewService(db, codec, keystore.Defaults{
		MaxKeysPerTenant:  10,
		DefaultExpiration: models.ExpirationNever,
	})
	usage := usagelog.NewService(db, limiter, true)

	return &fixture{
		db:        db,
		codec:     codec,
		store:     store,
		usage:     usage,
		validator: New(codec, store, limiter, usage, nil, nil),
	}
}

func (f *fixture) mintKey(t *testing.T, req *models.APIKeyCreateRequest) *models.APIKeyResponse {
	t.Helper()

	resp, err := f.store.Create(context.Background(), "tenant-1", req)
	require.NoError(t, err)
	return resp
}

func (f *fixture) setKeyFields(t *testing.T, keyID string, fields map[string]any) {
	t.Helper()

	require.NoError(t, f.db.Model(&models.APIKey{}).
		Where("key_id = ?", keyID).
		Updates(fields).Error)
}

func (f *fixture) monthlyCount(t *testing.T, keyID string) int64 {
	t.Helper()

	var key models.APIKey
	require.NoError(t, f.db.Where("key_id = ?", keyID).First(&key).Error)
	return key.MonthlyUsageCount
}

func readContentRequest() *models.APIKeyCreateRequest {
	return &models.APIKeyCreateRequest{
		Name:        "reader",
		Permissions: []string{models.PermissionReadContent},
	}
}

func TestValidateFormatRejections(t *testing.T) {
	f := newFixture(t, 100)

	tests := []struct {
		name  string
		token string
		code  models.ReasonCode
	}{
		{"empty token", "", models.ReasonMissingKey},
		{"foreign prefix", "sk_live_abcdef0123456789", models.ReasonInvalidKeyFormat},
		{"missing segment", "kg_live", models.ReasonMalformedKey},
		{"empty random segment", "kg_live_", models.ReasonMalformedKey},
		{"unknown environment", "kg_prod_abcdef0123456789", models.ReasonInvalidEnvironment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rejection := f.validator.Validate(context.Background(), Request{Token: tt.token})
			require.NotNil(t, rejection)
			assert.Equal(t, tt.code, rejection.Code)
			assert.Equal(t, http.StatusUnauthorized, rejection.GetStatusCode())
		})
	}
}

func TestValidateUnknownKey(t *testing.T) {
	f := newFixture(t, 100)

	_, rejection := f.validator.Validate(context.Background(), Request{
		Token: "kg_live_dGhpcy1rZXktd2FzLW5ldmVyLWlzc3VlZA",
	})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonKeyNotFound, rejection.Code)
	assert.Equal(t, http.StatusUnauthorized, rejection.GetStatusCode())
}

func TestValidateRevokedKeyLooksInactive(t *testing.T) {
	f := newFixture(t, 100)
	minted := f.mintKey(t, readContentRequest())

	_, err := f.store.Revoke(context.Background(), "tenant-1", minted.KeyID)
	require.NoError(t, err)

	_, rejection := f.validator.Validate(context.Background(), Request{Token: minted.Key})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonInactiveKey, rejection.Code)
	assert.Zero(t, f.monthlyCount(t, minted.KeyID))
}

func TestValidateInactiveKey(t *testing.T) {
	f := newFixture(t, 100)
	minted := f.mintKey(t, readContentRequest())
	f.setKeyFields(t, minted.KeyID, map[string]any{"status": models.KeyStatusInactive})

	_, rejection := f.validator.Validate(context.Background(), Request{Token: minted.Key})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonInactiveKey, rejection.Code)
}

func TestValidateExpiredKey(t *testing.T) {
	f := newFixture(t, 100)
	minted := f.mintKey(t, readContentRequest())
	f.setKeyFields(t, minted.KeyID, map[string]any{"expires_at": time.Now().UTC().Add(-time.Hour)})

	_, rejection := f.validator.Validate(context.Background(), Request{Token: minted.Key})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonExpiredKey, rejection.Code)
	assert.Equal(t, http.StatusUnauthorized, rejection.GetStatusCode())
}

func TestValidateMissingPermission(t *testing.T) {
	f := newFixture(t, 100)
	minted := f.mintKey(t, readContentRequest())

	_, rejection := f.validator.Validate(context.Background(), Request{
		Token:              minted.Key,
		RequiredPermission: models.PermissionCreateContent,
	})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonInsufficientPermissions, rejection.Code)
	assert.Equal(t, http.StatusForbidden, rejection.GetStatusCode())
	assert.Zero(t, f.monthlyCount(t, minted.KeyID))
}

func TestValidateScopeRejectionLeavesQuotaUntouched(t *testing.T) {
	f := newFixture(t, 100)

	req := readContentRequest()
	req.AllowedResourceScopes = []string{"acct_42"}
	minted := f.mintKey(t, req)

	_, rejection := f.validator.Validate(context.Background(), Request{
		Token:              minted.Key,
		RequiredPermission: models.PermissionReadContent,
		ResourceID:         "acct_99",
	})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonInsufficientScope, rejection.Code)
	assert.Equal(t, http.StatusForbidden, rejection.GetStatusCode())
	assert.Zero(t, f.monthlyCount(t, minted.KeyID))
}

func TestValidateRateLimitBeatsScope(t *testing.T) {
	f := newFixture(t, 5)

	req := readContentRequest()
	req.AllowedResourceScopes = []string{"acct_42"}
	minted := f.mintKey(t, req)
	f.setKeyFields(t, minted.KeyID, map[string]any{"monthly_usage_count": 5})

	// budget exhausted and resource out of scope: the rate limit is reported
	_, rejection := f.validator.Validate(context.Background(), Request{
		Token:              minted.Key,
		RequiredPermission: models.PermissionReadContent,
		ResourceID:         "acct_99",
	})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonRateLimitExceeded, rejection.Code)
	assert.Equal(t, http.StatusTooManyRequests, rejection.GetStatusCode())
	assert.Positive(t, rejection.RetryAfterSeconds)
}

func TestValidateExhaustsBudget(t *testing.T) {
	f := newFixture(t, 2)
	minted := f.mintKey(t, readContentRequest())
	ctx := context.Background()

	for i := range 2 {
		result, rejection := f.validator.Validate(ctx, Request{Token: minted.Key})
		require.Nil(t, rejection, "call %d should pass", i+1)
		assert.Equal(t, int64(2), result.RateLimit.Limit)
	}

	_, rejection := f.validator.Validate(ctx, Request{Token: minted.Key})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonRateLimitExceeded, rejection.Code)
	assert.Equal(t, int64(2), f.monthlyCount(t, minted.KeyID))
}

func TestValidateSuccessThenRecord(t *testing.T) {
	f := newFixture(t, 100)
	minted := f.mintKey(t, readContentRequest())
	ctx := context.Background()

	// a key holding only read-content cannot create
	_, rejection := f.validator.Validate(ctx, Request{
		Token:              minted.Key,
		RequiredPermission: models.PermissionCreateContent,
	})
	require.NotNil(t, rejection)
	assert.Equal(t, models.ReasonInsufficientPermissions, rejection.Code)

	// the read passes, consumes one unit of quota and records one entry
	result, rejection := f.validator.Validate(ctx, Request{
		Token:              minted.Key,
		RequiredPermission: models.PermissionReadContent,
	})
	require.Nil(t, rejection)
	assert.Equal(t, minted.KeyID, result.Key.KeyID)
	assert.Equal(t, int64(99), result.RateLimit.Remaining)
	assert.Equal(t, int64(1), f.monthlyCount(t, minted.KeyID))

	result.Record(models.RecordUsageParams{
		Endpoint:       "/v1/content",
		Method:         "GET",
		StatusCode:     200,
		ResponseTimeMs: 8,
	}, "req-1")

	usage, err := f.usage.GetUsageByAPIKey(ctx, "tenant-1", minted.KeyID, 10, 0)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 200, usage[0].StatusCode)
	assert.Equal(t, "/v1/content", usage[0].Endpoint)
	assert.Equal(t, "tenant-1", usage[0].OwnerID)
}

func TestValidateScopedKeyAdmitsMatchingResource(t *testing.T) {
	f := newFixture(t, 100)

	req := readContentRequest()
	req.AllowedResourceScopes = []string{"acct_*"}
	minted := f.mintKey(t, req)

	result, rejection := f.validator.Validate(context.Background(), Request{
		Token:              minted.Key,
		RequiredPermission: models.PermissionReadContent,
		ResourceID:         "acct_1234",
	})
	require.Nil(t, rejection)
	assert.Equal(t, minted.KeyID, result.Key.KeyID)
}
