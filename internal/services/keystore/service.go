package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solstream/keygate/internal/models"
	"github.com/solstream/keygate/internal/services/token"
	"gorm.io/gorm"
)

// Defaults applied when a tenant has no settings row.
type Defaults struct {
	MaxKeysPerTenant  int
	DefaultExpiration string
}

type Service struct {
	db       *gorm.DB
	codec    *token.Codec
	defaults Defaults
}

func NewService(db *gorm.DB, codec *token.Codec, defaults Defaults) *Service {
	return &Service{db: db, codec: codec, defaults: defaults}
}

// mutable whitelist for Update. Secret material, identity and counters are
// never writable through settings updates.
var updatableFields = map[string]bool{
	"name":                    true,
	"description":             true,
	"permissions":             true,
	"allowed_resource_scopes": true,
	"allowed_origins":         true,
	"ip_whitelist":            true,
	"rate_limit_tier":         true,
	"status":                  true,
	"expires_at":              true,
}

// Create mints a new key for the owner. The plaintext secret is returned once
// inside the response and never persisted.
func (s *Service) Create(ctx context.Context, ownerID string, req *models.APIKeyCreateRequest) (*models.APIKeyResponse, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("key name is required")
	}
	if len(req.Permissions) == 0 {
		return nil, fmt.Errorf("at least one permission is required")
	}
	for _, p := range req.Permissions {
		if !models.KnownPermissions[p] {
			return nil, fmt.Errorf("unknown permission: %q", p)
		}
	}

	tier := req.RateLimitTier
	if tier == "" {
		tier = models.TierStandard
	}
	switch tier {
	case models.TierStandard, models.TierPremium, models.TierEnterprise:
	default:
		return nil, fmt.Errorf("unknown rate limit tier: %q", tier)
	}

	plaintext, keyID, err := s.codec.Generate(req.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	now := time.Now().UTC()

	settings, err := s.TenantSettings(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil {
		policy := settings.DefaultExpiration
		if policy == "" {
			policy = s.defaults.DefaultExpiration
		}
		if d, ok := models.ExpirationPolicyDuration(policy); ok {
			t := now.Add(d)
			expiresAt = &t
		}
	}

	apiKey := &models.APIKey{
		KeyID:                 keyID,
		OwnerID:               ownerID,
		Name:                  req.Name,
		Description:           req.Description,
		HashedSecret:          s.codec.Hash(plaintext),
		KeyPrefix:             token.DisplayPrefix(plaintext),
		Permissions:           models.JoinList(req.Permissions),
		AllowedResourceScopes: models.JoinList(req.AllowedResourceScopes),
		AllowedOrigins:        models.JoinList(req.AllowedOrigins),
		IPWhitelist:           models.JoinList(req.IPWhitelist),
		Status:                models.KeyStatusActive,
		RateLimitTier:         tier,
		MonthlyUsageResetDate: models.NextMonthStart(now),
		ExpiresAt:             expiresAt,
	}

	maxKeys := s.defaults.MaxKeysPerTenant
	if settings.MaxKeys != nil {
		maxKeys = *settings.MaxKeys
	}

	// Count and insert under one transaction so two concurrent creates
	// cannot both squeeze under the limit.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live int64
		if err := tx.Model(&models.APIKey{}).
			Where("owner_id = ? AND status <> ?", ownerID, models.KeyStatusRevoked).
			Count(&live).Error; err != nil {
			return fmt.Errorf("failed to count live keys: %w", err)
		}
		if live >= int64(maxKeys) {
			return models.ErrKeyLimitExceeded
		}
		if err := tx.Create(apiKey).Error; err != nil {
			return fmt.Errorf("failed to create API key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := apiKey.ToResponse()
	resp.Key = plaintext
	return &resp, nil
}

// Revoke marks the key revoked. Revocation is terminal and idempotent for an
// already-revoked key. The final record is returned so callers can evict
// digest cache entries.
func (s *Service) Revoke(ctx context.Context, ownerID, keyID string) (*models.APIKey, error) {
	var apiKey models.APIKey

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key_id = ? AND owner_id = ?", keyID, ownerID).First(&apiKey).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrKeyNotFound
			}
			return fmt.Errorf("failed to load API key: %w", err)
		}
		if apiKey.Status == models.KeyStatusRevoked {
			return nil
		}
		if err := tx.Model(&apiKey).Update("status", models.KeyStatusRevoked).Error; err != nil {
			return fmt.Errorf("failed to revoke API key: %w", err)
		}
		apiKey.Status = models.KeyStatusRevoked
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

// Update applies a whitelisted subset of mutable fields. Fields outside the
// whitelist are dropped. Revoked status never changes through here.
func (s *Service) Update(ctx context.Context, ownerID, keyID string, updates map[string]any) (*models.APIKey, error) {
	filtered := make(map[string]any, len(updates))
	for k, v := range updates {
		if !updatableFields[k] {
			continue
		}
		// list-typed fields arrive as JSON arrays; store them joined
		if vs, ok := v.([]any); ok {
			items := make([]string, 0, len(vs))
			for _, item := range vs {
				if str, ok := item.(string); ok {
					items = append(items, str)
				}
			}
			v = models.JoinList(items)
		}
		if vs, ok := v.([]string); ok {
			v = models.JoinList(vs)
		}
		filtered[k] = v
	}

	if perms, ok := filtered["permissions"].(string); ok {
		list := models.SplitList(perms)
		if len(list) == 0 {
			return nil, fmt.Errorf("permissions must be non-empty")
		}
		for _, p := range list {
			if !models.KnownPermissions[p] {
				return nil, fmt.Errorf("unknown permission: %q", p)
			}
		}
	}

	var apiKey models.APIKey
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key_id = ? AND owner_id = ?", keyID, ownerID).First(&apiKey).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrKeyNotFound
			}
			return fmt.Errorf("failed to load API key: %w", err)
		}

		if status, ok := filtered["status"]; ok {
			next := models.KeyStatus(fmt.Sprint(status))
			if apiKey.Status == models.KeyStatusRevoked || next == models.KeyStatusRevoked {
				return models.ErrImmutableStatus
			}
			if next != models.KeyStatusActive && next != models.KeyStatusInactive {
				return fmt.Errorf("unknown status: %q", next)
			}
		}

		if len(filtered) == 0 {
			return nil
		}

		if err := tx.Model(&apiKey).Updates(filtered).Error; err != nil {
			return fmt.Errorf("failed to update API key: %w", err)
		}
		return tx.Where("key_id = ?", keyID).First(&apiKey).Error
	})
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

// FindByDigest is the per-request lookup path. The hashed secret column is
// uniquely indexed, so this is a single indexed read. Revoked and inactive
// records are still returned: status is the validator's concern.
func (s *Service) FindByDigest(ctx context.Context, digest string) (*models.APIKey, error) {
	var apiKey models.APIKey

	if err := s.db.WithContext(ctx).Where("hashed_secret = ?", digest).First(&apiKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to look up API key by digest: %w", err)
	}

	return &apiKey, nil
}

func (s *Service) Get(ctx context.Context, ownerID, keyID string) (*models.APIKey, error) {
	var apiKey models.APIKey

	if err := s.db.WithContext(ctx).Where("key_id = ? AND owner_id = ?", keyID, ownerID).First(&apiKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	return &apiKey, nil
}

// GetByID loads a key regardless of owner. Internal callers only.
func (s *Service) GetByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	var apiKey models.APIKey

	if err := s.db.WithContext(ctx).Where("key_id = ?", keyID).First(&apiKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	return &apiKey, nil
}

func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]models.APIKeyResponse, int64, error) {
	var apiKeys []models.APIKey
	var total int64

	base := s.db.WithContext(ctx).Model(&models.APIKey{}).Where("owner_id = ?", ownerID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count API keys: %w", err)
	}

	query := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	if err := query.Find(&apiKeys).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list API keys: %w", err)
	}

	responses := make([]models.APIKeyResponse, len(apiKeys))
	for i, k := range apiKeys {
		responses[i] = k.ToResponse()
	}

	return responses, total, nil
}

// TenantSettings returns the settings row for the owner, or a zero-value
// settings struct when the tenant has never customized anything.
func (s *Service) TenantSettings(ctx context.Context, ownerID string) (*models.TenantSettings, error) {
	var settings models.TenantSettings

	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.TenantSettings{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant settings: %w", err)
	}

	return &settings, nil
}

// SaveTenantSettings upserts the owner's policy row.
func (s *Service) SaveTenantSettings(ctx context.Context, settings *models.TenantSettings) error {
	if settings.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if settings.DefaultExpiration != "" {
		switch settings.DefaultExpiration {
		case models.Expiration30Days, models.Expiration90Days, models.Expiration1Year, models.ExpirationNever:
		default:
			return fmt.Errorf("unknown expiration policy: %q", settings.DefaultExpiration)
		}
	}

	return s.db.WithContext(ctx).Save(settings).Error
}
