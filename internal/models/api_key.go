package models

import (
	"strings"
	"time"
)

// KeyStatus is the lifecycle state of an API key. Revoked is terminal.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusInactive KeyStatus = "inactive"
	KeyStatusRevoked  KeyStatus = "revoked"
)

// RateLimitTier names a monthly request budget class.
type RateLimitTier string

const (
	TierStandard   RateLimitTier = "standard"
	TierPremium    RateLimitTier = "premium"
	TierEnterprise RateLimitTier = "enterprise"
)

// Capability tags a key may carry. A key must hold the capability a route
// requires before the call is admitted.
const (
	PermissionCreateContent = "create-content"
	PermissionReadContent   = "read-content"
	PermissionUpdateContent = "update-content"
	PermissionDeleteContent = "delete-content"
	PermissionReadAccounts  = "read-accounts"
	PermissionReadAnalytics = "read-analytics"
	PermissionUploadMedia   = "upload-media"
)

var KnownPermissions = map[string]bool{
	PermissionCreateContent: true,
	PermissionReadContent:   true,
	PermissionUpdateContent: true,
	PermissionDeleteContent: true,
	PermissionReadAccounts:  true,
	PermissionReadAnalytics: true,
	PermissionUploadMedia:   true,
}

type APIKey struct {
	KeyID                 string        `gorm:"primaryKey;size:36" json:"key_id"`
	OwnerID               string        `gorm:"not null;index;size:64" json:"owner_id"`
	Name                  string        `gorm:"not null;size:255" json:"name"`
	Description           string        `gorm:"type:text" json:"description,omitempty"`
	HashedSecret          string        `gorm:"uniqueIndex;not null;size:64" json:"-"`
	KeyPrefix             string        `gorm:"index;size:16" json:"key_prefix"`
	Permissions           string        `gorm:"not null;type:text" json:"permissions"`
	AllowedResourceScopes string        `gorm:"type:text" json:"allowed_resource_scopes,omitempty"`
	AllowedOrigins        string        `gorm:"type:text" json:"allowed_origins,omitempty"`
	IPWhitelist           string        `gorm:"type:text" json:"ip_whitelist,omitempty"`
	Status                KeyStatus     `gorm:"not null;index;size:16;default:'active'" json:"status"`
	RateLimitTier         RateLimitTier `gorm:"not null;size:16;default:'standard'" json:"rate_limit_tier"`
	UsageCount            int64         `gorm:"not null;default:0" json:"usage_count"`
	MonthlyUsageCount     int64         `gorm:"not null;default:0" json:"monthly_usage_count"`
	MonthlyUsageResetDate time.Time     `gorm:"not null" json:"monthly_usage_reset_date"`
	ExpiresAt             *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	LastUsedAt            *time.Time    `json:"last_used_at,omitempty"`
	CreatedAt             time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

// IsLive reports whether the key still counts against its owner's key quota.
func (k *APIKey) IsLive() bool {
	return k.Status != KeyStatusRevoked
}

func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// PermissionList splits the stored comma-joined permission set.
func (k *APIKey) PermissionList() []string {
	return SplitList(k.Permissions)
}

func (k *APIKey) ScopeList() []string {
	return SplitList(k.AllowedResourceScopes)
}

func (k *APIKey) OriginList() []string {
	return SplitList(k.AllowedOrigins)
}

func (k *APIKey) IPList() []string {
	return SplitList(k.IPWhitelist)
}

// HasPermission checks one capability against the key's permission set.
func (k *APIKey) HasPermission(required string) bool {
	for _, p := range k.PermissionList() {
		if p == required {
			return true
		}
	}
	return false
}

// SplitList parses a comma-joined text column into a slice, dropping empties.
func SplitList(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// JoinList is the inverse of SplitList for storage.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

type APIKeyCreateRequest struct {
	Name                  string        `json:"name" validate:"required,min=1,max=255"`
	Description           string        `json:"description,omitempty"`
	Permissions           []string      `json:"permissions" validate:"required,min=1"`
	AllowedResourceScopes []string      `json:"allowed_resource_scopes,omitempty"`
	AllowedOrigins        []string      `json:"allowed_origins,omitempty"`
	IPWhitelist           []string      `json:"ip_whitelist,omitempty"`
	RateLimitTier         RateLimitTier `json:"rate_limit_tier,omitempty"`
	Environment           string        `json:"environment,omitempty"`
	ExpiresAt             *time.Time    `json:"expires_at,omitempty"`
}

// APIKeyResponse is the management API view of a key. Key carries the
// plaintext secret and is only populated on creation.
type APIKeyResponse struct {
	KeyID                 string        `json:"key_id"`
	Name                  string        `json:"name"`
	Description           string        `json:"description,omitempty"`
	Key                   string        `json:"key,omitempty"`
	KeyPrefix             string        `json:"key_prefix"`
	Permissions           []string      `json:"permissions"`
	AllowedResourceScopes []string      `json:"allowed_resource_scopes,omitempty"`
	AllowedOrigins        []string      `json:"allowed_origins,omitempty"`
	IPWhitelist           []string      `json:"ip_whitelist,omitempty"`
	Status                KeyStatus     `json:"status"`
	RateLimitTier         RateLimitTier `json:"rate_limit_tier"`
	UsageCount            int64         `json:"usage_count"`
	MonthlyUsageCount     int64         `json:"monthly_usage_count"`
	MonthlyUsageResetDate time.Time     `json:"monthly_usage_reset_date"`
	ExpiresAt             *time.Time    `json:"expires_at,omitempty"`
	LastUsedAt            *time.Time    `json:"last_used_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// ToResponse renders the record for the management API, without the secret.
func (k *APIKey) ToResponse() APIKeyResponse {
	return APIKeyResponse{
		KeyID:                 k.KeyID,
		Name:                  k.Name,
		Description:           k.Description,
		KeyPrefix:             k.KeyPrefix,
		Permissions:           k.PermissionList(),
		AllowedResourceScopes: k.ScopeList(),
		AllowedOrigins:        k.OriginList(),
		IPWhitelist:           k.IPList(),
		Status:                k.Status,
		RateLimitTier:         k.RateLimitTier,
		UsageCount:            k.UsageCount,
		MonthlyUsageCount:     k.MonthlyUsageCount,
		MonthlyUsageResetDate: k.MonthlyUsageResetDate,
		ExpiresAt:             k.ExpiresAt,
		LastUsedAt:            k.LastUsedAt,
		CreatedAt:             k.CreatedAt,
		UpdatedAt:             k.UpdatedAt,
	}
}

// NextMonthStart returns the first instant of the month following t, in UTC.
// Monthly usage windows roll over at this boundary.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
