package models

import "time"

// Default expiration policies a tenant can pick for newly minted keys.
const (
	Expiration30Days = "30d"
	Expiration90Days = "90d"
	Expiration1Year  = "1y"
	ExpirationNever  = "never"
)

// TenantSettings holds per-tenant key policy. Absent rows fall back to the
// process-wide defaults from configuration.
type TenantSettings struct {
	OwnerID             string    `gorm:"primaryKey;size:64" json:"owner_id"`
	MaxKeys             *int      `json:"max_keys,omitempty"`
	DefaultExpiration   string    `gorm:"size:8;default:''" json:"default_expiration,omitempty"`
	UsageLoggingEnabled *bool     `json:"usage_logging_enabled,omitempty"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TenantSettings) TableName() string {
	return "tenant_settings"
}

// ExpirationPolicyDuration maps a policy name to the lifetime it grants.
// The bool result is false for "never" and unrecognized values.
func ExpirationPolicyDuration(policy string) (time.Duration, bool) {
	switch policy {
	case Expiration30Days:
		return 30 * 24 * time.Hour, true
	case Expiration90Days:
		return 90 * 24 * time.Hour, true
	case Expiration1Year:
		return 365 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
