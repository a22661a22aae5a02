package models

import "time"

type APIKeyUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	KeyID          string    `gorm:"not null;index;size:36" json:"key_id"`
	OwnerID        string    `gorm:"not null;index;size:64" json:"owner_id"`
	Endpoint       string    `gorm:"not null;size:255;index;default:''" json:"endpoint"`
	Method         string    `gorm:"not null;size:10;default:''" json:"method"`
	StatusCode     int       `gorm:"not null;default:0" json:"status_code"`
	ResponseTimeMs int       `gorm:"not null;default:0" json:"response_time_ms"`
	CallerIP       string    `gorm:"not null;size:45;default:''" json:"caller_ip,omitzero"`
	CallerAgent    string    `gorm:"not null;size:255;default:''" json:"caller_agent,omitzero"`
	RequestSize    int64     `gorm:"not null;default:0" json:"request_size"`
	ResponseSize   int64     `gorm:"not null;default:0" json:"response_size"`
	ErrorMessage   string    `gorm:"not null;type:text;default:''" json:"error_message,omitzero"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (APIKeyUsage) TableName() string {
	return "api_key_usage"
}

// RecordUsageParams carries one call's metadata to the usage logger.
type RecordUsageParams struct {
	KeyID          string
	OwnerID        string
	Endpoint       string
	Method         string
	StatusCode     int
	ResponseTimeMs int
	CallerIP       string
	CallerAgent    string
	RequestSize    int64
	ResponseSize   int64
	ErrorMessage   string
}

type UsageStats struct {
	TotalRequests   int64   `json:"total_requests"`
	SuccessRequests int64   `json:"success_requests"`
	FailedRequests  int64   `json:"failed_requests"`
	AvgResponseMs   float64 `json:"avg_response_ms"`
	TotalRequestKB  float64 `json:"total_request_kb"`
	TotalResponseKB float64 `json:"total_response_kb"`
}
