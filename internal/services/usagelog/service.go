package usagelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/solstream/keygate/internal/metrics"
	"github.com/solstream/keygate/internal/models"
	"github.com/solstream/keygate/internal/services/ratelimit"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service appends usage entries and owns the key counters. All counter
// movement goes through ConsumeQuota so increments and monthly rollovers
// are serialized per key by a row lock.
type Service struct {
	db             *gorm.DB
	limiter        *ratelimit.Limiter
	loggingDefault bool
}

func NewService(db *gorm.DB, limiter *ratelimit.Limiter, loggingDefault bool) *Service {
	return &Service{
		db:             db,
		limiter:        limiter,
		loggingDefault: loggingDefault,
	}
}

// ConsumeQuota is the atomic check-and-increment admission step. Inside one
// locked transaction it applies a due monthly rollover, checks the tier
// budget and, when admitted, bumps the lifetime and monthly counters.
// Two racing requests can never both perform the rollover, and a denied
// request never moves a counter.
func (s *Service) ConsumeQuota(ctx context.Context, keyID string, now time.Time) (ratelimit.Result, error) {
	var result ratelimit.Result

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var key models.APIKey
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key_id = ?", keyID).
			First(&key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrKeyNotFound
			}
			return fmt.Errorf("failed to lock API key: %w", err)
		}

		updates := map[string]any{}

		if !now.Before(key.MonthlyUsageResetDate) {
			key.MonthlyUsageCount = 0
			key.MonthlyUsageResetDate = models.NextMonthStart(now)
			updates["monthly_usage_count"] = key.MonthlyUsageCount
			updates["monthly_usage_reset_date"] = key.MonthlyUsageResetDate
			metrics.Rollovers.Inc()
		}

		result = s.limiter.Check(&key, now)
		if !result.Allowed {
			// persist the rollover even on denial so ResetAt stays honest
			if len(updates) == 0 {
				return nil
			}
			return tx.Model(&key).Updates(updates).Error
		}

		updates["monthly_usage_count"] = key.MonthlyUsageCount + 1
		updates["usage_count"] = gorm.Expr("usage_count + 1")
		updates["last_used_at"] = now
		if err := tx.Model(&key).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to increment usage counters: %w", err)
		}

		result.Remaining--
		return nil
	})
	if err != nil {
		return ratelimit.Result{}, err
	}

	return result, nil
}

// Record appends the detailed usage entry for a permitted call. The counter
// increment already happened at admission, so a tenant that disables
// detailed logging skips only the entry; the skip itself is logged, never
// silent. Callers treat failures as best-effort.
func (s *Service) Record(ctx context.Context, params models.RecordUsageParams) (*models.APIKeyUsage, error) {
	enabled, err := s.loggingEnabledFor(ctx, params.OwnerID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		fiberlog.Infof("usage logging disabled for owner %s, skipping entry for key %s", params.OwnerID, params.KeyID)
		metrics.UsageEntriesSkipped.Inc()
		return nil, nil
	}

	entry := models.APIKeyUsage{
		KeyID:          params.KeyID,
		OwnerID:        params.OwnerID,
		Endpoint:       params.Endpoint,
		Method:         params.Method,
		StatusCode:     params.StatusCode,
		ResponseTimeMs: params.ResponseTimeMs,
		CallerIP:       params.CallerIP,
		CallerAgent:    params.CallerAgent,
		RequestSize:    params.RequestSize,
		ResponseSize:   params.ResponseSize,
		ErrorMessage:   params.ErrorMessage,
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	metrics.UsageEntriesWritten.Inc()
	return &entry, nil
}

// RolloverOverdue advances the reset date for every key whose window has
// lapsed without traffic. Each key rolls inside its own locked transaction,
// the same serialization the increment path uses, so a sweep racing a
// request can never double-reset.
func (s *Service) RolloverOverdue(ctx context.Context, now time.Time) (int, error) {
	var keyIDs []string
	if err := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("monthly_usage_reset_date <= ? AND status <> ?", now, models.KeyStatusRevoked).
		Pluck("key_id", &keyIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to find overdue keys: %w", err)
	}

	rolled := 0
	for _, keyID := range keyIDs {
		written := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var key models.APIKey
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("key_id = ?", keyID).
				First(&key).Error; err != nil {
				return err
			}
			if now.Before(key.MonthlyUsageResetDate) {
				// an increment got here first
				return nil
			}
			metrics.Rollovers.Inc()
			written = true
			return tx.Model(&key).Updates(map[string]any{
				"monthly_usage_count":      0,
				"monthly_usage_reset_date": models.NextMonthStart(now),
			}).Error
		})
		if err != nil {
			return rolled, fmt.Errorf("failed to roll over key %s: %w", keyID, err)
		}
		if written {
			rolled++
		}
	}

	return rolled, nil
}

func (s *Service) loggingEnabledFor(ctx context.Context, ownerID string) (bool, error) {
	var settings models.TenantSettings

	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.loggingDefault, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load tenant settings: %w", err)
	}

	if settings.UsageLoggingEnabled == nil {
		return s.loggingDefault, nil
	}
	return *settings.UsageLoggingEnabled, nil
}

func (s *Service) GetUsageByAPIKey(ctx context.Context, ownerID, keyID string, limit, offset int) ([]models.APIKeyUsage, error) {
	var usage []models.APIKeyUsage

	query := s.db.WithContext(ctx).
		Where("key_id = ? AND owner_id = ?", keyID, ownerID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&usage).Error; err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	return usage, nil
}

func (s *Service) GetUsageStats(ctx context.Context, ownerID, keyID string, startDate, endDate time.Time) (*models.UsageStats, error) {
	var stats models.UsageStats

	query := s.db.WithContext(ctx).
		Model(&models.APIKeyUsage{}).
		Where("key_id = ? AND owner_id = ?", keyID, ownerID)

	if !startDate.IsZero() {
		query = query.Where("created_at >= ?", startDate)
	}
	if !endDate.IsZero() {
		query = query.Where("created_at <= ?", endDate)
	}

	err := query.
		Select(
			"COUNT(*) as total_requests",
			"COUNT(CASE WHEN status_code >= 200 AND status_code < 300 THEN 1 END) as success_requests",
			"COUNT(CASE WHEN status_code >= 400 OR status_code = 0 THEN 1 END) as failed_requests",
			"COALESCE(AVG(response_time_ms), 0) as avg_response_ms",
			"COALESCE(SUM(request_size), 0) / 1024.0 as total_request_kb",
			"COALESCE(SUM(response_size), 0) / 1024.0 as total_response_kb",
		).
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get usage stats: %w", err)
	}

	return &stats, nil
}
