package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/solstream/keygate/internal/models"
	"github.com/solstream/keygate/internal/services/cache"
	"github.com/solstream/keygate/internal/services/keystore"
	"github.com/solstream/keygate/internal/services/middleware"
	"github.com/solstream/keygate/internal/services/usagelog"
)

type APIKeyHandler struct {
	store  *keystore.Service
	usage  *usagelog.Service
	lookup *cache.LookupCache
}

func NewAPIKeyHandler(store *keystore.Service, usage *usagelog.Service, lookup *cache.LookupCache) *APIKeyHandler {
	return &APIKeyHandler{
		store:  store,
		usage:  usage,
		lookup: lookup,
	}
}

func (h *APIKeyHandler) CreateAPIKey(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var req models.APIKeyCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	apiKey, err := h.store.Create(c.Context(), ownerID, &req)
	if err != nil {
		if errors.Is(err, models.ErrKeyLimitExceeded) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "KeyLimitExceeded: tenant has reached its maximum number of live keys",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(apiKey)
}

func (h *APIKeyHandler) ListAPIKeys(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	apiKeys, total, err := h.store.List(c.Context(), ownerID, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list API keys",
		})
	}

	return c.JSON(fiber.Map{
		"data":   apiKeys,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *APIKeyHandler) GetAPIKey(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	apiKey, err := h.store.Get(c.Context(), ownerID, c.Params("key_id"))
	if err != nil {
		if errors.Is(err, models.ErrKeyNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "API key not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get API key",
		})
	}

	resp := apiKey.ToResponse()
	return c.JSON(resp)
}

func (h *APIKeyHandler) UpdateAPIKey(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var updates map[string]any
	if err := c.BodyParser(&updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	apiKey, err := h.store.Update(c.Context(), ownerID, c.Params("key_id"), updates)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrKeyNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "API key not found",
			})
		case errors.Is(err, models.ErrImmutableStatus):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "revoked keys cannot change status",
			})
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	h.lookup.Invalidate(c.Context(), apiKey.HashedSecret)

	resp := apiKey.ToResponse()
	return c.JSON(resp)
}

func (h *APIKeyHandler) RevokeAPIKey(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	apiKey, err := h.store.Revoke(c.Context(), ownerID, c.Params("key_id"))
	if err != nil {
		if errors.Is(err, models.ErrKeyNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "API key not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to revoke API key",
		})
	}

	h.lookup.Invalidate(c.Context(), apiKey.HashedSecret)

	return c.JSON(fiber.Map{
		"key_id": apiKey.KeyID,
		"status": apiKey.Status,
	})
}

func (h *APIKeyHandler) GetUsage(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)

	entries, err := h.usage.GetUsageByAPIKey(c.Context(), ownerID, c.Params("key_id"), limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get usage",
		})
	}

	return c.JSON(fiber.Map{
		"data":   entries,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *APIKeyHandler) GetUsageStats(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var startDate, endDate time.Time
	if s := c.Query("start"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "start must be RFC3339",
			})
		}
		startDate = parsed
	}
	if s := c.Query("end"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "end must be RFC3339",
			})
		}
		endDate = parsed
	}

	stats, err := h.usage.GetUsageStats(c.Context(), ownerID, c.Params("key_id"), startDate, endDate)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get usage stats",
		})
	}

	return c.JSON(stats)
}

// GetTenantSettings and UpdateTenantSettings expose per-owner key policy.

func (h *APIKeyHandler) GetTenantSettings(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	settings, err := h.store.TenantSettings(c.Context(), ownerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load settings",
		})
	}

	return c.JSON(settings)
}

func (h *APIKeyHandler) UpdateTenantSettings(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var settings models.TenantSettings
	if err := c.BodyParser(&settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	settings.OwnerID = ownerID

	if err := h.store.SaveTenantSettings(c.Context(), &settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(settings)
}
