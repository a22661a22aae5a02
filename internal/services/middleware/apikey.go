package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/solstream/keygate/internal/models"
	"github.com/solstream/keygate/internal/services/validator"
)

// APIKeyConfig controls how the validation middleware reads tokens off the
// wire.
type APIKeyConfig struct {
	HeaderNames []string
}

func DefaultAPIKeyConfig() APIKeyConfig {
	return APIKeyConfig{
		HeaderNames: []string{"X-API-Key"},
	}
}

// APIKeyMiddleware turns the request validator into a fiber handler chain:
// it extracts the bearer token, asks the validator, enforces the key's
// origin and IP restriction lists, and records usage after the response.
type APIKeyMiddleware struct {
	validator *validator.Validator
	config    APIKeyConfig
}

func NewAPIKeyMiddleware(v *validator.Validator, config *APIKeyConfig) *APIKeyMiddleware {
	if config == nil {
		defaultConfig := DefaultAPIKeyConfig()
		config = &defaultConfig
	}
	if len(config.HeaderNames) == 0 {
		config.HeaderNames = []string{"X-API-Key"}
	}
	return &APIKeyMiddleware{validator: v, config: *config}
}

// Require authorizes the route for one capability. resourceParam, when
// non-empty, names the route parameter carrying the target resource id for
// the scope check.
func (m *APIKeyMiddleware) Require(permission, resourceParam string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		req := validator.Request{
			Token:              m.extractAPIKey(c),
			RequiredPermission: permission,
		}
		if resourceParam != "" {
			req.ResourceID = c.Params(resourceParam)
		}

		result, rejection := m.validator.Validate(c.Context(), req)
		if rejection != nil {
			return writeRejection(c, rejection)
		}

		if reason := m.checkRestrictions(c, result.Key); reason != "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    models.ReasonInsufficientPermissions,
					"message": reason,
				},
			})
		}

		c.Locals("api_key", result.Key)
		c.Locals("api_key_id", result.Key.KeyID)
		c.Locals("rate_limit", result.RateLimit)

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		errMsg := ""
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
			errMsg = err.Error()
		}

		result.Record(models.RecordUsageParams{
			Endpoint:       c.Path(),
			Method:         c.Method(),
			StatusCode:     status,
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			CallerIP:       c.IP(),
			CallerAgent:    c.Get("User-Agent"),
			RequestSize:    int64(len(c.Body())),
			ResponseSize:   int64(len(c.Response().Body())),
			ErrorMessage:   errMsg,
		}, requestID)

		return err
	}
}

func (m *APIKeyMiddleware) extractAPIKey(c *fiber.Ctx) string {
	for _, headerName := range m.config.HeaderNames {
		if key := c.Get(headerName); key != "" {
			return strings.TrimSpace(key)
		}
	}

	if authHeader := c.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

// checkRestrictions enforces the key's optional origin and IP lists. Empty
// lists allow everything; these are opt-in narrowing rules.
func (m *APIKeyMiddleware) checkRestrictions(c *fiber.Ctx, key *models.APIKey) string {
	if origins := key.OriginList(); len(origins) > 0 {
		origin := c.Get("Origin")
		if origin == "" || !contains(origins, origin) {
			return "request origin is not in the key's allowed origins"
		}
	}

	if ips := key.IPList(); len(ips) > 0 {
		if !contains(ips, c.IP()) {
			return "caller address is not in the key's IP whitelist"
		}
	}

	return ""
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func writeRejection(c *fiber.Ctx, rejection *models.ValidationError) error {
	sanitized := models.SanitizeError(rejection)

	if sanitized.RetryAfterSeconds > 0 {
		c.Set("Retry-After", strconv.Itoa(sanitized.RetryAfterSeconds))
	}

	return c.Status(sanitized.GetStatusCode()).JSON(fiber.Map{
		"error": sanitized,
	})
}
