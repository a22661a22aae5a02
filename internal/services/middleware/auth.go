package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const ownerLocalsKey = "owner_id"

// AuthMiddleware guards the key-management API. Tenants authenticate with a
// bearer JWT whose subject is their owner id; API keys deliberately cannot
// manage other API keys.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(jwtSecret)}
}

// RequireOwner authenticates the management caller and stores the owner id
// in request locals.
func (m *AuthMiddleware) RequireOwner() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := extractBearer(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}

		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !parsed.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		ownerID, err := claims.GetSubject()
		if err != nil || ownerID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "token has no subject",
			})
		}

		c.Locals(ownerLocalsKey, ownerID)
		return c.Next()
	}
}

// GetOwnerID returns the authenticated management caller's owner id.
func GetOwnerID(c *fiber.Ctx) (string, bool) {
	ownerID, ok := c.Locals(ownerLocalsKey).(string)
	return ownerID, ok && ownerID != ""
}

func extractBearer(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
