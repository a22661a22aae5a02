package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/solstream/keygate/internal/models"
)

// ContentHandler is the thin stand-in for the downstream application the
// validated call eventually reaches. Each route only answers once the key
// middleware has admitted the request.
type ContentHandler struct{}

func NewContentHandler() *ContentHandler {
	return &ContentHandler{}
}

func (h *ContentHandler) GetContent(c *fiber.Ctx) error {
	key, _ := c.Locals("api_key").(*models.APIKey)

	return c.JSON(fiber.Map{
		"resource_id": c.Params("resource_id"),
		"key_id":      key.KeyID,
	})
}

func (h *ContentHandler) CreateContent(c *fiber.Ctx) error {
	key, _ := c.Locals("api_key").(*models.APIKey)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"resource_id": c.Params("resource_id"),
		"key_id":      key.KeyID,
	})
}
