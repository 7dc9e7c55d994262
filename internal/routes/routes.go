package routes

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mdresch/CogniSync-sub001/internal/handlers"
)

// Handlers bundles the route handlers for setup
type Handlers struct {
	Health   *handlers.HealthHandler
	Webhook  *handlers.WebhookHandler
	Events   *handlers.EventsHandler
	Configs  *handlers.ConfigsHandler
	APIKey   string
}

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, h Handlers) {
	// Health check endpoint
	app.Get("/health", h.Health.HealthCheck)

	// Ingestion endpoint: authenticated per-request by HMAC signature
	app.Post("/webhooks/:configId", h.Webhook.Receive)

	// Management surface: authenticated by service credential
	api := app.Group("/api/v1", serviceAuth(h.APIKey))
	{
		api.Get("/events", h.Events.GetEvents)
		api.Get("/events/:id", h.Events.GetEvent)
		api.Post("/events/:id/replay", h.Events.ReplayEvent)

		api.Post("/configs", h.Configs.CreateConfig)
		api.Get("/configs", h.Configs.ListConfigs)
		api.Get("/configs/:id", h.Configs.GetConfig)
		api.Put("/configs/:id", h.Configs.UpdateConfig)
		api.Delete("/configs/:id", h.Configs.DeleteConfig)
	}
}

// serviceAuth accepts the service API key as either a Bearer token or the
// x-api-key header, matching what the CogniSync clients send
func serviceAuth(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get("x-api-key")
		if provided == "" {
			auth := c.Get(fiber.HeaderAuthorization)
			if strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service credential",
			})
		}
		return c.Next()
	}
}
