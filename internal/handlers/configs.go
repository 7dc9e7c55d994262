package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mdresch/CogniSync-sub001/internal/models"
	"github.com/mdresch/CogniSync-sub001/internal/registry"
	"github.com/mdresch/CogniSync-sub001/internal/store"
)

// ConfigsHandler manages sync configurations
type ConfigsHandler struct {
	Store    store.Store
	Registry *registry.Registry
	Logger   *zap.Logger
}

// NewConfigsHandler creates a new configs handler with dependencies
func NewConfigsHandler(s store.Store, reg *registry.Registry, logger *zap.Logger) *ConfigsHandler {
	return &ConfigsHandler{
		Store:    s,
		Registry: reg,
		Logger:   logger,
	}
}

// ConfigRequest is the create/update body for a sync configuration. Updates
// replace the configuration as a whole unit.
type ConfigRequest struct {
	TenantID                string            `json:"tenant_id"`
	Name                    string            `json:"name"`
	Active                  *bool             `json:"active"`
	WebhookSecret           string            `json:"webhook_secret"`
	PreviousSecret          *string           `json:"previous_secret"`
	PreviousSecretExpiresAt *time.Time        `json:"previous_secret_expires_at"`
	EntityMappings          map[string]string `json:"entity_mappings"`
	RelationshipMappings    map[string]string `json:"relationship_mappings"`
	SpaceFilters            []string          `json:"space_filters"`
}

func (r *ConfigRequest) validate() error {
	if r.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.WebhookSecret == "" {
		return errors.New("webhook_secret is required")
	}
	return nil
}

func (r *ConfigRequest) toModel() *models.SyncConfig {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &models.SyncConfig{
		TenantID:                r.TenantID,
		Name:                    r.Name,
		Active:                  active,
		WebhookSecret:           r.WebhookSecret,
		PreviousSecret:          r.PreviousSecret,
		PreviousSecretExpiresAt: r.PreviousSecretExpiresAt,
		EntityMappings:          r.EntityMappings,
		RelationshipMappings:    r.RelationshipMappings,
		SpaceFilters:            r.SpaceFilters,
	}
}

// CreateConfig handles POST /api/v1/configs
func (h *ConfigsHandler) CreateConfig(c *fiber.Ctx) error {
	var req ConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := req.validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	cfg := req.toModel()
	cfg.ID = uuid.New()

	if err := h.Store.CreateConfig(c.Context(), cfg); err != nil {
		h.Logger.Error("Failed to create sync config",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create configuration",
		})
	}

	h.Logger.Info("Sync config created",
		zap.String("config_id", cfg.ID.String()),
		zap.String("tenant_id", cfg.TenantID),
	)
	return c.Status(fiber.StatusCreated).JSON(cfg)
}

// ListConfigs handles GET /api/v1/configs, optionally filtered by tenant_id
func (h *ConfigsHandler) ListConfigs(c *fiber.Ctx) error {
	configs, err := h.Store.ListConfigs(c.Context(), c.Query("tenant_id"))
	if err != nil {
		h.Logger.Error("Failed to list sync configs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list configurations",
		})
	}
	return c.JSON(fiber.Map{"configs": configs})
}

// GetConfig handles GET /api/v1/configs/:id
func (h *ConfigsHandler) GetConfig(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a UUID",
		})
	}

	cfg, err := h.Store.GetConfig(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "configuration not found",
			})
		}
		h.Logger.Error("Failed to load sync config",
			zap.String("config_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch configuration",
		})
	}
	return c.JSON(cfg)
}

// UpdateConfig handles PUT /api/v1/configs/:id. The stored configuration is
// replaced as a whole and the registry cache entry dropped so readers never
// observe a partially migrated rule set.
func (h *ConfigsHandler) UpdateConfig(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a UUID",
		})
	}

	var req ConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := req.validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	cfg := req.toModel()
	cfg.ID = id

	if err := h.Store.UpdateConfig(c.Context(), cfg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "configuration not found",
			})
		}
		h.Logger.Error("Failed to update sync config",
			zap.String("config_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update configuration",
		})
	}

	h.Registry.Invalidate(id)

	h.Logger.Info("Sync config updated",
		zap.String("config_id", id.String()),
		zap.String("tenant_id", cfg.TenantID),
	)
	return c.JSON(cfg)
}

// DeleteConfig handles DELETE /api/v1/configs/:id (soft delete)
func (h *ConfigsHandler) DeleteConfig(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a UUID",
		})
	}

	if err := h.Store.DeleteConfig(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "configuration not found",
			})
		}
		h.Logger.Error("Failed to delete sync config",
			zap.String("config_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete configuration",
		})
	}

	h.Registry.Invalidate(id)

	h.Logger.Info("Sync config deleted",
		zap.String("config_id", id.String()),
	)
	return c.SendStatus(fiber.StatusNoContent)
}
