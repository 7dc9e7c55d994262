package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mdresch/CogniSync-sub001/internal/metrics"
	"github.com/mdresch/CogniSync-sub001/internal/models"
	"github.com/mdresch/CogniSync-sub001/internal/registry"
	"github.com/mdresch/CogniSync-sub001/internal/store"
)

// SignatureHeader carries the provider's HMAC-SHA256 signature over the raw body
const SignatureHeader = "X-Webhook-Signature"

// EventIDHeader is the fallback source for the provider event id
const EventIDHeader = "X-Event-Id"

// WebhookHandler ingests signed provider notifications
type WebhookHandler struct {
	Store      store.Store
	Registry   *registry.Registry
	MaxRetries int
	Logger     *zap.Logger
}

// NewWebhookHandler creates the ingestion handler with dependencies
func NewWebhookHandler(s store.Store, reg *registry.Registry, maxRetries int, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		Store:      s,
		Registry:   reg,
		MaxRetries: maxRetries,
		Logger:     logger,
	}
}

// AcceptedResponse acknowledges a durably queued event
type AcceptedResponse struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// Receive handles POST /webhooks/:configId. It verifies the signature,
// deduplicates on (configId, externalEventId), persists a PENDING event, and
// acknowledges immediately without waiting for processing.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	configID, err := uuid.Parse(c.Params("configId"))
	if err != nil {
		metrics.EventsIngested.WithLabelValues("rejected").Inc()
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown configuration",
		})
	}

	cfg, err := h.Registry.Get(c.Context(), configID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.EventsIngested.WithLabelValues("rejected").Inc()
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "unknown configuration",
			})
		}
		h.Logger.Error("Failed to load sync config for ingestion",
			zap.String("config_id", configID.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "configuration unavailable",
		})
	}

	// Fiber reuses its buffers between requests; the payload outlives this
	// handler, so it has to be copied out
	body := append([]byte(nil), c.Body()...)

	if err := h.Registry.VerifySignature(cfg, body, c.Get(SignatureHeader)); err != nil {
		metrics.EventsIngested.WithLabelValues("rejected").Inc()
		h.Logger.Warn("Rejected webhook with invalid signature",
			zap.String("config_id", configID.String()),
			zap.String("tenant_id", cfg.TenantID),
		)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid signature",
		})
	}

	if len(body) == 0 || !json.Valid(body) {
		metrics.EventsIngested.WithLabelValues("rejected").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be valid JSON",
		})
	}

	externalEventID := extractExternalEventID(body, c.Get(EventIDHeader))
	if externalEventID == "" {
		metrics.EventsIngested.WithLabelValues("rejected").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing event id",
		})
	}

	// Redelivery of a known provider event returns the prior acknowledgment
	if existing, err := h.Store.FindEventByDedupKey(c.Context(), configID, externalEventID); err == nil {
		metrics.EventsIngested.WithLabelValues("duplicate").Inc()
		return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{
			EventID:       existing.ID.String(),
			CorrelationID: existing.CorrelationID.String(),
			Status:        string(existing.Status),
			Duplicate:     true,
		})
	}

	now := time.Now()
	event := &models.WebhookEvent{
		ID:              uuid.New(),
		SyncConfigID:    configID,
		TenantID:        cfg.TenantID,
		ExternalEventID: externalEventID,
		RawPayload:      body,
		ReceivedAt:      now,
		Status:          models.StatusPending,
		MaxRetries:      h.MaxRetries,
		NextRetryAt:     now,
		CorrelationID:   uuid.New(),
	}

	if err := h.Store.CreateEvent(c.Context(), event); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			// Lost a race against a concurrent delivery of the same event
			if existing, findErr := h.Store.FindEventByDedupKey(c.Context(), configID, externalEventID); findErr == nil {
				metrics.EventsIngested.WithLabelValues("duplicate").Inc()
				return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{
					EventID:       existing.ID.String(),
					CorrelationID: existing.CorrelationID.String(),
					Status:        string(existing.Status),
					Duplicate:     true,
				})
			}
		}
		h.Logger.Error("Failed to persist webhook event",
			zap.String("config_id", configID.String()),
			zap.String("external_event_id", externalEventID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "failed to queue event",
		})
	}

	metrics.EventsIngested.WithLabelValues("accepted").Inc()
	h.Logger.Info("Webhook event queued",
		zap.String("event_id", event.ID.String()),
		zap.String("tenant_id", cfg.TenantID),
		zap.String("external_event_id", externalEventID),
		zap.String("correlation_id", event.CorrelationID.String()),
	)

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{
		EventID:       event.ID.String(),
		CorrelationID: event.CorrelationID.String(),
		Status:        string(event.Status),
	})
}

// extractExternalEventID pulls the provider event id from the payload,
// falling back to the header for providers that only send it there
func extractExternalEventID(body []byte, headerValue string) string {
	var envelope struct {
		EventID string `json:"eventId"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.EventID != "" {
		return envelope.EventID
	}
	return headerValue
}
