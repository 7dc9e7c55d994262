package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mdresch/CogniSync-sub001/internal/models"
	"github.com/mdresch/CogniSync-sub001/internal/store"
)

// EventsHandler is the audit and replay surface over webhook events
type EventsHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

// NewEventsHandler creates a new events handler with dependencies
func NewEventsHandler(s store.Store, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		Store:  s,
		Logger: logger,
	}
}

// EventsResponse represents the response structure for GET /events
type EventsResponse struct {
	Events  []EventDTO `json:"events"`
	HasMore bool       `json:"has_more"`
}

// EventDTO represents a single webhook event in listings
type EventDTO struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	SyncConfigID    string  `json:"sync_config_id"`
	ExternalEventID string  `json:"external_event_id"`
	Status          string  `json:"status"`
	Attempts        int     `json:"attempts"`
	LastError       *string `json:"last_error,omitempty"`
	CorrelationID   string  `json:"correlation_id"`
	ReceivedAt      string  `json:"received_at"`
	NextRetryAt     string  `json:"next_retry_at"`
}

func toEventDTO(event *models.WebhookEvent) EventDTO {
	return EventDTO{
		ID:              event.ID.String(),
		TenantID:        event.TenantID,
		SyncConfigID:    event.SyncConfigID.String(),
		ExternalEventID: event.ExternalEventID,
		Status:          string(event.Status),
		Attempts:        event.Attempts,
		LastError:       event.LastError,
		CorrelationID:   event.CorrelationID.String(),
		ReceivedAt:      event.ReceivedAt.UTC().Format(time.RFC3339),
		NextRetryAt:     event.NextRetryAt.UTC().Format(time.RFC3339),
	}
}

// GetEvents handles GET /api/v1/events
// Query parameters: tenant_id, config_id, status, from, to (RFC3339),
// limit (default 25), offset
func (h *EventsHandler) GetEvents(c *fiber.Ctx) error {
	filter := store.EventFilter{
		TenantID: c.Query("tenant_id"),
		Limit:    25,
	}

	if configIDStr := c.Query("config_id"); configIDStr != "" {
		configID, err := uuid.Parse(configIDStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "config_id must be a UUID",
			})
		}
		filter.SyncConfigID = configID
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status, err := models.ParseEventStatus(statusStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		filter.Status = status
	}

	if fromStr := c.Query("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "from must be RFC3339",
			})
		}
		filter.From = from
	}

	if toStr := c.Query("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "to must be RFC3339",
			})
		}
		filter.To = to
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		filter.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		filter.Offset = offset
	}

	events, hasMore, err := h.Store.ListEvents(c.Context(), filter)
	if err != nil {
		h.Logger.Error("Failed to query webhook events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch events",
		})
	}

	eventDTOs := make([]EventDTO, 0, len(events))
	for i := range events {
		eventDTOs = append(eventDTOs, toEventDTO(&events[i]))
	}

	return c.JSON(EventsResponse{
		Events:  eventDTOs,
		HasMore: hasMore,
	})
}

// GetEvent handles GET /api/v1/events/:id, returning the full record
// including the untouched raw payload for diagnostics
func (h *EventsHandler) GetEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a UUID",
		})
	}

	event, err := h.Store.GetEvent(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "event not found",
			})
		}
		h.Logger.Error("Failed to load webhook event",
			zap.String("event_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch event",
		})
	}

	return c.JSON(event)
}

// ReplayEvent handles POST /api/v1/events/:id/replay. Only COMPLETED or
// DEAD_LETTER events can be replayed; this is the single path out of a
// terminal state.
func (h *EventsHandler) ReplayEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a UUID",
		})
	}

	event, err := h.Store.ReplayEvent(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "event not found",
			})
		case errors.Is(err, store.ErrConflict):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "only completed or dead-lettered events can be replayed",
			})
		default:
			h.Logger.Error("Failed to replay webhook event",
				zap.String("event_id", id.String()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to replay event",
			})
		}
	}

	h.Logger.Info("Event replayed",
		zap.String("event_id", event.ID.String()),
		zap.String("tenant_id", event.TenantID),
		zap.String("correlation_id", event.CorrelationID.String()),
	)
	return c.JSON(toEventDTO(event))
}
