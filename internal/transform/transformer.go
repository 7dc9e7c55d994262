// Package transform maps provider webhook payloads into ordered canonical
// graph changes. Transform is a pure function: identical (payload, config)
// inputs always yield byte-identical change sequences.
package transform

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/mdresch/CogniSync-sub001/internal/faults"
	"github.com/mdresch/CogniSync-sub001/internal/models"
)

// providerPayload is the documented extraction contract for incoming
// notifications. Everything beyond these fields is opaque.
type providerPayload struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	SpaceKey  string          `json:"spaceKey"`
	Entity    *providerEntity `json:"entity"`
	Actor     *providerActor  `json:"actor"`
	Container *providerEntity `json:"container"`
	Links     []providerLink  `json:"links"`
}

type providerEntity struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type providerActor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type providerLink struct {
	Type       string `json:"type"`
	TargetID   string `json:"targetId"`
	TargetType string `json:"targetType"`
}

// entityPayload is the canonical payload for entity changes
type entityPayload struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	SpaceKey   string `json:"space_key,omitempty"`
}

// linkPayload is the canonical payload for LINK_ENTITIES changes
type linkPayload struct {
	Relationship string `json:"relationship"`
	SourceID     string `json:"source_id"`
	SourceType   string `json:"source_type"`
	TargetID     string `json:"target_id"`
	TargetType   string `json:"target_type"`
}

// Built-in relationship names, overridable through relationship_mappings
const (
	relAuthoredBy = "AUTHORED_BY"
	relContains   = "CONTAINS"
)

// Transform maps a raw provider payload into the ordered canonical change set
// for the event. An event outside all space filters yields an empty set.
// Payloads that cannot be mapped under cfg fail with a ValidationError.
func Transform(eventID uuid.UUID, rawPayload []byte, cfg *models.SyncConfig) ([]models.CanonicalChange, error) {
	var payload providerPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, &faults.ValidationError{Reason: "payload is not valid JSON: " + err.Error()}
	}

	if payload.EventType == "" {
		return nil, &faults.ValidationError{Field: "eventType", Reason: "missing"}
	}
	if payload.Entity == nil || payload.Entity.ID == "" {
		return nil, &faults.ValidationError{Field: "entity.id", Reason: "missing"}
	}
	if payload.Entity.Type == "" {
		return nil, &faults.ValidationError{Field: "entity.type", Reason: "missing"}
	}

	// Out-of-filter events are a no-op, not an error
	if !cfg.AllowsSpace(payload.SpaceKey) {
		return []models.CanonicalChange{}, nil
	}

	kind, err := changeKindFor(payload.EventType)
	if err != nil {
		return nil, err
	}

	entityType, ok := cfg.EntityMappings[payload.Entity.Type]
	if !ok {
		return nil, &faults.ValidationError{
			Field:  "entity.type",
			Reason: "no mapping for provider type " + payload.Entity.Type,
		}
	}

	var changes []models.CanonicalChange

	entityChange, err := marshalChange(kind, entityPayload{
		EntityID:   payload.Entity.ID,
		EntityType: entityType,
		Title:      payload.Entity.Title,
		URL:        payload.Entity.URL,
		SpaceKey:   payload.SpaceKey,
	})
	if err != nil {
		return nil, err
	}
	changes = append(changes, entityChange)

	// A delete severs the entity; no links accompany it
	if kind != models.DeleteEntity {
		if kind == models.CreateEntity && payload.Actor != nil && payload.Actor.ID != "" {
			link, err := marshalChange(models.LinkEntities, linkPayload{
				Relationship: relationshipFor(cfg, "authored_by", relAuthoredBy),
				SourceID:     payload.Entity.ID,
				SourceType:   entityType,
				TargetID:     payload.Actor.ID,
				TargetType:   mappedOr(cfg, "person", "Person"),
			})
			if err != nil {
				return nil, err
			}
			changes = append(changes, link)
		}

		if payload.Container != nil && payload.Container.ID != "" {
			containerType, ok := cfg.EntityMappings[payload.Container.Type]
			if !ok {
				return nil, &faults.ValidationError{
					Field:  "container.type",
					Reason: "no mapping for provider type " + payload.Container.Type,
				}
			}
			link, err := marshalChange(models.LinkEntities, linkPayload{
				Relationship: relationshipFor(cfg, "contains", relContains),
				SourceID:     payload.Container.ID,
				SourceType:   containerType,
				TargetID:     payload.Entity.ID,
				TargetType:   entityType,
			})
			if err != nil {
				return nil, err
			}
			changes = append(changes, link)
		}

		for _, providerLinkEntry := range payload.Links {
			relationship, ok := cfg.RelationshipMappings[providerLinkEntry.Type]
			if !ok {
				return nil, &faults.ValidationError{
					Field:  "links.type",
					Reason: "no mapping for provider relationship " + providerLinkEntry.Type,
				}
			}
			targetType, ok := cfg.EntityMappings[providerLinkEntry.TargetType]
			if !ok {
				return nil, &faults.ValidationError{
					Field:  "links.targetType",
					Reason: "no mapping for provider type " + providerLinkEntry.TargetType,
				}
			}
			link, err := marshalChange(models.LinkEntities, linkPayload{
				Relationship: relationship,
				SourceID:     payload.Entity.ID,
				SourceType:   entityType,
				TargetID:     providerLinkEntry.TargetID,
				TargetType:   targetType,
			})
			if err != nil {
				return nil, err
			}
			changes = append(changes, link)
		}
	}

	for i := range changes {
		changes[i].ChangeID = models.ChangeID(eventID, i)
	}
	return changes, nil
}

func changeKindFor(eventType string) (models.ChangeKind, error) {
	switch {
	case strings.HasSuffix(eventType, "_created"):
		return models.CreateEntity, nil
	case strings.HasSuffix(eventType, "_updated"):
		return models.UpdateEntity, nil
	case strings.HasSuffix(eventType, "_deleted"),
		strings.HasSuffix(eventType, "_removed"),
		strings.HasSuffix(eventType, "_trashed"):
		return models.DeleteEntity, nil
	default:
		return "", &faults.ValidationError{Field: "eventType", Reason: "unknown event type " + eventType}
	}
}

// relationshipFor resolves a built-in relationship through the config's
// relationship mappings, falling back to the canonical default
func relationshipFor(cfg *models.SyncConfig, providerName, fallback string) string {
	if mapped, ok := cfg.RelationshipMappings[providerName]; ok {
		return mapped
	}
	return fallback
}

func mappedOr(cfg *models.SyncConfig, providerType, fallback string) string {
	if mapped, ok := cfg.EntityMappings[providerType]; ok {
		return mapped
	}
	return fallback
}

func marshalChange(kind models.ChangeKind, payload interface{}) (models.CanonicalChange, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.CanonicalChange{}, &faults.ValidationError{Reason: "cannot encode canonical payload: " + err.Error()}
	}
	return models.CanonicalChange{Kind: kind, Payload: body}, nil
}
