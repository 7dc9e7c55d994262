package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ChangeKind represents the type of a canonical graph change
type ChangeKind string

const (
	CreateEntity ChangeKind = "CREATE_ENTITY"
	UpdateEntity ChangeKind = "UPDATE_ENTITY"
	DeleteEntity ChangeKind = "DELETE_ENTITY"
	LinkEntities ChangeKind = "LINK_ENTITIES"
)

// CanonicalChange is one normalized create/update/delete/link operation,
// decoupled from the provider's native schema. ChangeID is deterministic for a
// given source event so downstream consumers can deduplicate redeliveries.
type CanonicalChange struct {
	Kind     ChangeKind      `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	ChangeID string          `json:"change_id"`
}

// ChangeID derives the deterministic change id for the change at the given
// index of a source event's change set.
func ChangeID(eventID uuid.UUID, index int) string {
	return fmt.Sprintf("%s:%d", eventID, index)
}

// ChangeMessage is the envelope published to the message bus for each
// canonical change. Consumers treat (correlation_id, change_id) as an
// idempotency key.
type ChangeMessage struct {
	Kind          ChangeKind      `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	TenantID      string          `json:"tenant_id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	SourceEventID uuid.UUID       `json:"source_event_id"`
	ChangeID      string          `json:"change_id"`
}
