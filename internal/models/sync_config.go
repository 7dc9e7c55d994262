package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncConfig holds the per-tenant ingestion rules: the webhook secret (plus the
// previous secret during a rotation grace window), the provider-to-canonical
// mappings, and the space filters. It is replaced as a whole unit on update.
type SyncConfig struct {
	ID                       uuid.UUID         `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	TenantID                 string            `gorm:"not null;index" json:"tenant_id"`
	Name                     string            `gorm:"not null" json:"name"`
	Active                   bool              `gorm:"default:true" json:"active"`
	WebhookSecret            string            `json:"webhook_secret"` // secret for HMAC
	PreviousSecret           *string           `json:"previous_secret,omitempty"`
	PreviousSecretExpiresAt  *time.Time        `json:"previous_secret_expires_at,omitempty"`
	EntityMappings           map[string]string `gorm:"type:jsonb;serializer:json" json:"entity_mappings"`
	RelationshipMappings     map[string]string `gorm:"type:jsonb;serializer:json" json:"relationship_mappings"`
	SpaceFilters             []string          `gorm:"type:jsonb;serializer:json" json:"space_filters"`
	CreatedAt                time.Time         `gorm:"default:now()" json:"created_at"`
	UpdatedAt                time.Time         `gorm:"default:now()" json:"updated_at"`
	DeletedAt                gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

func (SyncConfig) TableName() string {
	return "sync_configs"
}

// AllowsSpace reports whether a payload from the given space/project key passes
// this configuration's filters. An empty filter list allows everything.
func (c *SyncConfig) AllowsSpace(spaceKey string) bool {
	if len(c.SpaceFilters) == 0 {
		return true
	}
	for _, key := range c.SpaceFilters {
		if key == spaceKey {
			return true
		}
	}
	return false
}
