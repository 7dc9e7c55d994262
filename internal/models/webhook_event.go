package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEvent struct {
	ID              uuid.UUID       `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	SyncConfigID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_config_external_event" json:"sync_config_id"`
	SyncConfig      SyncConfig      `gorm:"foreignKey:SyncConfigID" json:"sync_config,omitempty"`
	TenantID        string          `gorm:"not null;index" json:"tenant_id"`
	ExternalEventID string          `gorm:"not null;uniqueIndex:idx_config_external_event" json:"external_event_id"`
	RawPayload      json.RawMessage `gorm:"type:bytea;not null" json:"raw_payload"`
	ReceivedAt      time.Time       `gorm:"not null" json:"received_at"`
	Status          EventStatus     `gorm:"not null;default:'pending';index" json:"status"`
	Attempts        int             `gorm:"not null;default:0" json:"attempts"`
	MaxRetries      int             `gorm:"not null;default:3" json:"max_retries"`
	LastError       *string         `json:"last_error"`
	NextRetryAt     time.Time       `gorm:"not null;default:now()" json:"next_retry_at"`
	PublishedCount  int             `gorm:"not null;default:0" json:"published_count"`
	CorrelationID   uuid.UUID       `gorm:"type:uuid;not null" json:"correlation_id"`
	Version         int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt       time.Time       `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null;default:now()" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
