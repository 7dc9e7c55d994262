package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mdresch/CogniSync-sub001/internal/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateEvent is returned when an event with the same
	// (sync_config_id, external_event_id) already exists
	ErrDuplicateEvent = errors.New("store: duplicate event")
	// ErrConflict is returned when a conditional update loses the race or the
	// event is not in a state the operation allows
	ErrConflict = errors.New("store: conflicting state")
)

// EventFilter narrows ListEvents queries. Zero values mean "any".
type EventFilter struct {
	TenantID     string
	SyncConfigID uuid.UUID
	Status       models.EventStatus
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Store is the durable event store and the sole coordination point between
// receiver, dispatcher instances, and the audit surface. All mutual exclusion
// is expressed as conditional updates against event status and version; claims
// and retries survive process restarts.
type Store interface {
	// CreateEvent inserts a new PENDING event. Returns ErrDuplicateEvent when
	// a row with the same (sync_config_id, external_event_id) exists.
	CreateEvent(ctx context.Context, event *models.WebhookEvent) error

	// FindEventByDedupKey returns the existing event for a provider delivery,
	// or ErrNotFound.
	FindEventByDedupKey(ctx context.Context, configID uuid.UUID, externalEventID string) (*models.WebhookEvent, error)

	// GetEvent returns one event by id, or ErrNotFound.
	GetEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)

	// ClaimDueEvents atomically transitions up to limit events into PROCESSING,
	// incrementing their version. Eligible are events in PENDING or RETRYING
	// state whose next_retry_at has elapsed, plus PROCESSING events untouched
	// for longer than lease (a worker died mid-claim; the version bump fences
	// its late writes). Each returned event carries its post-claim version;
	// exactly one concurrent caller wins any given event.
	ClaimDueEvents(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]models.WebhookEvent, error)

	// MarkCompleted finishes a claimed event. Guarded by (PROCESSING, version).
	MarkCompleted(ctx context.Context, id uuid.UUID, version int64) error

	// MarkRetrying returns a claimed event to the retry queue with its new
	// attempt count, last error, and next retry time. Guarded by
	// (PROCESSING, version).
	MarkRetrying(ctx context.Context, id uuid.UUID, version int64, attempts int, lastError string, nextRetryAt time.Time) error

	// MarkDeadLetter moves a claimed event to the terminal DEAD_LETTER state.
	// Guarded by (PROCESSING, version).
	MarkDeadLetter(ctx context.Context, id uuid.UUID, version int64, attempts int, lastError string) error

	// AdvancePublishCursor records that the first publishedCount changes of a
	// claimed event have been acknowledged by the bus, so a later retry does
	// not resend them.
	AdvancePublishCursor(ctx context.Context, id uuid.UUID, version int64, publishedCount int) error

	// ListEvents returns events matching the filter, newest first, and whether
	// more rows exist beyond the requested page.
	ListEvents(ctx context.Context, filter EventFilter) ([]models.WebhookEvent, bool, error)

	// ReplayEvent moves a COMPLETED or DEAD_LETTER event back to PENDING with
	// attempts, last_error, and the publish cursor reset and a fresh
	// correlation id. The raw payload is left untouched. Returns ErrConflict
	// for events in any other state.
	ReplayEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)

	// CountClaimable returns the number of events currently eligible for a
	// claim, for queue-depth reporting.
	CountClaimable(ctx context.Context, now time.Time) (int64, error)

	// CreateConfig inserts a new sync configuration.
	CreateConfig(ctx context.Context, cfg *models.SyncConfig) error

	// GetConfig returns one sync configuration by id, or ErrNotFound.
	GetConfig(ctx context.Context, id uuid.UUID) (*models.SyncConfig, error)

	// ListConfigs returns all configurations, optionally scoped to a tenant.
	ListConfigs(ctx context.Context, tenantID string) ([]models.SyncConfig, error)

	// UpdateConfig replaces a configuration as a whole unit.
	UpdateConfig(ctx context.Context, cfg *models.SyncConfig) error

	// DeleteConfig soft-deletes a configuration.
	DeleteConfig(ctx context.Context, id uuid.UUID) error
}
