package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdresch/CogniSync-sub001/internal/models"
)

// Postgres implements Store on top of a GORM Postgres connection.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres creates a Postgres-backed store
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateEvent(ctx context.Context, event *models.WebhookEvent) error {
	err := s.db.WithContext(ctx).Create(event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}

func (s *Postgres) FindEventByDedupKey(ctx context.Context, configID uuid.UUID, externalEventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("sync_config_id = ? AND external_event_id = ?", configID, externalEventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find webhook event by dedup key: %w", err)
	}
	return &event, nil
}

func (s *Postgres) GetEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load webhook event: %w", err)
	}
	return &event, nil
}

// ClaimDueEvents uses a single UPDATE over a locked subselect so that
// concurrent dispatcher instances on different machines never claim the same
// row. SKIP LOCKED keeps racing claimers from serializing on each other.
// PROCESSING rows whose lease has lapsed belonged to a dead worker and are
// reclaimed; the version bump invalidates that worker's guarded writes.
func (s *Postgres) ClaimDueEvents(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent

	staleBefore := now.Add(-lease)
	err := s.db.WithContext(ctx).Raw(`
		UPDATE webhook_events
		SET status = 'processing', version = version + 1, updated_at = $1
		WHERE id IN (
			SELECT id
			FROM webhook_events
			WHERE (status IN ('pending', 'retrying') AND next_retry_at <= $1)
			   OR (status = 'processing' AND updated_at <= $2)
			ORDER BY next_retry_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, now, staleBefore, limit).Scan(&events).Error

	if err != nil {
		return nil, fmt.Errorf("failed to claim due events: %w", err)
	}
	return events, nil
}

// guardedUpdate applies updates only if the event still holds the claim
// (status PROCESSING with the claimed version).
func (s *Postgres) guardedUpdate(ctx context.Context, id uuid.UUID, version int64, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()

	result := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ? AND version = ?", id, models.StatusProcessing, version).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update webhook event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *Postgres) MarkCompleted(ctx context.Context, id uuid.UUID, version int64) error {
	return s.guardedUpdate(ctx, id, version, map[string]interface{}{
		"status": models.StatusCompleted,
	})
}

func (s *Postgres) MarkRetrying(ctx context.Context, id uuid.UUID, version int64, attempts int, lastError string, nextRetryAt time.Time) error {
	return s.guardedUpdate(ctx, id, version, map[string]interface{}{
		"status":        models.StatusRetrying,
		"attempts":      attempts,
		"last_error":    lastError,
		"next_retry_at": nextRetryAt,
	})
}

func (s *Postgres) MarkDeadLetter(ctx context.Context, id uuid.UUID, version int64, attempts int, lastError string) error {
	return s.guardedUpdate(ctx, id, version, map[string]interface{}{
		"status":     models.StatusDeadLetter,
		"attempts":   attempts,
		"last_error": lastError,
	})
}

func (s *Postgres) AdvancePublishCursor(ctx context.Context, id uuid.UUID, version int64, publishedCount int) error {
	return s.guardedUpdate(ctx, id, version, map[string]interface{}{
		"published_count": publishedCount,
	})
}

func (s *Postgres) ListEvents(ctx context.Context, filter EventFilter) ([]models.WebhookEvent, bool, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}

	query := s.db.WithContext(ctx).Model(&models.WebhookEvent{})
	if filter.TenantID != "" {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.SyncConfigID != uuid.Nil {
		query = query.Where("sync_config_id = ?", filter.SyncConfigID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		query = query.Where("received_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("received_at <= ?", filter.To)
	}

	var events []models.WebhookEvent
	err := query.Order("received_at DESC").
		Limit(limit + 1). // Fetch one extra to determine has_more
		Offset(filter.Offset).
		Find(&events).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to list webhook events: %w", err)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}

// ReplayEvent reopens a terminal event inside a transaction: the row is locked,
// checked for a terminal status, and reset to PENDING with a fresh correlation
// id. The raw payload is never touched.
func (s *Postgres) ReplayEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Raw(`
			SELECT * FROM webhook_events WHERE id = $1 FOR UPDATE
		`, id).Scan(&event).Error
		if err != nil {
			return fmt.Errorf("failed to lock webhook event: %w", err)
		}
		if event.ID == uuid.Nil {
			return ErrNotFound
		}
		if !event.Status.IsTerminal() {
			return ErrConflict
		}

		now := time.Now()
		newCorrelation := uuid.New()
		err = tx.Model(&models.WebhookEvent{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":          models.StatusPending,
				"attempts":        0,
				"last_error":      nil,
				"published_count": 0,
				"correlation_id":  newCorrelation,
				"next_retry_at":   now,
				"version":         gorm.Expr("version + 1"),
				"updated_at":      now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to reset webhook event for replay: %w", err)
		}

		event.Status = models.StatusPending
		event.Attempts = 0
		event.LastError = nil
		event.PublishedCount = 0
		event.CorrelationID = newCorrelation
		event.NextRetryAt = now
		event.Version++
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *Postgres) CountClaimable(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("status IN ? AND next_retry_at <= ?",
			[]models.EventStatus{models.StatusPending, models.StatusRetrying}, now).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count claimable events: %w", err)
	}
	return count, nil
}

func (s *Postgres) CreateConfig(ctx context.Context, cfg *models.SyncConfig) error {
	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("failed to create sync config: %w", err)
	}
	return nil
}

func (s *Postgres) GetConfig(ctx context.Context, id uuid.UUID) (*models.SyncConfig, error) {
	var cfg models.SyncConfig
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load sync config: %w", err)
	}
	return &cfg, nil
}

func (s *Postgres) ListConfigs(ctx context.Context, tenantID string) ([]models.SyncConfig, error) {
	query := s.db.WithContext(ctx).Model(&models.SyncConfig{})
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}

	var configs []models.SyncConfig
	if err := query.Order("created_at DESC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync configs: %w", err)
	}
	return configs, nil
}

func (s *Postgres) UpdateConfig(ctx context.Context, cfg *models.SyncConfig) error {
	result := s.db.WithContext(ctx).Model(&models.SyncConfig{}).
		Where("id = ?", cfg.ID).
		Select("*").
		Omit("id", "created_at", "deleted_at").
		Updates(cfg)
	if result.Error != nil {
		return fmt.Errorf("failed to update sync config: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteConfig(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.SyncConfig{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete sync config: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
