package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdresch/CogniSync-sub001/internal/models"
)

// Memory is an in-process Store with the same claim and replay semantics as
// the Postgres implementation. Used in tests and local development.
type Memory struct {
	mu      sync.Mutex
	events  map[uuid.UUID]*models.WebhookEvent
	configs map[uuid.UUID]*models.SyncConfig
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		events:  make(map[uuid.UUID]*models.WebhookEvent),
		configs: make(map[uuid.UUID]*models.SyncConfig),
	}
}

func copyEvent(e *models.WebhookEvent) *models.WebhookEvent {
	cp := *e
	if e.LastError != nil {
		lastErr := *e.LastError
		cp.LastError = &lastErr
	}
	cp.RawPayload = append([]byte(nil), e.RawPayload...)
	return &cp
}

func copyConfig(c *models.SyncConfig) *models.SyncConfig {
	cp := *c
	if c.PreviousSecret != nil {
		prev := *c.PreviousSecret
		cp.PreviousSecret = &prev
	}
	if c.PreviousSecretExpiresAt != nil {
		exp := *c.PreviousSecretExpiresAt
		cp.PreviousSecretExpiresAt = &exp
	}
	cp.EntityMappings = make(map[string]string, len(c.EntityMappings))
	for k, v := range c.EntityMappings {
		cp.EntityMappings[k] = v
	}
	cp.RelationshipMappings = make(map[string]string, len(c.RelationshipMappings))
	for k, v := range c.RelationshipMappings {
		cp.RelationshipMappings[k] = v
	}
	cp.SpaceFilters = append([]string(nil), c.SpaceFilters...)
	return &cp
}

func (s *Memory) CreateEvent(ctx context.Context, event *models.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.events {
		if existing.SyncConfigID == event.SyncConfigID && existing.ExternalEventID == event.ExternalEventID {
			return ErrDuplicateEvent
		}
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	s.events[event.ID] = copyEvent(event)
	return nil
}

func (s *Memory) FindEventByDedupKey(ctx context.Context, configID uuid.UUID, externalEventID string) (*models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events {
		if event.SyncConfigID == configID && event.ExternalEventID == externalEventID {
			return copyEvent(event), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) GetEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEvent(event), nil
}

func (s *Memory) ClaimDueEvents(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staleBefore := now.Add(-lease)
	var due []*models.WebhookEvent
	for _, event := range s.events {
		switch {
		case event.Status.Claimable() && !event.NextRetryAt.After(now):
			due = append(due, event)
		case event.Status == models.StatusProcessing && !event.UpdatedAt.After(staleBefore):
			// Lease expired; the claiming worker is presumed dead
			due = append(due, event)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]models.WebhookEvent, 0, len(due))
	for _, event := range due {
		event.Status = models.StatusProcessing
		event.Version++
		event.UpdatedAt = now
		claimed = append(claimed, *copyEvent(event))
	}
	return claimed, nil
}

// guardedUpdate fails on an expired context, like a real database round trip
// would
func (s *Memory) guardedUpdate(ctx context.Context, id uuid.UUID, version int64, apply func(*models.WebhookEvent)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return ErrConflict
	}
	if event.Status != models.StatusProcessing || event.Version != version {
		return ErrConflict
	}
	apply(event)
	event.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) MarkCompleted(ctx context.Context, id uuid.UUID, version int64) error {
	return s.guardedUpdate(ctx, id, version, func(event *models.WebhookEvent) {
		event.Status = models.StatusCompleted
	})
}

func (s *Memory) MarkRetrying(ctx context.Context, id uuid.UUID, version int64, attempts int, lastError string, nextRetryAt time.Time) error {
	return s.guardedUpdate(ctx, id, version, func(event *models.WebhookEvent) {
		event.Status = models.StatusRetrying
		event.Attempts = attempts
		event.LastError = &lastError
		event.NextRetryAt = nextRetryAt
	})
}

func (s *Memory) MarkDeadLetter(ctx context.Context, id uuid.UUID, version int64, attempts int, lastError string) error {
	return s.guardedUpdate(ctx, id, version, func(event *models.WebhookEvent) {
		event.Status = models.StatusDeadLetter
		event.Attempts = attempts
		event.LastError = &lastError
	})
}

func (s *Memory) AdvancePublishCursor(ctx context.Context, id uuid.UUID, version int64, publishedCount int) error {
	return s.guardedUpdate(ctx, id, version, func(event *models.WebhookEvent) {
		event.PublishedCount = publishedCount
	})
}

func (s *Memory) ListEvents(ctx context.Context, filter EventFilter) ([]models.WebhookEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}

	var matched []*models.WebhookEvent
	for _, event := range s.events {
		if filter.TenantID != "" && event.TenantID != filter.TenantID {
			continue
		}
		if filter.SyncConfigID != uuid.Nil && event.SyncConfigID != filter.SyncConfigID {
			continue
		}
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && event.ReceivedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && event.ReceivedAt.After(filter.To) {
			continue
		}
		matched = append(matched, event)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})

	if filter.Offset >= len(matched) {
		return []models.WebhookEvent{}, false, nil
	}
	matched = matched[filter.Offset:]

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}

	events := make([]models.WebhookEvent, 0, len(matched))
	for _, event := range matched {
		events = append(events, *copyEvent(event))
	}
	return events, hasMore, nil
}

func (s *Memory) ReplayEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !event.Status.IsTerminal() {
		return nil, ErrConflict
	}

	now := time.Now()
	event.Status = models.StatusPending
	event.Attempts = 0
	event.LastError = nil
	event.PublishedCount = 0
	event.CorrelationID = uuid.New()
	event.NextRetryAt = now
	event.Version++
	event.UpdatedAt = now
	return copyEvent(event), nil
}

func (s *Memory) CountClaimable(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, event := range s.events {
		if event.Status.Claimable() && !event.NextRetryAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *Memory) CreateConfig(ctx context.Context, cfg *models.SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.configs[cfg.ID] = copyConfig(cfg)
	return nil
}

func (s *Memory) GetConfig(ctx context.Context, id uuid.UUID) (*models.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConfig(cfg), nil
}

func (s *Memory) ListConfigs(ctx context.Context, tenantID string) ([]models.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var configs []models.SyncConfig
	for _, cfg := range s.configs {
		if tenantID != "" && cfg.TenantID != tenantID {
			continue
		}
		configs = append(configs, *copyConfig(cfg))
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].CreatedAt.After(configs[j].CreatedAt)
	})
	return configs, nil
}

func (s *Memory) UpdateConfig(ctx context.Context, cfg *models.SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.configs[cfg.ID]
	if !ok {
		return ErrNotFound
	}
	replacement := copyConfig(cfg)
	replacement.CreatedAt = existing.CreatedAt
	replacement.UpdatedAt = time.Now()
	s.configs[cfg.ID] = replacement
	return nil
}

func (s *Memory) DeleteConfig(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[id]; !ok {
		return ErrNotFound
	}
	delete(s.configs, id)
	return nil
}
