package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdresch/CogniSync-sub001/internal/models"
	"github.com/mdresch/CogniSync-sub001/internal/store"
)

func seedConfig(t *testing.T, s store.Store) *models.SyncConfig {
	t.Helper()
	cfg := &models.SyncConfig{
		ID:             uuid.New(),
		TenantID:       "tenant-1",
		Name:           "confluence",
		Active:         true,
		WebhookSecret:  "current-secret",
		EntityMappings: map[string]string{"page": "Document"},
	}
	require.NoError(t, s.CreateConfig(context.Background(), cfg))
	return cfg
}

func TestVerifySignatureCurrentSecret(t *testing.T) {
	s := store.NewMemory()
	reg := New(s, time.Minute, zap.NewNop())
	cfg := seedConfig(t, s)

	body := []byte(`{"eventId":"evt-1"}`)
	assert.NoError(t, reg.VerifySignature(cfg, body, Sign("current-secret", body)))

	err := reg.VerifySignature(cfg, body, Sign("wrong-secret", body))
	assert.Error(t, err)

	// Signature over a different body must not verify
	err = reg.VerifySignature(cfg, body, Sign("current-secret", []byte(`{}`)))
	assert.Error(t, err)
}

func TestVerifySignatureMalformedHeader(t *testing.T) {
	s := store.NewMemory()
	reg := New(s, time.Minute, zap.NewNop())
	cfg := seedConfig(t, s)
	body := []byte(`{}`)

	for _, header := range []string{"", "sha256=zzzz", "md5=abcdef", "abcdef"} {
		assert.Error(t, reg.VerifySignature(cfg, body, header), "header %q", header)
	}
}

func TestVerifySignatureRotation(t *testing.T) {
	s := store.NewMemory()
	reg := New(s, time.Minute, zap.NewNop())
	cfg := seedConfig(t, s)

	previous := "old-secret"
	cfg.PreviousSecret = &previous
	body := []byte(`{"eventId":"evt-2"}`)

	// Previous secret accepted while the grace window is open
	grace := time.Now().Add(time.Hour)
	cfg.PreviousSecretExpiresAt = &grace
	assert.NoError(t, reg.VerifySignature(cfg, body, Sign("old-secret", body)))
	assert.NoError(t, reg.VerifySignature(cfg, body, Sign("current-secret", body)))

	// Expired grace window rejects the old secret
	expired := time.Now().Add(-time.Hour)
	cfg.PreviousSecretExpiresAt = &expired
	assert.Error(t, reg.VerifySignature(cfg, body, Sign("old-secret", body)))
	assert.NoError(t, reg.VerifySignature(cfg, body, Sign("current-secret", body)))
}

func TestGetCachesWithinTTL(t *testing.T) {
	s := store.NewMemory()
	reg := New(s, time.Minute, zap.NewNop())
	cfg := seedConfig(t, s)
	ctx := context.Background()

	loaded, err := reg.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "current-secret", loaded.WebhookSecret)

	// A store-side update is not visible until the entry expires or is
	// invalidated
	update := *cfg
	update.WebhookSecret = "rotated"
	require.NoError(t, s.UpdateConfig(ctx, &update))

	cached, err := reg.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "current-secret", cached.WebhookSecret)

	reg.Invalidate(cfg.ID)

	fresh, err := reg.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", fresh.WebhookSecret)
}

func TestGetExpiredTTLReloads(t *testing.T) {
	s := store.NewMemory()
	reg := New(s, time.Millisecond, zap.NewNop())
	cfg := seedConfig(t, s)
	ctx := context.Background()

	_, err := reg.Get(ctx, cfg.ID)
	require.NoError(t, err)

	update := *cfg
	update.WebhookSecret = "rotated"
	require.NoError(t, s.UpdateConfig(ctx, &update))

	time.Sleep(5 * time.Millisecond)

	fresh, err := reg.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", fresh.WebhookSecret)
}

func TestGetUnknownConfig(t *testing.T) {
	s := store.NewMemory()
	reg := New(s, time.Minute, zap.NewNop())

	_, err := reg.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
