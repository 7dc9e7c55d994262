package registry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mdresch/CogniSync-sub001/internal/faults"
	"github.com/mdresch/CogniSync-sub001/internal/models"
	"github.com/mdresch/CogniSync-sub001/internal/store"
)

// SignaturePrefix is the scheme prefix carried in the signature header
const SignaturePrefix = "sha256="

type cacheEntry struct {
	cfg       *models.SyncConfig
	refreshed time.Time
}

// Registry caches sync configurations loaded from the store. Entries are
// replaced as whole objects so a reader never observes a half-updated rule
// set, and expire after the configured TTL.
type Registry struct {
	store  store.Store
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]cacheEntry
}

// New creates a registry backed by the given store
func New(s store.Store, ttl time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		store:  s,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[uuid.UUID]cacheEntry),
	}
}

// Get returns the configuration for configID, serving from cache within the
// TTL and reloading the whole object from the store otherwise.
func (r *Registry) Get(ctx context.Context, configID uuid.UUID) (*models.SyncConfig, error) {
	r.mu.RLock()
	entry, ok := r.cache[configID]
	r.mu.RUnlock()

	if ok && time.Since(entry.refreshed) < r.ttl {
		return entry.cfg, nil
	}

	cfg, err := r.store.GetConfig(ctx, configID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Drop a stale entry for a deleted config
			r.Invalidate(configID)
			return nil, store.ErrNotFound
		}
		// Store unavailable: serve the stale entry if we have one
		if ok {
			r.logger.Warn("Serving stale sync config, store lookup failed",
				zap.String("config_id", configID.String()),
				zap.Error(err),
			)
			return entry.cfg, nil
		}
		return nil, faults.Transient("config lookup", err)
	}

	r.mu.Lock()
	r.cache[configID] = cacheEntry{cfg: cfg, refreshed: time.Now()}
	r.mu.Unlock()

	return cfg, nil
}

// Invalidate drops the cached entry for configID so the next Get reloads it
func (r *Registry) Invalidate(configID uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, configID)
	r.mu.Unlock()
}

// VerifySignature checks an HMAC-SHA256 signature header against the raw
// request body. The current secret is tried first, then the previous secret if
// its rotation grace window has not expired. Both comparisons are
// constant-time.
func (r *Registry) VerifySignature(cfg *models.SyncConfig, body []byte, header string) error {
	provided, ok := decodeSignatureHeader(header)
	if !ok {
		return &faults.AuthError{ConfigID: cfg.ID.String(), Reason: "malformed signature header"}
	}

	if cfg.WebhookSecret != "" && verifyHMAC(cfg.WebhookSecret, body, provided) {
		return nil
	}

	if cfg.PreviousSecret != nil && *cfg.PreviousSecret != "" {
		graceActive := cfg.PreviousSecretExpiresAt == nil || cfg.PreviousSecretExpiresAt.After(time.Now())
		if graceActive && verifyHMAC(*cfg.PreviousSecret, body, provided) {
			return nil
		}
	}

	return &faults.AuthError{ConfigID: cfg.ID.String(), Reason: "signature mismatch"}
}

func decodeSignatureHeader(header string) ([]byte, bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, SignaturePrefix) {
		return nil, false
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(header, SignaturePrefix))
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func verifyHMAC(secret string, body, provided []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign computes the signature header value for a body under the given secret.
// Used by provider simulators and tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
