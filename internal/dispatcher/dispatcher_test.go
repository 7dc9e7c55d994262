package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdresch/CogniSync-sub001/internal/config"
	"github.com/mdresch/CogniSync-sub001/internal/faults"
	"github.com/mdresch/CogniSync-sub001/internal/models"
	"github.com/mdresch/CogniSync-sub001/internal/registry"
	"github.com/mdresch/CogniSync-sub001/internal/store"
)

// fakePublisher records published change ids and pops one scripted outcome per
// call; calls beyond the script succeed
type fakePublisher struct {
	mu       sync.Mutex
	calls    []string
	outcomes []error
	delay    time.Duration
}

func (p *fakePublisher) Publish(ctx context.Context, event *models.WebhookEvent, change models.CanonicalChange) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if len(p.outcomes) > 0 {
		err = p.outcomes[0]
		p.outcomes = p.outcomes[1:]
	}
	if err != nil {
		return err
	}
	p.calls = append(p.calls, change.ChangeID)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func testDispatcherConfig() *config.DispatcherConfig {
	return &config.DispatcherConfig{
		PollInterval:    time.Second,
		BatchSize:       10,
		Parallelism:     2,
		EventTimeout:    time.Second,
		MaxRetries:      3,
		BackoffBase:     time.Nanosecond,
		BackoffCap:      time.Microsecond,
		ProcessingLease: time.Minute,
		InstanceID:      "test-dispatcher",
	}
}

type fixture struct {
	store  *store.Memory
	pub    *fakePublisher
	disp   *Dispatcher
	config *models.SyncConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := store.NewMemory()
	cfg := &models.SyncConfig{
		ID:       uuid.New(),
		TenantID: "tenant-1",
		Name:     "confluence",
		Active:   true,
		EntityMappings: map[string]string{
			"page":   "Document",
			"person": "Person",
		},
		WebhookSecret: "secret",
	}
	require.NoError(t, s.CreateConfig(context.Background(), cfg))

	pub := &fakePublisher{}
	reg := registry.New(s, time.Minute, zap.NewNop())
	disp := New(testDispatcherConfig(), s, reg, pub, zap.NewNop())

	return &fixture{store: s, pub: pub, disp: disp, config: cfg}
}

func (f *fixture) seedEvent(t *testing.T, payload string) *models.WebhookEvent {
	t.Helper()
	now := time.Now()
	event := &models.WebhookEvent{
		ID:              uuid.New(),
		SyncConfigID:    f.config.ID,
		TenantID:        f.config.TenantID,
		ExternalEventID: uuid.NewString(),
		RawPayload:      []byte(payload),
		ReceivedAt:      now,
		Status:          models.StatusPending,
		MaxRetries:      3,
		NextRetryAt:     now,
		CorrelationID:   uuid.New(),
	}
	require.NoError(t, f.store.CreateEvent(context.Background(), event))
	return event
}

const pageCreated = `{
	"eventId": "evt-1",
	"eventType": "page_created",
	"spaceKey": "ENG",
	"entity": {"id": "page-1", "type": "page", "title": "Doc"},
	"actor": {"id": "user-9", "name": "Dana"}
}`

func TestDispatcherCompletesEvent(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, pageCreated)

	f.disp.PollOnce(context.Background())

	stored, err := f.store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	assert.Equal(t, 2, stored.PublishedCount)

	published := f.pub.published()
	require.Len(t, published, 2)
	assert.Equal(t, models.ChangeID(event.ID, 0), published[0])
	assert.Equal(t, models.ChangeID(event.ID, 1), published[1])
}

func TestDispatcherRetriesThenDeadLetters(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, pageCreated)

	// Every publish fails transiently
	busDown := faults.Transient("bus publish", errors.New("bus unreachable"))
	f.pub.outcomes = []error{busDown, busDown, busDown, busDown, busDown, busDown, busDown, busDown}

	ctx := context.Background()
	for cycle := 1; cycle <= 3; cycle++ {
		f.disp.PollOnce(ctx)

		stored, err := f.store.GetEvent(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRetrying, stored.Status, "cycle %d", cycle)
		assert.Equal(t, cycle, stored.Attempts, "cycle %d", cycle)

		// Backoff in the test config is sub-microsecond
		time.Sleep(2 * time.Millisecond)
	}

	// Fourth consecutive transient failure exhausts the budget
	f.disp.PollOnce(ctx)

	stored, err := f.store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeadLetter, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "bus unreachable")
}

func TestDispatcherValidationErrorDeadLettersImmediately(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, `{"eventType": "page_archived", "entity": {"id": "p1", "type": "page"}}`)

	f.disp.PollOnce(context.Background())

	stored, err := f.store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeadLetter, stored.Status)
	// No retry budget consumed
	assert.Equal(t, 0, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "page_archived")
	assert.Empty(t, f.pub.published())
}

func TestDispatcherUnknownConfigDeadLetters(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, pageCreated)

	// The config disappears before processing
	require.NoError(t, f.store.DeleteConfig(context.Background(), f.config.ID))

	f.disp.PollOnce(context.Background())

	stored, err := f.store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeadLetter, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
}

func TestDispatcherParksEventForInactiveConfig(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, pageCreated)

	inactive := *f.config
	inactive.Active = false
	require.NoError(t, f.store.UpdateConfig(context.Background(), &inactive))

	f.disp.PollOnce(context.Background())

	stored, err := f.store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	assert.True(t, stored.NextRetryAt.After(time.Now().Add(30*time.Minute)))
	assert.Empty(t, f.pub.published())
}

func TestDispatcherResumesFromPublishCursor(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, pageCreated)

	// First change delivered, second fails
	f.pub.outcomes = []error{nil, faults.Transient("bus publish", errors.New("bus unreachable"))}

	ctx := context.Background()
	f.disp.PollOnce(ctx)

	stored, err := f.store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.PublishedCount)

	time.Sleep(2 * time.Millisecond)
	f.disp.PollOnce(ctx)

	stored, err = f.store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.PublishedCount)

	// The first change went out exactly once
	published := f.pub.published()
	require.Len(t, published, 2)
	firstID := models.ChangeID(event.ID, 0)
	count := 0
	for _, id := range published {
		if id == firstID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDispatcherRecordsOutcomeAfterEventDeadline(t *testing.T) {
	f := newFixture(t)
	// Single-change payload: a delete carries no links
	event := f.seedEvent(t, `{
		"eventId": "evt-slow",
		"eventType": "page_deleted",
		"spaceKey": "ENG",
		"entity": {"id": "page-1", "type": "page"}
	}`)

	// The publish outlives the per-event deadline; outcome writes must still
	// land
	f.pub.delay = 50 * time.Millisecond
	cfg := testDispatcherConfig()
	cfg.EventTimeout = 5 * time.Millisecond
	d := New(cfg, f.store, registry.New(f.store, time.Minute, zap.NewNop()), f.pub, zap.NewNop())

	d.PollOnce(context.Background())

	stored, err := f.store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.PublishedCount)
	require.Len(t, f.pub.published(), 1)
}

func TestDispatcherReclaimsStaleClaim(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, pageCreated)

	// Another instance claims the event and dies without writing an outcome
	ctx := context.Background()
	claimed, err := f.store.ClaimDueEvents(ctx, 1, time.Now(), time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	cfg := testDispatcherConfig()
	cfg.ProcessingLease = time.Nanosecond
	d := New(cfg, f.store, registry.New(f.store, time.Minute, zap.NewNop()), f.pub, zap.NewNop())

	time.Sleep(2 * time.Millisecond)
	d.PollOnce(ctx)

	stored, err := f.store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Len(t, f.pub.published(), 2)

	// The dead instance's late write is fenced off by the version bump
	assert.ErrorIs(t, f.store.MarkCompleted(ctx, event.ID, claimed[0].Version), store.ErrConflict)
}

func TestDispatcherFilteredEventCompletesWithoutPublishing(t *testing.T) {
	f := newFixture(t)

	filtered := *f.config
	filtered.SpaceFilters = []string{"DOCS"}
	require.NoError(t, f.store.UpdateConfig(context.Background(), &filtered))

	event := f.seedEvent(t, pageCreated) // spaceKey ENG

	f.disp.PollOnce(context.Background())

	stored, err := f.store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Empty(t, f.pub.published())
}

func TestDispatcherProcessesBatchConcurrently(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.seedEvent(t, pageCreated)
	}

	f.disp.PollOnce(context.Background())

	events, _, err := f.store.ListEvents(context.Background(), store.EventFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 5)
	for _, event := range events {
		assert.Equal(t, models.StatusCompleted, event.Status)
	}
	assert.Len(t, f.pub.published(), 10)
}

func TestDispatcherStartValidatesConfig(t *testing.T) {
	f := newFixture(t)

	bad := testDispatcherConfig()
	bad.BatchSize = 0
	d := New(bad, f.store, registry.New(f.store, time.Minute, zap.NewNop()), f.pub, zap.NewNop())
	err := d.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "batch size"))
}

func TestDispatcherStartStop(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, pageCreated)

	cfg := testDispatcherConfig()
	cfg.PollInterval = 5 * time.Millisecond
	d := New(cfg, f.store, registry.New(f.store, time.Minute, zap.NewNop()), f.pub, zap.NewNop())

	require.NoError(t, d.Start())

	assert.Eventually(t, func() bool {
		return len(f.pub.published()) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop())
}
