// Package dispatcher runs the poll-and-claim loop that drives webhook events
// through transformation and bus delivery.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mdresch/CogniSync-sub001/internal/config"
	"github.com/mdresch/CogniSync-sub001/internal/faults"
	"github.com/mdresch/CogniSync-sub001/internal/metrics"
	"github.com/mdresch/CogniSync-sub001/internal/models"
	"github.com/mdresch/CogniSync-sub001/internal/publisher"
	"github.com/mdresch/CogniSync-sub001/internal/registry"
	"github.com/mdresch/CogniSync-sub001/internal/store"
	"github.com/mdresch/CogniSync-sub001/internal/transform"
)

// Delay before an event whose config is inactive gets looked at again
const inactiveConfigDelay = time.Hour

// Budget for recording an event outcome on the store
const outcomeWriteTimeout = 5 * time.Second

// outcomeContext returns a context for outcome writes. These must land even
// when the per-event deadline expired mid-pipeline, or the event strands in
// PROCESSING until its lease lapses.
func outcomeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), outcomeWriteTimeout)
}

// Dispatcher claims due events from the store and processes them. Multiple
// instances may run concurrently across machines; exclusivity per event is
// enforced by the store's conditional claim, not by anything in-process.
type Dispatcher struct {
	cfg      *config.DispatcherConfig
	store    store.Store
	registry *registry.Registry
	pub      publisher.Publisher
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a dispatcher instance with dependencies
func New(cfg *config.DispatcherConfig, s store.Store, reg *registry.Registry, pub publisher.Publisher, logger *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:      cfg,
		store:    s,
		registry: reg,
		pub:      pub,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start validates configuration and launches the poll loop
func (d *Dispatcher) Start() error {
	if d.cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if d.cfg.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if d.cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if d.cfg.ProcessingLease <= 0 {
		return fmt.Errorf("processing lease must be positive")
	}

	go d.run()

	d.logger.Info("Dispatcher started",
		zap.String("instance_id", d.cfg.InstanceID),
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("parallelism", d.cfg.Parallelism),
	)
	return nil
}

// Stop cancels the poll loop and waits for in-flight events to settle
func (d *Dispatcher) Stop() error {
	d.logger.Info("Stopping dispatcher",
		zap.String("instance_id", d.cfg.InstanceID),
	)
	d.cancel()
	<-d.done
	d.logger.Info("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Dispatcher context cancelled, stopping poll loop")
			return
		case <-ticker.C:
			d.PollOnce(d.ctx)
		}
	}
}

// PollOnce claims one batch of due events and processes it, bounded by the
// configured parallelism. Exported so tests and operators can drive single
// cycles.
func (d *Dispatcher) PollOnce(ctx context.Context) {
	now := time.Now()

	if depth, err := d.store.CountClaimable(ctx, now); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	claimed, err := d.store.ClaimDueEvents(ctx, d.cfg.BatchSize, now, d.cfg.ProcessingLease)
	if err != nil {
		d.logger.Error("Failed to claim due events", zap.Error(err))
		return
	}
	if len(claimed) == 0 {
		return
	}

	d.logger.Debug("Claimed events",
		zap.Int("count", len(claimed)),
		zap.String("instance_id", d.cfg.InstanceID),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Parallelism)
	for i := range claimed {
		event := claimed[i]
		g.Go(func() error {
			d.processEvent(gctx, &event)
			return nil
		})
	}
	// Workers report outcomes to the store themselves; nothing propagates here
	_ = g.Wait()
}

// processEvent runs a single claimed event through config lookup, transform,
// and publish, then records the outcome on the event row. The event is in
// PROCESSING and this worker holds its claim version.
func (d *Dispatcher) processEvent(ctx context.Context, event *models.WebhookEvent) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.cfg.EventTimeout)
	defer cancel()

	err := d.pipeline(ctx, event)
	metrics.ProcessingDuration.Observe(time.Since(started).Seconds())

	if err == nil {
		markCtx, markCancel := outcomeContext()
		markErr := d.store.MarkCompleted(markCtx, event.ID, event.Version)
		markCancel()
		if markErr != nil {
			d.logger.Error("Failed to mark event completed",
				zap.String("event_id", event.ID.String()),
				zap.Error(markErr),
			)
			return
		}
		metrics.EventsProcessed.WithLabelValues("completed").Inc()
		d.logger.Info("Event completed",
			zap.String("event_id", event.ID.String()),
			zap.String("tenant_id", event.TenantID),
			zap.String("correlation_id", event.CorrelationID.String()),
		)
		return
	}

	d.routeFailure(event, err)
}

// errInactiveConfig parks an event whose config is switched off; the retry
// budget is not consumed
var errInactiveConfig = errors.New("sync config inactive")

func (d *Dispatcher) pipeline(ctx context.Context, event *models.WebhookEvent) error {
	cfg, err := d.registry.Get(ctx, event.SyncConfigID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &faults.ConfigError{ConfigID: event.SyncConfigID.String(), Err: err}
		}
		return err
	}
	if !cfg.Active {
		return errInactiveConfig
	}

	changes, err := transform.Transform(event.ID, event.RawPayload, cfg)
	if err != nil {
		return err
	}

	// Resume from the low-water mark so changes already acknowledged by the
	// bus are not resent on a retried event
	for i := event.PublishedCount; i < len(changes); i++ {
		if err := d.pub.Publish(ctx, event, changes[i]); err != nil {
			return err
		}
		metrics.ChangesPublished.WithLabelValues(string(changes[i].Kind)).Inc()

		event.PublishedCount = i + 1
		curCtx, curCancel := outcomeContext()
		curErr := d.store.AdvancePublishCursor(curCtx, event.ID, event.Version, event.PublishedCount)
		curCancel()
		if curErr != nil {
			if errors.Is(curErr, store.ErrConflict) {
				// Lost the claim; stop touching this event
				return faults.Transient("publish cursor", curErr)
			}
			// The change is delivered either way; a stale cursor only means a
			// retry may resend it, which consumers dedupe
			d.logger.Warn("Failed to advance publish cursor",
				zap.String("event_id", event.ID.String()),
				zap.Error(curErr),
			)
		}
	}
	return nil
}

// routeFailure applies the error taxonomy to a failed event: validation and
// config errors dead-letter immediately without consuming the retry budget,
// transient errors back off until the budget is exhausted.
func (d *Dispatcher) routeFailure(event *models.WebhookEvent, err error) {
	ctx, cancel := outcomeContext()
	defer cancel()

	if errors.Is(err, errInactiveConfig) {
		if markErr := d.store.MarkRetrying(ctx, event.ID, event.Version, event.Attempts, err.Error(), time.Now().Add(inactiveConfigDelay)); markErr != nil {
			d.logger.Error("Failed to park event for inactive config",
				zap.String("event_id", event.ID.String()),
				zap.Error(markErr),
			)
			return
		}
		metrics.EventsProcessed.WithLabelValues("parked").Inc()
		d.logger.Info("Sync config inactive, event parked",
			zap.String("event_id", event.ID.String()),
			zap.String("config_id", event.SyncConfigID.String()),
		)
		return
	}

	if faults.IsValidation(err) || faults.IsConfig(err) {
		if markErr := d.store.MarkDeadLetter(ctx, event.ID, event.Version, event.Attempts, err.Error()); markErr != nil {
			d.logger.Error("Failed to dead-letter event",
				zap.String("event_id", event.ID.String()),
				zap.Error(markErr),
			)
			return
		}
		metrics.EventsProcessed.WithLabelValues("dead_letter").Inc()
		d.logger.Warn("Event dead-lettered on non-transient error",
			zap.String("event_id", event.ID.String()),
			zap.String("tenant_id", event.TenantID),
			zap.Error(err),
		)
		return
	}

	// Everything else gets the transient treatment, including timeouts.
	// Errors outside the taxonomy are retried too, but flagged: something is
	// failing in a way the pipeline does not classify.
	if !faults.IsTransient(err) {
		d.logger.Warn("Unclassified processing error, treating as transient",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}

	maxRetries := event.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.cfg.MaxRetries
	}

	if event.Attempts >= maxRetries {
		if markErr := d.store.MarkDeadLetter(ctx, event.ID, event.Version, event.Attempts, err.Error()); markErr != nil {
			d.logger.Error("Failed to dead-letter event after exhausted retries",
				zap.String("event_id", event.ID.String()),
				zap.Error(markErr),
			)
			return
		}
		metrics.EventsProcessed.WithLabelValues("dead_letter").Inc()
		d.logger.Warn("Event dead-lettered, retry budget exhausted",
			zap.String("event_id", event.ID.String()),
			zap.Int("attempts", event.Attempts),
			zap.Error(err),
		)
		return
	}

	attempts := event.Attempts + 1
	delay := BackoffDelay(attempts, d.cfg.BackoffBase, d.cfg.BackoffCap)
	nextRetryAt := time.Now().Add(delay)

	if markErr := d.store.MarkRetrying(ctx, event.ID, event.Version, attempts, err.Error(), nextRetryAt); markErr != nil {
		d.logger.Error("Failed to schedule event retry",
			zap.String("event_id", event.ID.String()),
			zap.Error(markErr),
		)
		return
	}
	metrics.EventsProcessed.WithLabelValues("retrying").Inc()
	d.logger.Info("Event will be retried",
		zap.String("event_id", event.ID.String()),
		zap.Int("attempts", attempts),
		zap.Time("next_retry_at", nextRetryAt),
		zap.Error(err),
	)
}
