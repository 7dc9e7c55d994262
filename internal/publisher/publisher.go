// Package publisher delivers canonical changes to the message bus.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mdresch/CogniSync-sub001/internal/config"
	"github.com/mdresch/CogniSync-sub001/internal/faults"
	"github.com/mdresch/CogniSync-sub001/internal/models"
	"github.com/mdresch/CogniSync-sub001/internal/rabbitmq"
)

// Publisher delivers one canonical change to the bus. A call either succeeds
// (the change is considered delivered) or fails with a transient error; a
// change is never silently dropped. Delivery is at-least-once: consumers
// deduplicate on (correlation_id, change_id).
type Publisher interface {
	Publish(ctx context.Context, event *models.WebhookEvent, change models.CanonicalChange) error
}

// AMQP publishes change messages to a RabbitMQ exchange
type AMQP struct {
	conn       *rabbitmq.Connection
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewAMQP creates a bus publisher over the given connection
func NewAMQP(conn *rabbitmq.Connection, cfg *config.RabbitMQConfig, logger *zap.Logger) *AMQP {
	return &AMQP{
		conn:       conn,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}
}

func (p *AMQP) Publish(ctx context.Context, event *models.WebhookEvent, change models.CanonicalChange) error {
	msg := models.ChangeMessage{
		Kind:          change.Kind,
		Payload:       change.Payload,
		TenantID:      event.TenantID,
		CorrelationID: event.CorrelationID,
		SourceEventID: event.ID,
		ChangeID:      change.ChangeID,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal change message: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return faults.Transient("bus publish", err)
	}

	if err := p.conn.PublishMessage(p.exchange, p.routingKey, body); err != nil {
		return faults.Transient("bus publish", err)
	}

	p.logger.Debug("Published canonical change",
		zap.String("change_id", change.ChangeID),
		zap.String("kind", string(change.Kind)),
		zap.String("tenant_id", event.TenantID),
		zap.String("correlation_id", event.CorrelationID.String()),
	)
	return nil
}
