package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultPublishRetryDelay is the pause before the single publish retry.
const DefaultPublishRetryDelay = 100 * time.Millisecond

// ContentTypeJSON is set on every published message.
const ContentTypeJSON = "application/json"

// PoolSource hands out the current channel pool. *Manager implements it.
type PoolSource interface {
	Pool() *ChannelPool
}

// Publisher publishes job payloads onto a random channel of the pool.
type Publisher struct {
	pools      PoolSource
	exchange   string
	routingKey string
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewPublisher creates a Publisher for the exchange and routing key of topology.
func NewPublisher(pools PoolSource, topology Topology, retryDelay time.Duration, logger *slog.Logger) *Publisher {
	if retryDelay <= 0 {
		retryDelay = DefaultPublishRetryDelay
	}
	return &Publisher{
		pools:      pools,
		exchange:   topology.Exchange,
		routingKey: topology.RoutingKey,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Publish serializes payload to JSON and publishes it as a persistent message.
// A failed publish is retried once on the same channel after the retry delay;
// if that also fails ErrPublishFailed is returned.
func (p *Publisher) Publish(ctx context.Context, payload any) error {
	pool := p.pools.Pool()
	if pool.Len() == 0 {
		return ErrNoChannelsAvailable
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	slot := pool.At(rand.IntN(pool.Len()))

	msg := amqp.Publishing{
		ContentType:  ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	if slot.FlowPaused() || pool.Blocked() {
		p.logger.Warn("Channel buffer full, message may be delayed",
			slog.Int("channel", slot.Index),
			slog.String("message_id", msg.MessageId),
		)
	}

	err = p.publish(ctx, slot, msg)
	if err == nil {
		return nil
	}

	p.logger.Error("Failed to publish job. Retrying...",
		slog.Any("error", err),
		slog.Int("channel", slot.Index),
		slog.Duration("retry_after", p.retryDelay),
	)

	timer := time.NewTimer(p.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	case <-timer.C:
	}

	if err := p.publish(ctx, slot, msg); err != nil {
		p.logger.Error("Failed to publish job after retry",
			slog.Any("error", err),
			slog.Int("channel", slot.Index),
		)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.Info("Published job after retry",
		slog.Int("channel", slot.Index),
		slog.String("message_id", msg.MessageId),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, slot *PooledChannel, msg amqp.Publishing) error {
	err := slot.Channel().PublishWithContext(
		ctx,
		p.exchange,   // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		msg,
	)
	if err != nil {
		return err
	}

	p.logger.Debug("Message published to RabbitMQ",
		slog.Int("channel", slot.Index),
		slog.Int("body_size", len(msg.Body)),
		slog.String("message_id", msg.MessageId),
	)
	return nil
}
