package worker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/job-bridge/internal/worker/domain"
	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
)

// consumer is one channel of the worker with its delivery stream.
type consumer struct {
	index      int
	tag        string
	channel    rabbitmq.Channel
	deliveries <-chan amqp.Delivery
}

// setupConsumer opens a channel, declares the topology, sets QoS and starts consuming.
func (w *Worker) setupConsumer(conn rabbitmq.Connection, index int) (*consumer, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel %d: %w", index, err)
	}

	if err := w.topology.Declare(channel); err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("channel %d: %w", index, err)
	}

	// prefetch_count: unacknowledged deliveries the broker pushes to this channel
	err = channel.Qos(
		w.prefetch, // prefetch count
		0,          // prefetch size
		false,      // global
	)
	if err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("failed to set QoS on channel %d: %w", index, err)
	}

	tag := fmt.Sprintf("%s-%d-%s", w.tagPrefix, index, uuid.NewString())

	deliveries, err := channel.Consume(
		w.topology.Queue, // queue
		tag,              // consumer
		false,            // auto-ack
		false,            // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
	if err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("failed to start consuming on channel %d: %w", index, err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.Int("channel", index),
		slog.String("consumer_tag", tag),
		slog.String("queue", w.topology.Queue),
		slog.Int("prefetch_count", w.prefetch),
	)

	return &consumer{
		index:      index,
		tag:        tag,
		channel:    channel,
		deliveries: deliveries,
	}, nil
}

// decodeDelivery parses the delivery body into a job. The body must be a JSON object.
func decodeDelivery(index int, d amqp.Delivery) (*domain.Job, error) {
	var payload map[string]any
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", domain.ErrInvalidPayload)
	}

	return &domain.Job{
		MessageID:   d.MessageId,
		Channel:     index,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		Payload:     payload,
		ReceivedAt:  time.Now(),
	}, nil
}
