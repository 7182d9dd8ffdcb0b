package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/job-bridge/internal/worker/domain"
	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
)

// outcome is the result of one handler call, sent back to the channel loop.
type outcome struct {
	job *domain.Job
	err error
}

// consume is the loop of one consumer channel. It reads a delivery only while fewer
// than prefetch jobs are in flight, runs each job in its own goroutine and settles
// the delivery when the outcome comes back. Only this goroutine touches the channel.
//
// ctx is the caller's context and groupCtx the errgroup one. Canceling ctx drains
// in-flight jobs; groupCtx ending alone means the connection is gone, so nothing is
// settled and the unacked deliveries return to the queue with the channel.
func (w *Worker) consume(ctx, groupCtx context.Context, c *consumer, handler Handler) error {
	defer func() {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			w.logger.Warn("Failed to close consumer channel",
				slog.Int("channel", c.index),
				slog.Any("error", err),
			)
		}
	}()

	results := make(chan outcome, w.prefetch)
	inFlight := 0

	for {
		// nil channel disables intake while the prefetch window is full
		intake := c.deliveries
		if inFlight >= w.prefetch {
			intake = nil
		}

		select {
		case <-groupCtx.Done():
			if ctx.Err() == nil {
				w.logger.Warn("Consumer abandoning in-flight jobs after connection loss",
					slog.Int("channel", c.index),
					slog.Int("in_flight", inFlight),
				)
				return fmt.Errorf("%w: channel %d stopped", rabbitmq.ErrConnectionLost, c.index)
			}

			w.logger.Info("Consumer stopping, draining in-flight jobs",
				slog.Int("channel", c.index),
				slog.Int("in_flight", inFlight),
			)
			for ; inFlight > 0; inFlight-- {
				w.settle(c, <-results)
			}
			return nil

		case delivery, ok := <-intake:
			if !ok {
				w.logger.Error("RabbitMQ delivery channel closed",
					slog.Int("channel", c.index),
					slog.Int("in_flight", inFlight),
				)
				return fmt.Errorf("%w: delivery stream of channel %d closed", rabbitmq.ErrConnectionLost, c.index)
			}

			job, err := decodeDelivery(c.index, delivery)
			if err != nil {
				w.reject(c, delivery, err)
				continue
			}

			w.logger.Debug("Job received",
				slog.Int("channel", c.index),
				slog.String("state", domain.DeliveryReceived),
				slog.String("message_id", job.MessageID),
				slog.Uint64("delivery_tag", job.DeliveryTag),
				slog.Bool("redelivered", job.Redelivered),
			)

			inFlight++
			go w.process(groupCtx, job, handler, results)

		case out := <-results:
			inFlight--
			w.settle(c, out)
		}
	}
}

// process runs handler for one job and reports the outcome. A panic counts as a failure.
func (w *Worker) process(ctx context.Context, job *domain.Job, handler Handler, results chan<- outcome) {
	out := outcome{job: job}
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("%w: %v", domain.ErrHandlerPanic, r)
		}
		results <- out
	}()

	jobCtx, cancel := w.jobContext(ctx)
	defer cancel()

	out.err = handler(jobCtx, job)
}

// settle acks a successful job and requeues a failed one.
func (w *Worker) settle(c *consumer, out outcome) {
	job := out.job

	if out.err == nil {
		if err := c.channel.Ack(job.DeliveryTag, false); err != nil {
			w.logger.Error("Failed to ACK message",
				slog.Int("channel", c.index),
				slog.String("message_id", job.MessageID),
				slog.Any("error", err),
			)
			return
		}
		w.logger.Info("Job completed successfully",
			slog.Int("channel", c.index),
			slog.String("message_id", job.MessageID),
			slog.String("state", domain.DeliveryAcked),
		)
		return
	}

	w.logger.Error("Job processing failed",
		slog.Int("channel", c.index),
		slog.String("message_id", job.MessageID),
		slog.Any("error", out.err),
	)

	if err := c.channel.Nack(job.DeliveryTag, false, true); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.Int("channel", c.index),
			slog.String("message_id", job.MessageID),
			slog.Any("error", err),
		)
		return
	}
	w.logger.Info("Message NACKed",
		slog.Int("channel", c.index),
		slog.String("message_id", job.MessageID),
		slog.Bool("requeue", true),
		slog.String("state", domain.DeliveryRequeued),
	)
}

// reject drops a delivery whose body cannot be decoded, without requeue.
func (w *Worker) reject(c *consumer, delivery amqp.Delivery, cause error) {
	w.logger.Error("Failed to parse message JSON",
		slog.Int("channel", c.index),
		slog.String("message_id", delivery.MessageId),
		slog.Int("body_size", len(delivery.Body)),
		slog.Any("error", cause),
	)

	if err := c.channel.Nack(delivery.DeliveryTag, false, false); err != nil {
		w.logger.Error("Failed to NACK malformed message",
			slog.Int("channel", c.index),
			slog.Any("error", err),
		)
		return
	}
	w.logger.Warn("Malformed message rejected",
		slog.Int("channel", c.index),
		slog.String("message_id", delivery.MessageId),
		slog.String("state", domain.DeliveryRejected),
	)
}
