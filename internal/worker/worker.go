package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/job-bridge/internal/worker/domain"
	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
)

// Handler processes one job. A nil error acks the delivery, any other result requeues it.
// Bodies that are not a JSON object never reach the handler; they are rejected without requeue.
type Handler func(ctx context.Context, job *domain.Job) error

// Config holds worker configuration
type Config struct {
	Logger     *slog.Logger
	Topology   rabbitmq.Topology
	PoolSize   int
	Prefetch   int
	JobTimeout time.Duration
	TagPrefix  string
}

// Worker consumes jobs over a pool of channels, keeping at most Prefetch
// deliveries in flight per channel.
type Worker struct {
	logger     *slog.Logger
	topology   rabbitmq.Topology
	poolSize   int
	prefetch   int
	jobTimeout time.Duration
	tagPrefix  string
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:     cfg.Logger,
		topology:   cfg.Topology,
		poolSize:   cfg.PoolSize,
		prefetch:   cfg.Prefetch,
		jobTimeout: cfg.JobTimeout,
		tagPrefix:  cfg.TagPrefix,
	}
	if w.poolSize <= 0 {
		w.poolSize = 1
	}
	if w.prefetch <= 0 {
		w.prefetch = 1
	}
	if w.tagPrefix == "" {
		w.tagPrefix = "worker"
	}
	return w
}

// Run opens PoolSize consumer channels on conn and feeds deliveries to handler
// until ctx is canceled or the connection goes away.
//
// Cancellation stops intake, waits for in-flight jobs to be settled and returns nil.
// A closed connection or delivery stream returns ErrConnectionLost; the caller is
// expected to exit and let its supervisor restart the process.
func (w *Worker) Run(ctx context.Context, conn rabbitmq.Connection, handler Handler) error {
	if handler == nil {
		return errors.New("worker handler is nil")
	}

	w.logger.Info("Starting worker",
		slog.Int("pool_size", w.poolSize),
		slog.Int("prefetch", w.prefetch),
		slog.String("queue", w.topology.Queue),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	consumers := make([]*consumer, 0, w.poolSize)
	for i := 0; i < w.poolSize; i++ {
		c, err := w.setupConsumer(conn, i)
		if err != nil {
			for _, started := range consumers {
				_ = started.channel.Close()
			}
			return err
		}
		consumers = append(consumers, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.watchConnection(gctx, closeCh)
	})
	for _, c := range consumers {
		g.Go(func() error {
			return w.consume(ctx, gctx, c, handler)
		})
	}

	if err := g.Wait(); err != nil {
		w.logger.Error("Worker stopped", slog.Any("error", err))
		return err
	}

	w.logger.Info("Worker stopped")
	return nil
}

// watchConnection returns ErrConnectionLost once the connection closes.
func (w *Worker) watchConnection(ctx context.Context, closeCh <-chan *amqp.Error) error {
	select {
	case <-ctx.Done():
		return nil
	case amqpErr, ok := <-closeCh:
		if ok && amqpErr != nil {
			w.logger.Error("RabbitMQ connection closed", slog.Any("error", amqpErr))
			return fmt.Errorf("%w: %w", rabbitmq.ErrConnectionLost, amqpErr)
		}
		w.logger.Error("RabbitMQ connection closed")
		return rabbitmq.ErrConnectionLost
	}
}

// jobContext bounds a handler call by the job timeout. It is detached from
// cancellation of the worker so in-flight jobs finish during a graceful stop.
func (w *Worker) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if w.jobTimeout > 0 {
		return context.WithTimeout(ctx, w.jobTimeout)
	}
	return context.WithCancel(ctx)
}
