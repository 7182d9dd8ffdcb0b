package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/job-bridge/internal/worker/domain"
)

// Recorder stores a processed job
type Recorder interface {
	RecordJob(ctx context.Context, job *domain.Job) error
}

// Processor is the default job handler: it logs the payload, performs the unit of
// work and optionally records the job.
type Processor struct {
	logger        *slog.Logger
	simulatedWork time.Duration
	recorder      Recorder
}

// NewProcessor creates a Processor. recorder may be nil.
func NewProcessor(logger *slog.Logger, simulatedWork time.Duration, recorder Recorder) *Processor {
	return &Processor{
		logger:        logger,
		simulatedWork: simulatedWork,
		recorder:      recorder,
	}
}

// Process satisfies Handler.
func (p *Processor) Process(ctx context.Context, job *domain.Job) error {
	p.logger.Info("Processing job",
		slog.String("message_id", job.MessageID),
		slog.Int("channel", job.Channel),
		slog.Bool("redelivered", job.Redelivered),
		slog.Any("payload", job.Payload),
		slog.String("state", domain.DeliveryProcessing),
	)

	if p.simulatedWork > 0 {
		timer := time.NewTimer(p.simulatedWork)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("job execution canceled: %w", ctx.Err())
		}
	}

	if p.recorder != nil {
		if err := p.recorder.RecordJob(ctx, job); err != nil {
			return fmt.Errorf("failed to record job: %w", err)
		}
	}

	p.logger.Debug("Job executed",
		slog.String("message_id", job.MessageID),
		slog.Duration("elapsed", time.Since(job.ReceivedAt)),
	)
	return nil
}
