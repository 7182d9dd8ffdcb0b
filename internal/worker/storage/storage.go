package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/job-bridge/internal/worker/domain"
)

const createProcessedJobsTable = `
	CREATE TABLE IF NOT EXISTS processed_jobs (
		message_id   TEXT PRIMARY KEY,
		channel      INTEGER NOT NULL,
		payload      JSONB NOT NULL,
		redelivered  BOOLEAN NOT NULL DEFAULT FALSE,
		received_at  TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

const insertProcessedJob = `
	INSERT INTO processed_jobs (message_id, channel, payload, redelivered, received_at)
	VALUES (:message_id, :channel, :payload, :redelivered, :received_at)
	ON CONFLICT (message_id) DO NOTHING
`

// ProcessedJob is a row of processed_jobs
type ProcessedJob struct {
	MessageID   string    `db:"message_id"`
	Channel     int       `db:"channel"`
	Payload     string    `db:"payload"`
	Redelivered bool      `db:"redelivered"`
	ReceivedAt  time.Time `db:"received_at"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Storage records processed jobs in PostgreSQL
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the processed_jobs table if it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createProcessedJobsTable); err != nil {
		return fmt.Errorf("failed to create processed_jobs table: %w", err)
	}
	return nil
}

// RecordJob inserts the job into processed_jobs. A redelivered message that was
// already recorded is left untouched.
func (s *Storage) RecordJob(ctx context.Context, job *domain.Job) error {
	row, err := newProcessedJob(job)
	if err != nil {
		return err
	}

	result, err := s.db.NamedExecContext(ctx, insertProcessedJob, row)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		attrs := []any{slog.String("message_id", row.MessageID)}
		if previous, err := s.GetJob(ctx, row.MessageID); err == nil {
			attrs = append(attrs, slog.Time("first_processed_at", previous.ProcessedAt))
		}
		s.logger.Debug("Job already recorded", attrs...)
	}
	return nil
}

// GetJob returns the recorded job with the given message id
func (s *Storage) GetJob(ctx context.Context, messageID string) (*ProcessedJob, error) {
	query := `
		SELECT message_id, channel, payload, redelivered, received_at, processed_at
		FROM processed_jobs
		WHERE message_id = $1
	`

	var row ProcessedJob
	if err := s.db.GetContext(ctx, &row, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to get processed job: %w", err)
	}
	return &row, nil
}

func newProcessedJob(job *domain.Job) (*ProcessedJob, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	// messages published without a message id cannot be deduplicated
	messageID := job.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	receivedAt := job.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return &ProcessedJob{
		MessageID:   messageID,
		Channel:     job.Channel,
		Payload:     string(payload),
		Redelivered: job.Redelivered,
		ReceivedAt:  receivedAt,
	}, nil
}
