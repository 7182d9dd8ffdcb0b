package handler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
)

// Publisher sends one job payload to the broker
type Publisher interface {
	Publish(ctx context.Context, payload any) error
}

// BrokerState reports the producer connection state
type BrokerState interface {
	State() rabbitmq.State
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Publisher Publisher
	Broker    BrokerState
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	publisher Publisher
	broker    BrokerState

	// background publishes started by Send
	pending sync.WaitGroup
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		publisher: deps.Publisher,
		broker:    deps.Broker,
	}
}

// Wait blocks until every background publish has finished or ctx is done.
func (h *JobHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
