package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/job-bridge/internal/api/dto"
	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
	"github.com/gin-gonic/gin"
)

// Enqueue handles POST /enqueue and POST /api/v1/jobs
// Publishes the job and waits for the broker to accept it
func (h *JobHandler) Enqueue(c *gin.Context) {
	payload, ok := h.bindPayload(c)
	if !ok {
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), payload); err != nil {
		h.logger.Error("Failed to enqueue job",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)

		status := http.StatusInternalServerError
		if errors.Is(err, rabbitmq.ErrNoChannelsAvailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, dto.ErrorResponse{Error: "Failed to enqueue"})
		return
	}

	c.JSON(http.StatusOK, dto.EnqueueResponse{Status: "queued"})
}

// Send handles POST /send
// Accepts the job immediately and publishes it in the background
func (h *JobHandler) Send(c *gin.Context) {
	payload, ok := h.bindPayload(c)
	if !ok {
		return
	}

	// the request context ends with the response
	ctx := context.WithoutCancel(c.Request.Context())

	h.pending.Add(1)
	go func() {
		defer h.pending.Done()

		if err := h.publisher.Publish(ctx, payload); err != nil {
			h.logger.Error("Background publish failed",
				slog.Any("error", err),
			)
		}
	}()

	c.JSON(http.StatusAccepted, dto.AcceptedResponse{Accepted: true})
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	state := "unknown"
	if h.broker != nil {
		state = string(h.broker.State())
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status: "ok",
		Broker: state,
	})
}

// bindPayload decodes the body as a JSON object, writing 400 otherwise
func (h *JobHandler) bindPayload(c *gin.Context) (dto.JobPayload, bool) {
	var payload dto.JobPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload == nil {
		if err == nil {
			err = errors.New("body is not a JSON object")
		}
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return nil, false
	}

	return payload, true
}
