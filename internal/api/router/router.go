package router

import (
	"github.com/cuongbtq/job-bridge/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// Options tunes optional middleware
type Options struct {
	// RateLimiter is applied to job routes when set
	RateLimiter *RateLimiter
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) (*gin.Engine, *handler.JobHandler) {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(SecurityHeadersMiddleware())
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", jobHandler.Health)

	jobs := r.Group("")
	if opts.RateLimiter != nil {
		jobs.Use(opts.RateLimiter.Middleware())
	}
	{
		// POST /enqueue - publish and wait for the broker
		jobs.POST("/enqueue", jobHandler.Enqueue)

		// POST /send - accept now, publish in the background
		jobs.POST("/send", jobHandler.Send)

		// POST /api/v1/jobs - same as /enqueue
		jobs.POST("/api/v1/jobs", jobHandler.Enqueue)
	}

	return r, jobHandler
}
