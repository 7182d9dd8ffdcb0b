package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultReadinessPath is the management API resource polled for readiness.
const DefaultReadinessPath = "/api/overview"

// ProberConfig configures the management endpoint readiness probe.
type ProberConfig struct {
	Host          string
	Port          int
	Path          string
	User          string
	Password      string
	RetryAttempts int
	RetryInterval time.Duration
	Timeout       time.Duration
}

// URL returns the management endpoint probed by WaitReady.
func (c *ProberConfig) URL() string {
	path := c.Path
	if path == "" {
		path = DefaultReadinessPath
	}
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + path
}

// Prober polls the broker management API until it answers with a 2xx status.
type Prober struct {
	config *ProberConfig
	client *http.Client
	logger *slog.Logger
}

// NewProber creates a Prober. A nil client gets a default one with config.Timeout.
func NewProber(config *ProberConfig, client *http.Client, logger *slog.Logger) *Prober {
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Prober{config: config, client: client, logger: logger}
}

// WaitReady blocks until the management endpoint is ready, making at most
// RetryAttempts probes spaced by RetryInterval. It returns ErrNotReady once exhausted.
func (p *Prober) WaitReady(ctx context.Context) error {
	attempts := p.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := p.probe(ctx)
		if err != nil {
			p.logger.Debug("RabbitMQ not ready yet",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", attempts),
				slog.Any("error", err),
			)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.config.RetryInterval), uint64(attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w after %d attempts: %w", ErrNotReady, attempt, err)
	}

	p.logger.Info("RabbitMQ ready", slog.Int("attempt", attempt))
	return nil
}

func (p *Prober) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.config.User, p.config.Password)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("management endpoint returned %s", resp.Status)
	}
	return nil
}
