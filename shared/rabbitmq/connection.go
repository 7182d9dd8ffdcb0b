package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/atomic"
)

// State is the liveness of the managed connection.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// Manager owns the single producer-side broker connection and its channel pool.
type Manager struct {
	config *Config
	dial   Dialer
	logger *slog.Logger

	mu   sync.RWMutex
	conn Connection
	pool *ChannelPool

	state   *atomic.String
	closing *atomic.Bool
	fatal   chan error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a Manager. A nil dialer means DialAMQP.
func NewManager(config *Config, dialer Dialer, logger *slog.Logger) *Manager {
	if dialer == nil {
		dialer = DialAMQP
	}
	return &Manager{
		config:  config,
		dial:    dialer,
		logger:  logger,
		state:   atomic.NewString(string(StateClosed)),
		closing: atomic.NewBool(false),
		fatal:   make(chan error, 1),
	}
}

// Dial opens a connection, making at most RetryAttempts attempts spaced by RetryInterval.
// It returns ErrConnectionExhausted once the budget is spent.
func (m *Manager) Dial(ctx context.Context) (Connection, error) {
	attempts := m.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	amqpConfig := amqp.Config{
		Heartbeat: m.config.Heartbeat,
		Locale:    "en_US",
	}
	if m.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(m.config.ConnectionTimeout)
	}

	var (
		conn    Connection
		attempt int
	)
	operation := func() error {
		attempt++
		m.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("url", m.config.Redacted()),
		)

		c, err := m.dial(m.config.URL(), amqpConfig)
		if err != nil {
			m.logger.Error("Failed to connect to RabbitMQ",
				slog.Any("error", err),
				slog.Int("attempt", attempt),
			)
			return err
		}
		conn = c
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.config.RetryInterval), uint64(attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectionExhausted, attempt, err)
	}

	m.logger.Info("Successfully connected to RabbitMQ", slog.Int("attempt", attempt))
	return conn, nil
}

// Connect dials the broker, builds the channel pool and starts the close observer.
// When the connection later closes, the observer reconnects in the background after
// RetryInterval until ctx is done or Close is called.
func (m *Manager) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("rabbitmq manager already connected")
	}
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		cancel()
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) connect(ctx context.Context) error {
	m.state.Store(string(StateConnecting))

	conn, err := m.Dial(ctx)
	if err != nil {
		m.state.Store(string(StateFailed))
		return err
	}

	pool, err := NewChannelPool(conn, m.config.Topology, m.config.PoolSize, m.logger)
	if err != nil {
		m.state.Store(string(StateFailed))
		_ = conn.Close()
		return err
	}

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	blockedCh := conn.NotifyBlocked(make(chan amqp.Blocking, 1))

	m.mu.Lock()
	if m.closing.Load() {
		m.mu.Unlock()
		_ = pool.Close()
		_ = conn.Close()
		return context.Canceled
	}
	m.conn = conn
	m.pool = pool
	m.mu.Unlock()
	m.state.Store(string(StateConnected))

	m.logger.Info("RabbitMQ connected, channel pool created",
		slog.Int("pool_size", pool.Len()),
	)

	m.wg.Add(1)
	go m.observe(ctx, pool, closeCh, blockedCh)

	return nil
}

// observe handles close and blocked notifications of one connection.
func (m *Manager) observe(ctx context.Context, pool *ChannelPool, closeCh <-chan *amqp.Error, blockedCh <-chan amqp.Blocking) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case b, ok := <-blockedCh:
			if !ok {
				blockedCh = nil
				continue
			}
			pool.setBlocked(b)
			if b.Active {
				m.logger.Warn("RabbitMQ connection blocked", slog.String("reason", b.Reason))
			} else {
				m.logger.Info("RabbitMQ connection unblocked")
			}

		case amqpErr := <-closeCh:
			if amqpErr != nil {
				m.logger.Error("RabbitMQ connection error", slog.Any("error", amqpErr))
			}

			m.mu.Lock()
			m.conn = nil
			m.pool = nil
			m.mu.Unlock()

			if m.closing.Load() {
				m.state.Store(string(StateClosed))
				return
			}

			m.state.Store(string(StateConnecting))
			m.logger.Warn("RabbitMQ connection closed. Reconnecting...",
				slog.Duration("retry_after", m.config.RetryInterval),
			)

			m.wg.Add(1)
			go m.reconnect(ctx)
			return
		}
	}
}

// reconnect waits RetryInterval and runs a full Connect cycle.
func (m *Manager) reconnect(ctx context.Context) {
	defer m.wg.Done()

	timer := time.NewTimer(m.config.RetryInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if m.closing.Load() {
		return
	}

	if err := m.connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		m.logger.Error("RabbitMQ reconnect failed", slog.Any("error", err))
		select {
		case m.fatal <- err:
		default:
		}
	}
}

// Pool returns the current channel pool, or nil while disconnected.
func (m *Manager) Pool() *ChannelPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsConnected reports whether a live connection with a pool is available.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil && !m.conn.IsClosed() && m.pool != nil
}

// Fatal delivers the error of a background reconnect that exhausted its retries.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Close closes the pool and the connection without triggering a reconnect.
func (m *Manager) Close() error {
	m.logger.Info("Closing RabbitMQ connection")
	m.closing.Store(true)

	m.mu.Lock()
	conn, pool := m.conn, m.pool
	m.conn, m.pool = nil, nil
	cancel := m.cancel
	m.mu.Unlock()

	var errs []error
	if pool != nil {
		if err := pool.Close(); err != nil {
			m.logger.Error("Failed to close RabbitMQ channels", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			m.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.state.Store(string(StateClosed))

	m.logger.Info("RabbitMQ connection closed successfully")
	return errors.Join(errs...)
}
