package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/atomic"
)

// PooledChannel is one publish slot of a ChannelPool.
type PooledChannel struct {
	Index   int
	channel Channel
	paused  *atomic.Bool
}

// Channel returns the underlying broker channel.
func (pc *PooledChannel) Channel() Channel {
	return pc.channel
}

// FlowPaused reports whether the broker asked this channel to stop sending.
func (pc *PooledChannel) FlowPaused() bool {
	return pc.paused.Load()
}

// ChannelPool is a fixed set of publish channels multiplexed over one connection.
// The slot slice never changes after NewChannelPool returns.
type ChannelPool struct {
	channels []*PooledChannel
	blocked  *atomic.Bool
	logger   *slog.Logger
}

// NewChannelPool opens size channels on conn and declares topology on each.
// It either returns a full pool or an error; channels opened before a failure are closed.
func NewChannelPool(conn Connection, topology Topology, size int, logger *slog.Logger) (*ChannelPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid channel pool size: %d", size)
	}

	pool := &ChannelPool{
		channels: make([]*PooledChannel, 0, size),
		blocked:  atomic.NewBool(false),
		logger:   logger,
	}

	for i := 0; i < size; i++ {
		ch, err := conn.Channel()
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("%w: open channel %d: %w", ErrTopologyDeclarationFailed, i, err)
		}

		if err := topology.Declare(ch); err != nil {
			_ = ch.Close()
			_ = pool.Close()
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}

		pc := &PooledChannel{
			Index:   i,
			channel: ch,
			paused:  atomic.NewBool(false),
		}
		go pool.watchFlow(pc, ch.NotifyFlow(make(chan bool, 1)))

		pool.channels = append(pool.channels, pc)
	}

	logger.Info("RabbitMQ channel pool created",
		slog.Int("size", size),
		slog.String("exchange", topology.Exchange),
		slog.String("queue", topology.Queue),
		slog.String("routing_key", topology.RoutingKey),
	)

	return pool, nil
}

// watchFlow mirrors channel.flow frames into the slot's paused flag until the channel closes.
func (p *ChannelPool) watchFlow(pc *PooledChannel, flow <-chan bool) {
	for active := range flow {
		pc.paused.Store(!active)
		if !active {
			p.logger.Warn("RabbitMQ paused channel flow", slog.Int("channel", pc.Index))
		} else {
			p.logger.Info("RabbitMQ resumed channel flow", slog.Int("channel", pc.Index))
		}
	}
}

// Len returns the number of slots.
func (p *ChannelPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.channels)
}

// At returns the slot at index i.
func (p *ChannelPool) At(i int) *PooledChannel {
	return p.channels[i]
}

// Blocked reports whether the parent connection is blocked by a broker resource alarm.
func (p *ChannelPool) Blocked() bool {
	return p.blocked.Load()
}

func (p *ChannelPool) setBlocked(b amqp.Blocking) {
	p.blocked.Store(b.Active)
}

// Close closes every channel in the pool.
func (p *ChannelPool) Close() error {
	var errs []error
	for _, pc := range p.channels {
		if err := pc.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
