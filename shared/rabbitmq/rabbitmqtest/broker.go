// Package rabbitmqtest provides an in-memory broker implementing the rabbitmq
// Connection and Channel interfaces, for tests that need routing, prefetch,
// ack/nack and connection-close behaviour without a running RabbitMQ.
package rabbitmqtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
)

// deliveryBuffer bounds the per-consumer delivery channel.
const deliveryBuffer = 4096

// ErrDialRefused is the default error returned by failing dials.
var ErrDialRefused = errors.New("dial tcp: connection refused")

type exchange struct {
	kind    string
	durable bool
}

type binding struct {
	queue    string
	key      string
	exchange string
}

type message struct {
	publishing  amqp.Publishing
	exchange    string
	routingKey  string
	redelivered bool
}

type queue struct {
	name      string
	durable   bool
	ready     []*message
	consumers []*consumer
	next      int
}

type consumer struct {
	tag        string
	channel    *Channel
	queue      *queue
	deliveries chan amqp.Delivery
}

type unacked struct {
	msg   *message
	queue *queue
}

// Broker is an in-memory AMQP broker. The zero value is not usable; call NewBroker.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]exchange
	queues    map[string]*queue
	bindings  map[binding]struct{}
	conns     []*Connection

	dials     int
	failDials int
	dialErr   error
	declErr   error
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		exchanges: make(map[string]exchange),
		queues:    make(map[string]*queue),
		bindings:  make(map[binding]struct{}),
	}
}

// Dial satisfies rabbitmq.Dialer.
func (b *Broker) Dial(_ string, _ amqp.Config) (rabbitmq.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.failDials > 0 {
		b.failDials--
		return nil, b.dialErr
	}
	if b.failDials < 0 {
		return nil, b.dialErr
	}

	conn := &Connection{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

// FailDials makes the next n dials fail with err. A negative n fails every dial.
func (b *Broker) FailDials(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = ErrDialRefused
	}
	b.failDials = n
	b.dialErr = err
}

// FailDeclarations makes every ExchangeDeclare fail with err until called with nil.
func (b *Broker) FailDeclarations(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declErr = err
}

// DeclareExchange pre-creates an exchange, as if another application declared it.
func (b *Broker) DeclareExchange(name, kind string, durable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchanges[name] = exchange{kind: kind, durable: durable}
}

// Dials returns how many times Dial was called.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Connections returns every connection opened so far, oldest first.
func (b *Broker) Connections() []*Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Connection(nil), b.conns...)
}

// Exchange reports the declared kind and durability of an exchange.
func (b *Broker) Exchange(name string) (kind string, durable bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[name]
	return ex.kind, ex.durable, ok
}

// QueueDurable reports whether the named queue exists and is durable.
func (b *Broker) QueueDurable(name string) (durable bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return false, false
	}
	return q.durable, true
}

// Bindings returns the number of distinct bindings targeting queue.
func (b *Broker) Bindings(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for bnd := range b.bindings {
		if bnd.queue == queueName {
			n++
		}
	}
	return n
}

// Ready returns the bodies of messages waiting in queue, head first.
func (b *Broker) Ready(queueName string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return nil
	}
	bodies := make([][]byte, 0, len(q.ready))
	for _, m := range q.ready {
		bodies = append(bodies, m.publishing.Body)
	}
	return bodies
}

// ReadyPublishings returns the publishings waiting in queue, head first.
func (b *Broker) ReadyPublishings(queueName string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return nil
	}
	out := make([]amqp.Publishing, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, m.publishing)
	}
	return out
}

// Unacked returns the number of deliveries of queue awaiting ack across all channels.
func (b *Broker) Unacked(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.conns {
		for _, ch := range c.channels {
			for _, u := range ch.unacked {
				if u.queue.name == queueName {
					n++
				}
			}
		}
	}
	return n
}

// dispatch hands ready messages of q to consumers with free prefetch capacity.
// Callers hold b.mu.
func (b *Broker) dispatch(q *queue) {
	for len(q.ready) > 0 && len(q.consumers) > 0 {
		var target *consumer
		for i := 0; i < len(q.consumers); i++ {
			c := q.consumers[(q.next+i)%len(q.consumers)]
			if c.channel.hasCapacity() {
				target = c
				q.next = (q.next + i + 1) % len(q.consumers)
				break
			}
		}
		if target == nil {
			return
		}

		msg := q.ready[0]
		q.ready = q.ready[1:]
		target.channel.deliver(target, msg)
	}
}

func (b *Broker) route(exchangeName, key string, msg amqp.Publishing) error {
	if exchangeName == "" {
		q, ok := b.queues[key]
		if !ok {
			return nil
		}
		b.enqueue(q, &message{publishing: msg, exchange: exchangeName, routingKey: key}, false)
		return nil
	}

	if _, ok := b.exchanges[exchangeName]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no exchange '%s'", exchangeName)}
	}

	for bnd := range b.bindings {
		if bnd.exchange != exchangeName || bnd.key != key {
			continue
		}
		q := b.queues[bnd.queue]
		body := append([]byte(nil), msg.Body...)
		copied := msg
		copied.Body = body
		b.enqueue(q, &message{publishing: copied, exchange: exchangeName, routingKey: key}, false)
	}
	return nil
}

func (b *Broker) enqueue(q *queue, msg *message, head bool) {
	if head {
		q.ready = append([]*message{msg}, q.ready...)
	} else {
		q.ready = append(q.ready, msg)
	}
	b.dispatch(q)
}

// Connection is an in-memory broker connection.
type Connection struct {
	broker   *Broker
	channels []*Channel
	closed   bool
	closeL   []chan *amqp.Error
	blockedL []chan amqp.Blocking
}

// Channel opens a new channel.
func (c *Connection) Channel() (rabbitmq.Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &Channel{
		conn:    c,
		id:      len(c.channels) + 1,
		unacked: make(map[uint64]unacked),
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// Channels returns every channel opened on the connection, oldest first.
func (c *Connection) Channels() []*Channel {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return append([]*Channel(nil), c.channels...)
}

// NotifyClose registers a close listener.
func (c *Connection) NotifyClose(l chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		close(l)
		return l
	}
	c.closeL = append(c.closeL, l)
	return l
}

// NotifyBlocked registers a blocked/unblocked listener.
func (c *Connection) NotifyBlocked(l chan amqp.Blocking) chan amqp.Blocking {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		close(l)
		return l
	}
	c.blockedL = append(c.blockedL, l)
	return l
}

// IsClosed reports whether the connection is closed.
func (c *Connection) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

// Close closes the connection gracefully.
func (c *Connection) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.shutdown(nil)
	return nil
}

// Fail closes the connection as if the server dropped it with err.
func (c *Connection) Fail(err *amqp.Error) {
	if err == nil {
		err = &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true}
	}
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return
	}
	c.shutdown(err)
}

// SetBlocked simulates a broker resource alarm on the connection.
func (c *Connection) SetBlocked(active bool, reason string) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, l := range c.blockedL {
		select {
		case l <- amqp.Blocking{Active: active, Reason: reason}:
		default:
		}
	}
}

// shutdown closes every channel and notifies listeners. Callers hold broker.mu.
func (c *Connection) shutdown(err *amqp.Error) {
	c.closed = true
	for _, ch := range c.channels {
		ch.shutdown(err)
	}
	for _, l := range c.closeL {
		if err != nil {
			select {
			case l <- err:
			default:
			}
		}
		close(l)
	}
	c.closeL = nil
	for _, l := range c.blockedL {
		close(l)
	}
	c.blockedL = nil
}

// Channel is an in-memory broker channel.
type Channel struct {
	conn      *Connection
	id        int
	closed    bool
	prefetch  int
	nextTag   uint64
	unacked   map[uint64]unacked
	consumers []*consumer
	closeL    []chan *amqp.Error
	flowL     []chan bool

	published   int
	delivered   int
	maxUnacked  int
	failPublish int
	publishErr  error
}

// ID is the 1-based channel number on its connection.
func (ch *Channel) ID() int { return ch.id }

// Published returns the number of successful publishes on the channel.
func (ch *Channel) Published() int {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	return ch.published
}

// Delivered returns the number of deliveries pushed to consumers of the channel.
func (ch *Channel) Delivered() int {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	return ch.delivered
}

// MaxUnacked returns the highest number of simultaneously unacked deliveries seen.
func (ch *Channel) MaxUnacked() int {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	return ch.maxUnacked
}

// Prefetch returns the prefetch count set with Qos.
func (ch *Channel) Prefetch() int {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	return ch.prefetch
}

// IsClosed reports whether the channel is closed.
func (ch *Channel) IsClosed() bool {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	return ch.closed
}

// FailPublishes makes the next n publishes on the channel fail with err.
func (ch *Channel) FailPublishes(n int, err error) {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	if err == nil {
		err = amqp.ErrClosed
	}
	ch.failPublish = n
	ch.publishErr = err
}

// SetFlow sends a channel.flow notification to listeners.
func (ch *Channel) SetFlow(active bool) {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	for _, l := range ch.flowL {
		select {
		case l <- active:
		default:
		}
	}
}

// ExchangeDeclare declares an exchange; redeclaring with different settings fails.
func (ch *Channel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if b.declErr != nil {
		return b.declErr
	}
	if ex, ok := b.exchanges[name]; ok {
		if ex.kind != kind || ex.durable != durable {
			err := &amqp.Error{
				Code:   amqp.PreconditionFailed,
				Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg 'type' for exchange '%s'", name),
				Server: true,
			}
			ch.shutdown(err)
			return err
		}
		return nil
	}
	b.exchanges[name] = exchange{kind: kind, durable: durable}
	return nil
}

// QueueDeclare declares a queue; redeclaring with different durability fails.
func (ch *Channel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := b.queues[name]
	if ok {
		if q.durable != durable {
			err := &amqp.Error{
				Code:   amqp.PreconditionFailed,
				Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg 'durable' for queue '%s'", name),
				Server: true,
			}
			ch.shutdown(err)
			return amqp.Queue{}, err
		}
	} else {
		q = &queue{name: name, durable: durable}
		b.queues[name] = q
	}
	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

// QueueBind binds a queue to an exchange. Binding twice keeps a single binding.
func (ch *Channel) QueueBind(name, key, exchangeName string, _ bool, _ amqp.Table) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := b.queues[name]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no queue '%s'", name)}
	}
	if _, ok := b.exchanges[exchangeName]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no exchange '%s'", exchangeName)}
	}
	b.bindings[binding{queue: name, key: key, exchange: exchangeName}] = struct{}{}
	return nil
}

// Qos sets the prefetch count of the channel.
func (ch *Channel) Qos(prefetchCount, _ int, _ bool) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

// PublishWithContext routes msg through the exchange.
func (ch *Channel) PublishWithContext(_ context.Context, exchangeName, key string, _, _ bool, msg amqp.Publishing) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.failPublish > 0 {
		ch.failPublish--
		return ch.publishErr
	}
	if err := b.route(exchangeName, key, msg); err != nil {
		return err
	}
	ch.published++
	return nil
}

// Consume registers a consumer on queueName.
func (ch *Channel) Consume(queueName, tag string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no queue '%s'", queueName)}
	}
	c := &consumer{
		tag:        tag,
		channel:    ch,
		queue:      q,
		deliveries: make(chan amqp.Delivery, deliveryBuffer),
	}
	q.consumers = append(q.consumers, c)
	ch.consumers = append(ch.consumers, c)
	b.dispatch(q)
	return c.deliveries, nil
}

// Ack acknowledges a delivery.
func (ch *Channel) Ack(tag uint64, _ bool) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := ch.settle(tag)
	if err != nil {
		return err
	}
	b.dispatch(u.queue)
	return nil
}

// Nack negatively acknowledges a delivery, optionally returning it to the queue head.
func (ch *Channel) Nack(tag uint64, _ bool, requeue bool) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := ch.settle(tag)
	if err != nil {
		return err
	}
	if requeue {
		u.msg.redelivered = true
		b.enqueue(u.queue, u.msg, true)
		return nil
	}
	b.dispatch(u.queue)
	return nil
}

// Reject satisfies amqp.Acknowledger.
func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

// NotifyFlow registers a flow listener.
func (ch *Channel) NotifyFlow(l chan bool) chan bool {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	if ch.closed {
		close(l)
		return l
	}
	ch.flowL = append(ch.flowL, l)
	return l
}

// NotifyClose registers a channel close listener.
func (ch *Channel) NotifyClose(l chan *amqp.Error) chan *amqp.Error {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	if ch.closed {
		close(l)
		return l
	}
	ch.closeL = append(ch.closeL, l)
	return l
}

// Close closes the channel; its unacked deliveries return to their queues.
func (ch *Channel) Close() error {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.shutdown(nil)
	return nil
}

// settle removes tag from the unacked set. Callers hold broker.mu.
func (ch *Channel) settle(tag uint64) (unacked, error) {
	if ch.closed {
		return unacked{}, amqp.ErrClosed
	}
	u, ok := ch.unacked[tag]
	if !ok {
		return unacked{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", tag)}
	}
	delete(ch.unacked, tag)
	return u, nil
}

// hasCapacity reports whether prefetch allows another delivery. Callers hold broker.mu.
func (ch *Channel) hasCapacity() bool {
	if ch.closed {
		return false
	}
	return ch.prefetch <= 0 || len(ch.unacked) < ch.prefetch
}

// deliver pushes msg to consumer c. Callers hold broker.mu.
func (ch *Channel) deliver(c *consumer, msg *message) {
	ch.nextTag++
	tag := ch.nextTag
	ch.unacked[tag] = unacked{msg: msg, queue: c.queue}
	ch.delivered++
	if n := len(ch.unacked); n > ch.maxUnacked {
		ch.maxUnacked = n
	}

	p := msg.publishing
	c.deliveries <- amqp.Delivery{
		Acknowledger: ch,
		Headers:      p.Headers,
		ContentType:  p.ContentType,
		DeliveryMode: p.DeliveryMode,
		MessageId:    p.MessageId,
		Timestamp:    p.Timestamp,
		ConsumerTag:  c.tag,
		DeliveryTag:  tag,
		Redelivered:  msg.redelivered,
		Exchange:     msg.exchange,
		RoutingKey:   msg.routingKey,
		Body:         p.Body,
	}
}

// shutdown closes the channel, requeues unacked deliveries and notifies listeners.
// Callers hold broker.mu.
func (ch *Channel) shutdown(err *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true

	affected := make(map[*queue]struct{})
	for tag, u := range ch.unacked {
		u.msg.redelivered = true
		u.queue.ready = append([]*message{u.msg}, u.queue.ready...)
		affected[u.queue] = struct{}{}
		delete(ch.unacked, tag)
	}

	for _, c := range ch.consumers {
		q := c.queue
		for i, qc := range q.consumers {
			if qc == c {
				q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
				break
			}
		}
		if q.next >= len(q.consumers) {
			q.next = 0
		}
		close(c.deliveries)
		affected[q] = struct{}{}
	}
	ch.consumers = nil

	for _, l := range ch.closeL {
		if err != nil {
			select {
			case l <- err:
			default:
			}
		}
		close(l)
	}
	ch.closeL = nil
	for _, l := range ch.flowL {
		close(l)
	}
	ch.flowL = nil

	for q := range affected {
		ch.conn.broker.dispatch(q)
	}
}
