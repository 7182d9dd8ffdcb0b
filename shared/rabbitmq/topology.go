package rabbitmq

import (
	"fmt"
)

// ExchangeTypeDirect is the only exchange type the bridge declares.
const ExchangeTypeDirect = "direct"

// Topology identifies the exchange, queue and binding shared by producer and consumer.
type Topology struct {
	Exchange        string
	ExchangeType    string
	ExchangeDurable bool
	Queue           string
	QueueDurable    bool
	RoutingKey      string
}

// Declare declares the exchange, the queue and the binding between them on ch.
// Declaring the same topology twice is a no-op on the broker, so both sides run it on every channel.
func (t Topology) Declare(ch Channel) error {
	kind := t.ExchangeType
	if kind == "" {
		kind = ExchangeTypeDirect
	}

	err := ch.ExchangeDeclare(
		t.Exchange,        // name
		kind,              // type
		t.ExchangeDurable, // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("%w: declare exchange %q: %w", ErrTopologyDeclarationFailed, t.Exchange, err)
	}

	_, err = ch.QueueDeclare(
		t.Queue,        // name
		t.QueueDurable, // durable
		false,          // auto-delete
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("%w: declare queue %q: %w", ErrTopologyDeclarationFailed, t.Queue, err)
	}

	err = ch.QueueBind(
		t.Queue,      // queue name
		t.RoutingKey, // routing key
		t.Exchange,   // exchange
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("%w: bind queue %q to %q: %w", ErrTopologyDeclarationFailed, t.Queue, t.Exchange, err)
	}

	return nil
}
