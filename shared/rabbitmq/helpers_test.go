package rabbitmq_test

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
)

var testTopology = rabbitmq.Topology{
	Exchange:        "jobs-exchange",
	ExchangeType:    rabbitmq.ExchangeTypeDirect,
	ExchangeDurable: true,
	Queue:           "send-whatsapp-queue",
	QueueDurable:    true,
	RoutingKey:      "send.whatsapp",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(poolSize, attempts int) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:          "localhost",
		Port:          5672,
		User:          "guest",
		Password:      "guest",
		VHost:         "/",
		Topology:      testTopology,
		PoolSize:      poolSize,
		RetryAttempts: attempts,
		RetryInterval: 10 * time.Millisecond,
		PublishRetry:  5 * time.Millisecond,
	}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
