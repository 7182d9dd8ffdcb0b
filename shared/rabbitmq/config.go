package rabbitmq

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host              string
	Port              int
	ManagementPort    int
	User              string
	Password          string
	VHost             string
	Topology          Topology
	PoolSize          int
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
	PublishRetry      time.Duration
}

// URL builds the AMQP URI for the configured broker.
func (c *Config) URL() string {
	vhost := c.VHost
	if vhost == "/" {
		vhost = ""
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + vhost,
	}
	return u.String()
}

// Redacted returns the AMQP URI with the password hidden, for logging.
func (c *Config) Redacted() string {
	u, err := url.Parse(c.URL())
	if err != nil {
		return fmt.Sprintf("amqp://%s:%d", c.Host, c.Port)
	}
	return u.Redacted()
}
