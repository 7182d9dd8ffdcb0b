package rabbitmq

import "errors"

var (
	// ErrConnectionExhausted is returned when every connect attempt failed. Fatal at startup.
	ErrConnectionExhausted = errors.New("rabbitmq connection retries exhausted")

	// ErrTopologyDeclarationFailed is returned when exchange, queue or binding declaration fails.
	ErrTopologyDeclarationFailed = errors.New("rabbitmq topology declaration failed")

	// ErrNoChannelsAvailable is returned by Publish while the channel pool is not initialized.
	ErrNoChannelsAvailable = errors.New("no rabbitmq channels available")

	// ErrPublishFailed is returned when both the first publish attempt and its retry failed.
	ErrPublishFailed = errors.New("failed to publish message")

	// ErrConnectionLost is returned by consumers when the broker connection closes.
	ErrConnectionLost = errors.New("rabbitmq connection lost")

	// ErrNotReady is returned when the management endpoint never reported ready.
	ErrNotReady = errors.New("rabbitmq not ready")
)
