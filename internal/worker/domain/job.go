package domain

import "time"

// Job is one decoded delivery handed to the worker's handler.
type Job struct {
	MessageID   string
	Channel     int
	DeliveryTag uint64
	Redelivered bool
	Payload     map[string]any
	ReceivedAt  time.Time
}
