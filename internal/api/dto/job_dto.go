package dto

// JobPayload is the arbitrary JSON object a client enqueues
type JobPayload map[string]any

type EnqueueResponse struct {
	Status string `json:"status"`
}

type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
