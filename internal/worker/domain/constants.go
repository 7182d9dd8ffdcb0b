package domain

// Delivery states. A delivery moves received → processing → acked | requeued;
// bodies that cannot be decoded go straight to rejected.
const (
	DeliveryReceived   = "RECEIVED"
	DeliveryProcessing = "PROCESSING"
	DeliveryAcked      = "ACKED"
	DeliveryRequeued   = "REQUEUED"
	DeliveryRejected   = "REJECTED"
)
