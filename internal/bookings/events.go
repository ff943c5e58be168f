package bookings

import (
	"encoding/json"
	"time"
)

const (
	EventBookingCreated   = "BookingCreated"
	EventPaymentConfirmed = "PaymentConfirmed"
	EventBookingCompleted = "BookingCompleted"
	EventBookingCancelled = "BookingCancelled"
	EventBookingExpired   = "BookingExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // booking_id
	Payload       json.RawMessage `json:"payload"`
}

type TransitionPayload struct {
	BookingID      string    `json:"booking_id"`
	ProductID      int64     `json:"product_id"`
	RenterID       string    `json:"renter_id"`
	OwnerID        string    `json:"owner_id"`
	ActorID        string    `json:"actor_id,omitempty"`
	Status         Status    `json:"status"`
	Signature      string    `json:"signature,omitempty"`
	RefundRequired bool      `json:"refund_required,omitempty"`
	At             time.Time `json:"at"`
}
