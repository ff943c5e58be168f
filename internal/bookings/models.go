package bookings

import "time"

type Booking struct {
	ID         string    `json:"id"`
	ProductID  int64     `json:"product_id"`
	RenterID   string    `json:"renter_id"`
	OwnerID    string    `json:"owner_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	TotalPrice float64   `json:"total_price"`
	Status     Status    `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`

	PaymentIntentID                  *string `json:"payment_intent_id"`
	CompletionTransactionSignature   *string `json:"completion_transaction_signature"`
	CancellationTransactionSignature *string `json:"cancellation_transaction_signature"`
	CancellationNotes                *string `json:"cancellation_notes"`
}

// Party reports whether userID is the renter or the owner of b.
func (b *Booking) Party(userID string) bool {
	return userID != "" && (b.RenterID == userID || b.OwnerID == userID)
}

type Role string

const (
	RoleAny    Role = ""
	RoleRenter Role = "renter"
	RoleOwner  Role = "owner"
)

type ListFilter struct {
	UserID string
	Role   Role
	Status Status
	Limit  int
	Offset int
}

type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

type ListResult struct {
	Bookings       []Booking  `json:"bookings"`
	RenterBookings []Booking  `json:"renter_bookings"`
	OwnerBookings  []Booking  `json:"owner_bookings"`
	TotalCount     int        `json:"total_count"`
	Pagination     Pagination `json:"pagination"`
}

type CreateInput struct {
	ProductID  int64     `json:"product_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	TotalPrice float64   `json:"total_price"`
}

// CancelUpdate is the write applied by both cancel paths.
type CancelUpdate struct {
	ID        string
	From      Status
	At        time.Time
	Notes     *string
	Signature *string
}

// EventRecord is one row of a booking's recorded history.
type EventRecord struct {
	EventID    string    `json:"event_id"`
	BookingID  string    `json:"booking_id"`
	EventType  string    `json:"event_type"`
	Status     Status    `json:"status"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
