package bookings

const (
	TopicBookingCreated   = "booking.created"
	TopicBookingConfirmed = "booking.confirmed"
	TopicBookingCompleted = "booking.completed"
	TopicBookingCancelled = "booking.cancelled"
)

// Topics lists every topic the service publishes to.
var Topics = []string{
	TopicBookingCreated,
	TopicBookingConfirmed,
	TopicBookingCompleted,
	TopicBookingCancelled,
}

// Partition key = booking_id, so every event of one booking stays ordered.
func PartitionKey(bookingID string) []byte { return []byte(bookingID) }

func topicFor(s Status) string {
	switch s {
	case StatusConfirmed:
		return TopicBookingConfirmed
	case StatusCompleted:
		return TopicBookingCompleted
	case StatusCancelled:
		return TopicBookingCancelled
	default:
		return TopicBookingCreated
	}
}
