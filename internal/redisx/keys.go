package redisx

import "time"

const (
	// Cached booking row: booking:{booking_id} -> JSON
	KeyBooking = "booking:%s"

	// Dedup event processing: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Held by the worker replica running the expiry sweep.
	KeySweepLock = "lock:sweep:%s"
)

var (
	TTLBooking = 5 * time.Minute
	TTLDedup   = 48 * time.Hour
)
