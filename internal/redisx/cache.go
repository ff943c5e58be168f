package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/bookings"
	"github.com/redis/go-redis/v9"
)

// BookingCache keeps booking rows for the GET path. Writes from the service refresh it
// and consumed events drop it.
type BookingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewBookingCache(rdb *redis.Client, ttl time.Duration) *BookingCache {
	if ttl <= 0 {
		ttl = TTLBooking
	}
	return &BookingCache{rdb: rdb, ttl: ttl}
}

func (c *BookingCache) Get(ctx context.Context, id string) (*bookings.Booking, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyBooking, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var b bookings.Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *BookingCache) Set(ctx context.Context, b *bookings.Booking) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyBooking, b.ID), raw, c.ttl).Err()
}

// Add stores b only when no copy is cached, so a row read before a concurrent write
// cannot replace the copy that write stored.
func (c *BookingCache) Add(ctx context.Context, b *bookings.Booking) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyBooking, b.ID), raw, c.ttl).Err()
}

func (c *BookingCache) Invalidate(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyBooking, id)).Err()
}
