package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-rental-bookings/internal/bookings"
	kafkax "github.com/ariefcatur/go-rental-bookings/internal/kafka"
	"github.com/ariefcatur/go-rental-bookings/internal/redisx"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Recorder interface {
	RecordEvent(ctx context.Context, env bookings.Envelope) error
}

// Handler records booking events published by the API into booking_events.
type Handler struct {
	Bookings Recorder
	Redis    *redis.Client
	Name     string // dedup namespace
	Log      logrus.FieldLogger
}

func (h *Handler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.Decode[bookings.Envelope](m.Value)
	if err != nil || env.EventID == "" {
		// A message that cannot be decoded never will be; commit past it.
		h.Log.WithError(err).WithFields(logrus.Fields{"topic": m.Topic, "offset": m.Offset}).Error("skipping malformed event")
		return nil
	}

	// dedup via Redis on event_id; the table's unique key is the backstop
	dkey := fmt.Sprintf(redisx.KeyDedup, h.Name, env.EventID)
	fresh, err := redisx.Claim(ctx, h.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		h.Log.WithError(err).Warn("dedup unavailable")
		fresh = true
	}
	if !fresh {
		return nil
	}

	if err := h.Bookings.RecordEvent(ctx, env); err != nil {
		if permanent(err) {
			// The claim stays so a redelivery is dropped without another insert.
			h.Log.WithError(err).WithFields(logrus.Fields{
				"event_id":   env.EventID,
				"event_type": env.EventType,
				"booking_id": env.CorrelationID,
				"offset":     m.Offset,
			}).Error("dropping event the store rejects")
			return nil
		}
		_ = h.Redis.Del(ctx, dkey).Err()
		return err
	}
	h.Log.WithFields(logrus.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"booking_id": env.CorrelationID,
	}).Debug("event recorded")
	return nil
}

// permanent reports failures a retry cannot fix: an undecodable payload, or a Postgres
// data exception (class 22) or integrity violation (class 23) such as an event for a
// booking that does not exist.
func permanent(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
