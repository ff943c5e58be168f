package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Expirer interface {
	ExpireUnpaid(ctx context.Context) (int, error)
}

// Sweeper cancels bookings whose payment never arrived. Only the replica holding the
// sweep lock runs a given tick.
type Sweeper struct {
	Bookings Expirer
	Redis    *redis.Client
	Name     string
	LockTTL  time.Duration
	Log      logrus.FieldLogger
}

func (s *Sweeper) Run(ctx context.Context) {
	ok, err := redisx.Claim(ctx, s.Redis, fmt.Sprintf(redisx.KeySweepLock, s.Name), s.LockTTL)
	if err != nil {
		s.Log.WithError(err).Warn("sweep lock unavailable; skipping tick")
		return
	}
	if !ok {
		return
	}
	n, err := s.Bookings.ExpireUnpaid(ctx)
	if err != nil {
		s.Log.WithError(err).Error("expire unpaid bookings")
		return
	}
	if n > 0 {
		s.Log.WithField("count", n).Info("expired unpaid bookings")
	}
}

// Schedule registers Run on spec and starts the scheduler. Stop the returned cron to end it.
func (s *Sweeper) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { s.Run(ctx) }); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
