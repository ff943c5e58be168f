package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/bookings"
	"github.com/ariefcatur/go-rental-bookings/internal/config"
	"github.com/ariefcatur/go-rental-bookings/internal/httpx"
	kafkax "github.com/ariefcatur/go-rental-bookings/internal/kafka"
	"github.com/ariefcatur/go-rental-bookings/internal/logging"
	"github.com/ariefcatur/go-rental-bookings/internal/postgres"
	"github.com/ariefcatur/go-rental-bookings/internal/redisx"
	"github.com/ariefcatur/go-rental-bookings/internal/worker"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-worker"
	log := logging.New(name, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Expired bookings are published like any other transition.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	svc := &bookings.Service{
		Store:         &bookings.Repo{DB: db},
		Producer:      prod,
		Cache:         redisx.NewBookingCache(rdb, redisx.TTLBooking),
		Log:           log,
		PaymentWindow: cfg.PaymentWindow,
		ServiceName:   name,
	}

	// Expiry sweep
	sweeper := &worker.Sweeper{Bookings: svc, Redis: rdb, Name: name, LockTTL: 30 * time.Second, Log: log}
	sched, err := sweeper.Schedule(ctx, cfg.SweepSchedule)
	if err != nil {
		log.WithError(err).Fatal("schedule sweep")
	}

	// Consumer
	h := &worker.Handler{Bookings: svc, Redis: rdb, Name: name, Log: log}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, bookings.Topics, cfg.Workers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.WithFields(logrus.Fields{
			"group":   cfg.WorkerGroup,
			"topics":  bookings.Topics,
			"workers": cfg.Workers,
		}).Info("booking event consumer started")
		if err := cons.Start(ctx, h.Handle); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	// health and metrics
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: httpx.NewRouter(log), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics listener")
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down worker...")

	<-sched.Stop().Done()
	cancel()
	<-done

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	prod.WaitClosed()
}
