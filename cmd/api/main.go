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
	"github.com/ariefcatur/go-rental-bookings/internal/identity"
	kafkax "github.com/ariefcatur/go-rental-bookings/internal/kafka"
	"github.com/ariefcatur/go-rental-bookings/internal/logging"
	"github.com/ariefcatur/go-rental-bookings/internal/postgres"
	"github.com/ariefcatur/go-rental-bookings/internal/products"
	"github.com/ariefcatur/go-rental-bookings/internal/profiles"
	"github.com/ariefcatur/go-rental-bookings/internal/redisx"
	"github.com/ariefcatur/go-rental-bookings/internal/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	sol, err := settlement.FromConfig(cfg.Solana)
	if err != nil {
		log.WithError(err).Fatal("invalid solana configuration")
	}

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

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	// Repos & service
	profileRepo := &profiles.Repo{DB: db}
	productRepo := &products.Repo{DB: db}
	svc := &bookings.Service{
		Store:         &bookings.Repo{DB: db},
		Products:      productRepo,
		Profiles:      profileRepo,
		Bridge:        settlement.NewBridge(sol),
		Verifier:      settlement.NewVerifier(sol, cfg.Solana.VerifyTx, cfg.Solana.RPCPerSecond, log),
		Producer:      prod,
		Cache:         redisx.NewBookingCache(rdb, redisx.TTLBooking),
		Log:           log,
		PaymentWindow: cfg.PaymentWindow,
		ServiceName:   cfg.ServiceName,
	}

	auth := identity.New(identity.Config{
		URL:       cfg.SupabaseURL,
		AnonKey:   cfg.SupabaseAnonKey,
		JWTSecret: cfg.SupabaseJWTSecret,
	}, log)
	registered := identity.RequireRegistered(profileRepo, log)

	router := httpx.NewRouter(log)
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		(&httpx.BookingsHandler{Service: svc, Registered: registered, Log: log}).Register(r)
		(&httpx.AccountsHandler{Profiles: profileRepo, Products: productRepo, Registered: registered, Log: log}).Register(r)
	})

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // close inbox, flush and close the writer
	cancel()
	prod.WaitClosed()
}
