package main

import (
	"errors"
	"flag"
	"os"
	"strconv"

	"github.com/ariefcatur/go-rental-bookings/internal/config"
	"github.com/ariefcatur/go-rental-bookings/internal/logging"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// usage: migrate [-path dir] up|down|version|force N
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.ServiceName+"-migrate", cfg.LogLevel, cfg.LogFormat)

	dir := flag.String("path", "migrations", "directory holding the *.up.sql / *.down.sql files")
	steps := flag.Int("steps", 0, "apply at most this many migrations (0 = all)")
	flag.Parse()

	m, err := migrate.New("file://"+*dir, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("open migrations")
	}
	defer m.Close()

	cmd := flag.Arg(0)
	switch cmd {
	case "", "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "force":
		v, perr := strconv.Atoi(flag.Arg(1))
		if perr != nil {
			log.WithError(perr).Fatal("force needs a version")
		}
		err = m.Force(v)
	case "version":
	default:
		log.WithField("command", cmd).Fatal("unknown command")
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.WithError(err).Fatal("migrate " + cmd)
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.WithError(err).Fatal("read version")
	}
	log.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info("schema version")
	if dirty {
		os.Exit(1)
	}
}
