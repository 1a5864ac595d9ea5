package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/flycar/internal/clock"
	"github.com/safar/flycar/internal/config"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/logger"
	"github.com/safar/flycar/internal/metrics"
	"github.com/safar/flycar/internal/payment"
	"github.com/safar/flycar/internal/reservation"
)

// The sweeper persists VENCIDA for reservations past their expiry and
// releases their units. Reads already treat them as expired; this only
// keeps the stored state and inventory in step.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "flycar-sweeper"}).Error(context.Background(), "load config", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: "flycar-sweeper",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Error(ctx, "connect to database", err)
		os.Exit(1)
	}
	defer db.Close()

	// Expiry never charges; the gateway is only needed to build the manager.
	manager := reservation.NewManager(db, payment.NewSimulated(1), clock.System(), log, metrics.NewEngineMetrics(nil), cfg.Payment.Timeout)

	ticker := time.NewTicker(cfg.Sweeper.Interval)
	defer ticker.Stop()

	log.Info(log.WithField(ctx, "interval", cfg.Sweeper.Interval.String()), "sweeper started")
	for {
		sweep(ctx, manager, cfg.Sweeper.BatchSize, log)

		select {
		case <-ctx.Done():
			log.Info(context.Background(), "sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, manager *reservation.Manager, batchSize int, log *logger.Logger) {
	expired, err := manager.Sweep(ctx, batchSize)
	if err != nil {
		log.Error(ctx, "sweep reservations", err)
	}
	if expired > 0 {
		log.Info(log.WithField(ctx, "expired", expired), "reservations expired")
	}
}
