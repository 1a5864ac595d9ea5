package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/safar/flycar/internal/api"
	"github.com/safar/flycar/internal/cache"
	"github.com/safar/flycar/internal/clock"
	"github.com/safar/flycar/internal/config"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/inventory"
	"github.com/safar/flycar/internal/logger"
	"github.com/safar/flycar/internal/metrics"
	"github.com/safar/flycar/internal/payment"
	"github.com/safar/flycar/internal/quote"
	"github.com/safar/flycar/internal/reservation"
	"github.com/safar/flycar/internal/sale"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "flycar-api"}).Error(context.Background(), "load config", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: "flycar-api",
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
	log.Info(ctx, "connected to database")

	gateway, err := newGateway(cfg, log)
	if err != nil {
		log.Error(ctx, "build payment gateway", err)
		os.Exit(1)
	}

	var idem cache.IdempotencyStore
	if cfg.Redis.URL != "" {
		rdb, err := cache.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			log.Error(ctx, "connect to redis", err)
			os.Exit(1)
		}
		defer rdb.Close()
		idem = rdb
		log.Info(ctx, "idempotency keys enabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewEngineMetrics(registry)

	clk := clock.System()
	reservations := reservation.NewManager(db, gateway, clk, log, engineMetrics, cfg.Payment.Timeout)

	router := api.NewRouter(api.Deps{
		JWT:            cfg.JWT,
		Log:            log,
		DB:             db,
		Units:          inventory.NewService(db, clk, log),
		Quotes:         quote.NewBuilder(db, clk, log, engineMetrics),
		Reservations:   reservations,
		Sales:          sale.NewFinalizer(db, gateway, reservations, clk, log, engineMetrics, cfg.Payment.Timeout),
		Idempotency:    idem,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(log.WithField(ctx, "port", cfg.Server.Port), "server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error(ctx, "server error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown", err)
	}
	log.Info(shutdownCtx, "server stopped")
}

func newGateway(cfg *config.Config, log *logger.Logger) (payment.Gateway, error) {
	if strings.EqualFold(cfg.Payment.Provider, config.PaymentProviderMercadoPago) {
		return payment.NewMercadoPago(payment.MercadoPagoOptions{
			AccessToken:     cfg.Payment.AccessToken,
			PaymentMethodID: cfg.Payment.PaymentMethodID,
			PayerEmail:      cfg.Payment.PayerEmail,
		}, log)
	}
	return payment.NewSimulated(cfg.Payment.ApprovalRate), nil
}

