// Package api exposes the dealership engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/cache"
	"github.com/safar/flycar/internal/config"
	"github.com/safar/flycar/internal/inventory"
	"github.com/safar/flycar/internal/logger"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/quote"
	"github.com/safar/flycar/internal/store"
)

type UnitService interface {
	GetUnit(ctx context.Context, id uuid.UUID) (*inventory.UnitView, error)
	ListUnits(ctx context.Context, availability models.Availability, page, pageSize int) (*store.OffsetPage, error)
	SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) (*inventory.UnitView, error)
}

type QuoteService interface {
	Simulate(ctx context.Context, cart quote.Cart) (*quote.Simulation, error)
	Accessories(ctx context.Context, modelID *uuid.UUID) ([]quote.AccessoryView, error)
	Generate(ctx context.Context, actor auth.Identity, cart quote.Cart, customerID *uuid.UUID) (*models.Quotation, error)
	Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*models.Quotation, error)
	List(ctx context.Context, actor auth.Identity, cursor string, limit int) (*store.CursorPage, error)
}

type ReservationService interface {
	Create(ctx context.Context, actor auth.Identity, quotationID uuid.UUID) (*models.Reservation, error)
	Cancel(ctx context.Context, actor auth.Identity, id uuid.UUID) (*models.Reservation, error)
	Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*models.Reservation, error)
	List(ctx context.Context, actor auth.Identity, cursor string, limit int) (*store.CursorPage, error)
}

type SaleService interface {
	Finalize(ctx context.Context, actor auth.Identity, quotationID uuid.UUID) (*models.Sale, error)
	Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*models.Sale, error)
	List(ctx context.Context, actor auth.Identity, page, pageSize int) (*store.OffsetPage, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	JWT          config.JWTConfig
	Log          *logger.Logger
	DB           Pinger
	Units        UnitService
	Quotes       QuoteService
	Reservations ReservationService
	Sales        SaleService
	// Idempotency is optional; nil disables Idempotency-Key replay.
	Idempotency    cache.IdempotencyStore
	IdempotencyTTL time.Duration
	Metrics        http.Handler
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()
	r.Use(requestID(log))
	r.Use(requestLogging(log))
	r.Use(recoverer(log))

	r.Get("/healthz", handleHealth(d.DB, log))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	replay := idempotency(d.Idempotency, d.IdempotencyTTL, log)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate(d.JWT, log))

		r.Get("/units", handleListUnits(d.Units, log))
		r.Get("/units/{unitId}", handleGetUnit(d.Units, log))
		r.Group(func(r chi.Router) {
			r.Use(requireAuth(log))
			r.Use(requireRole(auth.RoleAdministrador, log))
			r.Post("/units/{unitId}/disable", handleSetDisabled(d.Units, true, log))
			r.Post("/units/{unitId}/enable", handleSetDisabled(d.Units, false, log))
		})

		r.Get("/accessories", handleListAccessories(d.Quotes, log))
		r.Post("/quotations/simulate", handleSimulate(d.Quotes, log))

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(log))

			r.Post("/quotations", handleGenerateQuotation(d.Quotes, log))
			r.Get("/quotations", handleListQuotations(d.Quotes, log))
			r.Get("/quotations/{quotationId}", handleGetQuotation(d.Quotes, log))
			r.With(replay).Post("/quotations/{quotationId}/reservation", handleCreateReservation(d.Reservations, log))
			r.With(replay).Post("/quotations/{quotationId}/sale", handleFinalizeSale(d.Sales, log))

			r.Get("/reservations", handleListReservations(d.Reservations, log))
			r.Get("/reservations/{reservationId}", handleGetReservation(d.Reservations, log))
			r.With(replay).Post("/reservations/{reservationId}/cancel", handleCancelReservation(d.Reservations, log))

			r.Get("/sales", handleListSales(d.Sales, log))
			r.Get("/sales/{saleId}", handleGetSale(d.Sales, log))
		})
	})

	return r
}

func handleHealth(db Pinger, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				log.Error(r.Context(), "health check failed", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
