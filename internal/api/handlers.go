package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/logger"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/quote"
)

type cartRequest struct {
	Lines []quote.CartLine `json:"lines" validate:"required,min=1,max=2,dive"`
}

type generateQuotationRequest struct {
	Lines      []quote.CartLine `json:"lines" validate:"required,min=1,max=2,dive"`
	CustomerID *uuid.UUID       `json:"customer_id,omitempty"`
}

func handleListUnits(svc UnitService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		availability := models.Availability(strings.ToUpper(r.URL.Query().Get("availability")))
		if availability != "" && !availability.IsValid() {
			writeError(r.Context(), log, w, apperr.New(apperr.CodeValidation, "invalid availability").
				WithDetails(map[string]string{"availability": string(availability)}))
			return
		}

		page, pageSize := pageParams(r)
		result, err := svc.ListUnits(r.Context(), availability, page, pageSize)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, result)
	}
}

func handleGetUnit(svc UnitService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "unitId")
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		unit, err := svc.GetUnit(r.Context(), id)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, unit)
	}
}

func handleSetDisabled(svc UnitService, disabled bool, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "unitId")
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		unit, err := svc.SetDisabled(r.Context(), id, disabled)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, unit)
	}
}

func handleListAccessories(svc QuoteService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var modelID *uuid.UUID
		if raw := r.URL.Query().Get("model_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeValidation, err, "invalid model_id").
					WithDetails(map[string]string{"model_id": raw}))
				return
			}
			modelID = &id
		}

		accessories, err := svc.Accessories(r.Context(), modelID)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, accessories)
	}
}

func handleSimulate(svc QuoteService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cartRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		sim, err := svc.Simulate(r.Context(), quote.Cart{Lines: req.Lines})
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, sim)
	}
}

func handleGenerateQuotation(svc QuoteService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateQuotationRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		q, err := svc.Generate(r.Context(), auth.FromContext(r.Context()), quote.Cart{Lines: req.Lines}, req.CustomerID)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, q)
	}
}

func handleListQuotations(svc QuoteService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cursor, limit := cursorParams(r)
		result, err := svc.List(r.Context(), auth.FromContext(r.Context()), cursor, limit)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, result)
	}
}

func handleGetQuotation(svc QuoteService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "quotationId")
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		q, err := svc.Get(r.Context(), auth.FromContext(r.Context()), id)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, q)
	}
}

func handleCreateReservation(svc ReservationService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "quotationId")
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		reservation, err := svc.Create(r.Context(), auth.FromContext(r.Context()), id)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, reservation)
	}
}

func handleCancelReservation(svc ReservationService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "reservationId")
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		reservation, err := svc.Cancel(r.Context(), auth.FromContext(r.Context()), id)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, reservation)
	}
}

func handleListReservations(svc ReservationService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cursor, limit := cursorParams(r)
		result, err := svc.List(r.Context(), auth.FromContext(r.Context()), cursor, limit)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, result)
	}
}

func handleGetReservation(svc ReservationService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "reservationId")
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		reservation, err := svc.Get(r.Context(), auth.FromContext(r.Context()), id)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, reservation)
	}
}

func handleFinalizeSale(svc SaleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "quotationId")
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		sale, err := svc.Finalize(r.Context(), auth.FromContext(r.Context()), id)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, sale)
	}
}

func handleListSales(svc SaleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := pageParams(r)
		result, err := svc.List(r.Context(), auth.FromContext(r.Context()), page, pageSize)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, result)
	}
}

func handleGetSale(svc SaleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "saleId")
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}

		sale, err := svc.Get(r.Context(), auth.FromContext(r.Context()), id)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		writeSuccess(w, http.StatusOK, sale)
	}
}
