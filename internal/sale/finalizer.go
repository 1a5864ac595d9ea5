// Package sale finalizes quotations into sales, crediting an active
// reservation's deposit toward the balance.
package sale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/clock"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/inventory"
	"github.com/safar/flycar/internal/logger"
	"github.com/safar/flycar/internal/metrics"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/payment"
	"github.com/safar/flycar/internal/pricing"
	"github.com/safar/flycar/internal/store"
	"github.com/shopspring/decimal"
)

const CommissionPercent = 10

// Expirer persists the expiry of a quotation's reservation when it is due.
type Expirer interface {
	ExpireQuotation(ctx context.Context, quotationID uuid.UUID) error
}

type Finalizer struct {
	db             *sql.DB
	gateway        payment.Gateway
	compensator    *payment.Compensator
	expirer        Expirer
	clock          clock.Clock
	log            *logger.Logger
	metrics        *metrics.EngineMetrics
	paymentTimeout time.Duration
}

func NewFinalizer(db *sql.DB, gateway payment.Gateway, expirer Expirer, clk clock.Clock, log *logger.Logger, m *metrics.EngineMetrics, paymentTimeout time.Duration) *Finalizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Finalizer{
		db:             db,
		gateway:        gateway,
		compensator:    payment.NewCompensator(gateway, db, clk, log, m, paymentTimeout),
		expirer:        expirer,
		clock:          clk,
		log:            log,
		metrics:        m,
		paymentTimeout: paymentTimeout,
	}
}

// plan is what the precheck decided to charge.
type plan struct {
	quotation     *models.Quotation
	reservationID *uuid.UUID
	balance       decimal.Decimal
}

// Finalize sells quotationID on behalf of the calling seller. With an ACTIVA
// reservation the deposit is credited, the reservation completes and its
// held units are sold; otherwise the full total is charged and the units
// must be AVAILABLE.
func (f *Finalizer) Finalize(ctx context.Context, actor auth.Identity, quotationID uuid.UUID) (s *models.Sale, err error) {
	defer f.metrics.Track("finalize_sale", time.Now(), &err)

	if actor.Role != auth.RoleVendedor || actor.SellerID == nil {
		if !actor.Authenticated() {
			return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
		}
		return nil, database.ErrForbidden
	}
	ctx = f.log.WithFields(ctx, map[string]any{
		"quotation_id": quotationID,
		"seller_id":    *actor.SellerID,
	})

	p, err := f.precheck(ctx, quotationID)
	if err != nil {
		return nil, err
	}

	now := f.clock.Now()
	q := p.quotation
	s = &models.Sale{
		ID:          uuid.New(),
		QuotationID: q.ID,
		SellerID:    *actor.SellerID,
		Concretada:  true,
		Commission:  pricing.Rate(q.TotalAmount, CommissionPercent),
		BalancePaid: p.balance,
		CreatedAt:   now,
	}
	s.Number = saleNumber(s.ID, now)

	receipt, err := payment.Charge(ctx, f.gateway, f.paymentTimeout, payment.ChargeRequest{
		Amount:      p.balance,
		Reference:   s.Number,
		Description: fmt.Sprintf("Balance for quotation %s", q.ID),
	})
	if err != nil {
		f.metrics.IncPaymentDeclined("finalize_sale")
		f.log.Warn(f.log.WithField(ctx, "error", err.Error()), "balance declined")
		return nil, err
	}

	s.Payment = models.Payment{
		ID:          uuid.New(),
		ExternalRef: receipt.ExternalRef,
		Amount:      receipt.Amount,
		OwnerKind:   models.PaymentOwnerSale,
		CreatedAt:   now,
	}

	err = database.WithRetry(ctx, f.db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.LockQuotation(ctx, tx, q.ID)
		if err != nil {
			return err
		}
		if !locked.VigentAt(now) {
			return database.ErrQuotationExpired
		}
		if _, err := store.GetSaleByQuotation(ctx, tx, locked.ID); err == nil {
			return database.ErrQuotationSold
		} else if !errors.Is(err, database.ErrSaleNotFound) {
			return err
		}

		reservationID, err := activeReservation(ctx, tx, locked.ID, now)
		if err != nil {
			return err
		}
		if !sameReservation(reservationID, p.reservationID) {
			return fmt.Errorf("%w: reservation changed while charging", database.ErrReservationNotActive)
		}

		if reservationID != nil {
			if err := store.CloseReservation(ctx, tx, *reservationID, models.ReservationCompleted, now); err != nil {
				return err
			}
		}
		if err := inventory.Sell(ctx, tx, locked.UnitIDs(), reservationID, now); err != nil {
			return err
		}
		if err := store.InsertPayment(ctx, tx, &s.Payment); err != nil {
			return err
		}
		return store.InsertSale(ctx, tx, s)
	})
	if err != nil {
		f.compensator.Compensate(ctx, "finalize_sale", receipt, err)
		return nil, database.ConflictOnContention(err, database.ErrUnitUnavailable)
	}

	f.log.Info(f.log.WithFields(ctx, map[string]any{
		"sale_id":      s.ID,
		"balance":      s.BalancePaid.StringFixed(2),
		"commission":   s.Commission.StringFixed(2),
		"external_ref": receipt.ExternalRef,
	}), "sale finalized")
	return s, nil
}

func (f *Finalizer) precheck(ctx context.Context, quotationID uuid.UUID) (*plan, error) {
	q, err := store.GetQuotation(ctx, f.db, quotationID)
	if err != nil {
		return nil, err
	}
	if err := f.expirer.ExpireQuotation(ctx, q.ID); err != nil {
		return nil, err
	}

	now := f.clock.Now()
	if !q.VigentAt(now) {
		return nil, database.ErrQuotationExpired
	}
	if _, err := store.GetSaleByQuotation(ctx, f.db, q.ID); err == nil {
		return nil, database.ErrQuotationSold
	} else if !errors.Is(err, database.ErrSaleNotFound) {
		return nil, err
	}

	p := &plan{quotation: q, balance: q.TotalAmount}

	r, err := store.GetReservationByQuotation(ctx, f.db, q.ID)
	switch {
	case errors.Is(err, database.ErrReservationNotFound):
	case err != nil:
		return nil, err
	case r.EffectiveState(now) == models.ReservationActive:
		p.reservationID = &r.ID
		p.balance = q.TotalAmount.Sub(r.DepositAmount)
	}
	return p, nil
}

// activeReservation returns the id of the quotation's ACTIVA, unexpired
// reservation with its row locked, or nil.
func activeReservation(ctx context.Context, tx database.Querier, quotationID uuid.UUID, now time.Time) (*uuid.UUID, error) {
	r, err := store.LockReservationByQuotation(ctx, tx, quotationID)
	if errors.Is(err, database.ErrReservationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.EffectiveState(now) != models.ReservationActive {
		return nil, nil
	}
	return &r.ID, nil
}

// List pages sales newest first: a seller's own, or all for administrators.
func (f *Finalizer) List(ctx context.Context, actor auth.Identity, page, pageSize int) (*store.OffsetPage, error) {
	switch actor.Role {
	case auth.RoleVendedor:
		if actor.SellerID == nil {
			return nil, database.ErrForbidden
		}
		return store.ListSales(ctx, f.db, actor.SellerID, page, pageSize)
	case auth.RoleAdministrador:
		return store.ListSales(ctx, f.db, nil, page, pageSize)
	case auth.RoleCliente:
		return nil, database.ErrForbidden
	}
	return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
}

func (f *Finalizer) Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*models.Sale, error) {
	switch actor.Role {
	case auth.RoleVendedor, auth.RoleAdministrador:
	case auth.RoleCliente:
		return nil, database.ErrForbidden
	default:
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	s, err := store.GetSale(ctx, f.db, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleVendedor && (actor.SellerID == nil || *actor.SellerID != s.SellerID) {
		return nil, database.ErrSaleNotFound
	}
	return s, nil
}

func sameReservation(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func saleNumber(id uuid.UUID, now time.Time) string {
	return fmt.Sprintf("VTA-%s-%s", now.Format("20060102"), strings.ToUpper(id.String()[:8]))
}
