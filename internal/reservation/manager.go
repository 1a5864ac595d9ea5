// Package reservation turns quotations into deposit-backed holds on their
// units and ends those holds by cancellation or expiry.
package reservation

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
)

const (
	DepositPercent = 5
	TTL            = 7 * 24 * time.Hour
)

type Manager struct {
	db             *sql.DB
	gateway        payment.Gateway
	compensator    *payment.Compensator
	clock          clock.Clock
	log            *logger.Logger
	metrics        *metrics.EngineMetrics
	paymentTimeout time.Duration
}

func NewManager(db *sql.DB, gateway payment.Gateway, clk clock.Clock, log *logger.Logger, m *metrics.EngineMetrics, paymentTimeout time.Duration) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		db:             db,
		gateway:        gateway,
		compensator:    payment.NewCompensator(gateway, db, clk, log, m, paymentTimeout),
		clock:          clk,
		log:            log,
		metrics:        m,
		paymentTimeout: paymentTimeout,
	}
}

// Create charges the deposit for quotationID and, in one transaction,
// records the reservation, holds every unit of the quotation and aligns the
// quotation's expiry with the reservation's. A charge whose transaction
// fails is refunded.
func (m *Manager) Create(ctx context.Context, actor auth.Identity, quotationID uuid.UUID) (r *models.Reservation, err error) {
	defer m.metrics.Track("create_reservation", time.Now(), &err)

	if err := requireReserver(actor); err != nil {
		return nil, err
	}
	ctx = m.log.WithField(ctx, "quotation_id", quotationID)

	q, err := m.precheck(ctx, actor, quotationID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	r = &models.Reservation{
		ID:            uuid.New(),
		QuotationID:   q.ID,
		DepositAmount: pricing.Rate(q.TotalAmount, DepositPercent),
		State:         models.ReservationActive,
		ExpiresAt:     now.Add(TTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.Number = reservationNumber(r.ID, now)

	receipt, err := payment.Charge(ctx, m.gateway, m.paymentTimeout, payment.ChargeRequest{
		Amount:      r.DepositAmount,
		Reference:   r.Number,
		Description: fmt.Sprintf("Reservation deposit for quotation %s", q.ID),
	})
	if err != nil {
		m.metrics.IncPaymentDeclined("create_reservation")
		m.log.Warn(m.log.WithField(ctx, "error", err.Error()), "deposit declined")
		return nil, err
	}

	r.Payment = models.Payment{
		ID:          uuid.New(),
		ExternalRef: receipt.ExternalRef,
		Amount:      receipt.Amount,
		OwnerKind:   models.PaymentOwnerReservation,
		CreatedAt:   now,
	}

	err = database.WithRetry(ctx, m.db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.LockQuotation(ctx, tx, q.ID)
		if err != nil {
			return err
		}
		if !locked.VigentAt(now) {
			return database.ErrQuotationExpired
		}
		if err := requireUnowned(ctx, tx, locked.ID); err != nil {
			return err
		}

		if err := store.InsertPayment(ctx, tx, &r.Payment); err != nil {
			return err
		}
		if err := store.InsertReservation(ctx, tx, r); err != nil {
			return err
		}
		if err := inventory.Hold(ctx, tx, locked.UnitIDs(), r.ID, now); err != nil {
			return err
		}
		return store.ExtendQuotation(ctx, tx, locked.ID, r.ExpiresAt, now)
	})
	if err != nil {
		m.compensator.Compensate(ctx, "create_reservation", receipt, err)
		return nil, database.ConflictOnContention(err, database.ErrUnitUnavailable)
	}

	m.log.Info(m.log.WithFields(ctx, map[string]any{
		"reservation_id": r.ID,
		"deposit":        r.DepositAmount.StringFixed(2),
		"external_ref":   receipt.ExternalRef,
	}), "reservation created")
	return r, nil
}

// precheck validates quotationID outside any transaction so that declined
// requests never reach the payment gateway. Everything is checked again
// under locks after the charge.
func (m *Manager) precheck(ctx context.Context, actor auth.Identity, quotationID uuid.UUID) (*models.Quotation, error) {
	q, err := store.GetQuotation(ctx, m.db, quotationID)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleCliente && !actor.OwnsCustomer(q.CustomerID) {
		return nil, database.ErrForbidden
	}

	if err := m.ExpireQuotation(ctx, q.ID); err != nil {
		return nil, err
	}
	if !q.VigentAt(m.clock.Now()) {
		return nil, database.ErrQuotationExpired
	}
	if err := requireUnowned(ctx, m.db, q.ID); err != nil {
		return nil, err
	}

	// Units still held by reservations that are already past expiry are
	// released first so they do not block this hold.
	holders, err := store.UnitHolders(ctx, m.db, q.UnitIDs())
	if err != nil {
		return nil, err
	}
	for _, holder := range holders {
		if _, err := m.expire(ctx, holder); err != nil {
			return nil, err
		}
	}

	return q, nil
}

// Cancel ends an ACTIVA reservation, releases its units and refunds the
// deposit. A failed refund does not undo the cancellation.
func (m *Manager) Cancel(ctx context.Context, actor auth.Identity, reservationID uuid.UUID) (r *models.Reservation, err error) {
	defer m.metrics.Track("cancel_reservation", time.Now(), &err)

	if err := requireReserver(actor); err != nil {
		return nil, err
	}
	ctx = m.log.WithField(ctx, "reservation_id", reservationID)

	current, err := m.expire(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleCliente {
		if err := m.requireOwner(ctx, actor, current.QuotationID); err != nil {
			return nil, err
		}
	}
	if current.State != models.ReservationActive {
		return nil, database.ErrReservationNotActive
	}

	now := m.clock.Now()
	err = database.WithRetry(ctx, m.db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.LockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if locked.EffectiveState(now) != models.ReservationActive {
			return database.ErrReservationNotActive
		}

		q, err := store.GetQuotation(ctx, tx, locked.QuotationID)
		if err != nil {
			return err
		}
		if err := store.CloseReservation(ctx, tx, locked.ID, models.ReservationCancelled, now); err != nil {
			return err
		}
		if err := inventory.Release(ctx, tx, q.UnitIDs(), locked.ID, now); err != nil {
			return err
		}

		r, err = store.GetReservation(ctx, tx, locked.ID)
		return err
	})
	if err != nil {
		return nil, database.ConflictOnContention(err, database.ErrReservationNotActive)
	}

	m.log.Info(ctx, "reservation cancelled")

	receipt := &payment.Receipt{ExternalRef: r.Payment.ExternalRef, Amount: r.Payment.Amount}
	if err := m.compensator.Refund(ctx, "cancel_reservation", receipt); err != nil {
		m.log.Warn(m.log.WithField(ctx, "external_ref", receipt.ExternalRef), "deposit refund pending reconciliation")
	}
	return r, nil
}

// Get returns a reservation, expiring it first if it is past due. Clients
// only see reservations on their own quotations.
func (m *Manager) Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*models.Reservation, error) {
	if !actor.Authenticated() {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	r, err := m.expire(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleCliente {
		if err := m.requireOwner(ctx, actor, r.QuotationID); err != nil {
			return nil, database.ErrReservationNotFound
		}
	}
	return r, nil
}

// List pages reservations newest first. Due reservations are swept before
// reading and every item reports its effective state.
func (m *Manager) List(ctx context.Context, actor auth.Identity, cursor string, limit int) (*store.CursorPage, error) {
	if !actor.Authenticated() {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	if _, err := m.ExpireDue(ctx, limit); err != nil {
		m.log.Error(ctx, "expire due reservations before listing", err)
	}

	var customerID *uuid.UUID
	if actor.Role == auth.RoleCliente {
		customerID = actor.CustomerID
	}
	page, err := store.ListReservationsCursor(ctx, m.db, customerID, cursor, limit)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	items := page.Items.([]models.Reservation)
	for i := range items {
		items[i].State = items[i].EffectiveState(now)
	}
	return page, nil
}

func (m *Manager) requireOwner(ctx context.Context, actor auth.Identity, quotationID uuid.UUID) error {
	q, err := store.GetQuotation(ctx, m.db, quotationID)
	if err != nil {
		return err
	}
	if !actor.OwnsCustomer(q.CustomerID) {
		return database.ErrForbidden
	}
	return nil
}

// requireUnowned fails when the quotation already has a reservation or a
// sale.
func requireUnowned(ctx context.Context, db database.Querier, quotationID uuid.UUID) error {
	_, err := store.GetReservationByQuotation(ctx, db, quotationID)
	switch {
	case err == nil:
		return database.ErrQuotationReserved
	case !errors.Is(err, database.ErrReservationNotFound):
		return err
	}

	_, err = store.GetSaleByQuotation(ctx, db, quotationID)
	switch {
	case err == nil:
		return database.ErrQuotationSold
	case !errors.Is(err, database.ErrSaleNotFound):
		return err
	}
	return nil
}

func requireReserver(actor auth.Identity) error {
	switch actor.Role {
	case auth.RoleCliente, auth.RoleVendedor:
		return nil
	case auth.RoleAdministrador:
		return database.ErrForbidden
	}
	return apperr.New(apperr.CodeUnauthorized, "authentication required")
}

func reservationNumber(id uuid.UUID, now time.Time) string {
	return fmt.Sprintf("RES-%s-%s", now.Format("20060102"), strings.ToUpper(id.String()[:8]))
}
