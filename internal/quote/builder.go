// Package quote prices carts and persists quotations. Quoting never checks
// or changes availability: a unit may sit in any number of quotations.
package quote

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/clock"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/logger"
	"github.com/safar/flycar/internal/metrics"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/pricing"
	"github.com/safar/flycar/internal/store"
	"github.com/shopspring/decimal"
)

const TTL = 48 * time.Hour

type AccessoryPrice struct {
	AccessoryID uuid.UUID       `json:"accessory_id"`
	Price       decimal.Decimal `json:"price"`
}

type LinePrice struct {
	UnitID      uuid.UUID        `json:"unit_id"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Accessories []AccessoryPrice `json:"accessories"`
	Subtotal    decimal.Decimal  `json:"subtotal"`
}

// Simulation is a priced cart that was not persisted.
type Simulation struct {
	Total    decimal.Decimal `json:"total"`
	Lines    []LinePrice     `json:"lines"`
	PricedAt time.Time       `json:"priced_at"`
}

type Builder struct {
	db      *sql.DB
	clock   clock.Clock
	log     *logger.Logger
	metrics *metrics.EngineMetrics
}

func NewBuilder(db *sql.DB, clk clock.Clock, log *logger.Logger, m *metrics.EngineMetrics) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{db: db, clock: clk, log: log, metrics: m}
}

// Simulate prices cart at the current time without persisting anything.
func (b *Builder) Simulate(ctx context.Context, cart Cart) (sim *Simulation, err error) {
	defer b.metrics.Track("simulate_quote", time.Now(), &err)

	if err := cart.Validate(); err != nil {
		return nil, err
	}
	return price(ctx, b.db, cart, b.clock.Now())
}

// Generate persists a quotation for the customer the caller acts for and
// invalidates that customer's other open quotations. customerID is required
// for sellers and, when given by a client, must be the client's own id.
func (b *Builder) Generate(ctx context.Context, actor auth.Identity, cart Cart, customerID *uuid.UUID) (q *models.Quotation, err error) {
	defer b.metrics.Track("generate_quote", time.Now(), &err)

	owner, err := resolveCustomer(actor, customerID)
	if err != nil {
		return nil, err
	}
	if err := cart.Validate(); err != nil {
		return nil, err
	}

	now := b.clock.Now()
	var invalidated int64

	err = database.WithRetry(ctx, b.db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		if err := store.LockCustomer(ctx, tx, owner); err != nil {
			return err
		}

		sim, err := price(ctx, tx, cart, now)
		if err != nil {
			return err
		}

		q = snapshot(owner, sim, now)
		if err := store.InsertQuotation(ctx, tx, q); err != nil {
			return err
		}

		invalidated, err = store.InvalidateOpenQuotations(ctx, tx, owner, q.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.log.Info(b.log.WithFields(ctx, map[string]any{
		"quotation_id": q.ID,
		"customer_id":  owner,
		"total":        q.TotalAmount.StringFixed(2),
		"invalidated":  invalidated,
	}), "quotation generated")
	return q, nil
}

// Get returns a quotation with its lines. Clients only see their own.
func (b *Builder) Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*models.Quotation, error) {
	if !actor.Authenticated() {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	q, err := store.GetQuotation(ctx, b.db, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleCliente && !actor.OwnsCustomer(q.CustomerID) {
		return nil, database.ErrQuotationNotFound
	}
	return q, nil
}

// List pages quotations newest first: a client's own, or everyone's for
// sellers and administrators.
func (b *Builder) List(ctx context.Context, actor auth.Identity, cursor string, limit int) (*store.CursorPage, error) {
	if !actor.Authenticated() {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	var customerID *uuid.UUID
	if actor.Role == auth.RoleCliente {
		customerID = actor.CustomerID
	}
	return store.ListQuotationsCursor(ctx, b.db, customerID, cursor, limit)
}

func resolveCustomer(actor auth.Identity, customerID *uuid.UUID) (uuid.UUID, error) {
	switch actor.Role {
	case auth.RoleCliente:
		if actor.CustomerID == nil {
			return uuid.Nil, database.ErrForbidden
		}
		if customerID != nil && *customerID != *actor.CustomerID {
			return uuid.Nil, database.ErrForbidden
		}
		return *actor.CustomerID, nil
	case auth.RoleVendedor:
		if customerID == nil || *customerID == uuid.Nil {
			return uuid.Nil, apperr.New(apperr.CodeValidation, "customer_id is required when a seller generates a quotation")
		}
		return *customerID, nil
	case auth.RoleAdministrador:
		return uuid.Nil, database.ErrForbidden
	}
	return uuid.Nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
}

// price resolves and prices every line of cart at time at.
func price(ctx context.Context, db database.Querier, cart Cart, at time.Time) (*Simulation, error) {
	sim := &Simulation{Total: decimal.Zero, Lines: make([]LinePrice, 0, len(cart.Lines)), PricedAt: at}

	for _, line := range cart.Lines {
		unit, err := store.GetUnit(ctx, db, line.UnitID)
		if err != nil {
			return nil, fmt.Errorf("resolve unit %s: %w", line.UnitID, err)
		}
		if unit.Deleted {
			return nil, fmt.Errorf("resolve unit %s: %w", line.UnitID, database.ErrUnitNotFound)
		}

		lp := LinePrice{
			UnitID:      unit.ID,
			UnitPrice:   pricing.UnitPrice(unit, at),
			Accessories: make([]AccessoryPrice, 0, len(line.AccessoryIDs)),
		}
		lp.Subtotal = lp.UnitPrice

		for _, accessoryID := range line.AccessoryIDs {
			p, err := priceAccessory(ctx, db, accessoryID, unit.ModelID, at)
			if err != nil {
				return nil, fmt.Errorf("resolve accessory %s for unit %s: %w", accessoryID, unit.ID, err)
			}
			lp.Accessories = append(lp.Accessories, AccessoryPrice{AccessoryID: accessoryID, Price: p})
			lp.Subtotal = lp.Subtotal.Add(p)
		}

		sim.Lines = append(sim.Lines, lp)
		sim.Total = sim.Total.Add(lp.Subtotal)
	}

	return sim, nil
}

func priceAccessory(ctx context.Context, db database.Querier, accessoryID, modelID uuid.UUID, at time.Time) (decimal.Decimal, error) {
	accessory, err := store.GetAccessory(ctx, db, accessoryID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if accessory.Deleted || !accessory.Enabled {
		return decimal.Decimal{}, database.ErrAccessoryNotFound
	}

	amp, err := store.GetAccessoryModelPrice(ctx, db, modelID, accessoryID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return pricing.AccessoryPrice(accessory, modelID, amp, at)
}

// AccessoryView is an accessory as offered to buyers. With a model, Price is
// what a cart line of that model would pay for it right now.
type AccessoryView struct {
	models.Accessory
	ModelID   *uuid.UUID       `json:"model_id,omitempty"`
	ListPrice *decimal.Decimal `json:"list_price,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// Accessories lists the accessories buyers can add to a cart, priced for
// modelID when one is given.
func (b *Builder) Accessories(ctx context.Context, modelID *uuid.UUID) ([]AccessoryView, error) {
	items, err := store.ListAccessories(ctx, b.db, modelID)
	if err != nil {
		return nil, err
	}

	now := b.clock.Now()
	views := make([]AccessoryView, 0, len(items))
	for _, item := range items {
		view := AccessoryView{Accessory: item.Accessory}
		if modelID != nil {
			p, err := pricing.AccessoryPrice(&item.Accessory, *modelID, item.ModelPrice, now)
			if err != nil {
				return nil, err
			}
			listPrice := item.ModelPrice.Price
			view.ModelID = modelID
			view.ListPrice = &listPrice
			view.Price = &p
		}
		views = append(views, view)
	}
	return views, nil
}

// snapshot turns a simulation into an unsaved quotation for customerID.
func snapshot(customerID uuid.UUID, sim *Simulation, now time.Time) *models.Quotation {
	q := &models.Quotation{
		ID:          uuid.New(),
		CustomerID:  customerID,
		TotalAmount: decimal.Zero,
		Valid:       true,
		ExpiresAt:   now.Add(TTL),
		CreatedAt:   now,
		UpdatedAt:   now,
		Units:       make([]models.QuotationUnit, 0, len(sim.Lines)),
	}

	for i, lp := range sim.Lines {
		line := models.QuotationUnit{
			ID:          uuid.New(),
			QuotationID: q.ID,
			Position:    i + 1,
			UnitID:      lp.UnitID,
			UnitPrice:   lp.UnitPrice,
			Accessories: make([]models.QuotationAccessory, 0, len(lp.Accessories)),
		}
		for j, ap := range lp.Accessories {
			line.Accessories = append(line.Accessories, models.QuotationAccessory{
				ID:              uuid.New(),
				QuotationUnitID: line.ID,
				Position:        j + 1,
				AccessoryID:     ap.AccessoryID,
				AccessoryPrice:  ap.Price,
			})
		}
		q.Units = append(q.Units, line)
	}

	q.TotalAmount = q.LineSum()
	return q
}
