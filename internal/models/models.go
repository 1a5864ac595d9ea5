package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Availability string

const (
	AvailabilityAvailable Availability = "AVAILABLE"
	AvailabilityHeld      Availability = "HELD"
	AvailabilitySold      Availability = "SOLD"
	AvailabilityDisabled  Availability = "DISABLED"
)

func (a Availability) IsValid() bool {
	switch a {
	case AvailabilityAvailable, AvailabilityHeld, AvailabilitySold, AvailabilityDisabled:
		return true
	}
	return false
}

type ReservationState string

const (
	ReservationActive    ReservationState = "ACTIVA"
	ReservationExpired   ReservationState = "VENCIDA"
	ReservationCancelled ReservationState = "CANCELADA"
	ReservationCompleted ReservationState = "COMPLETADA"
)

type PaymentOwner string

const (
	PaymentOwnerReservation PaymentOwner = "RESERVATION"
	PaymentOwnerSale        PaymentOwner = "SALE"
)

type VehicleModel struct {
	ID        uuid.UUID `json:"id"`
	Brand     string    `json:"brand"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Offer struct {
	ID          uuid.UUID       `json:"id"`
	Discount    decimal.Decimal `json:"discount"`
	StartsAt    time.Time       `json:"starts_at"`
	EndsAt      time.Time       `json:"ends_at"`
	Description string          `json:"description,omitempty"`
}

// VigentAt reports whether the offer window contains t, bounds included.
func (o *Offer) VigentAt(t time.Time) bool {
	if o == nil {
		return false
	}
	return !t.Before(o.StartsAt) && !t.After(o.EndsAt)
}

type InventoryUnit struct {
	ID                  uuid.UUID       `json:"id"`
	VIN                 string          `json:"vin"`
	ModelID             uuid.UUID       `json:"model_id"`
	BasePrice           decimal.Decimal `json:"base_price"`
	Year                int             `json:"year"`
	Description         string          `json:"description,omitempty"`
	Availability        Availability    `json:"availability"`
	HeldByReservationID *uuid.UUID      `json:"held_by_reservation_id,omitempty"`
	Offer               *Offer          `json:"offer,omitempty"`
	Deleted             bool            `json:"-"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Version             int             `json:"version"`
}

type Accessory struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	Deleted     bool      `json:"-"`
	Offer       *Offer    `json:"offer,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type AccessoryModelPrice struct {
	ID          uuid.UUID       `json:"id"`
	ModelID     uuid.UUID       `json:"model_id"`
	AccessoryID uuid.UUID       `json:"accessory_id"`
	Price       decimal.Decimal `json:"price"`
}

type Customer struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	DNI       string    `json:"dni"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Seller struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	DNI       string    `json:"dni"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

type Quotation struct {
	ID          uuid.UUID       `json:"id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Valid       bool            `json:"valid"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Units       []QuotationUnit `json:"units,omitempty"`
}

// VigentAt reports whether the quotation can still be reserved or sold at t.
func (q *Quotation) VigentAt(t time.Time) bool {
	return q.Valid && !t.After(q.ExpiresAt)
}

// UnitIDs returns the referenced units in line order.
func (q *Quotation) UnitIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(q.Units))
	for _, line := range q.Units {
		ids = append(ids, line.UnitID)
	}
	return ids
}

// LineSum is the sum of every stored unit and accessory snapshot.
func (q *Quotation) LineSum() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range q.Units {
		sum = sum.Add(line.UnitPrice)
		for _, acc := range line.Accessories {
			sum = sum.Add(acc.AccessoryPrice)
		}
	}
	return sum
}

type QuotationUnit struct {
	ID          uuid.UUID            `json:"id"`
	QuotationID uuid.UUID            `json:"quotation_id"`
	Position    int                  `json:"position"`
	UnitID      uuid.UUID            `json:"unit_id"`
	UnitPrice   decimal.Decimal      `json:"unit_price"`
	Accessories []QuotationAccessory `json:"accessories"`
}

type QuotationAccessory struct {
	ID              uuid.UUID       `json:"id"`
	QuotationUnitID uuid.UUID       `json:"quotation_unit_id"`
	Position        int             `json:"position"`
	AccessoryID     uuid.UUID       `json:"accessory_id"`
	AccessoryPrice  decimal.Decimal `json:"accessory_price"`
}

type Payment struct {
	ID          uuid.UUID       `json:"id"`
	ExternalRef string          `json:"external_ref"`
	Amount      decimal.Decimal `json:"amount"`
	OwnerKind   PaymentOwner    `json:"owner_kind"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Reservation struct {
	ID            uuid.UUID        `json:"id"`
	Number        string           `json:"number"`
	QuotationID   uuid.UUID        `json:"quotation_id"`
	DepositAmount decimal.Decimal  `json:"deposit_amount"`
	State         ReservationState `json:"state"`
	ExpiresAt     time.Time        `json:"expires_at"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Payment       Payment          `json:"payment"`
}

// EffectiveState is the state an observer sees at t: an ACTIVA reservation
// past its expiry reads as VENCIDA even before it is persisted as such.
func (r *Reservation) EffectiveState(t time.Time) ReservationState {
	if r.State == ReservationActive && t.After(r.ExpiresAt) {
		return ReservationExpired
	}
	return r.State
}

type Sale struct {
	ID          uuid.UUID       `json:"id"`
	Number      string          `json:"number"`
	QuotationID uuid.UUID       `json:"quotation_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	Concretada  bool            `json:"concretada"`
	Commission  decimal.Decimal `json:"commission"`
	BalancePaid decimal.Decimal `json:"balance_paid"`
	CreatedAt   time.Time       `json:"created_at"`
	Payment     Payment         `json:"payment"`
}

type ReconciliationEvent struct {
	ID          uuid.UUID       `json:"id"`
	Operation   string          `json:"operation"`
	ExternalRef string          `json:"external_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Refunded    bool            `json:"refunded"`
	Error       string          `json:"error"`
	CreatedAt   time.Time       `json:"created_at"`
}
