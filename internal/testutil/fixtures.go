package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/store"
	"github.com/shopspring/decimal"
)

var seq atomic.Int64

func next() int64 { return seq.Add(1) }

// Epoch is the fixed start time used with clock.Manual in tests.
var Epoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func Money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func Model(t *testing.T, db *sql.DB) *models.VehicleModel {
	t.Helper()
	n := next()
	model, err := store.CreateVehicleModel(context.Background(), db, "Brand", fmt.Sprintf("Model %d", n), Epoch)
	if err != nil {
		t.Fatalf("Create model: %v", err)
	}
	return model
}

// Unit creates an AVAILABLE unit of model priced at price.
func Unit(t *testing.T, db *sql.DB, modelID uuid.UUID, price string) *models.InventoryUnit {
	t.Helper()
	n := next()
	unit, err := store.CreateUnit(context.Background(), db, store.CreateUnitRequest{
		VIN:       fmt.Sprintf("1HGCM%012d", n),
		ModelID:   modelID,
		BasePrice: Money(price),
		Year:      2024,
	}, Epoch)
	if err != nil {
		t.Fatalf("Create unit: %v", err)
	}
	return unit
}

// Accessory creates an enabled accessory priced for modelID.
func Accessory(t *testing.T, db *sql.DB, modelID uuid.UUID, price string) *models.Accessory {
	t.Helper()
	ctx := context.Background()
	n := next()
	accessory, err := store.CreateAccessory(ctx, db, store.CreateAccessoryRequest{
		Name: fmt.Sprintf("Accessory %d", n),
	}, Epoch)
	if err != nil {
		t.Fatalf("Create accessory: %v", err)
	}
	if _, err := store.SetAccessoryModelPrice(ctx, db, modelID, accessory.ID, Money(price)); err != nil {
		t.Fatalf("Price accessory: %v", err)
	}
	return accessory
}

// Client creates a customer and returns the identity that acts as them.
func Client(t *testing.T, db *sql.DB) auth.Identity {
	t.Helper()
	n := next()
	customer, err := store.CreateCustomer(context.Background(), db, store.CreatePersonRequest{
		UserID:    uuid.New(),
		DNI:       fmt.Sprintf("%08d", n),
		FirstName: "Client",
		LastName:  fmt.Sprintf("N%d", n),
		Email:     fmt.Sprintf("client%d@example.com", n),
	}, Epoch)
	if err != nil {
		t.Fatalf("Create customer: %v", err)
	}
	return auth.Identity{UserID: customer.UserID, Role: auth.RoleCliente, CustomerID: &customer.ID}
}

// Seller creates a seller and returns the identity that acts as them.
func Seller(t *testing.T, db *sql.DB) auth.Identity {
	t.Helper()
	n := next()
	seller, err := store.CreateSeller(context.Background(), db, store.CreatePersonRequest{
		UserID:    uuid.New(),
		DNI:       fmt.Sprintf("%08d", n),
		FirstName: "Seller",
		LastName:  fmt.Sprintf("N%d", n),
	}, Epoch)
	if err != nil {
		t.Fatalf("Create seller: %v", err)
	}
	return auth.Identity{UserID: seller.UserID, Role: auth.RoleVendedor, SellerID: &seller.ID}
}

func Admin() auth.Identity {
	return auth.Identity{UserID: uuid.New(), Role: auth.RoleAdministrador}
}

func UnitAvailability(t *testing.T, db *sql.DB, id uuid.UUID) models.Availability {
	t.Helper()
	unit, err := store.GetUnit(context.Background(), db, id)
	if err != nil {
		t.Fatalf("Get unit: %v", err)
	}
	return unit.Availability
}

// Reservation stores an ACTIVA reservation over a fresh quotation of
// unitIDs without touching unit availability, so callers can hold units
// for it directly.
func Reservation(t *testing.T, db *sql.DB, unitIDs ...uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	client := Client(t, db)

	q := &models.Quotation{
		ID:         uuid.New(),
		CustomerID: *client.CustomerID,
		Valid:      true,
		ExpiresAt:  Epoch.Add(7 * 24 * time.Hour),
		CreatedAt:  Epoch,
		UpdatedAt:  Epoch,
	}
	for i, id := range unitIDs {
		q.Units = append(q.Units, models.QuotationUnit{
			ID:        uuid.New(),
			Position:  i + 1,
			UnitID:    id,
			UnitPrice: Money("1000.00"),
		})
	}
	q.TotalAmount = q.LineSum()
	if err := store.InsertQuotation(ctx, db, q); err != nil {
		t.Fatalf("Insert quotation: %v", err)
	}

	p := &models.Payment{
		ID:          uuid.New(),
		ExternalRef: fmt.Sprintf("FIXTURE-%d", next()),
		Amount:      Money("50.00"),
		OwnerKind:   models.PaymentOwnerReservation,
		CreatedAt:   Epoch,
	}
	if err := store.InsertPayment(ctx, db, p); err != nil {
		t.Fatalf("Insert payment: %v", err)
	}

	r := &models.Reservation{
		ID:            uuid.New(),
		Number:        fmt.Sprintf("RES-FIXTURE-%d", next()),
		QuotationID:   q.ID,
		DepositAmount: p.Amount,
		State:         models.ReservationActive,
		ExpiresAt:     q.ExpiresAt,
		CreatedAt:     Epoch,
		UpdatedAt:     Epoch,
		Payment:       *p,
	}
	if err := store.InsertReservation(ctx, db, r); err != nil {
		t.Fatalf("Insert reservation: %v", err)
	}
	return r.ID
}
