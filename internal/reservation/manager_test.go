package reservation_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/clock"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/payment"
	"github.com/safar/flycar/internal/quote"
	"github.com/safar/flycar/internal/reservation"
	"github.com/safar/flycar/internal/store"
	"github.com/safar/flycar/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookGateway runs beforeCharge between the precheck and the charge.
type hookGateway struct {
	*payment.Simulated
	beforeCharge func()
}

func (g *hookGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Receipt, error) {
	if g.beforeCharge != nil {
		g.beforeCharge()
	}
	return g.Simulated.Charge(ctx, req)
}

type fixture struct {
	db      *sql.DB
	clock   *clock.Manual
	gateway *payment.Simulated
	quotes  *quote.Builder
	manager *reservation.Manager
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	clk := clock.NewManual(testutil.Epoch)
	gw := payment.NewSimulated(1)
	return &fixture{
		db:      db,
		clock:   clk,
		gateway: gw,
		quotes:  quote.NewBuilder(db, clk, nil, nil),
		manager: reservation.NewManager(db, gw, clk, nil, nil, time.Second),
	}
}

func (f *fixture) quotation(t *testing.T, actor auth.Identity, lines ...quote.CartLine) *models.Quotation {
	t.Helper()
	q, err := f.quotes.Generate(context.Background(), actor, quote.Cart{Lines: lines}, nil)
	require.NoError(t, err)
	return q
}

func TestCreateHoldsEveryUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	first := testutil.Unit(t, f.db, model.ID, "25000.00")
	second := testutil.Unit(t, f.db, model.ID, "28000.00")
	accessory := testutil.Accessory(t, f.db, model.ID, "500.00")
	client := testutil.Client(t, f.db)

	q := f.quotation(t, client,
		quote.CartLine{UnitID: first.ID, AccessoryIDs: []uuid.UUID{accessory.ID}},
		quote.CartLine{UnitID: second.ID})
	require.Equal(t, "53500.00", q.TotalAmount.StringFixed(2))

	r, err := f.manager.Create(ctx, client, q.ID)
	require.NoError(t, err)

	assert.Equal(t, "2675.00", r.DepositAmount.StringFixed(2))
	assert.Equal(t, models.ReservationActive, r.State)
	assert.Equal(t, testutil.Epoch.Add(reservation.TTL), r.ExpiresAt)
	assert.Regexp(t, `^RES-20250310-[0-9A-F]{8}$`, r.Number)
	assert.Equal(t, "2675.00", r.Payment.Amount.StringFixed(2))
	assert.Equal(t, models.PaymentOwnerReservation, r.Payment.OwnerKind)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		unit, err := store.GetUnit(ctx, f.db, id)
		require.NoError(t, err)
		assert.Equal(t, models.AvailabilityHeld, unit.Availability)
		require.NotNil(t, unit.HeldByReservationID)
		assert.Equal(t, r.ID, *unit.HeldByReservationID)
	}

	stored, err := store.GetQuotation(ctx, f.db, q.ID)
	require.NoError(t, err)
	assert.True(t, r.ExpiresAt.Equal(stored.ExpiresAt), "quotation lives as long as its reservation")

	_, err = f.manager.Create(ctx, client, q.ID)
	assert.ErrorIs(t, err, database.ErrQuotationReserved)
	assert.Equal(t, 1, f.gateway.Captured(), "a rejected reservation is never charged")
}

func TestCreateRoleRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	owner := testutil.Client(t, f.db)
	q := f.quotation(t, owner, quote.CartLine{UnitID: unit.ID})

	_, err := f.manager.Create(ctx, auth.Anonymous, q.ID)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	_, err = f.manager.Create(ctx, testutil.Admin(), q.ID)
	assert.ErrorIs(t, err, database.ErrForbidden)

	_, err = f.manager.Create(ctx, testutil.Client(t, f.db), q.ID)
	assert.ErrorIs(t, err, database.ErrForbidden)

	_, err = f.manager.Create(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, database.ErrQuotationNotFound)

	r, err := f.manager.Create(ctx, testutil.Seller(t, f.db), q.ID)
	require.NoError(t, err)
	assert.Equal(t, "1250.00", r.DepositAmount.StringFixed(2))
}

func TestCreateOnExpiredOrInvalidQuotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	client := testutil.Client(t, f.db)

	superseded := f.quotation(t, client, quote.CartLine{UnitID: unit.ID})
	current := f.quotation(t, client, quote.CartLine{UnitID: unit.ID})

	_, err := f.manager.Create(ctx, client, superseded.ID)
	assert.ErrorIs(t, err, database.ErrQuotationExpired)

	f.clock.Advance(quote.TTL + time.Second)
	_, err = f.manager.Create(ctx, client, current.ID)
	assert.ErrorIs(t, err, database.ErrQuotationExpired)
	assert.Equal(t, 0, f.gateway.Captured())
}

func TestDeclinedDepositChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	manager := reservation.NewManager(f.db, payment.NewSimulated(0), f.clock, nil, nil, time.Second)

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	client := testutil.Client(t, f.db)
	q := f.quotation(t, client, quote.CartLine{UnitID: unit.ID})

	_, err := manager.Create(ctx, client, q.ID)
	assert.ErrorIs(t, err, database.ErrPaymentDeclined)

	assert.Equal(t, models.AvailabilityAvailable, testutil.UnitAvailability(t, f.db, unit.ID))
	_, err = store.GetReservationByQuotation(ctx, f.db, q.ID)
	assert.ErrorIs(t, err, database.ErrReservationNotFound)

	r, err := f.manager.Create(ctx, client, q.ID)
	require.NoError(t, err, "the quotation stays reservable")
	assert.Equal(t, models.ReservationActive, r.State)
}

func TestConcurrentReservationOfSameUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")

	const contenders = 5
	quotations := make([]*models.Quotation, contenders)
	clients := make([]auth.Identity, contenders)
	for i := range quotations {
		clients[i] = testutil.Client(t, f.db)
		quotations[i] = f.quotation(t, clients[i], quote.CartLine{UnitID: unit.ID})
	}

	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := range quotations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.Create(ctx, clients[i], quotations[i].ID)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err), "loser error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, models.AvailabilityHeld, testutil.UnitAvailability(t, f.db, unit.ID))

	// Every charged loser was refunded and recorded.
	events, err := store.ListReconciliationEvents(ctx, f.db, 10)
	require.NoError(t, err)
	assert.Len(t, events, f.gateway.Captured()-1)
	for _, event := range events {
		assert.True(t, event.Refunded)
		assert.True(t, f.gateway.Refunded(event.ExternalRef))
	}
}

func TestFailedCommitRefundsDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	client := testutil.Client(t, f.db)
	q := f.quotation(t, client, quote.CartLine{UnitID: unit.ID})

	gw := &hookGateway{Simulated: payment.NewSimulated(1), beforeCharge: func() {
		_, err := f.db.Exec(`UPDATE inventory_units SET availability = 'DISABLED' WHERE id = $1`, unit.ID)
		require.NoError(t, err)
	}}
	manager := reservation.NewManager(f.db, gw, f.clock, nil, nil, time.Second)

	_, err := manager.Create(ctx, client, q.ID)
	assert.ErrorIs(t, err, database.ErrUnitUnavailable)

	events, err := store.ListReconciliationEvents(ctx, f.db, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "create_reservation", events[0].Operation)
	assert.True(t, events[0].Refunded)
	assert.Equal(t, "1250.00", events[0].Amount.StringFixed(2))
	assert.True(t, gw.Refunded(events[0].ExternalRef))

	_, err = store.GetReservationByQuotation(ctx, f.db, q.ID)
	assert.ErrorIs(t, err, database.ErrReservationNotFound)
}

func TestCancelReleasesAndRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	client := testutil.Client(t, f.db)
	q := f.quotation(t, client, quote.CartLine{UnitID: unit.ID})

	r, err := f.manager.Create(ctx, client, q.ID)
	require.NoError(t, err)

	_, err = f.manager.Cancel(ctx, testutil.Client(t, f.db), r.ID)
	assert.ErrorIs(t, err, database.ErrForbidden)

	cancelled, err := f.manager.Cancel(ctx, client, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, cancelled.State)
	assert.Equal(t, models.AvailabilityAvailable, testutil.UnitAvailability(t, f.db, unit.ID))
	assert.True(t, f.gateway.Refunded(r.Payment.ExternalRef))

	_, err = f.manager.Cancel(ctx, client, r.ID)
	assert.ErrorIs(t, err, database.ErrReservationNotActive)
}

func TestReadingPastExpiryPersistsVencida(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	client := testutil.Client(t, f.db)
	q := f.quotation(t, client, quote.CartLine{UnitID: unit.ID})

	r, err := f.manager.Create(ctx, client, q.ID)
	require.NoError(t, err)

	f.clock.Advance(reservation.TTL)
	got, err := f.manager.Get(ctx, client, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationActive, got.State, "expiry instant is still active")

	f.clock.Advance(time.Second)
	got, err = f.manager.Get(ctx, client, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, got.State)
	assert.Equal(t, models.AvailabilityAvailable, testutil.UnitAvailability(t, f.db, unit.ID))

	_, err = f.manager.Cancel(ctx, client, r.ID)
	assert.ErrorIs(t, err, database.ErrReservationNotActive)

	_, err = f.manager.Get(ctx, testutil.Client(t, f.db), r.ID)
	assert.ErrorIs(t, err, database.ErrReservationNotFound)
}

func TestExpiredHolderDoesNotBlockNewReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	first := testutil.Client(t, f.db)
	second := testutil.Client(t, f.db)

	old, err := f.manager.Create(ctx, first, f.quotation(t, first, quote.CartLine{UnitID: unit.ID}).ID)
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	q := f.quotation(t, second, quote.CartLine{UnitID: unit.ID})

	r, err := f.manager.Create(ctx, second, q.ID)
	require.NoError(t, err)

	unitNow, err := store.GetUnit(ctx, f.db, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, *unitNow.HeldByReservationID)

	stale, err := store.GetReservation(ctx, f.db, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, stale.State)
}

func TestSweepExpiresDueReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	var reservations []*models.Reservation
	for i := 0; i < 3; i++ {
		client := testutil.Client(t, f.db)
		unit := testutil.Unit(t, f.db, model.ID, "25000.00")
		r, err := f.manager.Create(ctx, client, f.quotation(t, client, quote.CartLine{UnitID: unit.ID}).ID)
		require.NoError(t, err)
		reservations = append(reservations, r)
	}

	expired, err := f.manager.Sweep(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, expired)

	f.clock.Advance(reservation.TTL + time.Minute)
	expired, err = f.manager.Sweep(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, expired)

	for _, r := range reservations {
		stored, err := store.GetReservation(ctx, f.db, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReservationExpired, stored.State)
	}

	available, err := store.ListUnits(ctx, f.db, models.AvailabilityAvailable, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, available.Total)
}

func TestListReportsEffectiveState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	client := testutil.Client(t, f.db)
	_, err := f.manager.Create(ctx, client, f.quotation(t, client, quote.CartLine{UnitID: unit.ID}).ID)
	require.NoError(t, err)

	f.clock.Advance(reservation.TTL + time.Minute)
	page, err := f.manager.List(ctx, client, "", 10)
	require.NoError(t, err)

	items := page.Items.([]models.Reservation)
	require.Len(t, items, 1)
	assert.Equal(t, models.ReservationExpired, items[0].State)

	page, err = f.manager.List(ctx, testutil.Client(t, f.db), "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items.([]models.Reservation))
}

func TestFullyDiscountedQuotationIsNotCharged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	model := testutil.Model(t, f.db)
	unit := testutil.Unit(t, f.db, model.ID, "25000.00")
	offer, err := store.CreateOffer(ctx, f.db, testutil.Money("100"), testutil.Epoch.Add(-time.Hour), testutil.Epoch.Add(30*24*time.Hour), "giveaway")
	require.NoError(t, err)
	require.NoError(t, store.SetUnitOffer(ctx, f.db, unit.ID, &offer.ID, testutil.Epoch))
	client := testutil.Client(t, f.db)

	q := f.quotation(t, client, quote.CartLine{UnitID: unit.ID})
	require.True(t, q.TotalAmount.IsZero())

	r, err := f.manager.Create(ctx, client, q.ID)
	require.NoError(t, err)
	assert.True(t, r.DepositAmount.IsZero())
	assert.Equal(t, payment.NoChargePrefix+r.Number, r.Payment.ExternalRef)
	assert.Equal(t, models.AvailabilityHeld, testutil.UnitAvailability(t, f.db, unit.ID))
	assert.Zero(t, f.gateway.Captured())

	_, err = f.manager.Cancel(ctx, client, r.ID)
	require.NoError(t, err)

	events, err := store.ListReconciliationEvents(ctx, f.db, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
