package inventory_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/clock"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/inventory"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/store"
	"github.com/safar/flycar/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDisabledToggles(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	svc := inventory.NewService(db, clock.NewManual(testutil.Epoch), nil)

	model := testutil.Model(t, db)
	unit := testutil.Unit(t, db, model.ID, "25000.00")

	view, err := svc.SetDisabled(ctx, unit.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityDisabled, view.Availability)
	assert.Equal(t, unit.Version+1, view.Version)

	_, err = svc.SetDisabled(ctx, unit.ID, true)
	assert.ErrorIs(t, err, database.ErrUnitUnavailable)

	view, err = svc.SetDisabled(ctx, unit.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityAvailable, view.Availability)
}

func TestSetDisabledRejectsHeldUnits(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	svc := inventory.NewService(db, clock.NewManual(testutil.Epoch), nil)

	model := testutil.Model(t, db)
	unit := testutil.Unit(t, db, model.ID, "25000.00")
	holder := testutil.Reservation(t, db, unit.ID)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return inventory.Hold(ctx, tx, []uuid.UUID{unit.ID}, holder, testutil.Epoch)
	})
	require.NoError(t, err)

	_, err = svc.SetDisabled(ctx, unit.ID, true)
	assert.ErrorIs(t, err, database.ErrUnitUnavailable)
	assert.Equal(t, models.AvailabilityHeld, testutil.UnitAvailability(t, db, unit.ID))
}

func TestSetDisabledFailsFastWhenLocked(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	svc := inventory.NewService(db, clock.NewManual(testutil.Epoch), nil)

	model := testutil.Model(t, db)
	unit := testutil.Unit(t, db, model.ID, "25000.00")

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = store.LockUnits(ctx, tx, []uuid.UUID{unit.ID})
	require.NoError(t, err)

	start := time.Now()
	_, err = svc.SetDisabled(ctx, unit.ID, true)
	assert.ErrorIs(t, err, database.ErrLockTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHoldSellReleaseBatch(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	model := testutil.Model(t, db)
	first := testutil.Unit(t, db, model.ID, "25000.00")
	second := testutil.Unit(t, db, model.ID, "28000.00")
	ids := []uuid.UUID{first.ID, second.ID}
	holder := testutil.Reservation(t, db, ids...)

	inTx := func(fn func(tx *sql.Tx) error) error {
		return database.WithTransaction(ctx, db, database.DefaultTxOptions(), fn)
	}

	require.NoError(t, inTx(func(tx *sql.Tx) error { return inventory.Hold(ctx, tx, ids, holder, testutil.Epoch) }))

	// Selling without the holder is refused for the whole batch.
	err := inTx(func(tx *sql.Tx) error { return inventory.Sell(ctx, tx, ids, nil, testutil.Epoch) })
	assert.ErrorIs(t, err, database.ErrUnitUnavailable)

	require.NoError(t, inTx(func(tx *sql.Tx) error { return inventory.Release(ctx, tx, ids, holder, testutil.Epoch) }))
	assert.Equal(t, models.AvailabilityAvailable, testutil.UnitAvailability(t, db, first.ID))

	// A batch with one unavailable unit moves nothing.
	_, err = inventory.NewService(db, clock.NewManual(testutil.Epoch), nil).SetDisabled(ctx, second.ID, true)
	require.NoError(t, err)
	err = inTx(func(tx *sql.Tx) error { return inventory.Hold(ctx, tx, ids, holder, testutil.Epoch) })
	assert.ErrorIs(t, err, database.ErrUnitUnavailable)
	assert.Equal(t, models.AvailabilityAvailable, testutil.UnitAvailability(t, db, first.ID))

	require.NoError(t, inTx(func(tx *sql.Tx) error { return inventory.Sell(ctx, tx, ids[:1], nil, testutil.Epoch) }))
	assert.Equal(t, models.AvailabilitySold, testutil.UnitAvailability(t, db, first.ID))
}

func TestGetUnitHidesDeleted(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	svc := inventory.NewService(db, clock.NewManual(testutil.Epoch), nil)

	model := testutil.Model(t, db)
	unit := testutil.Unit(t, db, model.ID, "25000.00")
	testutil.Unit(t, db, model.ID, "30000.00")

	view, err := svc.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "25000.00", view.CurrentPrice.StringFixed(2))

	require.NoError(t, store.SoftDeleteUnit(ctx, db, unit.ID, testutil.Epoch))
	_, err = svc.GetUnit(ctx, unit.ID)
	assert.ErrorIs(t, err, database.ErrUnitNotFound)

	page, err := svc.ListUnits(ctx, "", 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
	assert.Len(t, page.Items.([]inventory.UnitView), 1)
}
