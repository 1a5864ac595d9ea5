// Package inventory owns the availability state of inventory units. Every
// transition is applied to a whole batch of units under row locks with a
// conditional update, so a batch either moves entirely or not at all.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/store"
)

type Event string

const (
	EventHold    Event = "hold"
	EventRelease Event = "release"
	EventSell    Event = "sell"
	EventDisable Event = "disable"
	EventEnable  Event = "enable"
)

var transitions = map[models.Availability]map[Event]models.Availability{
	models.AvailabilityAvailable: {
		EventHold:    models.AvailabilityHeld,
		EventSell:    models.AvailabilitySold,
		EventDisable: models.AvailabilityDisabled,
	},
	models.AvailabilityHeld: {
		EventRelease: models.AvailabilityAvailable,
		EventSell:    models.AvailabilitySold,
	},
	models.AvailabilityDisabled: {
		EventEnable: models.AvailabilityAvailable,
	},
	models.AvailabilitySold: {},
}

// Next returns the state reached from `from` on ev, or ErrInvalidTransition.
func Next(from models.Availability, ev Event) (models.Availability, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", database.ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// Hold moves every unit from AVAILABLE to HELD on behalf of reservationID.
// db must be a transaction.
func Hold(ctx context.Context, db database.Querier, unitIDs []uuid.UUID, reservationID uuid.UUID, now time.Time) error {
	units, err := lockLive(ctx, db, unitIDs)
	if err != nil {
		return err
	}

	for _, unit := range units {
		if _, err := Next(unit.Availability, EventHold); err != nil {
			return unavailable(unit, err)
		}
	}

	return store.TransitionUnits(ctx, db, unitIDs, store.UnitTransition{
		From:     models.AvailabilityAvailable,
		To:       models.AvailabilityHeld,
		ToHolder: &reservationID,
	}, now)
}

// Release returns the units held by reservationID to AVAILABLE. unitIDs are
// the units the reservation's quotation references; all of them must be
// released.
func Release(ctx context.Context, db database.Querier, unitIDs []uuid.UUID, reservationID uuid.UUID, now time.Time) error {
	released, err := store.ReleaseUnitsHeldBy(ctx, db, reservationID, now)
	if err != nil {
		return err
	}
	if released != int64(len(unitIDs)) {
		return fmt.Errorf("%w: released %d of %d units held by reservation %s",
			database.ErrUnitUnavailable, released, len(unitIDs), reservationID)
	}
	return nil
}

// Sell moves every unit to SOLD. With a reservation the units must be HELD
// by it; without one they must be AVAILABLE.
func Sell(ctx context.Context, db database.Querier, unitIDs []uuid.UUID, reservationID *uuid.UUID, now time.Time) error {
	units, err := lockLive(ctx, db, unitIDs)
	if err != nil {
		return err
	}

	from := models.AvailabilityAvailable
	if reservationID != nil {
		from = models.AvailabilityHeld
	}

	for _, unit := range units {
		if _, err := Next(unit.Availability, EventSell); err != nil {
			return unavailable(unit, err)
		}
		if unit.Availability != from || !sameHolder(unit.HeldByReservationID, reservationID) {
			return unavailable(unit, nil)
		}
	}

	return store.TransitionUnits(ctx, db, unitIDs, store.UnitTransition{
		From:       from,
		To:         models.AvailabilitySold,
		FromHolder: reservationID,
	}, now)
}

// lockLive locks the units in id order and fails with ErrUnitNotFound if any
// is missing or soft-deleted. The result follows unitIDs order.
func lockLive(ctx context.Context, db database.Querier, unitIDs []uuid.UUID) ([]*models.InventoryUnit, error) {
	locked, err := store.LockUnits(ctx, db, unitIDs)
	if err != nil {
		return nil, err
	}

	units := make([]*models.InventoryUnit, 0, len(unitIDs))
	for _, id := range unitIDs {
		unit, ok := locked[id]
		if !ok || unit.Deleted {
			return nil, fmt.Errorf("%w: %s", database.ErrUnitNotFound, id)
		}
		units = append(units, unit)
	}
	return units, nil
}

func unavailable(unit *models.InventoryUnit, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: unit %s: %v", database.ErrUnitUnavailable, unit.ID, cause)
	}
	return fmt.Errorf("%w: unit %s is %s", database.ErrUnitUnavailable, unit.ID, unit.Availability)
}

func sameHolder(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
