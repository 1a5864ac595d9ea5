package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/clock"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/logger"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/pricing"
	"github.com/safar/flycar/internal/store"
	"github.com/shopspring/decimal"
)

// UnitView is a unit with its price at the time it was read.
type UnitView struct {
	models.InventoryUnit
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// Service serves catalog reads and administrative availability changes.
type Service struct {
	db    *sql.DB
	clock clock.Clock
	log   *logger.Logger
}

func NewService(db *sql.DB, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{db: db, clock: clk, log: log}
}

func (s *Service) GetUnit(ctx context.Context, id uuid.UUID) (*UnitView, error) {
	unit, err := store.GetUnit(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if unit.Deleted {
		return nil, database.ErrUnitNotFound
	}
	return s.view(unit), nil
}

// ListUnits pages through live units. An empty availability lists all.
func (s *Service) ListUnits(ctx context.Context, availability models.Availability, page, pageSize int) (*store.OffsetPage, error) {
	result, err := store.ListUnits(ctx, s.db, availability, page, pageSize)
	if err != nil {
		return nil, err
	}

	units := result.Items.([]models.InventoryUnit)
	views := make([]UnitView, 0, len(units))
	for i := range units {
		views = append(views, *s.view(&units[i]))
	}
	result.Items = views
	return result, nil
}

// SetDisabled toggles a unit between AVAILABLE and DISABLED. Units that are
// HELD or SOLD cannot be toggled.
func (s *Service) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) (*UnitView, error) {
	ev := EventEnable
	if disabled {
		ev = EventDisable
	}

	var unit *models.InventoryUnit
	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.LockUnitNoWait(ctx, tx, id)
		if err != nil {
			return err
		}
		if locked.Deleted {
			return database.ErrUnitNotFound
		}

		to, err := Next(locked.Availability, ev)
		if err != nil {
			return unavailable(locked, err)
		}

		now := s.clock.Now()
		if err := store.UpdateUnitAvailabilityOptimistic(ctx, tx, id, to, locked.Version, now); err != nil {
			return err
		}

		unit, err = store.GetUnit(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s unit %s: %w", ev, id, err)
	}

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"unit_id":      id,
		"availability": unit.Availability,
	}), "unit availability changed")
	return s.view(unit), nil
}

func (s *Service) view(unit *models.InventoryUnit) *UnitView {
	return &UnitView{
		InventoryUnit: *unit,
		CurrentPrice:  pricing.UnitPrice(unit, s.clock.Now()),
	}
}
