package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
	"github.com/shopspring/decimal"
)

const unitColumns = `
	u.id, u.vin, u.model_id, u.base_price, u.year, u.description, u.availability,
	u.held_by_reservation_id, u.deleted, u.created_at, u.updated_at, u.version,
	o.id, o.discount, o.starts_at, o.ends_at, o.description`

const unitFrom = `
	FROM inventory_units u
	LEFT JOIN offers o ON o.id = u.offer_id`

type CreateUnitRequest struct {
	VIN         string
	ModelID     uuid.UUID
	BasePrice   decimal.Decimal
	Year        int
	Description string
	OfferID     *uuid.UUID
}

func CreateUnit(ctx context.Context, db database.Querier, req CreateUnitRequest, now time.Time) (*models.InventoryUnit, error) {
	id := uuid.New()

	_, err := db.ExecContext(ctx,
		`INSERT INTO inventory_units (id, vin, model_id, base_price, year, description, availability, offer_id, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)`,
		id, req.VIN, req.ModelID, req.BasePrice, req.Year, req.Description,
		models.AvailabilityAvailable, nullUUID(req.OfferID), now)
	if err != nil {
		return nil, fmt.Errorf("create unit: %w", err)
	}

	return GetUnit(ctx, db, id)
}

// GetUnit returns the unit including soft-deleted ones; callers decide
// whether a deleted unit is visible.
func GetUnit(ctx context.Context, db database.Querier, id uuid.UUID) (*models.InventoryUnit, error) {
	row := db.QueryRowContext(ctx, `SELECT `+unitColumns+unitFrom+` WHERE u.id = $1`, id)

	unit, err := scanUnit(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrUnitNotFound)
	}
	return unit, nil
}

// LockUnits locks the given units in id order and returns them keyed by id.
// Missing ids are absent from the map.
func LockUnits(ctx context.Context, db database.Querier, ids []uuid.UUID) (map[uuid.UUID]*models.InventoryUnit, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+unitColumns+unitFrom+`
		 WHERE u.id = ANY($1::uuid[])
		 ORDER BY u.id
		 FOR UPDATE OF u`,
		pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("lock units: %w", err)
	}
	defer rows.Close()

	units := make(map[uuid.UUID]*models.InventoryUnit, len(ids))
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units[unit.ID] = unit
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return units, nil
}

// UnitTransition is one conditional availability update applied to a batch
// of units.
type UnitTransition struct {
	From models.Availability
	To   models.Availability
	// FromHolder must match held_by_reservation_id before the update
	// (nil matches units that are not held).
	FromHolder *uuid.UUID
	// ToHolder is written to held_by_reservation_id.
	ToHolder *uuid.UUID
}

// TransitionUnits applies t to every id as one conditional update. It fails
// with ErrUnitUnavailable unless every unit matched the expected state, in
// which case the caller must roll back.
func TransitionUnits(ctx context.Context, db database.Querier, ids []uuid.UUID, t UnitTransition, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	result, err := db.ExecContext(ctx,
		`UPDATE inventory_units
		 SET availability = $1,
		     held_by_reservation_id = $2,
		     version = version + 1,
		     updated_at = $3
		 WHERE id = ANY($4::uuid[])
		   AND availability = $5
		   AND held_by_reservation_id IS NOT DISTINCT FROM $6
		   AND NOT deleted`,
		t.To, nullUUID(t.ToHolder), now, pq.Array(uuidStrings(ids)), t.From, nullUUID(t.FromHolder))
	if err != nil {
		return fmt.Errorf("transition units %s->%s: %w", t.From, t.To, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected != int64(len(ids)) {
		return database.ErrUnitUnavailable
	}

	return nil
}

// ReleaseUnitsHeldBy returns every unit held by reservationID to AVAILABLE
// and reports how many were released.
func ReleaseUnitsHeldBy(ctx context.Context, db database.Querier, reservationID uuid.UUID, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE inventory_units
		 SET availability = $1,
		     held_by_reservation_id = NULL,
		     version = version + 1,
		     updated_at = $2
		 WHERE held_by_reservation_id = $3
		   AND availability = $4`,
		models.AvailabilityAvailable, now, reservationID, models.AvailabilityHeld)
	if err != nil {
		return 0, fmt.Errorf("release units: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// UnitHolders returns the reservations currently holding any of ids.
func UnitHolders(ctx context.Context, db database.Querier, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT held_by_reservation_id
		 FROM inventory_units
		 WHERE id = ANY($1::uuid[]) AND held_by_reservation_id IS NOT NULL`,
		pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("get unit holders: %w", err)
	}
	defer rows.Close()

	holders := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unit holder: %w", err)
		}
		holders = append(holders, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return holders, nil
}

// LockUnitNoWait locks a single unit, failing fast with ErrLockTimeout when
// another transaction holds it.
func LockUnitNoWait(ctx context.Context, db database.Querier, id uuid.UUID) (*models.InventoryUnit, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+unitColumns+unitFrom+`
		 WHERE u.id = $1
		 FOR UPDATE OF u NOWAIT`,
		id)

	unit, err := scanUnit(row)
	if err != nil {
		if database.ClassifyError(err) == database.ErrorClassTransient {
			return nil, database.ErrLockTimeout
		}
		return nil, database.NotFound(err, database.ErrUnitNotFound)
	}
	return unit, nil
}

// UpdateUnitAvailabilityOptimistic sets availability when the caller's
// version is still current. Used by administrative enable/disable.
func UpdateUnitAvailabilityOptimistic(ctx context.Context, db database.Querier, id uuid.UUID, to models.Availability, version int, now time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE inventory_units
		 SET availability = $1, version = version + 1, updated_at = $2
		 WHERE id = $3 AND version = $4 AND held_by_reservation_id IS NULL`,
		to, now, id, version)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrUnitUnavailable
	}

	return nil
}

func SoftDeleteUnit(ctx context.Context, db database.Querier, id uuid.UUID, now time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE inventory_units SET deleted = TRUE, updated_at = $1 WHERE id = $2`,
		now, id)
	if err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUnitNotFound
	}
	return nil
}

func SetUnitOffer(ctx context.Context, db database.Querier, id uuid.UUID, offerID *uuid.UUID, now time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE inventory_units SET offer_id = $1, updated_at = $2 WHERE id = $3`,
		nullUUID(offerID), now, id)
	if err != nil {
		return fmt.Errorf("set unit offer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUnitNotFound
	}
	return nil
}

// ListUnits lists non-deleted units, newest first. An empty availability
// lists every state.
func ListUnits(ctx context.Context, db database.Querier, availability models.Availability, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory_units
		 WHERE NOT deleted AND ($1 = '' OR availability = $1)`,
		string(availability)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count units: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := db.QueryContext(ctx,
		`SELECT `+unitColumns+unitFrom+`
		 WHERE NOT u.deleted AND ($1 = '' OR u.availability = $1)
		 ORDER BY u.created_at DESC, u.id DESC
		 LIMIT $2 OFFSET $3`,
		string(availability), pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	units := []models.InventoryUnit{}
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, *unit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(units, total, page, pageSize), nil
}

func scanUnit(row rowScanner) (*models.InventoryUnit, error) {
	var (
		unit   models.InventoryUnit
		heldBy uuid.NullUUID
		offer  nullOffer
	)

	err := row.Scan(
		&unit.ID,
		&unit.VIN,
		&unit.ModelID,
		&unit.BasePrice,
		&unit.Year,
		&unit.Description,
		&unit.Availability,
		&heldBy,
		&unit.Deleted,
		&unit.CreatedAt,
		&unit.UpdatedAt,
		&unit.Version,
		&offer.ID,
		&offer.Discount,
		&offer.StartsAt,
		&offer.EndsAt,
		&offer.Description,
	)
	if err != nil {
		return nil, err
	}

	if heldBy.Valid {
		id := heldBy.UUID
		unit.HeldByReservationID = &id
	}
	unit.Offer = offer.toModel()

	return &unit, nil
}
