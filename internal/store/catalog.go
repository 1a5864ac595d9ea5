package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
	"github.com/shopspring/decimal"
)

func CreateVehicleModel(ctx context.Context, db database.Querier, brand, name string, now time.Time) (*models.VehicleModel, error) {
	model := &models.VehicleModel{}

	err := db.QueryRowContext(ctx,
		`INSERT INTO vehicle_models (id, brand, name, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, brand, name, created_at`,
		uuid.New(), brand, name, now).Scan(
		&model.ID,
		&model.Brand,
		&model.Name,
		&model.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create vehicle model: %w", err)
	}

	return model, nil
}

func CreateOffer(ctx context.Context, db database.Querier, discount decimal.Decimal, startsAt, endsAt time.Time, description string) (*models.Offer, error) {
	offer := &models.Offer{}

	err := db.QueryRowContext(ctx,
		`INSERT INTO offers (id, discount, starts_at, ends_at, description)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, discount, starts_at, ends_at, description`,
		uuid.New(), discount, startsAt, endsAt, description).Scan(
		&offer.ID,
		&offer.Discount,
		&offer.StartsAt,
		&offer.EndsAt,
		&offer.Description,
	)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	return offer, nil
}

type CreateAccessoryRequest struct {
	Name        string
	Description string
	OfferID     *uuid.UUID
}

func CreateAccessory(ctx context.Context, db database.Querier, req CreateAccessoryRequest, now time.Time) (*models.Accessory, error) {
	id := uuid.New()

	_, err := db.ExecContext(ctx,
		`INSERT INTO accessories (id, name, description, enabled, deleted, offer_id, created_at)
		 VALUES ($1, $2, $3, TRUE, FALSE, $4, $5)`,
		id, req.Name, req.Description, nullUUID(req.OfferID), now)
	if err != nil {
		return nil, fmt.Errorf("create accessory: %w", err)
	}

	return GetAccessory(ctx, db, id)
}

func GetAccessory(ctx context.Context, db database.Querier, id uuid.UUID) (*models.Accessory, error) {
	var (
		accessory models.Accessory
		offer     nullOffer
	)

	err := db.QueryRowContext(ctx,
		`SELECT a.id, a.name, a.description, a.enabled, a.deleted, a.created_at,
		        o.id, o.discount, o.starts_at, o.ends_at, o.description
		 FROM accessories a
		 LEFT JOIN offers o ON o.id = a.offer_id
		 WHERE a.id = $1`,
		id).Scan(
		&accessory.ID,
		&accessory.Name,
		&accessory.Description,
		&accessory.Enabled,
		&accessory.Deleted,
		&accessory.CreatedAt,
		&offer.ID,
		&offer.Discount,
		&offer.StartsAt,
		&offer.EndsAt,
		&offer.Description,
	)
	if err != nil {
		return nil, database.NotFound(err, database.ErrAccessoryNotFound)
	}

	accessory.Offer = offer.toModel()
	return &accessory, nil
}

func SetAccessoryEnabled(ctx context.Context, db database.Querier, id uuid.UUID, enabled bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE accessories SET enabled = $1 WHERE id = $2`,
		enabled, id)
	if err != nil {
		return fmt.Errorf("set accessory enabled: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrAccessoryNotFound
	}
	return nil
}

// SetAccessoryModelPrice creates or replaces the price of accessory for model.
func SetAccessoryModelPrice(ctx context.Context, db database.Querier, modelID, accessoryID uuid.UUID, price decimal.Decimal) (*models.AccessoryModelPrice, error) {
	amp := &models.AccessoryModelPrice{}

	err := db.QueryRowContext(ctx,
		`INSERT INTO accessory_model_prices (id, model_id, accessory_id, price)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT ON CONSTRAINT accessory_model_prices_model_accessory_key
		 DO UPDATE SET price = EXCLUDED.price
		 RETURNING id, model_id, accessory_id, price`,
		uuid.New(), modelID, accessoryID, price).Scan(
		&amp.ID,
		&amp.ModelID,
		&amp.AccessoryID,
		&amp.Price,
	)
	if err != nil {
		return nil, fmt.Errorf("set accessory price: %w", err)
	}

	return amp, nil
}

// GetAccessoryModelPrice returns the (model, accessory) price row or
// ErrAccessoryPriceNotFound.
func GetAccessoryModelPrice(ctx context.Context, db database.Querier, modelID, accessoryID uuid.UUID) (*models.AccessoryModelPrice, error) {
	amp := &models.AccessoryModelPrice{}

	err := db.QueryRowContext(ctx,
		`SELECT id, model_id, accessory_id, price
		 FROM accessory_model_prices
		 WHERE model_id = $1 AND accessory_id = $2`,
		modelID, accessoryID).Scan(
		&amp.ID,
		&amp.ModelID,
		&amp.AccessoryID,
		&amp.Price,
	)
	if err != nil {
		return nil, database.NotFound(err, database.ErrAccessoryPriceNotFound)
	}

	return amp, nil
}

// ModelAccessory is an offered accessory with its price row for the
// requested model. ModelPrice is nil when no model was requested.
type ModelAccessory struct {
	Accessory  models.Accessory
	ModelPrice *models.AccessoryModelPrice
}

// ListAccessories lists enabled, non-deleted accessories by name. With a
// modelID only accessories priced for that model are listed.
func ListAccessories(ctx context.Context, db database.Querier, modelID *uuid.UUID) ([]ModelAccessory, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT a.id, a.name, a.description, a.enabled, a.deleted, a.created_at,
		        o.id, o.discount, o.starts_at, o.ends_at, o.description,
		        amp.id, amp.model_id, amp.price
		 FROM accessories a
		 LEFT JOIN offers o ON o.id = a.offer_id
		 LEFT JOIN accessory_model_prices amp ON amp.accessory_id = a.id AND amp.model_id = $1
		 WHERE a.enabled AND NOT a.deleted
		   AND ($1::uuid IS NULL OR amp.id IS NOT NULL)
		 ORDER BY a.name, a.id`,
		nullUUID(modelID))
	if err != nil {
		return nil, fmt.Errorf("list accessories: %w", err)
	}
	defer rows.Close()

	accessories := []ModelAccessory{}
	for rows.Next() {
		var (
			item    ModelAccessory
			offer   nullOffer
			priceID uuid.NullUUID
			priceOf uuid.NullUUID
			price   decimal.NullDecimal
		)
		err := rows.Scan(
			&item.Accessory.ID,
			&item.Accessory.Name,
			&item.Accessory.Description,
			&item.Accessory.Enabled,
			&item.Accessory.Deleted,
			&item.Accessory.CreatedAt,
			&offer.ID,
			&offer.Discount,
			&offer.StartsAt,
			&offer.EndsAt,
			&offer.Description,
			&priceID,
			&priceOf,
			&price,
		)
		if err != nil {
			return nil, fmt.Errorf("scan accessory: %w", err)
		}

		item.Accessory.Offer = offer.toModel()
		if priceID.Valid {
			item.ModelPrice = &models.AccessoryModelPrice{
				ID:          priceID.UUID,
				ModelID:     priceOf.UUID,
				AccessoryID: item.Accessory.ID,
				Price:       price.Decimal,
			}
		}
		accessories = append(accessories, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return accessories, nil
}
