package store

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/models"
	"github.com/shopspring/decimal"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// nullOffer receives the LEFT JOINed offer columns of a unit or accessory.
type nullOffer struct {
	ID          uuid.NullUUID
	Discount    decimal.NullDecimal
	StartsAt    sql.NullTime
	EndsAt      sql.NullTime
	Description sql.NullString
}

func (o nullOffer) toModel() *models.Offer {
	if !o.ID.Valid {
		return nil
	}
	return &models.Offer{
		ID:          o.ID.UUID,
		Discount:    o.Discount.Decimal,
		StartsAt:    o.StartsAt.Time,
		EndsAt:      o.EndsAt.Time,
		Description: o.Description.String,
	}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// nullQuotationAccessory receives the LEFT JOINed accessory snapshot of a
// quotation line; a line without accessories yields an all-NULL row.
type nullQuotationAccessory struct {
	ID             uuid.NullUUID
	Position       sql.NullInt64
	AccessoryID    uuid.NullUUID
	AccessoryPrice decimal.NullDecimal
}
