// Package pricing computes sale prices of inventory units and of accessories
// attached to a unit's model. It is pure: prices depend only on the catalog
// rows passed in and the instant the price is asked for.
package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round rounds an amount to cents, halves away from zero.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Discounted applies offer to price when the offer is vigent at t.
func Discounted(price decimal.Decimal, offer *models.Offer, t time.Time) decimal.Decimal {
	if !offer.VigentAt(t) {
		return price
	}
	factor := hundred.Sub(offer.Discount).Div(hundred)
	return Round(price.Mul(factor))
}

// UnitPrice is the unit's base price, discounted by its own offer when vigent.
func UnitPrice(unit *models.InventoryUnit, at time.Time) decimal.Decimal {
	return Discounted(unit.BasePrice, unit.Offer, at)
}

// AccessoryPrice prices accessory for the model named by modelID using its
// (model, accessory) price row. The accessory's own offer applies, never the
// unit's. A missing or mismatched price row fails with
// ErrAccessoryPriceNotFound.
func AccessoryPrice(accessory *models.Accessory, modelID uuid.UUID, price *models.AccessoryModelPrice, at time.Time) (decimal.Decimal, error) {
	if price == nil || price.AccessoryID != accessory.ID || price.ModelID != modelID {
		return decimal.Decimal{}, database.ErrAccessoryPriceNotFound
	}
	return Discounted(price.Price, accessory.Offer, at), nil
}

// Rate returns Round(amount * percent / 100).
func Rate(amount decimal.Decimal, percent int64) decimal.Decimal {
	return Round(amount.Mul(decimal.NewFromInt(percent)).Div(hundred))
}
