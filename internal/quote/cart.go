package quote

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
)

const (
	MaxLines              = 2
	MaxAccessoriesPerLine = 10
)

type CartLine struct {
	UnitID       uuid.UUID   `json:"unit_id" validate:"required"`
	AccessoryIDs []uuid.UUID `json:"accessory_ids" validate:"max=10,dive,required"`
}

type Cart struct {
	Lines []CartLine `json:"lines" validate:"required,min=1,max=2,dive"`
}

// Validate checks the cart's shape; it does not resolve any id.
func (c Cart) Validate() error {
	details := map[string]string{}

	switch {
	case len(c.Lines) == 0:
		details["lines"] = "must contain at least one unit"
	case len(c.Lines) > MaxLines:
		details["lines"] = fmt.Sprintf("must contain at most %d units", MaxLines)
	}

	seen := make(map[uuid.UUID]bool, len(c.Lines))
	for i, line := range c.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if line.UnitID == uuid.Nil {
			details[field+".unit_id"] = "is required"
			continue
		}
		if seen[line.UnitID] {
			details[field+".unit_id"] = "unit appears more than once"
		}
		seen[line.UnitID] = true

		if len(line.AccessoryIDs) > MaxAccessoriesPerLine {
			details[field+".accessory_ids"] = fmt.Sprintf("must contain at most %d accessories", MaxAccessoriesPerLine)
		}
		for _, id := range line.AccessoryIDs {
			if id == uuid.Nil {
				details[field+".accessory_ids"] = "contains an empty id"
			}
		}
	}

	if len(details) > 0 {
		return database.ErrInvalidCart.WithDetails(details)
	}
	return nil
}
