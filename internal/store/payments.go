package store

import (
	"context"
	"fmt"

	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
)

// InsertPayment records a captured payment. The external reference is
// unique, so recording the same capture twice fails.
func InsertPayment(ctx context.Context, db database.Querier, p *models.Payment) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO payments (id, external_ref, amount, owner_kind, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.ExternalRef, p.Amount, p.OwnerKind, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}
