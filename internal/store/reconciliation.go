package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
)

// RecordReconciliation persists a captured payment whose owning write never
// committed. It runs outside the failed transaction.
func RecordReconciliation(ctx context.Context, db database.Querier, event *models.ReconciliationEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO reconciliation_events (id, operation, external_ref, amount, refunded, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Operation, event.ExternalRef, event.Amount, event.Refunded, event.Error, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("record reconciliation event: %w", err)
	}
	return nil
}

func ListReconciliationEvents(ctx context.Context, db database.Querier, limit int) ([]models.ReconciliationEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, operation, external_ref, amount, refunded, error, created_at
		 FROM reconciliation_events
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation events: %w", err)
	}
	defer rows.Close()

	events := []models.ReconciliationEvent{}
	for rows.Next() {
		var e models.ReconciliationEvent
		if err := rows.Scan(&e.ID, &e.Operation, &e.ExternalRef, &e.Amount, &e.Refunded, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
