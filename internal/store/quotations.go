package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
)

const quotationColumns = `id, customer_id, total_amount, valid, expires_at, created_at, updated_at`

// InsertQuotation persists q and its line-item snapshots. Ids must already
// be assigned.
func InsertQuotation(ctx context.Context, db database.Querier, q *models.Quotation) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO quotations (id, customer_id, total_amount, valid, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		q.ID, q.CustomerID, q.TotalAmount, q.Valid, q.ExpiresAt, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create quotation: %w", err)
	}

	for _, line := range q.Units {
		_, err = db.ExecContext(ctx,
			`INSERT INTO quotation_units (id, quotation_id, position, unit_id, unit_price)
			 VALUES ($1, $2, $3, $4, $5)`,
			line.ID, q.ID, line.Position, line.UnitID, line.UnitPrice)
		if err != nil {
			return fmt.Errorf("create quotation unit: %w", err)
		}

		for _, acc := range line.Accessories {
			_, err = db.ExecContext(ctx,
				`INSERT INTO quotation_accessories (id, quotation_unit_id, position, accessory_id, accessory_price)
				 VALUES ($1, $2, $3, $4, $5)`,
				acc.ID, line.ID, acc.Position, acc.AccessoryID, acc.AccessoryPrice)
			if err != nil {
				return fmt.Errorf("create quotation accessory: %w", err)
			}
		}
	}

	return nil
}

// InvalidateOpenQuotations flips valid=false on every valid quotation of the
// customer that does not own a reservation still active at now. except is
// left untouched.
func InvalidateOpenQuotations(ctx context.Context, db database.Querier, customerID, except uuid.UUID, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE quotations q
		 SET valid = FALSE, updated_at = $2
		 WHERE q.customer_id = $1
		   AND q.valid
		   AND q.id <> $3
		   AND NOT EXISTS (
		       SELECT 1 FROM reservations r
		       WHERE r.quotation_id = q.id
		         AND r.state = $4
		         AND r.expires_at >= $2)`,
		customerID, now, except, models.ReservationActive)
	if err != nil {
		return 0, fmt.Errorf("invalidate quotations: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// LockCustomer serializes quotation generation per customer.
func LockCustomer(ctx context.Context, db database.Querier, customerID uuid.UUID) error {
	var id uuid.UUID
	err := db.QueryRowContext(ctx,
		`SELECT id FROM customers WHERE id = $1 FOR UPDATE`,
		customerID).Scan(&id)
	if err != nil {
		return database.NotFound(err, database.ErrCustomerNotFound)
	}
	return nil
}

func GetQuotation(ctx context.Context, db database.Querier, id uuid.UUID) (*models.Quotation, error) {
	return getQuotation(ctx, db, id, "")
}

// LockQuotation loads the quotation with its header row locked for update.
func LockQuotation(ctx context.Context, db database.Querier, id uuid.UUID) (*models.Quotation, error) {
	return getQuotation(ctx, db, id, " FOR UPDATE")
}

func getQuotation(ctx context.Context, db database.Querier, id uuid.UUID, lock string) (*models.Quotation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE id = $1`+lock, id)

	q, err := scanQuotation(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrQuotationNotFound)
	}

	if err := loadQuotationLines(ctx, db, q); err != nil {
		return nil, err
	}
	return q, nil
}

func loadQuotationLines(ctx context.Context, db database.Querier, q *models.Quotation) error {
	rows, err := db.QueryContext(ctx,
		`SELECT qu.id, qu.position, qu.unit_id, qu.unit_price,
		        qa.id, qa.position, qa.accessory_id, qa.accessory_price
		 FROM quotation_units qu
		 LEFT JOIN quotation_accessories qa ON qa.quotation_unit_id = qu.id
		 WHERE qu.quotation_id = $1
		 ORDER BY qu.position, qa.position`,
		q.ID)
	if err != nil {
		return fmt.Errorf("get quotation lines: %w", err)
	}
	defer rows.Close()

	q.Units = nil
	for rows.Next() {
		var (
			line models.QuotationUnit
			acc  nullQuotationAccessory
		)
		err := rows.Scan(
			&line.ID,
			&line.Position,
			&line.UnitID,
			&line.UnitPrice,
			&acc.ID,
			&acc.Position,
			&acc.AccessoryID,
			&acc.AccessoryPrice,
		)
		if err != nil {
			return fmt.Errorf("scan quotation line: %w", err)
		}

		if n := len(q.Units); n == 0 || q.Units[n-1].ID != line.ID {
			line.QuotationID = q.ID
			line.Accessories = []models.QuotationAccessory{}
			q.Units = append(q.Units, line)
		}
		if acc.ID.Valid {
			last := &q.Units[len(q.Units)-1]
			last.Accessories = append(last.Accessories, models.QuotationAccessory{
				ID:              acc.ID.UUID,
				QuotationUnitID: last.ID,
				Position:        int(acc.Position.Int64),
				AccessoryID:     acc.AccessoryID.UUID,
				AccessoryPrice:  acc.AccessoryPrice.Decimal,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

// ExtendQuotation moves the quotation's expiry. Only the reservation
// manager calls it, to align the quotation with its reservation.
func ExtendQuotation(ctx context.Context, db database.Querier, id uuid.UUID, expiresAt, now time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE quotations SET expires_at = $1, updated_at = $2 WHERE id = $3`,
		expiresAt, now, id)
	if err != nil {
		return fmt.Errorf("extend quotation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrQuotationNotFound
	}
	return nil
}

// ListQuotationsCursor lists quotations newest first. A nil customerID lists
// every customer's quotations. Line items are not loaded.
func ListQuotationsCursor(ctx context.Context, db database.Querier, customerID *uuid.UUID, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+quotationColumns+`
		 FROM quotations
		 WHERE ($1::uuid IS NULL OR customer_id = $1)
		   AND (created_at, id) < ($2, $3)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`,
		nullUUID(customerID), cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list quotations: %w", err)
	}
	defer rows.Close()

	quotations := []models.Quotation{}
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quotation: %w", err)
		}
		quotations = append(quotations, *q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(quotations) > limit
	if hasMore {
		quotations = quotations[:limit]
	}

	var nextCursor string
	if hasMore && len(quotations) > 0 {
		last := quotations[len(quotations)-1]
		nextCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage{
		Items:      quotations,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func scanQuotation(row rowScanner) (*models.Quotation, error) {
	q := &models.Quotation{}
	err := row.Scan(
		&q.ID,
		&q.CustomerID,
		&q.TotalAmount,
		&q.Valid,
		&q.ExpiresAt,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return q, nil
}
