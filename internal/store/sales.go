package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
)

const saleColumns = `
	s.id, s.number, s.quotation_id, s.seller_id, s.concretada, s.commission, s.balance_paid, s.created_at,
	p.id, p.external_ref, p.amount, p.owner_kind, p.created_at`

const saleFrom = `
	FROM sales s
	JOIN payments p ON p.id = s.payment_id`

// InsertSale persists s. Its balance payment must already be stored.
func InsertSale(ctx context.Context, db database.Querier, s *models.Sale) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sales (id, number, quotation_id, payment_id, seller_id, concretada, commission, balance_paid, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.Number, s.QuotationID, s.Payment.ID, s.SellerID, s.Concretada, s.Commission, s.BalancePaid, s.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "sales_quotation_id_key") {
			return database.ErrQuotationSold
		}
		return fmt.Errorf("create sale: %w", err)
	}
	return nil
}

func GetSale(ctx context.Context, db database.Querier, id uuid.UUID) (*models.Sale, error) {
	row := db.QueryRowContext(ctx, `SELECT `+saleColumns+saleFrom+` WHERE s.id = $1`, id)

	s, err := scanSale(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrSaleNotFound)
	}
	return s, nil
}

func GetSaleByQuotation(ctx context.Context, db database.Querier, quotationID uuid.UUID) (*models.Sale, error) {
	row := db.QueryRowContext(ctx, `SELECT `+saleColumns+saleFrom+` WHERE s.quotation_id = $1`, quotationID)

	s, err := scanSale(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrSaleNotFound)
	}
	return s, nil
}

// ListSales lists sales newest first. A nil sellerID lists every seller's
// sales.
func ListSales(ctx context.Context, db database.Querier, sellerID *uuid.UUID, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales WHERE ($1::uuid IS NULL OR seller_id = $1)`,
		nullUUID(sellerID)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count sales: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := db.QueryContext(ctx,
		`SELECT `+saleColumns+saleFrom+`
		 WHERE ($1::uuid IS NULL OR s.seller_id = $1)
		 ORDER BY s.created_at DESC, s.id DESC
		 LIMIT $2 OFFSET $3`,
		nullUUID(sellerID), pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	sales := []models.Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(sales, total, page, pageSize), nil
}

func scanSale(row rowScanner) (*models.Sale, error) {
	s := &models.Sale{}
	err := row.Scan(
		&s.ID,
		&s.Number,
		&s.QuotationID,
		&s.SellerID,
		&s.Concretada,
		&s.Commission,
		&s.BalancePaid,
		&s.CreatedAt,
		&s.Payment.ID,
		&s.Payment.ExternalRef,
		&s.Payment.Amount,
		&s.Payment.OwnerKind,
		&s.Payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
