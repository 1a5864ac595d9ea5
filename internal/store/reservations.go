package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
)

const reservationColumns = `
	r.id, r.number, r.quotation_id, r.deposit_amount, r.state, r.expires_at, r.created_at, r.updated_at,
	p.id, p.external_ref, p.amount, p.owner_kind, p.created_at`

const reservationFrom = `
	FROM reservations r
	JOIN payments p ON p.id = r.payment_id`

// InsertReservation persists r. Its deposit payment must already be stored.
func InsertReservation(ctx context.Context, db database.Querier, r *models.Reservation) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO reservations (id, number, quotation_id, payment_id, deposit_amount, state, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.Number, r.QuotationID, r.Payment.ID, r.DepositAmount, r.State, r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "reservations_quotation_id_key") {
			return database.ErrQuotationReserved
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

func GetReservation(ctx context.Context, db database.Querier, id uuid.UUID) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+reservationColumns+reservationFrom+` WHERE r.id = $1`, id)

	r, err := scanReservation(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrReservationNotFound)
	}
	return r, nil
}

// GetReservationByQuotation returns the reservation owning the quotation or
// ErrReservationNotFound when there is none.
func GetReservationByQuotation(ctx context.Context, db database.Querier, quotationID uuid.UUID) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+reservationColumns+reservationFrom+` WHERE r.quotation_id = $1`, quotationID)

	r, err := scanReservation(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrReservationNotFound)
	}
	return r, nil
}

// LockReservationByQuotation is GetReservationByQuotation with the
// reservation row locked.
func LockReservationByQuotation(ctx context.Context, db database.Querier, quotationID uuid.UUID) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+reservationFrom+` WHERE r.quotation_id = $1 FOR UPDATE OF r`,
		quotationID)

	r, err := scanReservation(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrReservationNotFound)
	}
	return r, nil
}

func LockReservation(ctx context.Context, db database.Querier, id uuid.UUID) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+reservationFrom+` WHERE r.id = $1 FOR UPDATE OF r`,
		id)

	r, err := scanReservation(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrReservationNotFound)
	}
	return r, nil
}

// CloseReservation moves an ACTIVA reservation to state. It fails with
// ErrReservationNotActive when the reservation already left ACTIVA.
func CloseReservation(ctx context.Context, db database.Querier, id uuid.UUID, state models.ReservationState, now time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE reservations SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
		state, now, id, models.ReservationActive)
	if err != nil {
		return fmt.Errorf("update reservation state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrReservationNotActive
	}
	return nil
}

// LockDueReservations claims up to limit ACTIVA reservations whose expiry is
// before now. Rows locked by other workers are skipped.
func LockDueReservations(ctx context.Context, db database.Querier, now time.Time, limit int) ([]models.Reservation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+reservationColumns+reservationFrom+`
		 WHERE r.state = $1 AND r.expires_at < $2
		 ORDER BY r.expires_at, r.id
		 LIMIT $3
		 FOR UPDATE OF r SKIP LOCKED`,
		models.ReservationActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("lock due reservations: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

// ListReservationsCursor lists reservations newest first, optionally only
// those on quotations of customerID.
func ListReservationsCursor(ctx context.Context, db database.Querier, customerID *uuid.UUID, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+reservationColumns+reservationFrom+`
		 JOIN quotations q ON q.id = r.quotation_id
		 WHERE ($1::uuid IS NULL OR q.customer_id = $1)
		   AND (r.created_at, r.id) < ($2, $3)
		 ORDER BY r.created_at DESC, r.id DESC
		 LIMIT $4`,
		nullUUID(customerID), cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	reservations, err := collectReservations(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(reservations) > limit
	if hasMore {
		reservations = reservations[:limit]
	}

	var nextCursor string
	if hasMore && len(reservations) > 0 {
		last := reservations[len(reservations)-1]
		nextCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage{
		Items:      reservations,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

type rowsScanner interface {
	rowScanner
	Next() bool
	Err() error
}

func collectReservations(rows rowsScanner) ([]models.Reservation, error) {
	reservations := []models.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return reservations, nil
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	r := &models.Reservation{}
	err := row.Scan(
		&r.ID,
		&r.Number,
		&r.QuotationID,
		&r.DepositAmount,
		&r.State,
		&r.ExpiresAt,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.Payment.ID,
		&r.Payment.ExternalRef,
		&r.Payment.Amount,
		&r.Payment.OwnerKind,
		&r.Payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}
