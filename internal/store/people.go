package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/models"
)

type CreatePersonRequest struct {
	UserID    uuid.UUID
	DNI       string
	FirstName string
	LastName  string
	Email     string
}

const customerColumns = `id, user_id, dni, first_name, last_name, email, created_at`

func CreateCustomer(ctx context.Context, db database.Querier, req CreatePersonRequest, now time.Time) (*models.Customer, error) {
	row := db.QueryRowContext(ctx,
		`INSERT INTO customers (id, user_id, dni, first_name, last_name, email, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+customerColumns,
		uuid.New(), req.UserID, req.DNI, req.FirstName, req.LastName, req.Email, now)

	customer, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return customer, nil
}

func GetCustomer(ctx context.Context, db database.Querier, id uuid.UUID) (*models.Customer, error) {
	row := db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)

	customer, err := scanCustomer(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrCustomerNotFound)
	}
	return customer, nil
}

func GetCustomerByUserID(ctx context.Context, db database.Querier, userID uuid.UUID) (*models.Customer, error) {
	row := db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE user_id = $1`, userID)

	customer, err := scanCustomer(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrCustomerNotFound)
	}
	return customer, nil
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	customer := &models.Customer{}
	err := row.Scan(
		&customer.ID,
		&customer.UserID,
		&customer.DNI,
		&customer.FirstName,
		&customer.LastName,
		&customer.Email,
		&customer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return customer, nil
}

const sellerColumns = `id, user_id, dni, first_name, last_name, created_at`

func CreateSeller(ctx context.Context, db database.Querier, req CreatePersonRequest, now time.Time) (*models.Seller, error) {
	row := db.QueryRowContext(ctx,
		`INSERT INTO sellers (id, user_id, dni, first_name, last_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+sellerColumns,
		uuid.New(), req.UserID, req.DNI, req.FirstName, req.LastName, now)

	seller, err := scanSeller(row)
	if err != nil {
		return nil, fmt.Errorf("create seller: %w", err)
	}
	return seller, nil
}

func GetSellerByUserID(ctx context.Context, db database.Querier, userID uuid.UUID) (*models.Seller, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sellerColumns+` FROM sellers WHERE user_id = $1`, userID)

	seller, err := scanSeller(row)
	if err != nil {
		return nil, database.NotFound(err, database.ErrSellerNotFound)
	}
	return seller, nil
}

func scanSeller(row rowScanner) (*models.Seller, error) {
	seller := &models.Seller{}
	err := row.Scan(
		&seller.ID,
		&seller.UserID,
		&seller.DNI,
		&seller.FirstName,
		&seller.LastName,
		&seller.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return seller, nil
}
