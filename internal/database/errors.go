package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/flycar/internal/apperr"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique_violation on the named
// constraint. An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// NotFound maps sql.ErrNoRows to the given sentinel and leaves other
// errors untouched.
func NotFound(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

// ConflictOnContention returns conflict when err is a serialization failure,
// deadlock or lock timeout that outlasted every retry. Other errors are
// returned unchanged.
func ConflictOnContention(err, conflict error) error {
	if err != nil && IsRetryable(err) {
		return fmt.Errorf("%w: %v", conflict, err)
	}
	return err
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var (
	ErrUnitNotFound           = apperr.New(apperr.CodeNotFound, "inventory unit not found")
	ErrAccessoryNotFound      = apperr.New(apperr.CodeNotFound, "accessory not found")
	ErrAccessoryPriceNotFound = apperr.New(apperr.CodeNotFound, "accessory is not priced for this model")
	ErrModelNotFound          = apperr.New(apperr.CodeNotFound, "vehicle model not found")
	ErrOfferNotFound          = apperr.New(apperr.CodeNotFound, "offer not found")
	ErrCustomerNotFound       = apperr.New(apperr.CodeNotFound, "customer not found")
	ErrSellerNotFound         = apperr.New(apperr.CodeNotFound, "seller not found")
	ErrQuotationNotFound      = apperr.New(apperr.CodeNotFound, "quotation not found")
	ErrReservationNotFound    = apperr.New(apperr.CodeNotFound, "reservation not found")
	ErrSaleNotFound           = apperr.New(apperr.CodeNotFound, "sale not found")

	ErrQuotationExpired = apperr.New(apperr.CodeExpired, "quotation is no longer valid")

	ErrQuotationReserved    = apperr.New(apperr.CodeConflict, "quotation already has a reservation")
	ErrQuotationSold        = apperr.New(apperr.CodeConflict, "quotation already has a sale")
	ErrReservationNotActive = apperr.New(apperr.CodeConflict, "reservation is not active")
	ErrUnitUnavailable      = apperr.New(apperr.CodeConflict, "inventory unit is not in the required state")
	ErrInvalidTransition    = apperr.New(apperr.CodeConflict, "availability transition not allowed")
	ErrLockTimeout          = apperr.New(apperr.CodeConflict, "lock timeout")

	ErrPaymentDeclined = apperr.New(apperr.CodePaymentDeclined, "payment declined")

	ErrForbidden   = apperr.New(apperr.CodeForbidden, "role not permitted for this action")
	ErrInvalidCart = apperr.New(apperr.CodeValidation, "invalid cart")
)
