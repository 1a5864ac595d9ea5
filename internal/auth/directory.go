package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/store"
)

// Resolve binds identity to the people tables: a client or seller without
// an explicit id gets the one registered for its user, and an explicit
// customer id must belong to that user. Administrators pass through.
func Resolve(ctx context.Context, db database.Querier, identity Identity) (Identity, error) {
	switch identity.Role {
	case RoleCliente:
		if identity.CustomerID != nil {
			customer, err := store.GetCustomer(ctx, db, *identity.CustomerID)
			if err != nil {
				return Identity{}, err
			}
			if identity.UserID == uuid.Nil {
				identity.UserID = customer.UserID
			} else if customer.UserID != identity.UserID {
				return Identity{}, apperr.New(apperr.CodeValidation, "customer belongs to another user")
			}
			return identity, nil
		}
		if identity.UserID == uuid.Nil {
			return Identity{}, apperr.New(apperr.CodeValidation, "user id or customer id is required")
		}
		customer, err := store.GetCustomerByUserID(ctx, db, identity.UserID)
		if err != nil {
			return Identity{}, err
		}
		identity.CustomerID = &customer.ID

	case RoleVendedor:
		if identity.SellerID != nil {
			return identity, nil
		}
		if identity.UserID == uuid.Nil {
			return Identity{}, apperr.New(apperr.CodeValidation, "user id or seller id is required")
		}
		seller, err := store.GetSellerByUserID(ctx, db, identity.UserID)
		if err != nil {
			return Identity{}, err
		}
		identity.SellerID = &seller.ID

	case RoleAdministrador:
	default:
		return Identity{}, apperr.New(apperr.CodeValidation, "unknown role")
	}
	return identity, nil
}
