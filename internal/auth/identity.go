// Package auth carries the caller's identity through a request. The engine
// trusts an Identity as given; tokens are the only way one enters the API.
package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCliente       Role = "CLIENTE"
	RoleVendedor      Role = "VENDEDOR"
	RoleAdministrador Role = "ADMINISTRADOR"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleCliente, RoleVendedor, RoleAdministrador:
		return true
	}
	return false
}

// Identity is the authenticated caller. CustomerID is set for clients and
// SellerID for sellers.
type Identity struct {
	UserID     uuid.UUID
	Role       Role
	CustomerID *uuid.UUID
	SellerID   *uuid.UUID
}

// Anonymous is the identity of unauthenticated callers.
var Anonymous = Identity{}

func (i Identity) Authenticated() bool {
	return i.Role.IsValid()
}

// OwnsCustomer reports whether i is the client customerID.
func (i Identity) OwnsCustomer(customerID uuid.UUID) bool {
	return i.Role == RoleCliente && i.CustomerID != nil && *i.CustomerID == customerID
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, identity)
}

// FromContext returns the identity stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Anonymous
	}
	if identity, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return identity
	}
	return Anonymous
}
