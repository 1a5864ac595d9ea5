package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/safar/flycar/internal/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// AccessTokenClaims is the JWT body issued to API callers.
type AccessTokenClaims struct {
	UserID     uuid.UUID  `json:"user_id"`
	Role       Role       `json:"role"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	SellerID   *uuid.UUID `json:"seller_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *AccessTokenClaims) Identity() Identity {
	return Identity{
		UserID:     c.UserID,
		Role:       c.Role,
		CustomerID: c.CustomerID,
		SellerID:   c.SellerID,
	}
}

// MintAccessToken signs a token for identity valid for cfg.TTL from now.
func MintAccessToken(cfg config.JWTConfig, now time.Time, identity Identity) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.TTL <= 0 {
		return "", fmt.Errorf("jwt ttl must be positive")
	}
	if !identity.Role.IsValid() {
		return "", fmt.Errorf("invalid role %q", identity.Role)
	}
	if identity.Role == RoleCliente && identity.CustomerID == nil {
		return "", fmt.Errorf("customer id is required for role %s", identity.Role)
	}
	if identity.Role == RoleVendedor && identity.SellerID == nil {
		return "", fmt.Errorf("seller id is required for role %s", identity.Role)
	}

	claims := AccessTokenClaims{
		UserID:     identity.UserID,
		Role:       identity.Role,
		CustomerID: identity.CustomerID,
		SellerID:   identity.SellerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   identity.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates tokenString and returns its claims.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("invalid role %q", claims.Role)
	}

	return claims, nil
}
