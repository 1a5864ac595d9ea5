package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "flycar", TTL: time.Hour}

func TestMintAndParseRoundTrip(t *testing.T) {
	customerID := uuid.New()
	identity := Identity{UserID: uuid.New(), Role: RoleCliente, CustomerID: &customerID}

	token, err := MintAccessToken(testJWT, time.Now(), identity)
	require.NoError(t, err)

	claims, err := ParseAccessToken(testJWT, token)
	require.NoError(t, err)
	assert.Equal(t, identity, claims.Identity())
}

func TestMintRequiresRoleLinks(t *testing.T) {
	_, err := MintAccessToken(testJWT, time.Now(), Identity{UserID: uuid.New(), Role: RoleCliente})
	assert.Error(t, err)

	_, err = MintAccessToken(testJWT, time.Now(), Identity{UserID: uuid.New(), Role: RoleVendedor})
	assert.Error(t, err)

	_, err = MintAccessToken(testJWT, time.Now(), Identity{UserID: uuid.New(), Role: Role("GERENTE")})
	assert.Error(t, err)

	_, err = MintAccessToken(testJWT, time.Now(), Identity{UserID: uuid.New(), Role: RoleAdministrador})
	assert.NoError(t, err)
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	identity := Identity{UserID: uuid.New(), Role: RoleAdministrador}

	expired, err := MintAccessToken(testJWT, time.Now().Add(-2*time.Hour), identity)
	require.NoError(t, err)
	_, err = ParseAccessToken(testJWT, expired)
	assert.Error(t, err)

	token, err := MintAccessToken(testJWT, time.Now(), identity)
	require.NoError(t, err)

	other := testJWT
	other.Secret = "another-secret"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)

	other = testJWT
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	assert.Equal(t, Anonymous, FromContext(context.Background()))
	assert.False(t, FromContext(context.Background()).Authenticated())

	customerID := uuid.New()
	identity := Identity{UserID: uuid.New(), Role: RoleCliente, CustomerID: &customerID}
	got := FromContext(WithIdentity(context.Background(), identity))

	assert.True(t, got.Authenticated())
	assert.True(t, got.OwnsCustomer(customerID))
	assert.False(t, got.OwnsCustomer(uuid.New()))
}
