package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_Require(t *testing.T) {
	admin := Identity{UserID: "u1", Role: RoleAdmin, Permissions: []Permission{PermManageOrders}}

	require.NoError(t, admin.Require(PermManageOrders))

	err := admin.Require(PermManageProducts)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "manage_products")

	customer := Identity{UserID: "u2", Role: "customer"}
	assert.False(t, customer.Can(PermManageOrders))
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	id := &Identity{UserID: "u1"}
	got, ok := FromContext(WithIdentity(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
}

func TestAPIKeyInfo_HasScope(t *testing.T) {
	k := &APIKeyInfo{Scopes: []string{"read", ScopePaymentWebhook}}
	assert.True(t, k.HasScope(ScopePaymentWebhook))
	assert.False(t, k.HasScope("admin"))
}
