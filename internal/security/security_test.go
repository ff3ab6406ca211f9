package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/cartage/cartagetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-testing"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken("alice", []string{RoleCustomer}, testSecret, 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, []string{RoleCustomer}, claims.Roles)
	assert.NotEmpty(t, claims.ID)
}

func TestParseToken_Failures(t *testing.T) {
	valid, err := IssueToken("alice", nil, testSecret, time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken("alice", nil, testSecret, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr error
	}{
		{"Wrong secret", valid, "other-secret", ErrInvalidToken},
		{"Expired", expired, testSecret, ErrExpiredToken},
		{"Garbage", "not.a.token", testSecret, ErrInvalidToken},
		{"Empty", "", testSecret, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseToken(tt.token, tt.secret)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, claims)
		})
	}
}

func TestIssueToken_RequiresUser(t *testing.T) {
	_, err := IssueToken("", nil, testSecret, time.Minute)
	assert.Error(t, err)
}

func TestPolicy_Allows(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name   string
		roles  []string
		action string
		want   bool
	}{
		{"Customer adds items", []string{RoleCustomer}, cartage.ActionAddItems, true},
		{"Customer cannot list", []string{RoleCustomer}, cartage.ActionGetCartList, false},
		{"Customer cannot delete", []string{RoleCustomer}, cartage.ActionDeleteCart, false},
		{"Auditor lists", []string{RoleAuditor}, cartage.ActionGetCartList, true},
		{"Auditor cannot mutate", []string{RoleAuditor}, cartage.ActionClear, false},
		{"Janitor deletes", []string{RoleJanitor}, cartage.ActionDeleteCart, true},
		{"Admin wildcard", []string{RoleAdmin}, cartage.ActionFinalize, true},
		{"Roles combine", []string{RoleCustomer, RoleJanitor}, cartage.ActionDeleteCart, true},
		{"Unknown role", []string{"guest"}, cartage.ActionGetCart, false},
		{"No roles", nil, cartage.ActionGetCart, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Allows(tt.roles, tt.action))
		})
	}
}

func TestPrincipal_WithCartage(t *testing.T) {
	ctx := context.Background()
	store := cartagetest.NewMemory(nil)

	customer := cartage.New(store, NewManager(NewPrincipal("alice", []string{RoleCustomer}, nil)))
	cart, err := customer.RegisterCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", cart.Info().CreateUser)

	_, err = customer.GetCarts(ctx, nil, nil)
	assert.ErrorIs(t, err, cartage.ErrNotAuthorized)

	anonymous := cartage.New(store, NewManager(Anonymous()))
	_, err = anonymous.GetCart(ctx, cart.Identifier())
	assert.ErrorIs(t, err, cartage.ErrNotAuthorized)

	system := cartage.New(store, NewManager(System("janitor")))
	require.NoError(t, system.DeleteCart(ctx, cart.Identifier()))
}

func TestFromClaims(t *testing.T) {
	p := FromClaims(&Claims{UserID: "bob", Roles: []string{RoleAuditor}}, nil)
	assert.Equal(t, cartage.Identity{Identifier: "bob"}, p.Identity())
	assert.Equal(t, []string{RoleAuditor}, p.Roles())
	assert.True(t, p.UserIsAuthorized(cartage.ActionGetCartList, nil, map[string]string{}))
}

func TestPrincipal_Ownership(t *testing.T) {
	ctx := context.Background()
	store := cartagetest.NewMemory(nil)
	owners := NewStoreOwners(ctx, store)

	asUser := func(id string, roles ...string) *cartage.Cartage {
		return cartage.New(store, NewManager(NewPrincipal(id, roles, nil).WithOwnership(owners)))
	}
	alice := asUser("alice", RoleCustomer)
	bob := asUser("bob", RoleCustomer)

	cart, err := alice.RegisterCartWithID(ctx, "cart-alice")
	require.NoError(t, err)
	_, err = cart.AddItems(ctx, "A", decimal.NewFromInt(1), nil)
	require.NoError(t, err)

	_, err = bob.GetCart(ctx, "cart-alice")
	assert.ErrorIs(t, err, cartage.ErrNotAuthorized)
	assert.ErrorIs(t, bob.DeleteCart(ctx, "cart-alice"), cartage.ErrNotAuthorized)

	own, err := bob.RegisterCartWithID(ctx, "cart-bob")
	require.NoError(t, err)
	_, err = own.AddItems(ctx, "B", decimal.NewFromInt(2), nil)
	require.NoError(t, err)

	_, err = asUser("carol", RoleAuditor).GetCart(ctx, "cart-alice")
	assert.NoError(t, err)
	_, err = asUser("alice", RoleCustomer).GetCart(ctx, "cart-alice")
	assert.NoError(t, err)
}

func TestPrincipal_OwnershipRules(t *testing.T) {
	store := cartagetest.NewMemory(nil)
	seed, err := store.Session(context.Background())
	require.NoError(t, err)
	require.NoError(t, seed.RegisterCart("cart-1", "alice"))
	require.NoError(t, seed.Close())
	owners := NewStoreOwners(context.Background(), store)

	tests := []struct {
		name    string
		user    string
		roles   []string
		action  string
		objects []string
		want    bool
	}{
		{name: "Owner", user: "alice", roles: []string{RoleCustomer}, action: cartage.ActionAddItems, objects: []string{"cart-1"}, want: true},
		{name: "Other customer", user: "bob", roles: []string{RoleCustomer}, action: cartage.ActionAddItems, objects: []string{"cart-1", "line-1"}, want: false},
		{name: "Unknown cart", user: "bob", roles: []string{RoleCustomer}, action: cartage.ActionRegisterCart, objects: []string{"cart-2"}, want: true},
		{name: "No objects", user: "bob", roles: []string{RoleCustomer}, action: cartage.ActionRegisterCart, want: true},
		{name: "Policy denies", user: "alice", roles: []string{RoleCustomer}, action: cartage.ActionDeleteCart, objects: []string{"cart-1"}, want: false},
		{name: "Janitor", user: "sweeper", roles: []string{RoleJanitor}, action: cartage.ActionDeleteCart, objects: []string{"cart-1"}, want: true},
		{name: "Customer and auditor", user: "bob", roles: []string{RoleCustomer, RoleAuditor}, action: cartage.ActionGetCart, objects: []string{"cart-1"}, want: true},
		{name: "Customer and auditor writing", user: "bob", roles: []string{RoleCustomer, RoleAuditor}, action: cartage.ActionAddItems, objects: []string{"cart-1"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPrincipal(tt.user, tt.roles, nil).WithOwnership(owners)
			assert.Equal(t, tt.want, p.UserIsAuthorized(tt.action, tt.objects, nil))
		})
	}

	t.Run("Without ownership", func(t *testing.T) {
		p := NewPrincipal("bob", []string{RoleCustomer}, nil)
		assert.True(t, p.UserIsAuthorized(cartage.ActionAddItems, []string{"cart-1"}, nil))
	})

	t.Run("Lookup failure denies", func(t *testing.T) {
		store.FailOn("GetCart", errors.New("store unavailable"))
		defer store.FailOn("GetCart", nil)

		p := NewPrincipal("alice", []string{RoleCustomer}, nil).WithOwnership(owners)
		assert.False(t, p.UserIsAuthorized(cartage.ActionAddItems, []string{"cart-1"}, nil))
	})
}
