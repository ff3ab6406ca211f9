package cartage_test

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

var errStoreDown = errors.New("store down")

func steppingClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func sequence(ids ...string) cartage.IDGenerator {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func setupCartageTest(t *testing.T, opts ...cartage.Option) (*cartage.Cartage, *cartagetest.Memory, *cartagetest.Principal) {
	t.Helper()
	store := cartagetest.NewMemory(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	principal := cartagetest.NewPrincipal("alice")
	return cartage.New(store, principal, opts...), store, principal
}

func TestCartage_RegisterCart(t *testing.T) {
	repo, _, _ := setupCartageTest(t)

	cart, err := repo.RegisterCart(context.Background())
	require.NoError(t, err)

	info := cart.Info()
	assert.NotEmpty(t, info.Identifier)
	assert.Equal(t, "alice", info.CreateUser)
	assert.Equal(t, "alice", info.LastModifyUser)
	assert.False(t, info.Finalized)
	assert.False(t, info.Created.IsZero())

	exists, err := repo.CartExists(context.Background(), info.Identifier)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCartage_RegisterCart_UniqueIdentifiers(t *testing.T) {
	repo, _, _ := setupCartageTest(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		cart, err := repo.RegisterCart(context.Background())
		require.NoError(t, err)
		assert.False(t, seen[cart.Identifier()], "identifier reused: %s", cart.Identifier())
		seen[cart.Identifier()] = true
	}
}

func TestCartage_RegisterCart_RetriesOnCollision(t *testing.T) {
	repo, _, _ := setupCartageTest(t, cartage.WithCartIDGenerator(sequence("taken", "taken", "fresh")))

	_, err := repo.RegisterCartWithID(context.Background(), "taken")
	require.NoError(t, err)

	cart, err := repo.RegisterCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", cart.Identifier())
}

func TestCartage_RegisterCart_StopsWhenContextDone(t *testing.T) {
	repo, _, _ := setupCartageTest(t, cartage.WithCartIDGenerator(sequence("taken")))

	_, err := repo.RegisterCartWithID(context.Background(), "taken")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = repo.RegisterCart(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCartage_RegisterCartWithID_Duplicate(t *testing.T) {
	repo, store, _ := setupCartageTest(t)

	_, err := repo.RegisterCartWithID(context.Background(), "cart-1")
	require.NoError(t, err)
	before := store.Snapshot()

	_, err = repo.RegisterCartWithID(context.Background(), "cart-1")
	assert.ErrorIs(t, err, cartage.ErrCartExists)
	assert.True(t, cartage.IsKind(err, cartage.KindCartExists))
	assert.Equal(t, before, store.Snapshot())
}

func TestCartage_GetCart(t *testing.T) {
	repo, _, _ := setupCartageTest(t)

	registered, err := repo.RegisterCartWithID(context.Background(), "cart-1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "Existing cart", id: "cart-1"},
		{name: "Unknown cart", id: "cart-404", wantErr: cartage.ErrCartNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart, err := repo.GetCart(context.Background(), tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, cart)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, registered.Info(), cart.Info())
		})
	}
}

func TestCartage_CartExists(t *testing.T) {
	repo, _, _ := setupCartageTest(t)

	exists, err := repo.CartExists(context.Background(), "cart-1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.RegisterCartWithID(context.Background(), "cart-1")
	require.NoError(t, err)

	exists, err = repo.CartExists(context.Background(), "cart-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCartage_GetCarts(t *testing.T) {
	repo, store, _ := setupCartageTest(t)
	day := func(d int) time.Time { return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC) }

	for _, c := range []struct {
		id       string
		created  time.Time
		modified time.Time
	}{
		{"early-stale", day(1), day(2)},
		{"early-fresh", day(1), day(20)},
		{"late-stale", day(10), day(11)},
		{"late-fresh", day(10), day(21)},
	} {
		_, err := repo.RegisterCartWithID(context.Background(), c.id)
		require.NoError(t, err)
		store.SetTimestamps(c.id, c.created, c.modified)
	}

	early := &cartage.Range{Start: day(1), End: day(5)}
	fresh := &cartage.Range{Start: day(15), End: day(25)}
	exact := &cartage.Range{Start: day(10), End: day(10)}

	tests := []struct {
		name         string
		creation     *cartage.Range
		modification *cartage.Range
		want         []string
	}{
		{name: "No filter", want: []string{"early-stale", "early-fresh", "late-stale", "late-fresh"}},
		{name: "Creation only", creation: early, want: []string{"early-stale", "early-fresh"}},
		{name: "Modification only", modification: fresh, want: []string{"early-fresh", "late-fresh"}},
		{name: "Both ranges", creation: early, modification: fresh, want: []string{"early-fresh"}},
		{name: "Inclusive bounds", creation: exact, want: []string{"late-stale", "late-fresh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts, err := repo.GetCarts(context.Background(), tt.creation, tt.modification)
			require.NoError(t, err)

			var ids []string
			for _, c := range carts {
				ids = append(ids, c.Identifier)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestCartage_GetCarts_AuthorizationContext(t *testing.T) {
	repo, _, principal := setupCartageTest(t)

	creation := &cartage.Range{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
	}
	_, err := repo.GetCarts(context.Background(), creation, nil)
	require.NoError(t, err)

	checks := principal.Checks()
	require.Len(t, checks, 1)
	assert.Equal(t, cartage.ActionGetCartList, checks[0].Action)
	assert.Equal(t, map[string]string{
		"parameters.creationPeriod.start": "2024-01-01 00:00:00Z",
		"parameters.creationPeriod.end":   "2024-01-31 23:59:59Z",
	}, checks[0].Context)
}

func TestCartage_DeleteCart(t *testing.T) {
	repo, store, _ := setupCartageTest(t)
	ctx := context.Background()

	cart, err := repo.RegisterCartWithID(ctx, "cart-1")
	require.NoError(t, err)
	_, err = cart.AddItems(ctx, "A", decimal.NewFromInt(2), map[string]string{"size": "M"})
	require.NoError(t, err)
	_, err = cart.AddItems(ctx, "B", decimal.NewFromInt(1), nil)
	require.NoError(t, err)
	_, err = repo.RegisterCartWithID(ctx, "cart-2")
	require.NoError(t, err)

	err = repo.DeleteCart(ctx, "cart-1")
	require.NoError(t, err)

	state := store.Snapshot()
	assert.NotContains(t, state, "cart-1")
	assert.Contains(t, state, "cart-2")

	_, err = repo.GetCart(ctx, "cart-1")
	assert.ErrorIs(t, err, cartage.ErrCartNotFound)
}

func TestCartage_DeleteCart_Unknown(t *testing.T) {
	repo, store, _ := setupCartageTest(t)

	_, err := repo.RegisterCartWithID(context.Background(), "cart-1")
	require.NoError(t, err)
	before := store.Snapshot()
	store.ResetCalls()

	err = repo.DeleteCart(context.Background(), "cart-404")
	assert.NoError(t, err)
	assert.Equal(t, before, store.Snapshot())
	assert.Equal(t, []string{"Session", "CartExists", "Close"}, store.Calls())
}

func TestCartage_DeleteCart_RollsBackOnStoreFailure(t *testing.T) {
	repo, store, _ := setupCartageTest(t)
	ctx := context.Background()

	cart, err := repo.RegisterCartWithID(ctx, "cart-1")
	require.NoError(t, err)
	_, err = cart.AddItems(ctx, "A", decimal.NewFromInt(2), nil)
	require.NoError(t, err)
	before := store.Snapshot()

	store.FailOn("DeleteCart", errStoreDown)
	store.ResetCalls()

	err = repo.DeleteCart(ctx, "cart-1")
	assert.Same(t, errStoreDown, err)
	assert.Equal(t, before, store.Snapshot())
	assert.Contains(t, store.Calls(), "RollbackTransaction")
	assert.NotContains(t, store.Calls(), "CommitTransaction")
	assert.Equal(t, "Close", store.Calls()[len(store.Calls())-1])
}

func TestCartage_NotAuthorized(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		action string
		call   func(repo *cartage.Cartage) error
	}{
		{"CartExists", cartage.ActionCartExists, func(repo *cartage.Cartage) error {
			_, err := repo.CartExists(ctx, "cart-1")
			return err
		}},
		{"RegisterCart", cartage.ActionRegisterCart, func(repo *cartage.Cartage) error {
			_, err := repo.RegisterCart(ctx)
			return err
		}},
		{"RegisterCartWithID", cartage.ActionRegisterCart, func(repo *cartage.Cartage) error {
			_, err := repo.RegisterCartWithID(ctx, "cart-2")
			return err
		}},
		{"GetCart", cartage.ActionGetCart, func(repo *cartage.Cartage) error {
			_, err := repo.GetCart(ctx, "cart-1")
			return err
		}},
		{"GetCarts", cartage.ActionGetCartList, func(repo *cartage.Cartage) error {
			_, err := repo.GetCarts(ctx, nil, nil)
			return err
		}},
		{"DeleteCart", cartage.ActionDeleteCart, func(repo *cartage.Cartage) error {
			return repo.DeleteCart(ctx, "cart-1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, store, principal := setupCartageTest(t)
			_, err := repo.RegisterCartWithID(ctx, "cart-1")
			require.NoError(t, err)
			before := store.Snapshot()
			store.ResetCalls()

			principal.Deny(tt.action)
			err = tt.call(repo)

			assert.ErrorIs(t, err, cartage.ErrNotAuthorized)
			assert.Empty(t, store.Calls())
			assert.Equal(t, before, store.Snapshot())
		})
	}
}

func TestCartage_SessionOpenFailure(t *testing.T) {
	repo, store, _ := setupCartageTest(t)
	store.FailOn("Session", errStoreDown)

	_, err := repo.CartExists(context.Background(), "cart-1")
	assert.Same(t, errStoreDown, err)
}
