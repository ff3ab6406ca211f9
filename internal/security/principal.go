// Package security supplies the cartage identity and authorization
// collaborators: JWT-backed principals evaluated against a role policy.
package security

import (
	"context"

	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
)

// Roles known to DefaultPolicy.
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
	RoleAuditor  = "auditor"
	RoleJanitor  = "janitor"
)

// Wildcard grants every action.
const Wildcard = "*"

// Policy maps a role to the actions it may perform.
type Policy map[string][]string

// DefaultPolicy lets customers work on carts, auditors read everything,
// janitors list and delete, and admins do anything.
func DefaultPolicy() Policy {
	return Policy{
		RoleAdmin: {Wildcard},
		RoleCustomer: {
			cartage.ActionCartExists,
			cartage.ActionRegisterCart,
			cartage.ActionGetCart,
			cartage.ActionAddItems,
			cartage.ActionUpdateLine,
			cartage.ActionSetLineAttribute,
			cartage.ActionDeleteLineAttribute,
			cartage.ActionRemoveLine,
			cartage.ActionGetLine,
			cartage.ActionGetLines,
			cartage.ActionGetSummary,
			cartage.ActionClear,
			cartage.ActionFinalize,
		},
		RoleAuditor: {
			cartage.ActionCartExists,
			cartage.ActionGetCart,
			cartage.ActionGetCartList,
			cartage.ActionGetLine,
			cartage.ActionGetLines,
			cartage.ActionGetSummary,
		},
		RoleJanitor: {
			cartage.ActionCartExists,
			cartage.ActionGetCartList,
			cartage.ActionDeleteCart,
		},
	}
}

// Allows reports whether any of roles grants action.
func (p Policy) Allows(roles []string, action string) bool {
	for _, role := range roles {
		for _, granted := range p[role] {
			if granted == Wildcard || granted == action {
				return true
			}
		}
	}
	return false
}

// Principal is an authenticated user whose roles are checked against a policy.
// With ownership enabled, a principal allowed an action only through the
// customer role may run it only against carts it created.
type Principal struct {
	id     string
	roles  []string
	policy Policy
	owners OwnerResolver
}

// OwnerResolver looks up the user that created a cart.
type OwnerResolver interface {
	CartOwner(cart string) (owner string, found bool, err error)
}

var _ cartage.User = (*Principal)(nil)

func NewPrincipal(id string, roles []string, policy Policy) *Principal {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Principal{id: id, roles: append([]string(nil), roles...), policy: policy}
}

// FromClaims builds the principal a validated token speaks for.
func FromClaims(claims *Claims, policy Policy) *Principal {
	return NewPrincipal(claims.UserID, claims.Roles, policy)
}

// System returns a principal holding every permission, for operator tooling.
func System(name string) *Principal {
	return NewPrincipal(name, []string{RoleAdmin}, DefaultPolicy())
}

// Anonymous returns a principal without roles; it is denied everything.
func Anonymous() *Principal {
	return NewPrincipal("anonymous", nil, Policy{})
}

func (p *Principal) Identity() cartage.Identity {
	return cartage.Identity{Identifier: p.id}
}

func (p *Principal) Roles() []string {
	return append([]string(nil), p.roles...)
}

// WithOwnership returns a copy of p that also checks cart ownership.
func (p *Principal) WithOwnership(owners OwnerResolver) *Principal {
	c := *p
	c.owners = owners
	return &c
}

// UserIsAuthorized checks action against the policy. When ownership is
// enabled and objects names a cart, customers are further limited to carts
// they created; a cart that does not exist yet is not owned by anyone.
func (p *Principal) UserIsAuthorized(action string, objects []string, context map[string]string) bool {
	if !p.policy.Allows(p.roles, action) {
		return false
	}
	if p.owners == nil || len(objects) == 0 || p.privileged(action) {
		return true
	}

	owner, found, err := p.owners.CartOwner(objects[0])
	if err != nil {
		logger.Warn("Failed to resolve cart owner", map[string]interface{}{
			"cart_id": objects[0],
			"user":    p.id,
			"error":   err.Error(),
		})
		return false
	}
	return !found || owner == p.id
}

// privileged reports whether a role other than customer grants action.
func (p *Principal) privileged(action string) bool {
	for _, role := range p.roles {
		if role != RoleCustomer && p.policy.Allows([]string{role}, action) {
			return true
		}
	}
	return false
}

// StoreOwners resolves cart owners from the create user recorded in a store.
type StoreOwners struct {
	ctx      context.Context
	provider cartage.StoreProvider
}

var _ OwnerResolver = StoreOwners{}

func NewStoreOwners(ctx context.Context, provider cartage.StoreProvider) StoreOwners {
	return StoreOwners{ctx: ctx, provider: provider}
}

func (o StoreOwners) CartOwner(cart string) (string, bool, error) {
	store, err := o.provider.Session(o.ctx)
	if err != nil {
		return "", false, err
	}
	defer store.Close()

	info, found, err := store.GetCart(cart)
	if err != nil || !found {
		return "", false, err
	}
	return info.CreateUser, true, nil
}

// Manager is a SecurityManager with a fixed current user.
type Manager struct {
	user cartage.User
}

var _ cartage.SecurityManager = Manager{}

func NewManager(user cartage.User) Manager {
	return Manager{user: user}
}

func (m Manager) CurrentUser() cartage.User {
	return m.user
}
