// Package cartage implements shopping carts over a pluggable transactional
// store. Cartage registers, finds and deletes carts; Cart mutates the lines and
// attributes of a single cart. Every operation is gated by the caller's
// SecurityManager.
package cartage

import (
	"context"

	"github.com/ikkim/cartage/pkg/logger"
)

const periodLayout = "2006-01-02 15:04:05Z"

// Cartage is the cart repository.
type Cartage struct {
	provider  StoreProvider
	security  SecurityManager
	newCartID IDGenerator
	newLineID IDGenerator
}

// Option customizes a Cartage.
type Option func(*Cartage)

// WithCartIDGenerator replaces the ULID cart identifier generator.
func WithCartIDGenerator(gen IDGenerator) Option {
	return func(c *Cartage) { c.newCartID = gen }
}

// WithLineIDGenerator replaces the UUID line identifier generator.
func WithLineIDGenerator(gen IDGenerator) Option {
	return func(c *Cartage) { c.newLineID = gen }
}

// New returns a Cartage whose carts are stored through provider and whose
// operations run on behalf of security.CurrentUser().
func New(provider StoreProvider, security SecurityManager, opts ...Option) *Cartage {
	c := &Cartage{
		provider:  provider,
		security:  security,
		newCartID: NewCartIDGenerator(),
		newLineID: NewLineIDGenerator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cartage) authorize(op, action string, objects []string, context map[string]string) error {
	return authorize(c.security, op, action, objects, context)
}

func (c *Cartage) user() string {
	return currentUser(c.security)
}

func authorize(security SecurityManager, op, action string, objects []string, context map[string]string) error {
	if security.CurrentUser().UserIsAuthorized(action, objects, context) {
		return nil
	}
	user := currentUser(security)
	logger.Warn("Operation not authorized", map[string]interface{}{
		"op":      op,
		"action":  action,
		"objects": objects,
		"user":    user,
	})
	return newError(KindNotAuthorized, op, "user %q may not %s", user, action)
}

func currentUser(security SecurityManager) string {
	return security.CurrentUser().Identity().Identifier
}

// CartExists reports whether a cart with id is registered.
func (c *Cartage) CartExists(ctx context.Context, id string) (bool, error) {
	const op = "cartage.CartExists"

	if err := c.authorize(op, ActionCartExists, []string{id}, nil); err != nil {
		return false, err
	}

	var exists bool
	err := withSession(ctx, c.provider, op, func(store Store) error {
		var err error
		exists, err = store.CartExists(id)
		return err
	})
	if err != nil {
		logger.Error("Failed to check cart existence", err, map[string]interface{}{
			"cart_id": id,
		})
		return false, err
	}
	return exists, nil
}

// RegisterCart registers a cart under a freshly generated identifier,
// generating another one whenever the identifier is already taken.
func (c *Cartage) RegisterCart(ctx context.Context) (*Cart, error) {
	const op = "cartage.RegisterCart"

	if err := c.authorize(op, ActionRegisterCart, nil, nil); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := c.newCartID()
		cart, err := c.RegisterCartWithID(ctx, id)
		if IsKind(err, KindCartExists) {
			logger.Debug("Cart identifier collision, retrying", map[string]interface{}{
				"cart_id": id,
			})
			continue
		}
		return cart, err
	}
}

// RegisterCartWithID registers a cart under id. It fails with CartExists when
// id is already registered.
func (c *Cartage) RegisterCartWithID(ctx context.Context, id string) (*Cart, error) {
	const op = "cartage.RegisterCartWithID"

	if err := c.authorize(op, ActionRegisterCart, []string{id}, nil); err != nil {
		return nil, err
	}

	user := c.user()
	var info CartInfo
	err := withSession(ctx, c.provider, op, func(store Store) error {
		err := inTransaction(store, op, func() error {
			exists, err := store.CartExists(id)
			if err != nil {
				return err
			}
			if exists {
				return newError(KindCartExists, op, "cart %q already exists", id)
			}
			return store.RegisterCart(id, user)
		})
		if err != nil {
			return err
		}

		info, err = loadInfo(store, op, id)
		return err
	})
	if err != nil {
		if !IsKind(err, KindCartExists) {
			logger.Error("Failed to register cart", err, map[string]interface{}{
				"cart_id": id,
			})
		}
		return nil, err
	}

	logger.Info("Cart registered", map[string]interface{}{
		"cart_id": id,
		"user":    user,
	})
	return c.newCart(info), nil
}

// GetCart returns the cart registered under id, or a CartNotFound error.
func (c *Cartage) GetCart(ctx context.Context, id string) (*Cart, error) {
	const op = "cartage.GetCart"

	if err := c.authorize(op, ActionGetCart, []string{id}, nil); err != nil {
		return nil, err
	}

	var info CartInfo
	err := withSession(ctx, c.provider, op, func(store Store) error {
		exists, err := store.CartExists(id)
		if err != nil {
			return err
		}
		if !exists {
			return newError(KindCartNotFound, op, "cart %q is not known", id)
		}
		info, err = loadInfo(store, op, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.newCart(info), nil
}

// GetCarts lists carts created within creation and last modified within
// modification. A nil range does not filter.
func (c *Cartage) GetCarts(ctx context.Context, creation, modification *Range) ([]CartInfo, error) {
	const op = "cartage.GetCarts"

	if err := c.authorize(op, ActionGetCartList, nil, periodContext(creation, modification)); err != nil {
		return nil, err
	}

	var carts []CartInfo
	err := withSession(ctx, c.provider, op, func(store Store) error {
		var err error
		carts, err = store.GetCarts(creation, modification)
		return err
	})
	if err != nil {
		logger.Error("Failed to list carts", err, nil)
		return nil, err
	}

	logger.Debug("Carts listed", map[string]interface{}{
		"count": len(carts),
	})
	return carts, nil
}

func periodContext(creation, modification *Range) map[string]string {
	ctx := make(map[string]string, 4)
	if creation != nil {
		ctx["parameters.creationPeriod.start"] = creation.Start.UTC().Format(periodLayout)
		ctx["parameters.creationPeriod.end"] = creation.End.UTC().Format(periodLayout)
	}
	if modification != nil {
		ctx["parameters.modificationPeriod.start"] = modification.Start.UTC().Format(periodLayout)
		ctx["parameters.modificationPeriod.end"] = modification.End.UTC().Format(periodLayout)
	}
	return ctx
}

// DeleteCart removes the cart, its lines and their attributes atomically.
// Deleting an unknown cart is a no-op.
func (c *Cartage) DeleteCart(ctx context.Context, id string) error {
	const op = "cartage.DeleteCart"

	if err := c.authorize(op, ActionDeleteCart, []string{id}, nil); err != nil {
		return err
	}

	user := c.user()
	deleted := false
	err := withSession(ctx, c.provider, op, func(store Store) error {
		exists, err := store.CartExists(id)
		if err != nil || !exists {
			return err
		}

		return inTransaction(store, op, func() error {
			lines, err := store.GetLines(id)
			if err != nil {
				return err
			}
			for _, line := range lines {
				if err := store.DeleteLine(id, line.Identifier, user); err != nil {
					return err
				}
			}
			if err := store.DeleteCart(id, user); err != nil {
				return err
			}
			deleted = true
			return nil
		})
	})
	if err != nil {
		logger.Error("Failed to delete cart", err, map[string]interface{}{
			"cart_id": id,
		})
		return err
	}

	if deleted {
		logger.Info("Cart deleted", map[string]interface{}{
			"cart_id": id,
			"user":    user,
		})
	}
	return nil
}

func (c *Cartage) newCart(info CartInfo) *Cart {
	return &Cart{
		provider:  c.provider,
		security:  c.security,
		newLineID: c.newLineID,
		info:      info,
	}
}

// loadInfo reads the cart snapshot; a vanished cart is reported as not found.
func loadInfo(store Store, op, id string) (CartInfo, error) {
	info, ok, err := store.GetCart(id)
	if err != nil {
		return CartInfo{}, err
	}
	if !ok {
		return CartInfo{}, newError(KindCartNotFound, op, "cart %q is not known", id)
	}
	return info, nil
}
