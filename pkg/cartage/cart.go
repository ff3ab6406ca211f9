package cartage

import (
	"context"

	"github.com/ikkim/cartage/pkg/logger"
	"github.com/shopspring/decimal"
)

// Cart is the aggregate for a single registered cart. It caches the cart
// snapshot and refreshes it from the store after every successful write.
//
// A Cart is not safe for concurrent use; concurrent writers on the same cart
// through different Cart values observe last-writer-wins semantics.
type Cart struct {
	provider  StoreProvider
	security  SecurityManager
	newLineID IDGenerator
	info      CartInfo
}

// Info returns the cached cart snapshot.
func (c *Cart) Info() CartInfo {
	return c.info
}

// Identifier is shorthand for Info().Identifier.
func (c *Cart) Identifier() string {
	return c.info.Identifier
}

func (c *Cart) authorize(op, action string, objects ...string) error {
	return authorize(c.security, op, action, append([]string{c.info.Identifier}, objects...), nil)
}

// ensureOpen fails fast, before any store access, when the cart is finalized.
func (c *Cart) ensureOpen(op string) error {
	if !c.info.Finalized {
		return nil
	}
	logger.Warn("Mutation rejected: cart is finalized", map[string]interface{}{
		"op":      op,
		"cart_id": c.info.Identifier,
	})
	return newError(KindCartFinalized, op, "cart %q is finalized", c.info.Identifier)
}

// mutate runs fn inside one transaction of one session and reloads the
// snapshot once the transaction has committed.
func (c *Cart) mutate(ctx context.Context, op string, fn func(store Store, user string) error) error {
	user := currentUser(c.security)
	id := c.info.Identifier

	err := withSession(ctx, c.provider, op, func(store Store) error {
		if err := inTransaction(store, op, func() error { return fn(store, user) }); err != nil {
			return err
		}
		info, err := loadInfo(store, op, id)
		if err != nil {
			return err
		}
		c.info = info
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			logger.Error("Cart mutation failed", err, map[string]interface{}{
				"op":      op,
				"cart_id": id,
			})
		}
		return err
	}
	return nil
}

// AddItems adds a new line for productCode with the given quantity and
// attributes and returns its identifier. Lines for the same product are never
// merged. A negative quantity is stored as zero.
func (c *Cart) AddItems(ctx context.Context, productCode string, quantity decimal.Decimal, attributes map[string]string) (string, error) {
	const op = "cart.AddItems"

	if err := c.authorize(op, ActionAddItems); err != nil {
		return "", err
	}
	if err := c.ensureOpen(op); err != nil {
		return "", err
	}

	lineID := c.newLineID()
	quantity = clampQuantity(quantity)

	err := c.mutate(ctx, op, func(store Store, user string) error {
		if err := store.InsertLine(c.info.Identifier, lineID, productCode, quantity, user); err != nil {
			return err
		}
		for name, value := range attributes {
			if err := store.InsertLineAttribute(c.info.Identifier, lineID, name, value, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.Debug("Items added to cart", map[string]interface{}{
		"cart_id":      c.info.Identifier,
		"line_id":      lineID,
		"product_code": productCode,
		"quantity":     quantity.String(),
		"attributes":   len(attributes),
	})
	return lineID, nil
}

// UpdateLine sets the quantity of a line and replaces its attributes with
// attributes: stored attributes missing from it are deleted, the rest are
// upserted. A negative quantity is stored as zero.
func (c *Cart) UpdateLine(ctx context.Context, lineID string, quantity decimal.Decimal, attributes map[string]string) error {
	const op = "cart.UpdateLine"

	if err := c.authorize(op, ActionUpdateLine, lineID); err != nil {
		return err
	}
	if err := c.ensureOpen(op); err != nil {
		return err
	}

	quantity = clampQuantity(quantity)

	err := c.mutate(ctx, op, func(store Store, user string) error {
		if err := c.requireLine(store, op, lineID); err != nil {
			return err
		}
		if err := store.UpdateLine(c.info.Identifier, lineID, quantity, user); err != nil {
			return err
		}

		known, err := store.GetLineAttributes(c.info.Identifier, lineID)
		if err != nil {
			return err
		}
		for name := range known {
			if _, keep := attributes[name]; keep {
				continue
			}
			if err := store.DeleteLineAttribute(c.info.Identifier, lineID, name, user); err != nil {
				return err
			}
		}

		for name, value := range attributes {
			if err := store.SetLineAttribute(c.info.Identifier, lineID, name, value, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Cart line updated", map[string]interface{}{
		"cart_id":  c.info.Identifier,
		"line_id":  lineID,
		"quantity": quantity.String(),
	})
	return nil
}

// SetLineAttribute inserts or updates a single attribute of a line.
func (c *Cart) SetLineAttribute(ctx context.Context, lineID, name, value string) error {
	const op = "cart.SetLineAttribute"

	if err := c.authorize(op, ActionSetLineAttribute, lineID); err != nil {
		return err
	}
	if err := c.ensureOpen(op); err != nil {
		return err
	}

	return c.mutate(ctx, op, func(store Store, user string) error {
		if err := c.requireLine(store, op, lineID); err != nil {
			return err
		}
		return store.SetLineAttribute(c.info.Identifier, lineID, name, value, user)
	})
}

// DeleteLineAttribute removes a single attribute of a line.
func (c *Cart) DeleteLineAttribute(ctx context.Context, lineID, name string) error {
	const op = "cart.DeleteLineAttribute"

	if err := c.authorize(op, ActionDeleteLineAttribute, lineID); err != nil {
		return err
	}
	if err := c.ensureOpen(op); err != nil {
		return err
	}

	return c.mutate(ctx, op, func(store Store, user string) error {
		if err := c.requireLine(store, op, lineID); err != nil {
			return err
		}
		return store.DeleteLineAttribute(c.info.Identifier, lineID, name, user)
	})
}

// RemoveLine deletes a line and its attributes. Removing an unknown line is a
// no-op.
func (c *Cart) RemoveLine(ctx context.Context, lineID string) error {
	const op = "cart.RemoveLine"

	if err := c.authorize(op, ActionRemoveLine, lineID); err != nil {
		return err
	}
	if err := c.ensureOpen(op); err != nil {
		return err
	}

	return c.mutate(ctx, op, func(store Store, user string) error {
		exists, err := store.LineExists(c.info.Identifier, lineID)
		if err != nil || !exists {
			return err
		}
		return store.DeleteLine(c.info.Identifier, lineID, user)
	})
}

func (c *Cart) requireLine(store Store, op, lineID string) error {
	exists, err := store.LineExists(c.info.Identifier, lineID)
	if err != nil {
		return err
	}
	if !exists {
		return newError(KindLineNotFound, op, "line %q not found in cart %q", lineID, c.info.Identifier)
	}
	return nil
}

// GetLine returns the line and true, or false when the cart has no such line.
func (c *Cart) GetLine(ctx context.Context, lineID string) (Line, bool, error) {
	const op = "cart.GetLine"

	if err := c.authorize(op, ActionGetLine, lineID); err != nil {
		return Line{}, false, err
	}

	var (
		line  Line
		found bool
	)
	err := withSession(ctx, c.provider, op, func(store Store) error {
		exists, err := store.LineExists(c.info.Identifier, lineID)
		if err != nil || !exists {
			return err
		}
		info, err := store.GetLine(c.info.Identifier, lineID)
		if err != nil {
			return err
		}
		attributes, err := store.GetLineAttributes(c.info.Identifier, lineID)
		if err != nil {
			return err
		}
		line, found = NewLine(info, attributes), true
		return nil
	})
	if err != nil {
		logger.Error("Failed to get cart line", err, map[string]interface{}{
			"cart_id": c.info.Identifier,
			"line_id": lineID,
		})
		return Line{}, false, err
	}
	return line, found, nil
}

// GetLines returns every line of the cart.
func (c *Cart) GetLines(ctx context.Context) ([]LineInfo, error) {
	const op = "cart.GetLines"

	if err := c.authorize(op, ActionGetLines); err != nil {
		return nil, err
	}
	return c.lines(ctx, op)
}

// GetCartSummary computes the distinct product count and total quantity over
// the current lines.
func (c *Cart) GetCartSummary(ctx context.Context) (Summary, error) {
	const op = "cart.GetCartSummary"

	if err := c.authorize(op, ActionGetSummary); err != nil {
		return Summary{}, err
	}

	lines, err := c.lines(ctx, op)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(lines), nil
}

func (c *Cart) lines(ctx context.Context, op string) ([]LineInfo, error) {
	var lines []LineInfo
	err := withSession(ctx, c.provider, op, func(store Store) error {
		var err error
		lines, err = store.GetLines(c.info.Identifier)
		return err
	})
	if err != nil {
		logger.Error("Failed to get cart lines", err, map[string]interface{}{
			"op":      op,
			"cart_id": c.info.Identifier,
		})
		return nil, err
	}
	return lines, nil
}

// Clear deletes every line of the cart.
func (c *Cart) Clear(ctx context.Context) error {
	const op = "cart.Clear"

	if err := c.authorize(op, ActionClear); err != nil {
		return err
	}
	if err := c.ensureOpen(op); err != nil {
		return err
	}

	err := c.mutate(ctx, op, func(store Store, user string) error {
		return store.DeleteLines(c.info.Identifier, user)
	})
	if err != nil {
		return err
	}

	logger.Info("Cart cleared", map[string]interface{}{
		"cart_id": c.info.Identifier,
	})
	return nil
}

// MarkAsFinalized locks the cart against further content changes. Finalizing
// an already finalized cart does nothing.
func (c *Cart) MarkAsFinalized(ctx context.Context) error {
	const op = "cart.MarkAsFinalized"

	if err := c.authorize(op, ActionFinalize); err != nil {
		return err
	}
	if c.info.Finalized {
		return nil
	}

	err := c.mutate(ctx, op, func(store Store, user string) error {
		return store.SetCartFinalized(c.info.Identifier, user)
	})
	if err != nil {
		return err
	}

	logger.Info("Cart finalized", map[string]interface{}{
		"cart_id": c.info.Identifier,
		"user":    c.info.LastModifyUser,
	})
	return nil
}

// Refresh reloads the cached snapshot from the store.
func (c *Cart) Refresh(ctx context.Context) error {
	const op = "cart.Refresh"

	if err := c.authorize(op, ActionGetCart); err != nil {
		return err
	}

	return withSession(ctx, c.provider, op, func(store Store) error {
		info, err := loadInfo(store, op, c.info.Identifier)
		if err != nil {
			return err
		}
		c.info = info
		return nil
	})
}
