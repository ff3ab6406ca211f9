package cartage

import (
	"context"

	"github.com/shopspring/decimal"
)

// StoreProvider opens store sessions. Every Cartage or Cart operation opens
// exactly one session and closes it before returning.
type StoreProvider interface {
	Session(ctx context.Context) (Store, error)
}

// Store is a single session against the cart storage backend.
//
// Implementations must:
//   - set LastModified and LastModifyUser of the owning cart on every write;
//   - delete a line's attributes when the line is deleted;
//   - delete all lines and attributes of a cart when the cart is deleted;
//   - apply writes issued between BeginTransaction and CommitTransaction
//     atomically, and discard them on RollbackTransaction.
//
// Reads issued inside a transaction may or may not observe the writes of that
// same transaction; callers must not rely on either.
type Store interface {
	CartExists(id string) (bool, error)
	RegisterCart(id, user string) error
	DeleteCart(id, user string) error
	// GetCart returns false when the cart does not exist.
	GetCart(id string) (CartInfo, bool, error)
	GetCarts(creation, modification *Range) ([]CartInfo, error)

	InsertLine(cart, id, productCode string, quantity decimal.Decimal, user string) error
	UpdateLine(cart, id string, quantity decimal.Decimal, user string) error
	DeleteLine(cart, id, user string) error
	DeleteLines(cart, user string) error
	LineExists(cart, id string) (bool, error)
	GetLine(cart, id string) (LineInfo, error)
	GetLines(cart string) ([]LineInfo, error)

	InsertLineAttribute(cart, line, name, value, user string) error
	// SetLineAttribute inserts the attribute or updates its value.
	SetLineAttribute(cart, line, name, value, user string) error
	DeleteLineAttribute(cart, line, name, user string) error
	GetLineAttributes(cart, line string) (map[string]AttributeInfo, error)

	SetCartFinalized(cart, user string) error

	BeginTransaction() error
	CommitTransaction() error
	RollbackTransaction() error

	// Close releases the session. An open transaction is rolled back.
	Close() error
}
