package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ikkim/cartage/internal/app/model"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTransactionState is returned when a transaction is begun twice or
// committed without being begun.
var ErrTransactionState = errors.New("repository: invalid transaction state")

// ErrQuantityScale is returned when a quantity has more fractional digits
// than the quantity column keeps.
var ErrQuantityScale = fmt.Errorf("repository: quantity exceeds %d fractional digits", model.QuantityScale)

func checkQuantity(quantity decimal.Decimal) error {
	if !model.FitsQuantityScale(quantity) {
		return fmt.Errorf("quantity %s: %w", quantity.String(), ErrQuantityScale)
	}
	return nil
}

// CartStoreProvider opens cartage store sessions on a relational database.
type CartStoreProvider struct {
	db  *gorm.DB
	now func() time.Time
}

type CartStoreOption func(*CartStoreProvider)

// WithClock overrides the time source used for created and modified stamps.
func WithClock(now func() time.Time) CartStoreOption {
	return func(p *CartStoreProvider) { p.now = now }
}

var _ cartage.StoreProvider = (*CartStoreProvider)(nil)

func NewCartStoreProvider(db *gorm.DB, opts ...CartStoreOption) *CartStoreProvider {
	p := &CartStoreProvider{db: db, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *CartStoreProvider) Session(ctx context.Context) (cartage.Store, error) {
	return &cartSession{db: p.db.WithContext(ctx), now: p.now}, nil
}

type cartSession struct {
	db  *gorm.DB
	tx  *gorm.DB
	now func() time.Time
}

func (s *cartSession) conn() *gorm.DB {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// write runs fn on the open transaction, or in a transaction of its own.
func (s *cartSession) write(fn func(db *gorm.DB) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.Transaction(fn)
}

func (s *cartSession) stamp() time.Time {
	return s.now().UTC()
}

// touch records user as the last modifier of cart.
func (s *cartSession) touch(db *gorm.DB, cart, user string) error {
	result := db.Model(&model.Cart{}).
		Where("id = ?", cart).
		Updates(map[string]interface{}{
			"last_modified":    s.stamp(),
			"last_modify_user": user,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("cart %q: %w", cart, gorm.ErrRecordNotFound)
	}
	return nil
}

func (s *cartSession) CartExists(id string) (bool, error) {
	var count int64
	if err := s.conn().Model(&model.Cart{}).Where("id = ?", id).Count(&count).Error; err != nil {
		logger.Error("Failed to check cart existence in database", err, map[string]interface{}{
			"cart_id": id,
		})
		return false, err
	}
	return count > 0, nil
}

func (s *cartSession) RegisterCart(id, user string) error {
	logger.Debug("Creating cart in database", map[string]interface{}{
		"cart_id": id,
		"user":    user,
	})

	now := s.stamp()
	cart := &model.Cart{
		ID:             id,
		CreatedAt:      now,
		CreateUser:     user,
		LastModified:   now,
		LastModifyUser: user,
	}
	if err := s.conn().Create(cart).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &cartage.Error{Kind: cartage.KindCartExists, Op: "repository.RegisterCart", Message: fmt.Sprintf("cart %q already exists", id)}
		}
		logger.Error("Failed to create cart in database", err, map[string]interface{}{
			"cart_id": id,
		})
		return err
	}

	logger.Debug("Cart created in database", map[string]interface{}{
		"cart_id": id,
	})
	return nil
}

func (s *cartSession) DeleteCart(id, user string) error {
	logger.Debug("Deleting cart from database", map[string]interface{}{
		"cart_id": id,
		"user":    user,
	})

	err := s.write(func(db *gorm.DB) error {
		if err := db.Where("cart_id = ?", id).Delete(&model.CartLineAttribute{}).Error; err != nil {
			return err
		}
		if err := db.Where("cart_id = ?", id).Delete(&model.CartLine{}).Error; err != nil {
			return err
		}
		return db.Where("id = ?", id).Delete(&model.Cart{}).Error
	})
	if err != nil {
		logger.Error("Failed to delete cart from database", err, map[string]interface{}{
			"cart_id": id,
		})
		return err
	}
	return nil
}

func (s *cartSession) GetCart(id string) (cartage.CartInfo, bool, error) {
	var cart model.Cart
	err := s.conn().Where("id = ?", id).First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cartage.CartInfo{}, false, nil
	}
	if err != nil {
		logger.Error("Failed to find cart in database", err, map[string]interface{}{
			"cart_id": id,
		})
		return cartage.CartInfo{}, false, err
	}
	return toCartInfo(cart), true, nil
}

func (s *cartSession) GetCarts(creation, modification *cartage.Range) ([]cartage.CartInfo, error) {
	query := s.conn().Model(&model.Cart{})
	if creation != nil {
		query = query.Where("created_at >= ? AND created_at <= ?", creation.Start.UTC(), creation.End.UTC())
	}
	if modification != nil {
		query = query.Where("last_modified >= ? AND last_modified <= ?", modification.Start.UTC(), modification.End.UTC())
	}

	var carts []model.Cart
	if err := query.Order("created_at ASC").Order("id ASC").Find(&carts).Error; err != nil {
		logger.Error("Failed to list carts from database", err, nil)
		return nil, err
	}

	infos := make([]cartage.CartInfo, 0, len(carts))
	for _, c := range carts {
		infos = append(infos, toCartInfo(c))
	}

	logger.Debug("Carts listed from database", map[string]interface{}{
		"count": len(infos),
	})
	return infos, nil
}

func (s *cartSession) InsertLine(cart, id, productCode string, quantity decimal.Decimal, user string) error {
	logger.Debug("Creating cart line in database", map[string]interface{}{
		"cart_id":      cart,
		"line_id":      id,
		"product_code": productCode,
		"quantity":     quantity.String(),
	})
	if err := checkQuantity(quantity); err != nil {
		return err
	}

	return s.write(func(db *gorm.DB) error {
		line := &model.CartLine{
			CartID:      cart,
			ID:          id,
			ProductCode: productCode,
			Quantity:    quantity,
			CreatedAt:   s.stamp(),
		}
		if err := db.Create(line).Error; err != nil {
			logger.Error("Failed to create cart line in database", err, map[string]interface{}{
				"cart_id": cart,
				"line_id": id,
			})
			return err
		}
		return s.touch(db, cart, user)
	})
}

func (s *cartSession) UpdateLine(cart, id string, quantity decimal.Decimal, user string) error {
	if err := checkQuantity(quantity); err != nil {
		return err
	}
	return s.write(func(db *gorm.DB) error {
		result := db.Model(&model.CartLine{}).
			Where("cart_id = ? AND id = ?", cart, id).
			Update("quantity", quantity)
		if result.Error != nil {
			logger.Error("Failed to update cart line in database", result.Error, map[string]interface{}{
				"cart_id": cart,
				"line_id": id,
			})
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("line %q of cart %q: %w", id, cart, gorm.ErrRecordNotFound)
		}
		return s.touch(db, cart, user)
	})
}

func (s *cartSession) DeleteLine(cart, id, user string) error {
	return s.write(func(db *gorm.DB) error {
		if err := db.Where("cart_id = ? AND line_id = ?", cart, id).Delete(&model.CartLineAttribute{}).Error; err != nil {
			return err
		}
		if err := db.Where("cart_id = ? AND id = ?", cart, id).Delete(&model.CartLine{}).Error; err != nil {
			return err
		}
		return s.touch(db, cart, user)
	})
}

func (s *cartSession) DeleteLines(cart, user string) error {
	return s.write(func(db *gorm.DB) error {
		if err := db.Where("cart_id = ?", cart).Delete(&model.CartLineAttribute{}).Error; err != nil {
			return err
		}
		if err := db.Where("cart_id = ?", cart).Delete(&model.CartLine{}).Error; err != nil {
			return err
		}
		return s.touch(db, cart, user)
	})
}

func (s *cartSession) LineExists(cart, id string) (bool, error) {
	var count int64
	err := s.conn().Model(&model.CartLine{}).
		Where("cart_id = ? AND id = ?", cart, id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *cartSession) GetLine(cart, id string) (cartage.LineInfo, error) {
	var line model.CartLine
	if err := s.conn().Where("cart_id = ? AND id = ?", cart, id).First(&line).Error; err != nil {
		logger.Error("Failed to find cart line in database", err, map[string]interface{}{
			"cart_id": cart,
			"line_id": id,
		})
		return cartage.LineInfo{}, err
	}
	return toLineInfo(line), nil
}

func (s *cartSession) GetLines(cart string) ([]cartage.LineInfo, error) {
	var lines []model.CartLine
	err := s.conn().Where("cart_id = ?", cart).
		Order("created_at ASC").
		Order("id ASC").
		Find(&lines).Error
	if err != nil {
		logger.Error("Failed to find cart lines in database", err, map[string]interface{}{
			"cart_id": cart,
		})
		return nil, err
	}

	infos := make([]cartage.LineInfo, 0, len(lines))
	for _, l := range lines {
		infos = append(infos, toLineInfo(l))
	}
	return infos, nil
}

func (s *cartSession) InsertLineAttribute(cart, line, name, value, user string) error {
	return s.write(func(db *gorm.DB) error {
		attr := &model.CartLineAttribute{CartID: cart, LineID: line, Name: name, Value: value}
		if err := db.Create(attr).Error; err != nil {
			return err
		}
		return s.touch(db, cart, user)
	})
}

func (s *cartSession) SetLineAttribute(cart, line, name, value, user string) error {
	return s.write(func(db *gorm.DB) error {
		attr := &model.CartLineAttribute{CartID: cart, LineID: line, Name: name, Value: value}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cart_id"}, {Name: "line_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(attr).Error
		if err != nil {
			return err
		}
		return s.touch(db, cart, user)
	})
}

func (s *cartSession) DeleteLineAttribute(cart, line, name, user string) error {
	return s.write(func(db *gorm.DB) error {
		err := db.Where("cart_id = ? AND line_id = ? AND name = ?", cart, line, name).
			Delete(&model.CartLineAttribute{}).Error
		if err != nil {
			return err
		}
		return s.touch(db, cart, user)
	})
}

func (s *cartSession) GetLineAttributes(cart, line string) (map[string]cartage.AttributeInfo, error) {
	var attrs []model.CartLineAttribute
	if err := s.conn().Where("cart_id = ? AND line_id = ?", cart, line).Find(&attrs).Error; err != nil {
		return nil, err
	}

	out := make(map[string]cartage.AttributeInfo, len(attrs))
	for _, a := range attrs {
		out[a.Name] = cartage.AttributeInfo{Name: a.Name, Value: a.Value}
	}
	return out, nil
}

func (s *cartSession) SetCartFinalized(cart, user string) error {
	logger.Debug("Finalizing cart in database", map[string]interface{}{
		"cart_id": cart,
		"user":    user,
	})

	return s.write(func(db *gorm.DB) error {
		if err := db.Model(&model.Cart{}).Where("id = ?", cart).Update("finalized", true).Error; err != nil {
			return err
		}
		return s.touch(db, cart, user)
	})
}

func (s *cartSession) BeginTransaction() error {
	if s.tx != nil {
		return ErrTransactionState
	}
	tx := s.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	s.tx = tx
	return nil
}

func (s *cartSession) CommitTransaction() error {
	if s.tx == nil {
		return ErrTransactionState
	}
	err := s.tx.Commit().Error
	if err != nil {
		return err
	}
	s.tx = nil
	return nil
}

func (s *cartSession) RollbackTransaction() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback().Error
}

// Close rolls back a transaction left open. Connections return to the pool.
func (s *cartSession) Close() error {
	return s.RollbackTransaction()
}

func toCartInfo(c model.Cart) cartage.CartInfo {
	return cartage.CartInfo{
		Identifier:     c.ID,
		Created:        c.CreatedAt.UTC(),
		CreateUser:     c.CreateUser,
		LastModified:   c.LastModified.UTC(),
		LastModifyUser: c.LastModifyUser,
		Finalized:      c.Finalized,
	}
}

func toLineInfo(l model.CartLine) cartage.LineInfo {
	return cartage.LineInfo{
		Identifier:  l.ID,
		ProductCode: l.ProductCode,
		Quantity:    l.Quantity,
	}
}
