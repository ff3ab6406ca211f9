package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is a registered cart. LastModified is maintained by the store on every
// write to the cart or anything it contains.
type Cart struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt      time.Time `gorm:"not null;index" json:"created_at"`
	CreateUser     string    `gorm:"size:255;not null" json:"create_user"`
	LastModified   time.Time `gorm:"not null;index" json:"last_modified"`
	LastModifyUser string    `gorm:"size:255;not null" json:"last_modify_user"`
	Finalized      bool      `gorm:"not null;default:false" json:"finalized"`
}

func (Cart) TableName() string {
	return "carts"
}

// QuantityScale is the number of fractional digits the quantity column keeps.
// The relational store rejects quantities that need more instead of letting
// the database round them.
const QuantityScale = 6

// CartLine is one product entry of a cart. Lines are never merged, so the
// same product code may appear on several lines.
type CartLine struct {
	CartID      string          `gorm:"primaryKey;size:64" json:"cart_id"`
	ID          string          `gorm:"primaryKey;size:64" json:"id"`
	ProductCode string          `gorm:"size:255;not null;index" json:"product_code"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"quantity"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

func (CartLine) TableName() string {
	return "cart_lines"
}

// FitsQuantityScale reports whether q is stored without rounding.
func FitsQuantityScale(q decimal.Decimal) bool {
	return q.Equal(q.Truncate(QuantityScale))
}

type CartLineAttribute struct {
	CartID string `gorm:"primaryKey;size:64" json:"cart_id"`
	LineID string `gorm:"primaryKey;size:64" json:"line_id"`
	Name   string `gorm:"primaryKey;size:255" json:"name"`
	Value  string `gorm:"type:text;not null" json:"value"`
}

func (CartLineAttribute) TableName() string {
	return "cart_line_attributes"
}

// CartModels lists the cart tables in creation order.
func CartModels() []interface{} {
	return []interface{}{
		&Cart{},
		&CartLine{},
		&CartLineAttribute{},
	}
}
