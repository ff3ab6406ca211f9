package cartage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartInfo is a point-in-time snapshot of a cart record.
type CartInfo struct {
	Identifier     string
	Created        time.Time
	CreateUser     string
	LastModified   time.Time
	LastModifyUser string
	Finalized      bool
}

// LineInfo is a point-in-time snapshot of a cart line.
type LineInfo struct {
	Identifier  string
	ProductCode string
	Quantity    decimal.Decimal
}

// AttributeInfo is a name/value annotation on a line.
type AttributeInfo struct {
	Name  string
	Value string
}

// Line is a line together with its attributes as read from the store.
type Line struct {
	Info       LineInfo
	attributes map[string]AttributeInfo
}

// NewLine builds a Line that owns a copy of attributes.
func NewLine(info LineInfo, attributes map[string]AttributeInfo) Line {
	return Line{Info: info, attributes: copyAttributes(attributes)}
}

// Attributes returns a copy of the line attributes keyed by name.
func (l Line) Attributes() map[string]AttributeInfo {
	return copyAttributes(l.attributes)
}

// Attribute looks up a single attribute by name.
func (l Line) Attribute(name string) (AttributeInfo, bool) {
	a, ok := l.attributes[name]
	return a, ok
}

func copyAttributes(src map[string]AttributeInfo) map[string]AttributeInfo {
	dst := make(map[string]AttributeInfo, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Summary is derived from the current lines of a cart and never stored.
type Summary struct {
	TotalProducts int
	TotalItems    decimal.Decimal
}

// Summarize counts distinct product codes and sums quantities.
func Summarize(lines []LineInfo) Summary {
	products := make(map[string]struct{}, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		products[l.ProductCode] = struct{}{}
		total = total.Add(l.Quantity)
	}
	return Summary{TotalProducts: len(products), TotalItems: total}
}

// Range is an inclusive time interval.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End].
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// InRanges applies the optional creation and modification filters of
// GetCarts to info. A nil range does not filter.
func InRanges(info CartInfo, creation, modification *Range) bool {
	if creation != nil && !creation.Contains(info.Created) {
		return false
	}
	if modification != nil && !modification.Contains(info.LastModified) {
		return false
	}
	return true
}

func clampQuantity(q decimal.Decimal) decimal.Decimal {
	if q.IsNegative() {
		return decimal.Zero
	}
	return q
}
