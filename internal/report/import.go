package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ImportLine is one row of a line import sheet.
type ImportLine struct {
	Row         int
	ProductCode string
	Quantity    decimal.Decimal
	Attributes  map[string]string
}

// ReadLines reads lines from the first sheet of an XLSX workbook. The header
// row names the columns: "Product Code" and "Quantity" are required, every
// other non-empty header becomes a line attribute. Rows without a product
// code are skipped.
func ReadLines(r io.Reader) ([]ImportLine, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("no sheets found in XLSX file")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data found in XLSX file")
	}

	productCol, quantityCol := -1, -1
	attrCols := map[int]string{}
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		switch {
		case strings.EqualFold(h, "Product Code"):
			productCol = i
		case strings.EqualFold(h, "Quantity"):
			quantityCol = i
		case h != "":
			attrCols[i] = h
		}
	}
	if productCol < 0 || quantityCol < 0 {
		return nil, fmt.Errorf("header must contain Product Code and Quantity columns")
	}

	var lines []ImportLine
	skipped := 0
	for i, row := range rows[1:] {
		rowNum := i + 2
		code := cell(row, productCol)
		if code == "" {
			skipped++
			continue
		}

		quantity, err := decimal.NewFromString(cell(row, quantityCol))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid quantity %q: %w", rowNum, cell(row, quantityCol), err)
		}

		attrs := map[string]string{}
		for col, name := range attrCols {
			if v := cell(row, col); v != "" {
				attrs[name] = v
			}
		}

		lines = append(lines, ImportLine{
			Row:         rowNum,
			ProductCode: code,
			Quantity:    quantity,
			Attributes:  attrs,
		})
	}

	logger.Debug("Import sheet read", map[string]interface{}{
		"sheet":   sheetName,
		"lines":   len(lines),
		"skipped": skipped,
	})
	return lines, nil
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// Import adds lines to cart in order and returns the new line identifiers.
// It stops at the first failure; lines added before it stay in the cart.
func Import(ctx context.Context, cart *cartage.Cart, lines []ImportLine) ([]string, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		id, err := cart.AddItems(ctx, l.ProductCode, l.Quantity, l.Attributes)
		if err != nil {
			return ids, fmt.Errorf("row %d: %w", l.Row, err)
		}
		ids = append(ids, id)
	}

	logger.Info("Lines imported", map[string]interface{}{
		"cart_id": cart.Identifier(),
		"lines":   len(ids),
	})
	return ids, nil
}
