// Package report exports carts to XLSX workbooks and imports cart lines from
// them.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/xuri/excelize/v2"
)

const (
	CartsSheet = "Carts"
	LinesSheet = "Lines"

	// ContentType is the media type of the workbooks written by Exporter
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	cartHeaders = []interface{}{
		"Cart ID", "Created", "Create User", "Last Modified", "Last Modify User",
		"Finalized", "Total Products", "Total Items",
	}
	lineHeaders = []interface{}{
		"Cart ID", "Line ID", "Product Code", "Quantity", "Attributes",
	}
)

type Exporter struct {
	repo         *cartage.Cartage
	includeLines bool
}

type ExportOption func(*Exporter)

// WithLines adds a sheet listing every line of the exported carts
func WithLines() ExportOption {
	return func(e *Exporter) { e.includeLines = true }
}

// NewExporter creates an exporter reading through repo. The security manager
// behind repo needs the list, read and summary permissions.
func NewExporter(repo *cartage.Cartage, opts ...ExportOption) *Exporter {
	e := &Exporter{repo: repo}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export builds a workbook with one row per cart matching the ranges and
// returns it along with the number of carts written.
func (e *Exporter) Export(ctx context.Context, creation, modification *cartage.Range) (*excelize.File, int, error) {
	infos, err := e.repo.GetCarts(ctx, creation, modification)
	if err != nil {
		return nil, 0, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), CartsSheet); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to name carts sheet: %w", err)
	}
	if err := f.SetSheetRow(CartsSheet, "A1", &cartHeaders); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to write carts header: %w", err)
	}
	if e.includeLines {
		if _, err := f.NewSheet(LinesSheet); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("failed to create lines sheet: %w", err)
		}
		if err := f.SetSheetRow(LinesSheet, "A1", &lineHeaders); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("failed to write lines header: %w", err)
		}
	}

	cartRow, lineRow := 2, 2
	for _, info := range infos {
		cart, err := e.repo.GetCart(ctx, info.Identifier)
		if cartage.IsKind(err, cartage.KindCartNotFound) {
			logger.Debug("Cart removed during export", map[string]interface{}{
				"cart_id": info.Identifier,
			})
			continue
		}
		if err != nil {
			f.Close()
			return nil, 0, err
		}

		summary, err := cart.GetCartSummary(ctx)
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		if err := writeRow(f, CartsSheet, cartRow, cartRowValues(cart.Info(), summary)); err != nil {
			f.Close()
			return nil, 0, err
		}
		cartRow++

		if !e.includeLines {
			continue
		}
		lines, err := cart.GetLines(ctx)
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		for _, l := range lines {
			line, ok, err := cart.GetLine(ctx, l.Identifier)
			if err != nil {
				f.Close()
				return nil, 0, err
			}
			if !ok {
				continue
			}
			values := []interface{}{
				info.Identifier, l.Identifier, l.ProductCode, l.Quantity.String(),
				formatAttributes(line.Attributes()),
			}
			if err := writeRow(f, LinesSheet, lineRow, values); err != nil {
				f.Close()
				return nil, 0, err
			}
			lineRow++
		}
	}

	written := cartRow - 2
	logger.Info("Cart report built", map[string]interface{}{
		"carts": written,
		"lines": lineRow - 2,
	})
	return f, written, nil
}

// WriteTo exports the matching carts as XLSX into w
func (e *Exporter) WriteTo(ctx context.Context, w io.Writer, creation, modification *cartage.Range) (int, error) {
	f, n, err := e.Export(ctx, creation, modification)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("failed to write workbook: %w", err)
	}
	return n, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func cartRowValues(info cartage.CartInfo, summary cartage.Summary) []interface{} {
	return []interface{}{
		info.Identifier,
		info.Created.UTC().Format(time.RFC3339),
		info.CreateUser,
		info.LastModified.UTC().Format(time.RFC3339),
		info.LastModifyUser,
		strconv.FormatBool(info.Finalized),
		summary.TotalProducts,
		summary.TotalItems.String(),
	}
}

// formatAttributes renders attributes as name=value pairs sorted by name
func formatAttributes(attrs map[string]cartage.AttributeInfo) string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + attrs[name].Value
	}
	return strings.Join(pairs, ";")
}
