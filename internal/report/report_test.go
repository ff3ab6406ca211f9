package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ikkim/cartage/internal/security"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/cartage/cartagetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func setupReportTest(t *testing.T) (*cartage.Cartage, *cartage.Cartage) {
	t.Helper()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store := cartagetest.NewMemory(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	customer := cartage.New(store, security.NewManager(
		security.NewPrincipal("alice", []string{security.RoleCustomer}, nil)))
	auditor := cartage.New(store, security.NewManager(
		security.NewPrincipal("audit", []string{security.RoleAuditor}, nil)))
	return customer, auditor
}

func qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func readRows(t *testing.T, buf *bytes.Buffer, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestExporter_WriteTo(t *testing.T) {
	ctx := context.Background()
	customer, auditor := setupReportTest(t)

	first, err := customer.RegisterCartWithID(ctx, "cart-a")
	require.NoError(t, err)
	_, err = first.AddItems(ctx, "A", qty(2), nil)
	require.NoError(t, err)
	_, err = first.AddItems(ctx, "A", qty(3), nil)
	require.NoError(t, err)
	_, err = first.AddItems(ctx, "B", qty(1), nil)
	require.NoError(t, err)
	require.NoError(t, first.MarkAsFinalized(ctx))

	_, err = customer.RegisterCartWithID(ctx, "cart-b")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := NewExporter(auditor).WriteTo(ctx, &buf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows := readRows(t, &buf, CartsSheet)
	require.Len(t, rows, 3)
	assert.Equal(t, "Cart ID", rows[0][0])

	assert.Equal(t, "cart-a", rows[1][0])
	assert.Equal(t, "alice", rows[1][2])
	assert.Equal(t, "true", rows[1][5])
	assert.Equal(t, "2", rows[1][6])
	assert.Equal(t, "6", rows[1][7])

	assert.Equal(t, "cart-b", rows[2][0])
	assert.Equal(t, "false", rows[2][5])
	assert.Equal(t, "0", rows[2][6])
}

func TestExporter_WithLines(t *testing.T) {
	ctx := context.Background()
	customer, auditor := setupReportTest(t)

	cart, err := customer.RegisterCartWithID(ctx, "cart-a")
	require.NoError(t, err)
	lineID, err := cart.AddItems(ctx, "A", decimal.RequireFromString("1.5"), map[string]string{
		"size":  "L",
		"color": "red",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = NewExporter(auditor, WithLines()).WriteTo(ctx, &buf, nil, nil)
	require.NoError(t, err)

	rows := readRows(t, &buf, LinesSheet)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"cart-a", lineID, "A", "1.5", "color=red;size=L"}, rows[1])
}

func TestExporter_Ranges(t *testing.T) {
	ctx := context.Background()
	customer, auditor := setupReportTest(t)

	_, err := customer.RegisterCartWithID(ctx, "cart-a")
	require.NoError(t, err)
	_, err = customer.RegisterCartWithID(ctx, "cart-b")
	require.NoError(t, err)

	all, err := auditor.GetCarts(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	f, n, err := NewExporter(auditor).Export(ctx, &cartage.Range{Start: all[1].Created, End: all[1].Created}, nil)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, 1, n)

	rows, err := f.GetRows(CartsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "cart-b", rows[1][0])
}

func TestExporter_NotAuthorized(t *testing.T) {
	customer, _ := setupReportTest(t)

	var buf bytes.Buffer
	_, err := NewExporter(customer).WriteTo(context.Background(), &buf, nil, nil)
	assert.ErrorIs(t, err, cartage.ErrNotAuthorized)
	assert.Zero(t, buf.Len())
}

func importWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestReadLines(t *testing.T) {
	buf := importWorkbook(t, [][]interface{}{
		{"Product Code", "Quantity", "Gift Wrap", "Note"},
		{"A", "2", "yes", ""},
		{"", "9", "", ""},
		{"B", "0.25", "", "fragile"},
	})

	lines, err := ReadLines(buf)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, 2, lines[0].Row)
	assert.Equal(t, "A", lines[0].ProductCode)
	assert.True(t, lines[0].Quantity.Equal(qty(2)))
	assert.Equal(t, map[string]string{"Gift Wrap": "yes"}, lines[0].Attributes)

	assert.Equal(t, 4, lines[1].Row)
	assert.True(t, lines[1].Quantity.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, map[string]string{"Note": "fragile"}, lines[1].Attributes)
}

func TestReadLines_Invalid(t *testing.T) {
	tests := []struct {
		name string
		rows [][]interface{}
	}{
		{"Missing quantity column", [][]interface{}{{"Product Code"}, {"A"}}},
		{"Invalid quantity", [][]interface{}{{"Product Code", "Quantity"}, {"A", "many"}}},
		{"Empty sheet", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadLines(importWorkbook(t, tt.rows))
			assert.Error(t, err)
		})
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	customer, _ := setupReportTest(t)
	cart, err := customer.RegisterCartWithID(ctx, "cart-a")
	require.NoError(t, err)

	ids, err := Import(ctx, cart, []ImportLine{
		{Row: 2, ProductCode: "A", Quantity: qty(2), Attributes: map[string]string{"size": "M"}},
		{Row: 3, ProductCode: "B", Quantity: qty(1)},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	line, ok, err := cart.GetLine(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", line.Info.ProductCode)
	attr, ok := line.Attribute("size")
	require.True(t, ok)
	assert.Equal(t, "M", attr.Value)

	summary, err := cart.GetCartSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalProducts)
	assert.True(t, summary.TotalItems.Equal(qty(3)))
}

func TestImport_FinalizedCart(t *testing.T) {
	ctx := context.Background()
	customer, _ := setupReportTest(t)
	cart, err := customer.RegisterCartWithID(ctx, "cart-a")
	require.NoError(t, err)
	require.NoError(t, cart.MarkAsFinalized(ctx))

	ids, err := Import(ctx, cart, []ImportLine{{Row: 2, ProductCode: "A", Quantity: qty(1)}})
	assert.ErrorIs(t, err, cartage.ErrCartFinalized)
	assert.Contains(t, err.Error(), "row 2")
	assert.Empty(t, ids)
}
