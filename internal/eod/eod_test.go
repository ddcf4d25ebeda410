package eod

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commsec-trader/internal/types"
)

func conf(stock string, buy bool, units int, price, fee string) types.Confirmation {
	return types.Confirmation{
		Stock:       stock,
		IsBuy:       buy,
		Units:       units,
		ApproxPrice: decimal.RequireFromString(price),
		Fee:         decimal.RequireFromString(fee),
	}
}

func TestSummarize(t *testing.T) {
	rows := Summarize([]types.Confirmation{
		conf("CBA", true, 10, "100.00", "10.00"),
		conf("BHP", true, 100, "45.00", "19.95"),
		conf("BHP", true, 100, "47.00", "19.95"),
		conf("BHP", false, 50, "50.00", "19.95"),
	})
	require.Len(t, rows, 2)

	bhp := rows[0]
	assert.Equal(t, "BHP", bhp.Stock)
	assert.Equal(t, 200, bhp.BuyQty)
	assert.Equal(t, "46", bhp.BuyAvg().String())
	assert.Equal(t, 50, bhp.SellQty)
	assert.Equal(t, "59.85", bhp.Fees.String())
	// 50 * (50 - 46) - 59.85
	assert.Equal(t, "140.15", bhp.RealizedPL.StringFixed(2))

	cba := rows[1]
	assert.Equal(t, "-10.00", cba.RealizedPL.StringFixed(2))
	assert.True(t, cba.SellAvg().IsZero())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Summarize([]types.Confirmation{conf("ANZ", true, 3, "25.10", "5.00")})))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "stock,buy_qty,buy_avg,sell_qty,sell_avg,fees,realized_pl,gross_buy_value,gross_sell_value", lines[0])
	assert.Equal(t, "ANZ,3,25.1000,0,0.0000,5.00,-5.00,75.30,0.00", lines[1])
	assert.Equal(t, "TOTAL,,,,,5.00,-5.00,75.30,0.00", lines[2])
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	p, err := WriteFile(dir, from, to, nil)
	require.NoError(t, err)
	assert.Contains(t, p, "2024-03-01_2024-03-31.csv")
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "TOTAL")
}
