// Package eod aggregates trade confirmations per stock and writes the
// summary as CSV.
package eod

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"commsec-trader/internal/types"
)

type Row struct {
	Stock      string          `json:"stock"`
	BuyQty     int             `json:"buy_qty"`
	BuyValue   decimal.Decimal `json:"buy_value"`
	SellQty    int             `json:"sell_qty"`
	SellValue  decimal.Decimal `json:"sell_value"`
	Fees       decimal.Decimal `json:"fees"`
	RealizedPL decimal.Decimal `json:"realized_pl"`
}

func (r Row) BuyAvg() decimal.Decimal {
	if r.BuyQty == 0 {
		return decimal.Zero
	}
	return r.BuyValue.Div(decimal.NewFromInt(int64(r.BuyQty)))
}

func (r Row) SellAvg() decimal.Decimal {
	if r.SellQty == 0 {
		return decimal.Zero
	}
	return r.SellValue.Div(decimal.NewFromInt(int64(r.SellQty)))
}

// Summarize groups confirmations by stock, sorted by code. Realized P/L is
// matched units times (sell avg - buy avg) less fees; it ignores positions
// opened before the window.
func Summarize(confs []types.Confirmation) []Row {
	aggs := map[string]*Row{}
	for _, c := range confs {
		r := aggs[c.Stock]
		if r == nil {
			r = &Row{Stock: c.Stock}
			aggs[c.Stock] = r
		}
		value := c.ApproxPrice.Mul(decimal.NewFromInt(int64(c.Units)))
		if c.IsBuy {
			r.BuyQty += c.Units
			r.BuyValue = r.BuyValue.Add(value)
		} else {
			r.SellQty += c.Units
			r.SellValue = r.SellValue.Add(value)
		}
		r.Fees = r.Fees.Add(c.Fee)
	}

	out := make([]Row, 0, len(aggs))
	for _, r := range aggs {
		matched := r.BuyQty
		if r.SellQty < matched {
			matched = r.SellQty
		}
		r.RealizedPL = r.SellAvg().Sub(r.BuyAvg()).Mul(decimal.NewFromInt(int64(matched))).Sub(r.Fees).Round(2)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stock < out[j].Stock })
	return out
}

// WriteCSV writes one line per row plus a TOTAL line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	headers := []string{"stock", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "fees", "realized_pl", "gross_buy_value", "gross_sell_value"}
	if err := cw.Write(headers); err != nil {
		return err
	}
	var totalBuy, totalSell, totalFees, totalPL decimal.Decimal
	for _, r := range rows {
		rec := []string{
			r.Stock,
			strconv.Itoa(r.BuyQty), r.BuyAvg().StringFixed(4),
			strconv.Itoa(r.SellQty), r.SellAvg().StringFixed(4),
			r.Fees.StringFixed(2), r.RealizedPL.StringFixed(2),
			r.BuyValue.StringFixed(2), r.SellValue.StringFixed(2),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
		totalBuy = totalBuy.Add(r.BuyValue)
		totalSell = totalSell.Add(r.SellValue)
		totalFees = totalFees.Add(r.Fees)
		totalPL = totalPL.Add(r.RealizedPL)
	}
	if err := cw.Write([]string{"TOTAL", "", "", "", "", totalFees.StringFixed(2), totalPL.StringFixed(2), totalBuy.StringFixed(2), totalSell.StringFixed(2)}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the summary to dir/eod/<from>_<to>.csv and returns the
// path.
func WriteFile(dir string, from, to time.Time, rows []Row) (string, error) {
	p := filepath.Join(dir, "eod", fmt.Sprintf("%s_%s.csv", from.Format(time.DateOnly), to.Format(time.DateOnly)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if err := WriteCSV(f, rows); err != nil {
		_ = f.Close()
		return "", err
	}
	return p, f.Close()
}
