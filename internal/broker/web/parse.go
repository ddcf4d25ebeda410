package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"commsec-trader/internal/quotes"
	"commsec-trader/internal/types"
)

const (
	selViewState     = "#__VIEWSTATE"
	selTradingPwdBox = "#ctl00_BodyPlaceHolder_OrderView1_ctl02_ucOrderSpecification_tradingPwd_tradingPwdCGTextBox_field"
	selStep2Errors   = "#ctl00_BodyPlaceHolder_OrderView1_ctl02_mpMessage ul li.error"
	selPreviewButton = "#ctl00_BodyPlaceHolder_OrderView1_ctl02_btnPreview_implementation_field"
	selStep3Errors   = "ul.AbbreviatedInfoPanel li"
	selReference     = "#ctl00_BodyPlaceHolder_OrderView1_ctl02_lblReferenceNo"
	selConfirmations = "#ctl00_BodyPlaceHolder_ConfirmationsView1_gdvwConfirmationDetails_Underlying"
	selOrderStatus   = "#ctl00_BodyPlaceHolder_OrderStatusView1_gdvwOrders_Underlying"
	selGridRows      = "tr.GridRow, tr.GridAlternateRow"
)

// aest is the platform's fixed offset. Dates on its pages carry no zone.
var aest = time.FixedZone("AEST", 10*60*60)

func parseDocument(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

func viewState(doc *goquery.Document) (string, bool) {
	return doc.Find(selViewState).First().Attr("value")
}

func inputValue(doc *goquery.Document, name string) string {
	v, _ := doc.Find(`input[name="` + name + `"]`).First().Attr("value")
	return v
}

// step2Errors returns the validation messages shown when the order details
// were refused.
func step2Errors(doc *goquery.Document) []string {
	var out []string
	doc.Find(selStep2Errors).Each(func(_ int, s *goquery.Selection) {
		if msg := strings.TrimSpace(s.Find("a").Text()); msg != "" {
			out = append(out, msg)
		}
	})
	return out
}

func step3Errors(doc *goquery.Document) []string {
	var out []string
	doc.Find(selStep3Errors).Each(func(_ int, s *goquery.Selection) {
		if msg := strings.TrimSpace(s.Find("h4").Text()); msg != "" {
			out = append(out, msg)
		}
	})
	return out
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2/1/2006", strings.TrimSpace(s), aest)
}

func formatDate(t time.Time) string {
	return t.In(aest).Format("2/1/2006")
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}

func parseAmount(s string) (decimal.Decimal, error) {
	return quotes.ParsePrice(s)
}

func parseUnits(s string) (int, error) {
	v, err := quotes.ParseVolume(s)
	return int(v), err
}

// scrapeConfirmations reads the confirmations grid. ok is false when the
// grid is absent, which is different from a grid with no rows.
func scrapeConfirmations(doc *goquery.Document) (out []types.Confirmation, ok bool, err error) {
	table := doc.Find(selConfirmations)
	if table.Length() == 0 {
		return nil, false, nil
	}
	out = []types.Confirmation{}
	table.Find(selGridRows).EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 10 {
			err = fmt.Errorf("row %d has %d cells", i, cells.Length())
			return false
		}
		var c types.Confirmation
		if c, err = confirmationFromCells(cells); err != nil {
			err = fmt.Errorf("row %d: %w", i, err)
			return false
		}
		out = append(out, c)
		return true
	})
	return out, true, err
}

func confirmationFromCells(cells *goquery.Selection) (types.Confirmation, error) {
	c := types.Confirmation{
		ConfirmationID: cellText(cells, 0),
		OrderID:        cellText(cells, 1),
		IsBuy:          cellText(cells, 3) == "B",
		Stock:          strings.TrimSpace(cells.Eq(4).Find("span.StockCode").Text()),
	}
	if c.Stock == "" {
		c.Stock = cellText(cells, 4)
	}
	var err error
	if c.TradeDate, err = parseDate(cellText(cells, 2)); err != nil {
		return c, fmt.Errorf("trade date: %w", err)
	}
	if c.Units, err = parseUnits(cellText(cells, 5)); err != nil {
		return c, fmt.Errorf("units: %w", err)
	}
	if c.ApproxPrice, err = parseAmount(cellText(cells, 6)); err != nil {
		return c, fmt.Errorf("price: %w", err)
	}
	if c.Fee, err = parseAmount(cellText(cells, 7)); err != nil {
		return c, fmt.Errorf("fee: %w", err)
	}
	if c.Total, err = parseAmount(cellText(cells, 8)); err != nil {
		return c, fmt.Errorf("total: %w", err)
	}
	if c.SettlementDate, err = parseDate(cellText(cells, 9)); err != nil {
		return c, fmt.Errorf("settlement date: %w", err)
	}
	return c, nil
}

// scrapeOrderStatus finds the order grid row whose first cell is id.
// Columns: reference, date, B/S, stock, quantity, filled, limit, status.
func scrapeOrderStatus(doc *goquery.Document, id string) (st types.OrderStatus, found bool, err error) {
	doc.Find(selOrderStatus).Find(selGridRows).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 8 || cellText(cells, 0) != id {
			return true
		}
		found = true
		st = types.OrderStatus{
			ID:     id,
			IsBuy:  cellText(cells, 2) == "B",
			Stock:  strings.TrimSpace(cells.Eq(3).Find("span.StockCode").Text()),
			Status: cellText(cells, 7),
		}
		if st.Stock == "" {
			st.Stock = cellText(cells, 3)
		}
		if st.CreatedAt, err = parseDate(cellText(cells, 1)); err != nil {
			return false
		}
		if st.Quantity, err = parseUnits(cellText(cells, 4)); err != nil {
			return false
		}
		if st.FilledQuantity, err = parseUnits(cellText(cells, 5)); err != nil {
			return false
		}
		if limit := cellText(cells, 6); limit != "" && !strings.EqualFold(limit, "market") {
			var p decimal.Decimal
			if p, err = parseAmount(limit); err != nil {
				return false
			}
			st.LimitPrice = &p
		}
		return false
	})
	return st, found, err
}

var (
	reDoubleQuoted = regexp.MustCompile(`:\s*"([^"]*)"`)
	reSingleQuoted = regexp.MustCompile(`:\s*'([^']*)'`)
	reObjectKey    = regexp.MustCompile(`(['"])?([a-zA-Z0-9_]+)(['"])?\s*:`)
)

const colonMarker = "@colon@"

// repairJSON turns the JavaScript object literal the market data endpoint
// returns into JSON: keys get double quotes, single-quoted strings become
// double-quoted. Colons inside string values are masked while keys are
// rewritten.
func repairJSON(js string) string {
	mask := func(re *regexp.Regexp) func(string) string {
		return func(m string) string {
			val := re.FindStringSubmatch(m)[1]
			return `: "` + strings.ReplaceAll(val, ":", colonMarker) + `"`
		}
	}
	s := reDoubleQuoted.ReplaceAllStringFunc(js, mask(reDoubleQuoted))
	s = reSingleQuoted.ReplaceAllStringFunc(s, mask(reSingleQuoted))
	s = reObjectKey.ReplaceAllString(s, `"$2": `)
	return strings.ReplaceAll(s, colonMarker, ":")
}

type marketData struct {
	PriceData map[string]map[string]any `json:"PriceData"`
}

// parseMarketData decodes the repaired "d" payload into per-code fields.
func parseMarketData(js string) (map[string]map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(repairJSON(js)))
	dec.UseNumber()
	var data []marketData
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	out := map[string]map[string]string{}
	for _, d := range data {
		for code, fields := range d.PriceData {
			row := make(map[string]string, len(fields))
			for k, v := range fields {
				row[k] = scalar(v)
			}
			out[strings.ToUpper(code)] = row
		}
	}
	return out, nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
