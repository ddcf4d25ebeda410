// Package web drives the CommSec desktop site: server-rendered ASP.NET pages
// whose forms carry a __VIEWSTATE token from one page to the next.
package web

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/quotes"
	"commsec-trader/internal/transport"
	"commsec-trader/internal/types"
)

const (
	pathLogin         = "/Public/HomePage/Login.aspx"
	pathLogout        = "/Public/HomePage/Logout.aspx"
	pathMarketData    = "/Private/Watchlist/Watchlists.asmx/GetMarketData"
	pathPlaceOrder    = "/Private/EquityTrading/AustralianShares/PlaceOrder.aspx"
	pathOrderStatus   = "/Private/EquityTrading/AustralianShares/OrderStatus.aspx"
	pathConfirmations = "/Private/MyPortfolio/Confirmations/Confirmations.aspx"
)

type Options struct {
	BaseURL   string
	OrderForm OrderFormOptions
	// RecentDays is the window searched for recent confirmations.
	RecentDays int
	// Now is used for date windows; nil means time.Now.
	Now func() time.Time
}

type Broker struct {
	tr   transport.Transport
	opts Options

	mu              sync.Mutex
	tradingPassword string
}

func New(tr transport.Transport, opts Options) *Broker {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.RecentDays <= 0 {
		opts.RecentDays = 30
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{tr: tr, opts: opts}
}

func (b *Broker) Name() string {
	return "web"
}

func (b *Broker) url(path string) string {
	return b.opts.BaseURL + path
}

// page performs one exchange against a private page. Anything but a 200,
// including a redirect to the login page, means the session is gone.
func (b *Broker) page(ctx context.Context, op string, req *transport.Request) (*goquery.Document, error) {
	resp, err := b.tr.Exchange(ctx, req)
	if err != nil {
		return nil, brokererr.Transient(op, "transport failure", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, brokererr.Transient(op, fmt.Sprintf("HTTP %d: session seems to have expired", resp.StatusCode), nil)
	}
	doc, err := parseDocument(resp.Body)
	if err != nil {
		return nil, brokererr.Permanent(op, "unreadable page", err)
	}
	return doc, nil
}

// Login posts the login form. Only a redirect means the credentials were
// accepted; the login page coming back means they were not.
func (b *Broker) Login(ctx context.Context, creds types.Credentials) (types.LoginResult, error) {
	resp, err := b.tr.Exchange(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    b.url(pathLogin),
		Form:   loginForm(creds),
	})
	if err != nil {
		return types.LoginResult{}, err
	}
	if resp.StatusCode != http.StatusFound {
		return types.LoginResult{}, fmt.Errorf("login not accepted: HTTP %d", resp.StatusCode)
	}

	b.mu.Lock()
	b.tradingPassword = creds.TradingPassword
	b.mu.Unlock()
	return types.LoginResult{}, nil
}

func (b *Broker) Logout(ctx context.Context) error {
	resp, err := b.tr.Exchange(ctx, &transport.Request{Method: http.MethodGet, URL: b.url(pathLogout)})
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("logout: HTTP %d", resp.StatusCode)
	}
	return nil
}

// FetchQuotes asks for every code in one request. The endpoint has no change
// hashes, so one is derived from the returned fields and unchanged codes are
// dropped here.
func (b *Broker) FetchQuotes(ctx context.Context, hashes map[string]string) ([]types.QuoteUpdate, error) {
	const op = "web.quotes"

	codes := make([]string, 0, len(hashes))
	for code := range hashes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	body, err := json.Marshal(map[string]string{
		"stockCodes": strings.Join(codes, ";"),
		"properties": "Equities",
	})
	if err != nil {
		return nil, brokererr.Permanent(op, "encode request", err)
	}

	resp, err := b.tr.Exchange(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    b.url(pathMarketData),
		Body:   body,
		Header: http.Header{"Content-Type": {"application/json; charset=utf-8"}},
	})
	if err != nil {
		return nil, brokererr.Transient(op, "transport failure", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, brokererr.Transient(op, fmt.Sprintf("HTTP %d: session seems to have expired", resp.StatusCode), nil)
	}

	var envelope struct {
		D string `json:"d"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, brokererr.Permanent(op, "cannot parse market data", err)
	}
	rows, err := parseMarketData(envelope.D)
	if err != nil {
		return nil, brokererr.Permanent(op, "cannot parse market data", err)
	}

	var out []types.QuoteUpdate
	for _, code := range codes {
		row, ok := rows[strings.ToUpper(code)]
		if !ok {
			continue
		}
		u, err := quoteUpdate(code, row)
		if err != nil {
			return nil, brokererr.Permanent(op, "cannot parse market data for "+code, err)
		}
		if u.Hash == hashes[code] {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func quoteUpdate(code string, row map[string]string) (types.QuoteUpdate, error) {
	u := types.QuoteUpdate{
		Code:                  code,
		SensitiveAnnouncement: row["SensitiveAnnouncement"] != "" && !strings.EqualFold(row["SensitiveAnnouncement"], "false"),
	}
	var err error
	if u.LastPrice, err = quotes.ParsePrice(row["Last"]); err != nil {
		return u, err
	}
	if u.Bid, err = quotes.ParsePrice(row["Bid"]); err != nil {
		return u, err
	}
	if u.Offer, err = quotes.ParsePrice(row["Offer"]); err != nil {
		return u, err
	}
	if u.Volume, err = quotes.ParseVolume(row["Volume"]); err != nil {
		return u, err
	}
	sum := sha1.Sum([]byte(strings.Join([]string{
		u.LastPrice.String(), u.Bid.String(), u.Offer.String(),
		fmt.Sprint(u.Volume), fmt.Sprint(u.SensitiveAnnouncement),
	}, "|")))
	u.Hash = hex.EncodeToString(sum[:8])
	return u, nil
}

// Initiate loads the empty order form for its viewstate.
func (b *Broker) Initiate(ctx context.Context, _ types.Side) (types.FormState, error) {
	const op = "web.order.initiate"
	doc, err := b.page(ctx, op, &transport.Request{Method: http.MethodGet, URL: b.url(pathPlaceOrder)})
	if err != nil {
		return types.FormState{}, err
	}
	vs, ok := viewState(doc)
	if !ok {
		return types.FormState{}, brokererr.Permanent(op, "order form has no viewstate", nil)
	}
	return types.FormState{Token: vs}, nil
}

// Specify posts the order details. The page that comes back asks for the
// trading password; any other page lists why the details were refused.
func (b *Broker) Specify(ctx context.Context, t types.OrderTicket, st types.FormState) (types.FormState, error) {
	const op = "web.order.specify"
	if !b.opts.OrderForm.GoodForDay && b.opts.OrderForm.GoodUntil.IsZero() {
		return types.FormState{}, brokererr.Configuration(op, "orders not good for the day need an expiry date")
	}
	doc, err := b.page(ctx, op, &transport.Request{
		Method: http.MethodPost,
		URL:    b.url(pathPlaceOrder),
		Form:   step2Form(t, st.Token, b.opts.OrderForm, b.opts.Now()),
	})
	if err != nil {
		return types.FormState{}, err
	}

	if doc.Find(selTradingPwdBox).Length() == 0 {
		msgs := step2Errors(doc)
		if len(msgs) == 0 {
			msgs = []string{"Got an unexpected response to step 2"}
		}
		return types.FormState{}, brokererr.Permanent(op, strings.Join(msgs, ", "), nil)
	}

	vs, ok := viewState(doc)
	if !ok {
		return types.FormState{}, brokererr.Permanent(op, "order confirmation page has no viewstate", nil)
	}
	return types.FormState{
		Token: vs,
		Hidden: map[string]string{
			fieldStep3A: inputValue(doc, fieldStep3A),
			fieldStep3B: inputValue(doc, fieldStep3B),
		},
	}, nil
}

// Confirm submits the trading password and reads the order reference.
func (b *Broker) Confirm(ctx context.Context, _ types.OrderTicket, st types.FormState) (string, error) {
	const op = "web.order.confirm"

	b.mu.Lock()
	pwd := b.tradingPassword
	b.mu.Unlock()

	doc, err := b.page(ctx, op, &transport.Request{
		Method: http.MethodPost,
		URL:    b.url(pathPlaceOrder),
		Form:   step3Form(st, pwd),
	})
	if err != nil {
		return "", err
	}

	msgs := step3Errors(doc)
	if len(msgs) > 0 || doc.Find(selPreviewButton).Length() > 0 {
		if len(msgs) == 0 {
			msgs = []string{"Got an unexpected response to step 3"}
		}
		return "", brokererr.Permanent(op, strings.Join(msgs, ", "), nil)
	}

	ref := doc.Find(selReference)
	if ref.Length() != 1 {
		return "", brokererr.Permanent(op, "Did not get a reference number for this order", nil)
	}
	return strings.TrimSpace(ref.Text()), nil
}

// ListingToken loads the confirmations page for its viewstate.
func (b *Broker) ListingToken(ctx context.Context, _ types.HistoryQuery) (string, error) {
	const op = "web.history.token"
	doc, err := b.page(ctx, op, &transport.Request{Method: http.MethodGet, URL: b.url(pathConfirmations)})
	if err != nil {
		return "", err
	}
	vs, ok := viewState(doc)
	if !ok {
		return "", brokererr.Permanent(op, "confirmations page has no viewstate", nil)
	}
	return vs, nil
}

// Confirmations posts the date filter with the "all" pager event so the
// grid comes back unpaged. A recency query searches the last RecentDays.
func (b *Broker) Confirmations(ctx context.Context, token string, q types.HistoryQuery) ([]types.Confirmation, error) {
	const op = "web.history.list"

	from, to := q.From, q.To
	if q.Limit > 0 {
		to = b.opts.Now()
		from = to.AddDate(0, 0, -b.opts.RecentDays)
	}

	doc, err := b.page(ctx, op, &transport.Request{
		Method: http.MethodPost,
		URL:    b.url(pathConfirmations),
		Form:   confirmationsForm(token, from, to),
	})
	if err != nil {
		return nil, err
	}

	out, ok, err := scrapeConfirmations(doc)
	if !ok {
		return nil, brokererr.Permanent(op, "cannot find confirmations table", nil)
	}
	if err != nil {
		return nil, brokererr.Permanent(op, "cannot parse confirmations table", err)
	}
	return out, nil
}

func (b *Broker) OrderStatus(ctx context.Context, id string) (types.OrderStatus, error) {
	const op = "web.order.status"
	doc, err := b.page(ctx, op, &transport.Request{Method: http.MethodGet, URL: b.url(pathOrderStatus)})
	if err != nil {
		return types.OrderStatus{}, err
	}
	if doc.Find(selOrderStatus).Length() == 0 {
		return types.OrderStatus{}, brokererr.Permanent(op, "cannot find order status table", nil)
	}
	st, found, err := scrapeOrderStatus(doc, id)
	if err != nil {
		return types.OrderStatus{}, brokererr.Permanent(op, "cannot parse order status table", err)
	}
	if !found {
		return types.OrderStatus{}, brokererr.Permanent(op, "order "+id+" not found", nil)
	}
	return st, nil
}
