// Package mobile drives the JSON service behind the CommSec phone app.
// Every call posts {"data": "<json params>"}; every successful response may
// carry the request token the next trading call must present.
package mobile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/quotes"
	"commsec-trader/internal/transport"
	"commsec-trader/internal/types"
)

// Tokens is where the rotating request token and the trading account live;
// the session artifact implements it.
type Tokens interface {
	RequestToken() string
	SetRequestToken(token string)
	DefaultAccount() string
}

type Options struct {
	// DevicePlatform is reported at login.
	DevicePlatform string
	// GoodForDay expires orders at the end of the trading day; otherwise
	// they are good until cancelled.
	GoodForDay bool
	// PriceDecimals is the precision limit prices are sent with. Prices
	// arrive already rounded to it.
	PriceDecimals int32
	// OrdersLookback is how far back order listings reach when no start
	// time is given.
	OrdersLookback time.Duration
	Now            func() time.Time
}

// defaultOrdersLimit is the page size the phone app asks for.
const defaultOrdersLimit = 20

type Broker struct {
	tr     transport.Transport
	tokens Tokens
	opts   Options

	mu              sync.Mutex
	tradingPassword string
}

func New(tr transport.Transport, tokens Tokens, opts Options) *Broker {
	if opts.DevicePlatform == "" {
		opts.DevicePlatform = "go"
	}
	if opts.OrdersLookback <= 0 {
		opts.OrdersLookback = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{tr: tr, tokens: tokens, opts: opts}
}

func (b *Broker) Name() string {
	return "mobile"
}

// call performs one exchange and classifies it: 403 is a lost session, any
// other non-200 is the service refusing the request.
func (b *Broker) call(ctx context.Context, op string, req *transport.Request, out any) error {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.tr.Exchange(ctx, req)
	if err != nil {
		return brokererr.Transient(op, "transport failure", err)
	}

	var env envelope
	_ = json.Unmarshal(resp.Body, &env)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden:
		return brokererr.Transient(op, "HTTP 403: "+serverMessage(env, resp.Body), nil)
	default:
		return brokererr.Permanent(op, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, serverMessage(env, resp.Body)), nil)
	}

	if env.RequestToken != "" {
		b.tokens.SetRequestToken(env.RequestToken)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return brokererr.Permanent(op, "unexpected response shape", err)
	}
	return nil
}

func serverMessage(env envelope, body []byte) string {
	msg := env.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return `CommSec says: "` + msg + `"`
}

func (b *Broker) post(ctx context.Context, op, service string, params any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return brokererr.Permanent(op, "encode request", err)
	}
	body, err := json.Marshal(map[string]string{"data": string(data)})
	if err != nil {
		return brokererr.Permanent(op, "encode request", err)
	}
	return b.call(ctx, op, &transport.Request{Method: http.MethodPost, URL: service, Body: body}, out)
}

func (b *Broker) get(ctx context.Context, op, service string, params url.Values, out any) error {
	u := service
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return b.call(ctx, op, &transport.Request{Method: http.MethodGet, URL: u}, out)
}

func (b *Broker) password() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tradingPassword
}

func (b *Broker) Login(ctx context.Context, creds types.Credentials) (types.LoginResult, error) {
	loginType := creds.LoginType
	if loginType == "" {
		loginType = "password"
	}
	params := map[string]any{
		"clientId":       creds.ClientID,
		"loginType":      loginType,
		"password":       creds.Password,
		"devicePlatform": b.opts.DevicePlatform,
		"deviceId":       nil,
	}
	if creds.DeviceID != "" {
		params["deviceId"] = creds.DeviceID
	}

	var resp loginResponse
	if err := b.post(ctx, "mobile.login", "login", params, &resp); err != nil {
		return types.LoginResult{}, err
	}

	b.mu.Lock()
	b.tradingPassword = creds.TradingPassword
	b.mu.Unlock()

	res := types.LoginResult{DeviceID: resp.DeviceID, RequestToken: resp.RequestToken}
	for _, a := range resp.Accounts {
		name := a.AccountName
		if name == "" {
			name = a.EntityName
		}
		acct := types.Account{Number: a.AccountNumber.String(), Name: name, DefaultTrading: a.DefaultTradingAccount}
		res.Accounts = append(res.Accounts, acct)
		if acct.DefaultTrading && res.DefaultAccount == "" {
			res.DefaultAccount = acct.Number
		}
	}
	if res.DefaultAccount == "" {
		logger.Warn(ctx, "No default trading account, one must be selected", "accounts", len(res.Accounts))
	}
	return res, nil
}

func (b *Broker) Logout(ctx context.Context) error {
	return b.post(ctx, "mobile.logout", "logout", nil, nil)
}

// FetchQuotes polls getStockInfos; the service omits codes whose hash still
// matches.
func (b *Broker) FetchQuotes(ctx context.Context, hashes map[string]string) ([]types.QuoteUpdate, error) {
	const op = "mobile.quotes"
	withHash := make(map[string]any, len(hashes))
	for code, h := range hashes {
		if h == "" {
			withHash[code] = nil
		} else {
			withHash[code] = h
		}
	}

	var resp stockInfosResponse
	err := b.post(ctx, op, "getStockInfos", map[string]any{
		"enableHash":         true,
		"stockCodesWithHash": withHash,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]types.QuoteUpdate, 0, len(resp.StockInfos))
	for _, s := range resp.StockInfos {
		u := types.QuoteUpdate{Code: s.Code, Hash: s.Hash, SensitiveAnnouncement: s.SensitiveAnnouncement}
		if u.LastPrice, err = quotes.ParsePrice(s.LastPrice.String()); err == nil {
			if u.Bid, err = quotes.ParsePrice(s.Bid.String()); err == nil {
				if u.Offer, err = quotes.ParsePrice(s.Offer.String()); err == nil {
					u.Volume, err = quotes.ParseVolume(s.Volume.String())
				}
			}
		}
		if err != nil {
			return nil, brokererr.Permanent(op, "cannot parse quote for "+s.Code, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (b *Broker) account(op string) (string, error) {
	acct := b.tokens.DefaultAccount()
	if acct == "" {
		return "", brokererr.Configuration(op, "no trading account selected")
	}
	return acct, nil
}

// Initiate fetches the order defaults, which issues a fresh request token.
func (b *Broker) Initiate(ctx context.Context, side types.Side) (types.FormState, error) {
	const op = "mobile.order.initiate"
	acct, err := b.account(op)
	if err != nil {
		return types.FormState{}, err
	}
	if err := b.get(ctx, op, "getorderdefaults", url.Values{
		"accountNumber": {acct},
		"orderSide":     {side.String()},
	}, nil); err != nil {
		return types.FormState{}, err
	}
	return types.FormState{Token: b.tokens.RequestToken()}, nil
}

func (b *Broker) orderParams(t types.OrderTicket, token string) map[string]any {
	expiry := "GoodTillCancelled"
	if b.opts.GoodForDay {
		expiry = "GoodForDay"
	}
	p := map[string]any{
		"accountNumber": b.tokens.DefaultAccount(),
		"stockCode":     t.Stock,
		"quantity":      t.Quantity,
		"orderSide":     t.Side.String(),
		"expiry":        expiry,
		"requestToken":  token,
	}
	if t.LimitPrice == nil {
		p["orderType"] = "AtMarket"
	} else {
		p["orderType"] = "Limit"
		p["limitPrice"] = t.LimitPrice.StringFixed(b.opts.PriceDecimals)
	}
	return p
}

// Specify validates the order. Warnings are refusals too: the service warns
// about things like a duplicate order already in the market.
func (b *Broker) Specify(ctx context.Context, t types.OrderTicket, st types.FormState) (types.FormState, error) {
	const op = "mobile.order.specify"
	var resp validateResponse
	if err := b.post(ctx, op, "validateorder", b.orderParams(t, st.Token), &resp); err != nil {
		return types.FormState{}, err
	}
	if err := refusal(op, resp.Errors, resp.Warnings); err != nil {
		return types.FormState{}, err
	}
	return types.FormState{Token: b.tokens.RequestToken()}, nil
}

// refusal joins the service's error and warning messages into one permanent
// error, or returns nil when both lists are empty.
func refusal(op string, errs, warnings []message) error {
	var msgs []string
	for _, m := range append(append([]message{}, errs...), warnings...) {
		if s := strings.TrimSpace(m.Message); s != "" {
			msgs = append(msgs, s)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return brokererr.Permanent(op, strings.Join(msgs, ", "), nil)
}

func (b *Broker) Confirm(ctx context.Context, t types.OrderTicket, st types.FormState) (string, error) {
	const op = "mobile.order.confirm"
	params := b.orderParams(t, st.Token)
	params["tradingPassword"] = b.password()

	var resp placeResponse
	if err := b.post(ctx, op, "placeorder", params, &resp); err != nil {
		return "", err
	}
	if err := refusal(op, resp.Errors, resp.Warnings); err != nil {
		return "", err
	}
	return resp.OrderNumber.String(), nil
}

func (b *Broker) CancelOrder(ctx context.Context, id string) error {
	const op = "mobile.order.cancel"
	acct, err := b.account(op)
	if err != nil {
		return err
	}
	var resp cancelResponse
	if err := b.post(ctx, op, "cancelorder", map[string]any{
		"accountId":       acct,
		"orderId":         id,
		"requestToken":    b.tokens.RequestToken(),
		"tradingPassword": b.password(),
	}, &resp); err != nil {
		return err
	}
	if !resp.OrderDidCancel {
		return brokererr.Permanent(op, "order "+id+" was not cancelled", nil)
	}
	return nil
}

func (b *Broker) Holdings(ctx context.Context, account string) ([]types.Holding, error) {
	const op = "mobile.holdings"
	if account == "" {
		var err error
		if account, err = b.account(op); err != nil {
			return nil, err
		}
	}
	var resp holdingsResponse
	if err := b.get(ctx, op, "getholdings", url.Values{"accountId": {account}}, &resp); err != nil {
		return nil, err
	}

	var out []types.Holding
	for _, e := range resp.Entities {
		for _, a := range e.Accounts {
			for _, h := range a.Holdings {
				units, err := quotes.ParseVolume(h.AvailableUnits.String())
				if err != nil {
					return nil, brokererr.Permanent(op, "cannot parse holding "+h.Code, err)
				}
				price, err := quotes.ParsePrice(h.PurchasePrice.String())
				if err != nil {
					return nil, brokererr.Permanent(op, "cannot parse holding "+h.Code, err)
				}
				out = append(out, types.Holding{
					Account:        a.AccountNumber.String(),
					Code:           h.Code,
					AvailableUnits: int(units),
					PurchasePrice:  price,
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Orders lists orders placed on or after from, at most limit of them. A zero
// from reaches back OrdersLookback; a non-positive limit asks for the app's
// default page. An empty account means the selected trading account.
func (b *Broker) Orders(ctx context.Context, account string, from time.Time, limit int) ([]types.OrderStatus, error) {
	const op = "mobile.orders"
	rows, err := b.orders(ctx, op, account, from, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.OrderStatus, 0, len(rows))
	for _, o := range rows {
		st, err := orderStatusFrom(o.OrderID.String(), o)
		if err != nil {
			return nil, brokererr.Permanent(op, "cannot parse order "+o.OrderID.String(), err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (b *Broker) orders(ctx context.Context, op, account string, from time.Time, limit int) ([]orderRow, error) {
	if account == "" {
		var err error
		if account, err = b.account(op); err != nil {
			return nil, err
		}
	}
	if from.IsZero() {
		from = b.opts.Now().Add(-b.opts.OrdersLookback)
	}
	if limit <= 0 {
		limit = defaultOrdersLimit
	}
	var resp ordersResponse
	if err := b.get(ctx, op, "getorders", url.Values{
		"accountNumber":     {account},
		"fromDateTimeStamp": {strconv.FormatInt(from.Unix(), 10)},
		"maxLength":         {strconv.Itoa(limit)},
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// OrderStatus searches the recent order list for id, matched against either
// the order number returned at placement or the internal order id.
func (b *Broker) OrderStatus(ctx context.Context, id string) (types.OrderStatus, error) {
	const op = "mobile.order.status"
	rows, err := b.orders(ctx, op, "", time.Time{}, 0)
	if err != nil {
		return types.OrderStatus{}, err
	}

	for _, o := range rows {
		if o.OrderNumber.String() != id && o.OrderID.String() != id {
			continue
		}
		st, err := orderStatusFrom(id, o)
		if err != nil {
			return types.OrderStatus{}, brokererr.Permanent(op, "cannot parse order "+id, err)
		}
		return st, nil
	}
	return types.OrderStatus{}, brokererr.Permanent(op, "order "+id+" not found", nil)
}

// Watchlists returns the saved watchlists with the prices the service
// attaches to each entry.
func (b *Broker) Watchlists(ctx context.Context) ([]types.Watchlist, error) {
	const op = "mobile.watchlists"
	var resp watchlistsResponse
	if err := b.get(ctx, op, "watchlists", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]types.Watchlist, 0, len(resp.Lists))
	for _, l := range resp.Lists {
		w := types.Watchlist{ID: l.ID.String(), Name: l.Name, Items: make([]types.WatchlistItem, 0, len(l.Items))}
		for _, it := range l.Items {
			item, err := watchlistItemFrom(it)
			if err != nil {
				return nil, brokererr.Permanent(op, "cannot parse watchlist entry "+it.Code, err)
			}
			w.Items = append(w.Items, item)
		}
		out = append(out, w)
	}
	return out, nil
}

func watchlistItemFrom(it watchlistItem) (types.WatchlistItem, error) {
	item := types.WatchlistItem{Code: it.Code}
	var err error
	if item.LastPrice, err = quotes.ParsePrice(it.LastPrice.String()); err != nil {
		return item, err
	}
	if item.Offer, err = quotes.ParsePrice(it.Offer.String()); err != nil {
		return item, err
	}
	if item.High, err = quotes.ParsePrice(it.High.String()); err != nil {
		return item, err
	}
	if item.Low, err = quotes.ParsePrice(it.Low.String()); err != nil {
		return item, err
	}
	item.Volume, err = quotes.ParseVolume(it.Volume.String())
	return item, err
}

func orderStatusFrom(id string, o orderRow) (types.OrderStatus, error) {
	st := types.OrderStatus{
		ID:          id,
		OrderNumber: o.OrderNumber.String(),
		Stock:       o.Code,
		IsBuy:       strings.EqualFold(o.Side, "Buy") || strings.EqualFold(o.Side, "B"),
		Status:      o.Status,
	}
	qty, err := quotes.ParseVolume(o.Quantity.String())
	if err != nil {
		return st, err
	}
	filled, err := quotes.ParseVolume(o.QuantityFilled.String())
	if err != nil {
		return st, err
	}
	st.Quantity, st.FilledQuantity = int(qty), int(filled)
	if s := o.LimitPrice.String(); s != "" {
		p, err := quotes.ParsePrice(s)
		if err != nil {
			return st, err
		}
		if !p.IsZero() {
			st.LimitPrice = &p
		}
	}
	if s := o.CreatedAt.String(); s != "" {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			st.CreatedAt = time.Unix(secs, 0).UTC()
		} else if st.CreatedAt, err = parseDate(s); err != nil {
			return st, err
		}
	}
	return st, nil
}

func historyParams(acct string, q types.HistoryQuery) url.Values {
	v := url.Values{"accountNumber": {acct}}
	if q.Limit > 0 {
		v.Set("maxLength", strconv.Itoa(q.Limit))
		return v
	}
	v.Set("fromDate", q.From.In(aest).Format(time.DateOnly))
	v.Set("toDate", q.To.In(aest).Format(time.DateOnly))
	return v
}

// ListingToken asks for the confirmation summary, whose request token scopes
// the detailed listing.
func (b *Broker) ListingToken(ctx context.Context, q types.HistoryQuery) (string, error) {
	const op = "mobile.history.token"
	acct, err := b.account(op)
	if err != nil {
		return "", err
	}
	var env envelope
	if err := b.get(ctx, op, "getconfirmationsummary", historyParams(acct, q), &env); err != nil {
		return "", err
	}
	if env.RequestToken == "" {
		return "", brokererr.Permanent(op, "confirmation summary has no request token", nil)
	}
	return env.RequestToken, nil
}

func (b *Broker) Confirmations(ctx context.Context, token string, q types.HistoryQuery) ([]types.Confirmation, error) {
	const op = "mobile.history.list"
	acct, err := b.account(op)
	if err != nil {
		return nil, err
	}
	params := historyParams(acct, q)
	params.Set("requestToken", token)

	var resp confirmationsResponse
	if err := b.get(ctx, op, "getconfirmations", params, &resp); err != nil {
		return nil, err
	}
	if resp.Confirmations == nil {
		return nil, brokererr.Permanent(op, "cannot find confirmations table", nil)
	}

	out := make([]types.Confirmation, 0, len(*resp.Confirmations))
	for i, row := range *resp.Confirmations {
		c, err := confirmationFrom(row)
		if err != nil {
			return nil, brokererr.Permanent(op, fmt.Sprintf("cannot parse confirmation %d", i), err)
		}
		out = append(out, c)
	}
	return out, nil
}

func confirmationFrom(r confirmationRow) (types.Confirmation, error) {
	c := types.Confirmation{
		ConfirmationID: r.ConfirmationNumber.String(),
		OrderID:        r.OrderNumber.String(),
		IsBuy:          strings.EqualFold(r.Side, "B") || strings.EqualFold(r.Side, "Buy"),
		Stock:          r.Code,
	}
	var err error
	if c.TradeDate, err = parseDate(r.TradeDate); err != nil {
		return c, err
	}
	if c.SettlementDate, err = parseDate(r.SettlementDate); err != nil {
		return c, err
	}
	units, err := quotes.ParseVolume(r.Units.String())
	if err != nil {
		return c, err
	}
	c.Units = int(units)
	if c.ApproxPrice, err = quotes.ParsePrice(r.AveragePrice.String()); err != nil {
		return c, err
	}
	if c.Fee, err = quotes.ParsePrice(r.Brokerage.String()); err != nil {
		return c, err
	}
	if c.Total, err = quotes.ParsePrice(r.NetValue.String()); err != nil {
		return c, err
	}
	return c, nil
}
