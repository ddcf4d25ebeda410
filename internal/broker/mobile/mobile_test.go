package mobile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/order"
	"commsec-trader/internal/retry"
	"commsec-trader/internal/session"
	"commsec-trader/internal/transport"
	"commsec-trader/internal/types"
)

var (
	_ interfaces.Broker          = (*Broker)(nil)
	_ interfaces.Canceller       = (*Broker)(nil)
	_ interfaces.HoldingsSource  = (*Broker)(nil)
	_ interfaces.OrderLister     = (*Broker)(nil)
	_ interfaces.WatchlistSource = (*Broker)(nil)
	_ Tokens                     = (*session.Artifact)(nil)
)

// fakeService mimics the JSON service: every 200 rotates the token and
// trading calls must present the latest one.
type fakeService struct {
	t *testing.T

	mu          sync.Mutex
	seq         int
	token       string
	loggedIn    bool
	calls       []string
	params      map[string]map[string]any
	query       map[string]string
	validateErr string
	placeErr    string
	expireNext  bool
}

func (s *fakeService) rotate() string {
	s.seq++
	s.token = fmt.Sprintf("tok-%d", s.seq)
	return s.token
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	service := strings.TrimPrefix(r.URL.Path, "/svc/")
	s.calls = append(s.calls, service)
	assert.Equal(s.t, "https://app.example", r.Header.Get("Origin"))

	var params map[string]any
	if r.Method == http.MethodPost {
		var body struct {
			Data string `json:"data"`
		}
		raw, _ := io.ReadAll(r.Body)
		require.NoError(s.t, json.Unmarshal(raw, &body))
		require.NoError(s.t, json.Unmarshal([]byte(body.Data), &params))
	}
	s.params[service] = params
	s.query[service] = r.URL.RawQuery

	w.Header().Set("Content-Type", "application/json")
	reply := func(v map[string]any) {
		v["requestToken"] = s.rotate()
		_ = json.NewEncoder(w).Encode(v)
	}

	if service == "login" {
		if params["password"] != "pw" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"message":"Invalid login"}`)
			return
		}
		s.loggedIn = true
		reply(map[string]any{
			"deviceId": "dev-1",
			"accounts": []map[string]any{
				{"accountNumber": 1111, "accountName": "Cash"},
				{"accountNumber": "2222", "accountName": "Trading", "defaultTradingAccount": true},
			},
		})
		return
	}
	if !s.loggedIn || s.expireNext {
		s.expireNext = false
		s.loggedIn = false
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"Session expired"}`)
		return
	}

	switch service {
	case "getStockInfos":
		reply(map[string]any{"stockInfos": []map[string]any{
			{"code": "CBA", "lastPrice": 101.25, "bid": "101.2", "offer": "101.3", "volume": "1,234,567", "hash": "h2"},
		}})
	case "getorderdefaults":
		reply(map[string]any{})
	case "validateorder":
		assert.Equal(s.t, s.token, params["requestToken"])
		if s.validateErr != "" {
			reply(map[string]any{"errors": []map[string]any{{"message": s.validateErr}}})
			return
		}
		reply(map[string]any{"errors": []any{}, "warnings": []any{}})
	case "placeorder":
		if params["requestToken"] != s.token {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"message":"Invalid request token"}`)
			return
		}
		if s.placeErr != "" {
			reply(map[string]any{"errors": []map[string]any{{"message": s.placeErr}}})
			return
		}
		reply(map[string]any{"orderNumber": "AB123"})
	case "cancelorder":
		reply(map[string]any{"orderDidCancel": params["orderId"] == "55"})
	case "getholdings":
		reply(map[string]any{"entities": []map[string]any{{
			"entityName": "Me",
			"accounts": []map[string]any{{
				"accountNumber": "2222",
				"holdings": []map[string]any{
					{"code": "WBC", "availableUnits": 50, "purchasePrice": "20.10"},
					{"code": "ANZ", "availableUnits": "1,000", "purchasePrice": 25},
				},
			}},
		}}})
	case "getorders":
		reply(map[string]any{"orders": []map[string]any{
			{"orderId": 9, "orderNumber": "AB123", "code": "BHP", "side": "Buy", "quantity": 100, "quantityFilled": 40, "limitPrice": "45.11", "status": "Open", "createdAt": 1709510400},
		}})
	case "watchlists":
		reply(map[string]any{"lists": []map[string]any{{
			"id":   7,
			"name": "Banks",
			"items": []map[string]any{
				{"code": "ANZ", "lastPrice": "27.10", "offer": 27.12, "high": "27.50", "low": "26.90", "volume": "1,000"},
			},
		}}})
	case "getconfirmationsummary":
		reply(map[string]any{})
	case "getconfirmations":
		reply(map[string]any{"confirmations": []map[string]any{
			{"confirmationNumber": "C1", "orderNumber": "AB123", "tradeDate": "2024-03-04", "side": "B", "code": "BHP", "units": "100", "averagePrice": "45.11", "brokerage": "19.95", "netValue": "4530.95", "settlementDate": "2024-03-06"},
		}})
	case "logout":
		s.loggedIn = false
		reply(map[string]any{})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type fixture struct {
	svc     *fakeService
	broker  *Broker
	manager *session.Manager
	art     *session.Artifact
}

func newFixture(t *testing.T, password string) *fixture {
	t.Helper()
	svc := &fakeService{t: t, params: map[string]map[string]any{}, query: map[string]string{}}
	mux := http.NewServeMux()
	mux.Handle("/svc/", svc)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	art := session.NewArtifact()
	tr := transport.NewResty(transport.RestyConfig{
		BaseURL: srv.URL + "/svc/",
		Timeout: 5 * time.Second,
		Header:  http.Header{"Origin": {"https://app.example"}},
	}, art)
	b := New(tr, art, Options{GoodForDay: true, PriceDecimals: 2, Now: func() time.Time { return time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC) }})
	creds := types.Credentials{ClientID: "12345678", Password: password, TradingPassword: "tp"}
	return &fixture{svc: svc, broker: b, manager: session.NewManager(b, creds, art), art: art}
}

func TestLoginStoresTokenAndDefaultAccount(t *testing.T) {
	f := newFixture(t, "pw")
	require.NoError(t, f.manager.Connect(context.Background()))

	assert.Equal(t, "tok-1", f.art.RequestToken())
	assert.Equal(t, "2222", f.art.DefaultAccount())
	assert.Len(t, f.art.Accounts(), 2)
	assert.Equal(t, "dev-1", f.manager.Credentials().DeviceID)
	assert.Equal(t, "password", f.svc.params["login"]["loginType"])
	assert.Nil(t, f.svc.params["login"]["deviceId"])
}

func TestBadLoginIsAuthenticationError(t *testing.T) {
	f := newFixture(t, "wrong")
	err := f.manager.Connect(context.Background())

	assert.True(t, brokererr.IsAuthentication(err))
	assert.Contains(t, err.Error(), "Invalid login")
	assert.Equal(t, []string{"login"}, f.svc.calls)
}

func TestForbiddenIsTransient(t *testing.T) {
	f := newFixture(t, "pw")
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))
	f.svc.expireNext = true

	_, err := f.broker.FetchQuotes(ctx, map[string]string{"CBA": ""})
	assert.True(t, brokererr.IsTransient(err))
	assert.Contains(t, brokererr.Reason(err), "Session expired")
}

func TestFetchQuotesSendsHashes(t *testing.T) {
	f := newFixture(t, "pw")
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	got, err := f.broker.FetchQuotes(ctx, map[string]string{"ANZ": "h1", "CBA": ""})
	require.NoError(t, err)

	sent := f.svc.params["getStockInfos"]
	assert.Equal(t, true, sent["enableHash"])
	assert.Equal(t, map[string]any{"ANZ": "h1", "CBA": nil}, sent["stockCodesWithHash"])
	require.Len(t, got, 1)
	assert.Equal(t, "CBA", got[0].Code)
	assert.Equal(t, "h2", got[0].Hash)
	assert.Equal(t, int64(1234567), got[0].Volume)
	assert.True(t, got[0].LastPrice.Equal(decimal.RequireFromString("101.25")))
}

func TestOrderStepsRotateTokens(t *testing.T) {
	f := newFixture(t, "pw")
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	ticket := types.OrderTicket{Side: types.Buy, Stock: "BHP", Quantity: 100}
	st, err := f.broker.Initiate(ctx, types.Buy)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", st.Token)

	st, err = f.broker.Specify(ctx, ticket, st)
	require.NoError(t, err)
	assert.Equal(t, "tok-3", st.Token)

	ref, err := f.broker.Confirm(ctx, ticket, st)
	require.NoError(t, err)
	assert.Equal(t, "AB123", ref)

	placed := f.svc.params["placeorder"]
	assert.Equal(t, "AtMarket", placed["orderType"])
	assert.NotContains(t, placed, "limitPrice")
	assert.Equal(t, "tp", placed["tradingPassword"])
	assert.Equal(t, "2222", placed["accountNumber"])
	assert.Equal(t, "GoodForDay", placed["expiry"])
}

func TestStaleTokenIsRefused(t *testing.T) {
	f := newFixture(t, "pw")
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	_, err := f.broker.Confirm(ctx, types.OrderTicket{Stock: "BHP", Quantity: 1}, types.FormState{Token: "tok-0"})
	assert.True(t, brokererr.IsPermanent(err))
	assert.Contains(t, brokererr.Reason(err), "Invalid request token")
}

func TestValidationErrorsArePermanent(t *testing.T) {
	f := newFixture(t, "pw")
	f.svc.validateErr = "Insufficient funds"
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	limit := decimal.RequireFromString("45.10")
	ticket := types.OrderTicket{Side: types.Sell, Stock: "BHP", Quantity: 100, LimitPrice: &limit}
	st, err := f.broker.Initiate(ctx, types.Sell)
	require.NoError(t, err)
	_, err = f.broker.Specify(ctx, ticket, st)

	assert.True(t, brokererr.IsPermanent(err))
	assert.Equal(t, "Insufficient funds", brokererr.Reason(err))
	assert.Equal(t, "Limit", f.svc.params["validateorder"]["orderType"])
	assert.Equal(t, "45.10", f.svc.params["validateorder"]["limitPrice"])
}

func newMachine(f *fixture, decimals int32) *order.Machine {
	return order.NewMachine(f.broker, retry.New(f.manager, retry.DefaultConfig()), 3, decimals)
}

func TestPlaceRefusalReachesOrder(t *testing.T) {
	f := newFixture(t, "pw")
	f.svc.placeErr = "Insufficient funds"
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	o := &types.Order{Stock: "BHP", Quantity: 100}
	err := newMachine(f, 2).Place(ctx, o, types.Buy)

	assert.True(t, brokererr.IsPermanent(err))
	assert.Equal(t, "Trade error: Insufficient funds", o.Error)
	assert.Empty(t, o.ID)
}

func TestLimitPriceKeepsConfiguredPrecision(t *testing.T) {
	f := newFixture(t, "pw")
	f.broker.opts.PriceDecimals = 3
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	limit := decimal.RequireFromString("1.0049")
	o := &types.Order{Stock: "BHP", Quantity: 100, LimitPrice: &limit}
	require.NoError(t, newMachine(f, 3).Place(ctx, o, types.Buy))

	assert.Equal(t, "AB123", o.ID)
	assert.Equal(t, "1.005", f.svc.params["validateorder"]["limitPrice"])
	assert.Equal(t, "1.005", f.svc.params["placeorder"]["limitPrice"])
}

func TestOrdersListing(t *testing.T) {
	f := newFixture(t, "pw")
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	got, err := f.broker.Orders(ctx, "", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "9", got[0].ID)
	assert.Equal(t, "AB123", got[0].OrderNumber)
	assert.Equal(t, "BHP", got[0].Stock)

	lookback := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, fmt.Sprintf("accountNumber=2222&fromDateTimeStamp=%d&maxLength=20", lookback), f.svc.query["getorders"])

	from := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	_, err = f.broker.Orders(ctx, "3333", from, 5)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("accountNumber=3333&fromDateTimeStamp=%d&maxLength=5", from.Unix()), f.svc.query["getorders"])
}

func TestWatchlists(t *testing.T) {
	f := newFixture(t, "pw")
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	got, err := f.broker.Watchlists(ctx)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].ID)
	assert.Equal(t, "Banks", got[0].Name)
	require.Len(t, got[0].Items, 1)
	anz := got[0].Items[0]
	assert.Equal(t, "ANZ", anz.Code)
	assert.Equal(t, "27.12", anz.Offer.String())
	assert.Equal(t, "26.9", anz.Low.String())
	assert.Equal(t, int64(1000), anz.Volume)
}

func TestCancelHoldingsAndStatus(t *testing.T) {
	f := newFixture(t, "pw")
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	require.NoError(t, f.broker.CancelOrder(ctx, "55"))
	assert.True(t, brokererr.IsPermanent(f.broker.CancelOrder(ctx, "56")))

	holdings, err := f.broker.Holdings(ctx, "")
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "ANZ", holdings[0].Code)
	assert.Equal(t, 1000, holdings[0].AvailableUnits)
	assert.Equal(t, "accountId=2222", f.svc.query["getholdings"])

	st, err := f.broker.OrderStatus(ctx, "AB123")
	require.NoError(t, err)
	assert.True(t, st.IsBuy)
	assert.Equal(t, 40, st.FilledQuantity)
	assert.Equal(t, "Open", st.Status)
	assert.Equal(t, int64(1709510400), st.CreatedAt.Unix())

	_, err = f.broker.OrderStatus(ctx, "ZZ")
	assert.True(t, brokererr.IsPermanent(err))
}

func TestConfirmationsTwoPhases(t *testing.T) {
	f := newFixture(t, "pw")
	ctx := context.Background()
	require.NoError(t, f.manager.Connect(ctx))

	q := types.HistoryQuery{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, aest),
		To:   time.Date(2024, 3, 31, 0, 0, 0, 0, aest),
	}
	token, err := f.broker.ListingToken(ctx, q)
	require.NoError(t, err)
	got, err := f.broker.Confirmations(ctx, token, q)
	require.NoError(t, err)

	assert.Contains(t, f.svc.query["getconfirmations"], "requestToken="+token)
	assert.Contains(t, f.svc.query["getconfirmations"], "fromDate=2024-03-01")
	require.Len(t, got, 1)
	assert.Equal(t, "C1", got[0].ConfirmationID)
	assert.True(t, got[0].IsBuy)
	assert.Equal(t, "4530.95", got[0].Total.String())
	assert.Equal(t, "2024-03-03T14:00:00Z", got[0].TradeDate.UTC().Format(time.RFC3339))
}

func TestNoAccountIsConfigurationError(t *testing.T) {
	f := newFixture(t, "pw")
	_, err := f.broker.Initiate(context.Background(), types.Buy)
	assert.True(t, brokererr.IsConfiguration(err))
	assert.Empty(t, f.svc.calls)
}
