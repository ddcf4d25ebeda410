package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/types"
)

func TestParseOrder(t *testing.T) {
	o, err := parseOrder([]string{"bhp", "100"})
	require.NoError(t, err)
	assert.Equal(t, "BHP", o.Stock)
	assert.Equal(t, 100, o.Quantity)
	assert.True(t, o.AtMarket())

	o, err = parseOrder([]string{"CBA", "5", "$101.255"})
	require.NoError(t, err)
	require.NotNil(t, o.LimitPrice)
	assert.Equal(t, "101.255", o.LimitPrice.String())

	for _, args := range [][]string{{"BHP"}, {"BHP", "x"}, {"BHP", "1", "abc"}, {"BHP", "1", "2", "3"}} {
		_, err := parseOrder(args)
		assert.True(t, brokererr.IsConfiguration(err), args)
	}
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-03T14:00:00Z", d.UTC().Format(time.RFC3339))

	_, err = parseDay("4/3/2024")
	assert.True(t, brokererr.IsConfiguration(err))
}

// stubClient answers the few calls the dispatch tests make.
type stubClient struct {
	interfaces.Client
	filled  []string
	history [2]time.Time
	orders  []any
}

func (s *stubClient) Orders(_ context.Context, from time.Time, limit int) ([]types.OrderStatus, error) {
	s.orders = append(s.orders, from, limit)
	return []types.OrderStatus{{ID: "9"}}, nil
}

func (s *stubClient) Watchlists(context.Context) ([]types.Watchlist, error) {
	return []types.Watchlist{{ID: "7"}}, nil
}

func (s *stubClient) FillQuotes(_ context.Context, book map[string]*types.StockQuote) error {
	for code := range book {
		s.filled = append(s.filled, code)
	}
	return nil
}

func (s *stubClient) History(_ context.Context, from, to time.Time) ([]types.Confirmation, error) {
	s.history = [2]time.Time{from, to}
	return nil, nil
}

func (s *stubClient) Sell(_ context.Context, o *types.Order) error {
	o.Error = "Trade error: Insufficient holdings"
	return brokererr.Permanent("order.place", "Insufficient holdings", nil)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	c := &stubClient{}
	e := env{client: c, codes: []string{"anz"}, summaryDir: t.TempDir(), stdout: &buf}

	_, err := dispatch(ctx, e, "quotes", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ANZ"}, c.filled)

	_, err = dispatch(ctx, env{client: c, stdout: &buf}, "quotes", nil)
	assert.True(t, brokererr.IsConfiguration(err))

	_, err = dispatch(ctx, e, "history", []string{"2024-03-01", "2024-03-31"})
	require.NoError(t, err)
	assert.Equal(t, 31, c.history[1].Day())

	out, err := dispatch(ctx, e, "sell", []string{"BHP", "10"})
	assert.True(t, brokererr.IsPermanent(err))
	o, ok := out.(*types.Order)
	require.True(t, ok)
	assert.True(t, o.Terminal())

	_, err = dispatch(ctx, e, "status", nil)
	assert.True(t, brokererr.IsConfiguration(err))
	_, err = dispatch(ctx, e, "frobnicate", nil)
	assert.True(t, brokererr.IsConfiguration(err))

	out, err = dispatch(ctx, e, "summary", []string{"2024-03-01", "2024-03-31"})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["file"], "2024-03-01_2024-03-31.csv")
}

func TestDispatchOrdersAndWatchlists(t *testing.T) {
	ctx := context.Background()
	c := &stubClient{}
	e := env{client: c, stdout: &bytes.Buffer{}}

	_, err := dispatch(ctx, e, "orders", nil)
	require.NoError(t, err)
	_, err = dispatch(ctx, e, "orders", []string{"2024-03-01", "5"})
	require.NoError(t, err)
	require.Len(t, c.orders, 4)
	assert.True(t, c.orders[0].(time.Time).IsZero())
	assert.Equal(t, 0, c.orders[1])
	assert.Equal(t, "2024-02-29T14:00:00Z", c.orders[2].(time.Time).UTC().Format(time.RFC3339))
	assert.Equal(t, 5, c.orders[3])

	_, err = dispatch(ctx, e, "orders", []string{"2024-03-01", "many"})
	assert.True(t, brokererr.IsConfiguration(err))

	out, err := dispatch(ctx, e, "watchlists", nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestRunWithoutCommandIsUsageError(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 2, run(nil, &buf))
	assert.Equal(t, 2, run([]string{"-nosuchflag"}, &buf))
}
