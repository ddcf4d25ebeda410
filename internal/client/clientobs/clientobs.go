package clientobs

import (
	"context"
	"time"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/trace"
	"commsec-trader/internal/types"
)

// observableClient wraps a Client with spans and structured logs
type observableClient struct {
	client interfaces.Client
}

var _ interfaces.Client = (*observableClient)(nil)

// Wrap wraps a client with observability middleware
func Wrap(c interfaces.Client) interfaces.Client {
	return &observableClient{client: c}
}

func (oc *observableClient) Backend() string {
	return oc.client.Backend()
}

func (oc *observableClient) Connect(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "client.Connect")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Connecting", "backend", oc.client.Backend())
	if err := oc.client.Connect(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Connect failed", err, "kind", brokererr.KindOf(err).String())
		return err
	}
	logger.InfoSkip(ctx, 1, "Connected", "accounts", len(oc.client.Accounts()))
	return nil
}

func (oc *observableClient) EnsureAuthenticated(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "client.EnsureAuthenticated")
	defer span.End()

	err := oc.client.EnsureAuthenticated(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Authentication failed", err)
	}
	return err
}

func (oc *observableClient) Logout(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "client.Logout")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Logging out")
	return oc.client.Logout(ctx)
}

func (oc *observableClient) Accounts() []types.Account {
	return oc.client.Accounts()
}

func (oc *observableClient) SetDefaultAccount(account string) error {
	if err := oc.client.SetDefaultAccount(account); err != nil {
		logger.Warn(context.Background(), "Cannot select account", "account", account, "error", err)
		return err
	}
	logger.Info(context.Background(), "Trading account selected", "account", account)
	return nil
}

// FillQuotes refreshes the book with observability
func (oc *observableClient) FillQuotes(ctx context.Context, book map[string]*types.StockQuote) error {
	ctx, span := trace.StartSpan(ctx, "client.FillQuotes")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Filling quotes", "count", len(book))
	if err := oc.client.FillQuotes(ctx, book); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fill quotes", err, "count", len(book))
		return err
	}
	return nil
}

func (oc *observableClient) WatchQuotes(ctx context.Context, interval time.Duration, book map[string]*types.StockQuote, onUpdate func(changed []string)) error {
	ctx, span := trace.StartSpan(ctx, "client.WatchQuotes")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Watching quotes", "count", len(book), "interval", interval.String())
	err := oc.client.WatchQuotes(ctx, interval, book, onUpdate)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Quote watch stopped", err)
	}
	return err
}

// PlaceOrder places an order with observability
func (oc *observableClient) PlaceOrder(ctx context.Context, o *types.Order, side types.Side) error {
	ctx, span := trace.StartSpan(ctx, "client.PlaceOrder")
	defer span.End()

	start := time.Now()
	if o != nil {
		logger.InfoSkip(ctx, 1, "Placing order",
			"stock", o.Stock,
			"side", side.String(),
			"qty", o.Quantity,
			"at_market", o.AtMarket(),
		)
	}

	err := oc.client.PlaceOrder(ctx, o, side)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Order not placed", err,
			"kind", brokererr.KindOf(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}

	logger.InfoSkip(ctx, 1, "Order placed",
		"stock", o.Stock,
		"order_id", o.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (oc *observableClient) Buy(ctx context.Context, o *types.Order) error {
	return oc.PlaceOrder(ctx, o, types.Buy)
}

func (oc *observableClient) Sell(ctx context.Context, o *types.Order) error {
	return oc.PlaceOrder(ctx, o, types.Sell)
}

func (oc *observableClient) OrderStatus(ctx context.Context, id string) (types.OrderStatus, error) {
	ctx, span := trace.StartSpan(ctx, "client.OrderStatus")
	defer span.End()

	st, err := oc.client.OrderStatus(ctx, id)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch order status", err, "order_id", id)
		return st, err
	}
	logger.DebugSkip(ctx, 1, "Order status fetched", "order_id", id, "status", st.Status)
	return st, nil
}

func (oc *observableClient) CancelOrder(ctx context.Context, id string) error {
	ctx, span := trace.StartSpan(ctx, "client.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", id)
	if err := oc.client.CancelOrder(ctx, id); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", id)
		return err
	}
	logger.InfoSkip(ctx, 1, "Order cancelled", "order_id", id)
	return nil
}

func (oc *observableClient) History(ctx context.Context, from, to time.Time) ([]types.Confirmation, error) {
	ctx, span := trace.StartSpan(ctx, "client.History")
	defer span.End()

	out, err := oc.client.History(ctx, from, to)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to read confirmations", err,
			"from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly))
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Confirmations read", "count", len(out))
	return out, nil
}

func (oc *observableClient) RecentHistory(ctx context.Context, limit int) ([]types.Confirmation, error) {
	ctx, span := trace.StartSpan(ctx, "client.RecentHistory")
	defer span.End()

	out, err := oc.client.RecentHistory(ctx, limit)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to read recent confirmations", err, "limit", limit)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Recent confirmations read", "count", len(out))
	return out, nil
}

func (oc *observableClient) Holdings(ctx context.Context) ([]types.Holding, error) {
	ctx, span := trace.StartSpan(ctx, "client.Holdings")
	defer span.End()

	out, err := oc.client.Holdings(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch holdings", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Holdings fetched", "count", len(out))
	return out, nil
}

func (oc *observableClient) Orders(ctx context.Context, from time.Time, limit int) ([]types.OrderStatus, error) {
	ctx, span := trace.StartSpan(ctx, "client.Orders")
	defer span.End()

	out, err := oc.client.Orders(ctx, from, limit)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to list orders", err, "limit", limit)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Orders listed", "count", len(out))
	return out, nil
}

func (oc *observableClient) Watchlists(ctx context.Context) ([]types.Watchlist, error) {
	ctx, span := trace.StartSpan(ctx, "client.Watchlists")
	defer span.End()

	out, err := oc.client.Watchlists(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch watchlists", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Watchlists fetched", "count", len(out))
	return out, nil
}
