package interfaces

import (
	"context"
	"time"

	"commsec-trader/internal/types"
)

// Client is the surface callers trade through. Every method returns either
// its result or a classified *brokererr.Error.
type Client interface {
	Backend() string
	Connect(ctx context.Context) error
	EnsureAuthenticated(ctx context.Context) error
	Logout(ctx context.Context) error

	Accounts() []types.Account
	SetDefaultAccount(account string) error

	FillQuotes(ctx context.Context, book map[string]*types.StockQuote) error
	WatchQuotes(ctx context.Context, interval time.Duration, book map[string]*types.StockQuote, onUpdate func(changed []string)) error

	PlaceOrder(ctx context.Context, o *types.Order, side types.Side) error
	Buy(ctx context.Context, o *types.Order) error
	Sell(ctx context.Context, o *types.Order) error
	OrderStatus(ctx context.Context, id string) (types.OrderStatus, error)
	CancelOrder(ctx context.Context, id string) error
	Orders(ctx context.Context, from time.Time, limit int) ([]types.OrderStatus, error)

	History(ctx context.Context, from, to time.Time) ([]types.Confirmation, error)
	RecentHistory(ctx context.Context, limit int) ([]types.Confirmation, error)
	Holdings(ctx context.Context) ([]types.Holding, error)
	Watchlists(ctx context.Context) ([]types.Watchlist, error)
}
