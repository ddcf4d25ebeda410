package interfaces

import (
	"context"
	"time"

	"commsec-trader/internal/types"
)

// Authenticator performs the login and logout exchanges of a backend. It
// never retries; the session manager decides when to call it.
type Authenticator interface {
	Login(ctx context.Context, creds types.Credentials) (types.LoginResult, error)
	Logout(ctx context.Context) error
}

// OrderSteps are the three exchanges of the order wizard. Each step only
// classifies its failure; restarting is the order machine's job.
type OrderSteps interface {
	Initiate(ctx context.Context, side types.Side) (types.FormState, error)
	Specify(ctx context.Context, ticket types.OrderTicket, state types.FormState) (types.FormState, error)
	Confirm(ctx context.Context, ticket types.OrderTicket, state types.FormState) (string, error)
}

// QuoteSource fetches quotes for code->last hash. Unchanged codes are omitted
// from the result.
type QuoteSource interface {
	FetchQuotes(ctx context.Context, hashes map[string]string) ([]types.QuoteUpdate, error)
}

// HistorySource is the two-phase confirmations flow.
type HistorySource interface {
	ListingToken(ctx context.Context, q types.HistoryQuery) (string, error)
	Confirmations(ctx context.Context, token string, q types.HistoryQuery) ([]types.Confirmation, error)
}

type StatusSource interface {
	OrderStatus(ctx context.Context, id string) (types.OrderStatus, error)
}

// Broker is the full capability set every backend provides.
type Broker interface {
	Authenticator
	OrderSteps
	QuoteSource
	HistorySource
	StatusSource
	Name() string
}

// Canceller is implemented by backends that can cancel a resting order.
type Canceller interface {
	CancelOrder(ctx context.Context, id string) error
}

// HoldingsSource is implemented by backends that expose holdings.
type HoldingsSource interface {
	Holdings(ctx context.Context, account string) ([]types.Holding, error)
}

// OrderLister is implemented by backends that can list recent orders. A zero
// from and a non-positive limit leave the choice to the backend.
type OrderLister interface {
	Orders(ctx context.Context, account string, from time.Time, limit int) ([]types.OrderStatus, error)
}

// WatchlistSource is implemented by backends that expose saved watchlists.
type WatchlistSource interface {
	Watchlists(ctx context.Context) ([]types.Watchlist, error)
}
