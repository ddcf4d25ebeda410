// Package client assembles a backend, its session and the retrying
// components into the surface callers trade through.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"commsec-trader/internal/broker/mobile"
	"commsec-trader/internal/broker/web"
	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/history"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/metrics"
	"commsec-trader/internal/order"
	"commsec-trader/internal/quotes"
	"commsec-trader/internal/retry"
	"commsec-trader/internal/session"
	"commsec-trader/internal/store"
	"commsec-trader/internal/tradelog"
	"commsec-trader/internal/transport"
	"commsec-trader/internal/types"
)

type Option func(*options)

type options struct {
	store   session.ArtifactStore
	metrics *metrics.Metrics
	journal *tradelog.Journal
}

// WithArtifactStore persists the device id between runs.
func WithArtifactStore(s session.ArtifactStore) Option {
	return func(o *options) { o.store = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithJournal records every finished order.
func WithJournal(j *tradelog.Journal) Option {
	return func(o *options) { o.journal = j }
}

type Client struct {
	cfg     *store.Config
	broker  interfaces.Broker
	session *session.Manager
	ctrl    *retry.Controller
	machine *order.Machine
	poller  *quotes.Poller
	history *history.Reader
	metrics *metrics.Metrics
	journal *tradelog.Journal
}

var _ interfaces.Client = (*Client)(nil)

// New builds the backend named by cfg.Backend on its transport.
func New(cfg *store.Config, creds types.Credentials, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, brokererr.Configuration("client.new", "config is required")
	}
	artifact := session.NewArtifact()
	limits := transport.Limits{RatePerSecond: cfg.Transport.RatePerSecond, Burst: cfg.Transport.Burst}

	var brk interfaces.Broker
	switch cfg.Backend {
	case store.BackendWeb:
		form := web.OrderFormOptions{
			GoodForDay:         cfg.GoodForDay(),
			Sponsored:          cfg.SponsoredSettlement(),
			AdviserNotes:       cfg.Web.OrderForm.AdviserNotes,
			SecuritySearchYear: cfg.Web.OrderForm.SecuritySearchYear,
			PriceDecimals:      cfg.PriceDecimals(),
		}
		if !form.GoodForDay {
			until, err := cfg.GoodUntil()
			if err != nil {
				return nil, brokererr.Configuration("client.new", "web.order_form.good_until: "+err.Error())
			}
			form.GoodUntil = until
		}
		tr := transport.NewColly(transport.CollyConfig{
			UserAgent: cfg.Transport.UserAgent,
			Timeout:   cfg.Transport.Timeout,
			Limits:    limits,
		}, artifact)
		brk = web.New(tr, web.Options{
			BaseURL:    cfg.Web.BaseURL,
			OrderForm:  form,
			RecentDays: cfg.Web.RecentDays,
		})
	case store.BackendMobile:
		tr := transport.NewResty(transport.RestyConfig{
			BaseURL:   cfg.Mobile.BaseURL,
			UserAgent: cfg.Transport.UserAgent,
			Timeout:   cfg.Transport.Timeout,
			Limits:    limits,
			Header:    http.Header{"Origin": {cfg.Mobile.Origin}},
		}, artifact)
		brk = mobile.New(tr, artifact, mobile.Options{
			DevicePlatform: cfg.Mobile.DevicePlatform,
			GoodForDay:     cfg.GoodForDay(),
			PriceDecimals:  cfg.PriceDecimals(),
		})
	default:
		return nil, brokererr.Configuration("client.new", fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
	return NewWithBroker(cfg, brk, artifact, creds, opts...), nil
}

// NewWithBroker wires an already built backend. artifact must be the one the
// backend's transport keeps its cookies in.
func NewWithBroker(cfg *store.Config, brk interfaces.Broker, artifact *session.Artifact, creds types.Credentials, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var sessOpts []session.Option
	if o.store != nil {
		sessOpts = append(sessOpts, session.WithArtifactStore(o.store))
	}
	mgr := session.NewManager(brk, creds, artifact, sessOpts...)

	var ctrlOpts []retry.Option
	if o.metrics != nil {
		ctrlOpts = append(ctrlOpts, retry.WithObserver(o.metrics))
	}
	ctrl := retry.New(mgr, retry.Config{MaxAttempts: cfg.Retry.MaxAttempts, Pause: cfg.Retry.Pause}, ctrlOpts...)
	budget := cfg.Retry.MaxAttempts

	return &Client{
		cfg:     cfg,
		broker:  brk,
		session: mgr,
		ctrl:    ctrl,
		machine: order.NewMachine(brk, ctrl, budget, cfg.PriceDecimals()),
		poller:  quotes.NewPoller(brk, ctrl, budget),
		history: history.NewReader(brk, ctrl, budget),
		metrics: o.metrics,
		journal: o.journal,
	}
}

func (c *Client) Backend() string {
	return c.broker.Name()
}

// Connect logs in, trying at most retry.login_attempts times. Bad
// credentials are never retried past that budget.
func (c *Client) Connect(ctx context.Context) error {
	attempts := c.cfg.Retry.LoginAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = c.session.Connect(ctx); err == nil || brokererr.IsConfiguration(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("connect cancelled: %w", ctxErr)
		}
		logger.Warn(ctx, "Login failed", "attempt", i, "budget", attempts, "error", err)
	}
	return err
}

func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	return c.session.EnsureAuthenticated(ctx)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

func (c *Client) Accounts() []types.Account {
	return c.session.Artifact().Accounts()
}

func (c *Client) SetDefaultAccount(account string) error {
	return c.session.SetDefaultAccount(account)
}

func (c *Client) FillQuotes(ctx context.Context, book map[string]*types.StockQuote) error {
	return c.poller.Fill(ctx, book)
}

func (c *Client) WatchQuotes(ctx context.Context, interval time.Duration, book map[string]*types.StockQuote, onUpdate func(changed []string)) error {
	if interval <= 0 {
		interval = time.Duration(c.cfg.Quotes.PollSeconds) * time.Second
	}
	return c.poller.Loop(ctx, interval, book, onUpdate)
}

// PlaceOrder runs the order machine and records the terminal order in the
// journal and metrics.
func (c *Client) PlaceOrder(ctx context.Context, o *types.Order, side types.Side) error {
	err := c.machine.Place(ctx, o, side)
	if o == nil || !o.Terminal() {
		return err
	}
	if c.metrics != nil {
		c.metrics.ObserveOrder(side.String(), o.ID != "")
	}
	if c.journal != nil {
		price := "market"
		if o.LimitPrice != nil {
			price = o.LimitPrice.StringFixed(c.cfg.PriceDecimals())
		}
		if jerr := c.journal.Append(tradelog.Entry{
			Backend: c.Backend(),
			Account: c.session.DefaultAccount(),
			Side:    side.String(),
			Stock:   o.Stock,
			Qty:     o.Quantity,
			Price:   price,
			OrderID: o.ID,
			Error:   o.Error,
		}); jerr != nil {
			logger.Warn(ctx, "Could not journal order", "stock", o.Stock, "error", jerr)
		}
	}
	return err
}

func (c *Client) Buy(ctx context.Context, o *types.Order) error {
	return c.PlaceOrder(ctx, o, types.Buy)
}

func (c *Client) Sell(ctx context.Context, o *types.Order) error {
	return c.PlaceOrder(ctx, o, types.Sell)
}

func (c *Client) OrderStatus(ctx context.Context, id string) (types.OrderStatus, error) {
	const op = "order.status"
	if id == "" {
		return types.OrderStatus{}, brokererr.Configuration(op, "order id is required")
	}
	return retry.Run(ctx, c.ctrl, op, c.ctrl.MaxAttempts(), func(ctx context.Context) (types.OrderStatus, error) {
		return c.broker.OrderStatus(ctx, id)
	})
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	const op = "order.cancel"
	if id == "" {
		return brokererr.Configuration(op, "order id is required")
	}
	cc, ok := c.broker.(interfaces.Canceller)
	if !ok {
		return brokererr.Configuration(op, c.Backend()+" backend cannot cancel orders")
	}
	return c.ctrl.Do(ctx, op, func(ctx context.Context) error {
		return cc.CancelOrder(ctx, id)
	})
}

// Orders lists the selected account's orders placed on or after from. A zero
// from and a non-positive limit use the backend's defaults.
func (c *Client) Orders(ctx context.Context, from time.Time, limit int) ([]types.OrderStatus, error) {
	const op = "orders"
	ol, ok := c.broker.(interfaces.OrderLister)
	if !ok {
		return nil, brokererr.Configuration(op, c.Backend()+" backend cannot list orders")
	}
	return retry.Run(ctx, c.ctrl, op, c.ctrl.MaxAttempts(), func(ctx context.Context) ([]types.OrderStatus, error) {
		return ol.Orders(ctx, c.session.DefaultAccount(), from, limit)
	})
}

func (c *Client) History(ctx context.Context, from, to time.Time) ([]types.Confirmation, error) {
	return c.history.ConfirmationsInRange(ctx, from, to)
}

func (c *Client) RecentHistory(ctx context.Context, limit int) ([]types.Confirmation, error) {
	return c.history.RecentConfirmations(ctx, limit)
}

// Holdings lists the holdings of the selected trading account.
func (c *Client) Holdings(ctx context.Context) ([]types.Holding, error) {
	const op = "holdings"
	hs, ok := c.broker.(interfaces.HoldingsSource)
	if !ok {
		return nil, brokererr.Configuration(op, c.Backend()+" backend has no holdings")
	}
	return retry.Run(ctx, c.ctrl, op, c.ctrl.MaxAttempts(), func(ctx context.Context) ([]types.Holding, error) {
		return hs.Holdings(ctx, c.session.DefaultAccount())
	})
}

func (c *Client) Watchlists(ctx context.Context) ([]types.Watchlist, error) {
	const op = "watchlists"
	ws, ok := c.broker.(interfaces.WatchlistSource)
	if !ok {
		return nil, brokererr.Configuration(op, c.Backend()+" backend has no watchlists")
	}
	return retry.Run(ctx, c.ctrl, op, c.ctrl.MaxAttempts(), func(ctx context.Context) ([]types.Watchlist, error) {
		return ws.Watchlists(ctx)
	})
}
