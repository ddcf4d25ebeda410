package types

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials are supplied once by the caller and owned by the session
// manager. They are never serialized and redact themselves when printed.
type Credentials struct {
	ClientID        string
	Password        string
	TradingPassword string
	DeviceID        string
	LoginType       string // "password" or "pin"
}

func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.Password != ""
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{ClientID:%s}", c.ClientID)
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_id", c.ClientID),
		slog.Bool("has_trading_password", c.TradingPassword != ""),
		slog.Bool("has_device_id", c.DeviceID != ""),
	)
}

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "Sell"
	}
	return "Buy"
}

// Order is passed by pointer through the placement machine and mutated in
// place. It is terminal once either ID or Error is set, never both.
type Order struct {
	Stock      string           `json:"stock"`
	Quantity   int              `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price"` // nil means at-market
	ID         string           `json:"id,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func (o *Order) AtMarket() bool {
	return o.LimitPrice == nil
}

func (o *Order) Terminal() bool {
	return o.ID != "" || o.Error != ""
}

// OrderTicket is the per-attempt snapshot of an order handed to a backend.
type OrderTicket struct {
	Side       Side
	Stock      string
	Quantity   int
	LimitPrice *decimal.Decimal
}

// Confirmation is a confirmed trade record. Read-only once produced.
type Confirmation struct {
	ConfirmationID string          `json:"confirmation_id"`
	OrderID        string          `json:"order_id"`
	TradeDate      time.Time       `json:"trade_date"`
	IsBuy          bool            `json:"is_buy"`
	Stock          string          `json:"stock"`
	Units          int             `json:"units"`
	ApproxPrice    decimal.Decimal `json:"approx_price"`
	Fee            decimal.Decimal `json:"fee"`
	Total          decimal.Decimal `json:"total"`
	SettlementDate time.Time       `json:"settlement_date"`
}

// StockQuote holds the last known data for one instrument. ChangeHash is
// echoed on the next poll; an empty hash means nothing has been seen yet.
type StockQuote struct {
	Code                  string          `json:"code"`
	LastPrice             decimal.Decimal `json:"last_price"`
	Bid                   decimal.Decimal `json:"bid"`
	Offer                 decimal.Decimal `json:"offer"`
	Volume                int64           `json:"volume"`
	ChangeHash            string          `json:"change_hash,omitempty"`
	SensitiveAnnouncement bool            `json:"sensitive_announcement,omitempty"`
}

// QuoteUpdate is one changed entry of a quote poll.
type QuoteUpdate struct {
	Code                  string
	LastPrice             decimal.Decimal
	Bid, Offer            decimal.Decimal
	Volume                int64
	Hash                  string
	SensitiveAnnouncement bool
}

// OrderStatus describes one order resting in or finished on the market. ID
// is what the order was looked up by, or the platform's internal order id in
// listings; that id is the one cancellation takes.
type OrderStatus struct {
	ID             string           `json:"id"`
	OrderNumber    string           `json:"order_number,omitempty"`
	Stock          string           `json:"stock"`
	IsBuy          bool             `json:"is_buy"`
	Quantity       int              `json:"quantity"`
	FilledQuantity int              `json:"filled_quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

type WatchlistItem struct {
	Code      string          `json:"code"`
	LastPrice decimal.Decimal `json:"last_price"`
	Offer     decimal.Decimal `json:"offer"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    int64           `json:"volume"`
}

type Watchlist struct {
	ID    string          `json:"id"`
	Name  string          `json:"name,omitempty"`
	Items []WatchlistItem `json:"items"`
}

type Holding struct {
	Account        string          `json:"account"`
	Code           string          `json:"code"`
	AvailableUnits int             `json:"available_units"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
}

type Account struct {
	Number         string `json:"number"`
	Name           string `json:"name"`
	DefaultTrading bool   `json:"default_trading"`
}

// LoginResult is what a successful login exchange hands back to the session
// manager.
type LoginResult struct {
	Accounts       []Account
	DefaultAccount string
	DeviceID       string
	RequestToken   string
}

// FormState carries the per-session tokens one order step hands to the next.
// It never outlives the attempt that produced it.
type FormState struct {
	Token  string
	Hidden map[string]string
}

// HistoryQuery selects confirmations either by date range or by recency.
type HistoryQuery struct {
	From, To time.Time
	Limit    int
}
