// Package quotes refreshes a caller-owned set of stock quotes with one
// batched, hash-aware request per poll.
package quotes

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/retry"
	"commsec-trader/internal/types"
)

type Poller struct {
	src         interfaces.QuoteSource
	ctrl        *retry.Controller
	maxAttempts int
}

func NewPoller(src interfaces.QuoteSource, ctrl *retry.Controller, maxAttempts int) *Poller {
	return &Poller{src: src, ctrl: ctrl, maxAttempts: maxAttempts}
}

// Fill sends every code with its last change hash and applies the entries
// that came back. Codes missing from the response were unchanged and keep
// their values. Nothing is applied unless an attempt succeeds.
func (p *Poller) Fill(ctx context.Context, book map[string]*types.StockQuote) error {
	_, err := p.fill(ctx, book)
	return err
}

func (p *Poller) fill(ctx context.Context, book map[string]*types.StockQuote) ([]string, error) {
	const op = "quotes.fill"
	if len(book) == 0 {
		return nil, nil
	}

	hashes := make(map[string]string, len(book))
	index := make(map[string]string, len(book))
	for code, q := range book {
		if q == nil || code == "" {
			return nil, brokererr.Configuration(op, "quote entries must have a code and a value")
		}
		key := strings.ToUpper(code)
		if prev, dup := index[key]; dup {
			return nil, brokererr.Configuration(op, "codes "+prev+" and "+code+" name the same stock")
		}
		hashes[key] = q.ChangeHash
		index[key] = code
	}

	updates, err := retry.Run(ctx, p.ctrl, op, p.maxAttempts, func(ctx context.Context) ([]types.QuoteUpdate, error) {
		req := make(map[string]string, len(hashes))
		for k, v := range hashes {
			req[k] = v
		}
		return p.src.FetchQuotes(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	var changed []string
	for _, u := range updates {
		code, ok := index[strings.ToUpper(u.Code)]
		if !ok {
			continue
		}
		q := book[code]
		if q.Code == "" {
			q.Code = code
		}
		q.LastPrice = u.LastPrice
		q.Bid = u.Bid
		q.Offer = u.Offer
		q.Volume = u.Volume
		q.ChangeHash = u.Hash
		q.SensitiveAnnouncement = u.SensitiveAnnouncement
		changed = append(changed, code)
	}
	sort.Strings(changed)
	logger.Debug(ctx, "Quotes filled", "requested", len(book), "changed", len(changed))
	return changed, nil
}

// Loop polls every interval until ctx is done, calling onUpdate with the
// codes that changed. An exhausted budget is logged and the next tick tries
// again; any other failure ends the loop.
func (p *Poller) Loop(ctx context.Context, interval time.Duration, book map[string]*types.StockQuote, onUpdate func(changed []string)) error {
	if interval <= 0 {
		return brokererr.Configuration("quotes.loop", "poll interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		changed, err := p.fill(ctx, book)
		switch {
		case err == nil:
			if len(changed) > 0 && onUpdate != nil {
				onUpdate(changed)
			}
		case brokererr.IsExhausted(err):
			logger.Warn(ctx, "Quote poll failed, will retry next tick", "error", err)
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ParseVolume accepts volumes as the platform formats them, e.g.
// "1,234,567".
func ParseVolume(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// ParsePrice parses a price string; blanks and "-" mean no trade yet.
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "$")
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
