// Package history reads trade confirmations through the platform's
// two-phase listing: a context token first, then the filtered result.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/retry"
	"commsec-trader/internal/types"
)

type Reader struct {
	src         interfaces.HistorySource
	ctrl        *retry.Controller
	maxAttempts int
}

func NewReader(src interfaces.HistorySource, ctrl *retry.Controller, maxAttempts int) *Reader {
	return &Reader{src: src, ctrl: ctrl, maxAttempts: maxAttempts}
}

// ConfirmationsInRange returns confirmations traded between from and to,
// both dates inclusive.
func (r *Reader) ConfirmationsInRange(ctx context.Context, from, to time.Time) ([]types.Confirmation, error) {
	const op = "history.range"
	if from.IsZero() || to.IsZero() {
		return nil, brokererr.Configuration(op, "both dates are required")
	}
	if from.After(to) {
		return nil, brokererr.Configuration(op, fmt.Sprintf("from %s is after to %s", from.Format(time.DateOnly), to.Format(time.DateOnly)))
	}
	return r.read(ctx, op, types.HistoryQuery{From: from, To: to})
}

// RecentConfirmations returns at most limit confirmations, newest first.
func (r *Reader) RecentConfirmations(ctx context.Context, limit int) ([]types.Confirmation, error) {
	const op = "history.recent"
	if limit <= 0 {
		return nil, brokererr.Configuration(op, fmt.Sprintf("limit must be positive, got %d", limit))
	}
	out, err := r.read(ctx, op, types.HistoryQuery{Limit: limit})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TradeDate.After(out[j].TradeDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// read runs both phases as one unit of work, so a failure in either phase
// starts over with a fresh listing token.
func (r *Reader) read(ctx context.Context, op string, q types.HistoryQuery) ([]types.Confirmation, error) {
	out, err := retry.Run(ctx, r.ctrl, op, r.maxAttempts, func(ctx context.Context) ([]types.Confirmation, error) {
		token, err := r.src.ListingToken(ctx, q)
		if err != nil {
			return nil, err
		}
		return r.src.Confirmations(ctx, token, q)
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "Confirmations read", "operation", op, "count", len(out))
	if out == nil {
		out = []types.Confirmation{}
	}
	return out, nil
}
