// Package order drives the three-step order wizard: Initiate, Specify,
// Confirm. The whole sequence is one unit of work; after a session loss it is
// restarted at Initiate, never resumed mid-way.
package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/retry"
	"commsec-trader/internal/types"
)

type State int

const (
	StateInitiate State = iota
	StateSpecify
	StateConfirm
	StateDone
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateInitiate:
		return "initiate"
	case StateSpecify:
		return "specify"
	case StateConfirm:
		return "confirm"
	case StateDone:
		return "done"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RejectionPrefix starts every Order.Error set by the machine.
const RejectionPrefix = "Trade error: "

// DefaultPriceDecimals is the minor unit of AUD.
const DefaultPriceDecimals = 2

type Machine struct {
	steps       interfaces.OrderSteps
	ctrl        *retry.Controller
	maxAttempts int
	decimals    int32
}

func NewMachine(steps interfaces.OrderSteps, ctrl *retry.Controller, maxAttempts int, decimals int32) *Machine {
	return &Machine{steps: steps, ctrl: ctrl, maxAttempts: maxAttempts, decimals: decimals}
}

// RoundPrice rounds to the given number of decimals, halves away from zero:
// 1.005 -> 1.01, 1.004 -> 1.00, 19.995 -> 20.00.
func RoundPrice(p decimal.Decimal, places int32) decimal.Decimal {
	return p.Round(places)
}

// Place submits o and mutates it in place. When Place returns the order is
// terminal: ID is set on success, Error on any other failure. Configuration
// errors leave the order untouched since nothing was sent.
func (m *Machine) Place(ctx context.Context, o *types.Order, side types.Side) error {
	const op = "order.place"

	if o == nil {
		return brokererr.Configuration(op, "order is required")
	}
	if o.Terminal() {
		return brokererr.Configuration(op, "order already finished")
	}
	if o.Stock == "" {
		return brokererr.Configuration(op, "stock code is required")
	}
	if o.Quantity <= 0 {
		return brokererr.Configuration(op, fmt.Sprintf("quantity must be positive, got %d", o.Quantity))
	}
	if o.LimitPrice != nil {
		rounded := RoundPrice(*o.LimitPrice, m.decimals)
		if !rounded.IsPositive() {
			return brokererr.Configuration(op, "limit price must be positive")
		}
		o.LimitPrice = &rounded
	}

	ticket := types.OrderTicket{Side: side, Stock: o.Stock, Quantity: o.Quantity, LimitPrice: o.LimitPrice}

	ref, err := retry.Run(ctx, m.ctrl, op, m.maxAttempts, func(ctx context.Context) (string, error) {
		return m.run(ctx, ticket)
	})
	price := "market"
	if o.LimitPrice != nil {
		price = o.LimitPrice.StringFixed(m.decimals)
	}
	if brokererr.IsConfiguration(err) {
		return err
	}
	if err != nil {
		o.Error = RejectionPrefix + brokererr.Reason(err)
		logger.Order(ctx, o.Stock, side.String(), o.Quantity, price, "", o.Error)
		return err
	}
	o.ID = ref
	logger.Order(ctx, o.Stock, side.String(), o.Quantity, price, ref, "")
	return nil
}

// run is one attempt. The form state lives only inside it so a restarted
// attempt can never submit tokens issued to a dead session.
func (m *Machine) run(ctx context.Context, ticket types.OrderTicket) (string, error) {
	var (
		state = StateInitiate
		form  types.FormState
		err   error
	)
	for {
		logger.Debug(ctx, "Order step", "state", state.String(), "stock", ticket.Stock)
		switch state {
		case StateInitiate:
			if form, err = m.steps.Initiate(ctx, ticket.Side); err != nil {
				return "", err
			}
			state = StateSpecify
		case StateSpecify:
			if form, err = m.steps.Specify(ctx, ticket, form); err != nil {
				return "", err
			}
			state = StateConfirm
		case StateConfirm:
			ref, err := m.steps.Confirm(ctx, ticket, form)
			if err != nil {
				return "", err
			}
			if ref == "" {
				return "", brokererr.Permanent("order.confirm", "no reference returned", nil)
			}
			return ref, nil
		default:
			return "", brokererr.Permanent("order.place", "unexpected state "+state.String(), nil)
		}
	}
}
