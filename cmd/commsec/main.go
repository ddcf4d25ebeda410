// Command commsec logs in to CommSec and runs one trading command, printing
// the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/eod"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/metrics"
	"commsec-trader/internal/types"
)

const usage = `usage: commsec [flags] <command> [args]

commands:
  login                      log in and list accounts
  quotes [CODE...]           fill quotes (codes default to quotes.codes)
  buy STOCK QTY [PRICE]      place a buy order, at market without PRICE
  sell STOCK QTY [PRICE]     place a sell order, at market without PRICE
  status ID                  show an order
  cancel ID                  cancel a resting order
  orders [FROM [N]]          up to N orders placed since the yyyy-mm-dd date FROM
  history FROM TO            confirmations between two yyyy-mm-dd dates
  summary FROM TO            per-stock totals of those confirmations, also written as CSV
  recent [N]                 the N most recent confirmations (default 10)
  holdings                   holdings of the trading account
  watchlists                 saved watchlists with prices
  logout                     log in and end the session

flags:
`

var aest = time.FixedZone("AEST", 10*60*60)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("commsec", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	account := fs.String("account", "", "trading account number (default: the account marked default)")
	watch := fs.Bool("watch", false, "quotes: keep polling until interrupted")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	if err := initializeSystem(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer shutdownSystem()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, *configPath, explicit)
	if err != nil {
		return fail(err)
	}
	ss, err := openSecretStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if ss != nil {
		defer ss.Close()
	}

	m := metrics.New()
	stopMetrics := serveMetrics(ctx, cfg.Metrics.Addr, m)
	defer stopMetrics()

	c, err := initializeClient(ctx, cfg, ss, m)
	if err != nil {
		return fail(err)
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd != "logout" {
		// no-op when the command never logged in
		defer func() { _ = c.Logout(context.Background()) }()
	}

	if *account != "" {
		if err := c.Connect(ctx); err != nil {
			return fail(err)
		}
		if err := c.SetDefaultAccount(*account); err != nil {
			return fail(err)
		}
	}

	out, err := dispatch(ctx, env{
		client:     c,
		codes:      cfg.Quotes.Codes,
		watch:      *watch,
		summaryDir: cfg.TradeLog.Dir,
		stdout:     stdout,
	}, cmd, rest)
	if err != nil {
		// a refused order is still printed with its reason
		if o, ok := out.(*types.Order); ok && o.Terminal() {
			printJSON(stdout, o)
		}
		return fail(err)
	}
	if out != nil {
		printJSON(stdout, out)
	}
	return 0
}

// env is what a command may use besides its arguments.
type env struct {
	client     interfaces.Client
	codes      []string // default quote codes
	watch      bool
	summaryDir string
	stdout     io.Writer
}

func dispatch(ctx context.Context, e env, cmd string, args []string) (any, error) {
	c := e.client
	switch cmd {
	case "login":
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"backend": c.Backend(), "accounts": c.Accounts()}, nil

	case "logout":
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		if err := c.Logout(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"logged_out": true}, nil

	case "quotes":
		codes := args
		if len(codes) == 0 {
			codes = e.codes
		}
		if len(codes) == 0 {
			return nil, brokererr.Configuration("cli.quotes", "no stock codes given")
		}
		book := make(map[string]*types.StockQuote, len(codes))
		for _, code := range codes {
			code = strings.ToUpper(code)
			book[code] = &types.StockQuote{Code: code}
		}
		if !e.watch {
			if err := c.FillQuotes(ctx, book); err != nil {
				return nil, err
			}
			return sortedQuotes(book), nil
		}
		err := c.WatchQuotes(ctx, 0, book, func(changed []string) {
			printJSON(e.stdout, map[string]any{"time": time.Now().In(aest).Format(time.RFC3339), "changed": changed, "quotes": sortedQuotes(book)})
		})
		return nil, err

	case "buy", "sell":
		o, err := parseOrder(args)
		if err != nil {
			return nil, err
		}
		if cmd == "buy" {
			err = c.Buy(ctx, o)
		} else {
			err = c.Sell(ctx, o)
		}
		return o, err

	case "status", "cancel":
		if len(args) != 1 {
			return nil, brokererr.Configuration("cli."+cmd, "expected one order id")
		}
		if cmd == "cancel" {
			if err := c.CancelOrder(ctx, args[0]); err != nil {
				return nil, err
			}
			return map[string]any{"cancelled": args[0]}, nil
		}
		return c.OrderStatus(ctx, args[0])

	case "history", "summary":
		if len(args) != 2 {
			return nil, brokererr.Configuration("cli."+cmd, "expected FROM and TO dates")
		}
		from, err := parseDay(args[0])
		if err != nil {
			return nil, err
		}
		to, err := parseDay(args[1])
		if err != nil {
			return nil, err
		}
		confs, err := c.History(ctx, from, to)
		if err != nil || cmd == "history" {
			return confs, err
		}
		rows := eod.Summarize(confs)
		path, err := eod.WriteFile(e.summaryDir, from, to, rows)
		if err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
		return map[string]any{"file": path, "rows": rows}, nil

	case "recent":
		n := 10
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, brokererr.Configuration("cli.recent", "N must be a number")
			}
			n = v
		}
		return c.RecentHistory(ctx, n)

	case "orders":
		if len(args) > 2 {
			return nil, brokererr.Configuration("cli.orders", "expected [FROM [N]]")
		}
		var (
			from  time.Time
			limit int
			err   error
		)
		if len(args) > 0 {
			if from, err = parseDay(args[0]); err != nil {
				return nil, err
			}
		}
		if len(args) > 1 {
			if limit, err = strconv.Atoi(args[1]); err != nil || limit <= 0 {
				return nil, brokererr.Configuration("cli.orders", "N must be a positive number")
			}
		}
		return c.Orders(ctx, from, limit)

	case "holdings":
		return c.Holdings(ctx)

	case "watchlists":
		return c.Watchlists(ctx)
	}
	return nil, brokererr.Configuration("cli", "unknown command "+cmd)
}

// parseOrder reads STOCK QTY [PRICE].
func parseOrder(args []string) (*types.Order, error) {
	const op = "cli.order"
	if len(args) < 2 || len(args) > 3 {
		return nil, brokererr.Configuration(op, "expected STOCK QTY [PRICE]")
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, brokererr.Configuration(op, "quantity must be a whole number")
	}
	o := &types.Order{Stock: strings.ToUpper(args[0]), Quantity: qty}
	if len(args) == 3 {
		p, err := decimal.NewFromString(strings.TrimPrefix(args[2], "$"))
		if err != nil {
			return nil, brokererr.Configuration(op, "price must be a decimal number")
		}
		o.LimitPrice = &p
	}
	return o, nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, aest)
	if err != nil {
		return time.Time{}, brokererr.Configuration("cli.history", "dates must be yyyy-mm-dd, got "+s)
	}
	return t, nil
}

func sortedQuotes(book map[string]*types.StockQuote) []*types.StockQuote {
	out := make([]*types.StockQuote, 0, len(book))
	for _, q := range book {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// fail reports err on stderr and maps its kind to the exit status.
func fail(err error) int {
	kind := brokererr.KindOf(err)
	printJSON(os.Stderr, map[string]string{"error": kind.String(), "reason": brokererr.Reason(err)})
	logger.ErrorWithErr(context.Background(), "Command failed", err)
	if kind == brokererr.KindConfiguration {
		return 2
	}
	return 1
}
