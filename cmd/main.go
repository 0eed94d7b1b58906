package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/app"
	"nftmarket/internal/apperr"
	"nftmarket/internal/config"
	"nftmarket/internal/logging"
	"nftmarket/internal/models"
	"nftmarket/internal/orders"
	"nftmarket/internal/repository"
)

const usage = `usage: market [-config config.yaml] <command> [flags]

commands:
  migrate        create missing tables
  deposit        credit a user's available balance
  create-order   place a buy order
  cancel-order   cancel a buy order and refund its reservation
  list-orders    list buy orders
  sell           sell an owned asset into a buy order
  set-price      list or unlist an asset (listing triggers auto-match)
  match          run auto-match for one asset
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start")
	}
	defer a.Close()

	if err := run(ctx, a, flag.Arg(0), flag.Args()[1:]); err != nil {
		fields := logrus.Fields{"command": flag.Arg(0)}
		if e, ok := apperr.As(err); ok {
			fields["code"] = e.Code
			fields["retryable"] = e.Retryable()
			for k, v := range e.Details {
				fields[k] = v
			}
		}
		logger.WithError(err).WithFields(fields).Error("Command failed")
		a.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	switch command {
	case "migrate":
		return a.DB.Migrate(ctx)

	case "deposit":
		user := fs.Int64("user", 0, "user id")
		amount := fs.Int64("amount", 0, "amount in minor units")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := a.Ledger.Deposit(ctx, a.DB, *user, *amount); err != nil {
			return err
		}
		b, err := a.Ledger.Balance(ctx, a.DB, *user)
		if err != nil {
			return err
		}
		return printJSON(b)

	case "create-order":
		buyer := fs.Int64("buyer", 0, "buyer user id")
		title := fs.String("title", "", "collectible title")
		model := fs.String("model", "", "model filter (empty accepts any)")
		pattern := fs.String("pattern", "", "pattern filter (empty accepts any)")
		backdrop := fs.String("backdrop", "", "backdrop filter (empty accepts any)")
		price := fs.Int64("price", 0, "price limit per unit in minor units")
		quantity := fs.Int("quantity", 1, "units to buy")
		if err := fs.Parse(args); err != nil {
			return err
		}
		order, err := a.Orders.Create(ctx, orders.CreateRequest{
			BuyerID: *buyer,
			Criteria: models.Criteria{
				Title:    *title,
				Model:    models.StringPtr(*model),
				Pattern:  models.StringPtr(*pattern),
				Backdrop: models.StringPtr(*backdrop),
			},
			PriceLimit: *price,
			Quantity:   *quantity,
		})
		if err != nil {
			return err
		}
		return printJSON(order)

	case "cancel-order":
		id := fs.Int64("order", 0, "order id")
		caller := fs.Int64("user", 0, "calling user id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		order, err := a.Orders.Cancel(ctx, *id, *caller)
		if err != nil {
			return err
		}
		return printJSON(order)

	case "list-orders":
		var f repository.Filter
		mine := fs.Int64("mine", 0, "only active orders of this buyer")
		status := fs.String("status", "", "ACTIVE, FILLED or CANCELLED")
		titles := fs.String("titles", "", "comma-separated titles")
		modelsFlag := fs.String("models", "", "comma-separated models")
		patterns := fs.String("patterns", "", "comma-separated patterns")
		backdrops := fs.String("backdrops", "", "comma-separated backdrops")
		minPrice := fs.Int64("price-min", -1, "minimum price limit")
		maxPrice := fs.Int64("price-max", -1, "maximum price limit")
		fs.StringVar(&f.Sort, "sort", repository.DefaultSort, "created_at/asc, created_at/desc, price/asc or price/desc")
		fs.IntVar(&f.Limit, "limit", repository.DefaultLimit, "page size (max 100)")
		fs.IntVar(&f.Offset, "offset", 0, "page offset")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *status != "" {
			s := models.OrderStatus(strings.ToUpper(*status))
			f.Status = &s
		}
		f.Titles = splitList(*titles)
		f.Models = splitList(*modelsFlag)
		f.Patterns = splitList(*patterns)
		f.Backdrops = splitList(*backdrops)
		if *minPrice >= 0 {
			f.MinPrice = minPrice
		}
		if *maxPrice >= 0 {
			f.MaxPrice = maxPrice
		}

		var (
			page *repository.Page
			err  error
		)
		if *mine != 0 {
			page, err = a.Orders.ListMine(ctx, *mine, f)
		} else {
			page, err = a.Orders.List(ctx, f)
		}
		if err != nil {
			return err
		}
		return printJSON(page)

	case "sell":
		id := fs.Int64("order", 0, "order id")
		seller := fs.Int64("seller", 0, "seller user id")
		asset := fs.Int64("asset", 0, "asset id (0 picks a matching asset)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		req := orders.SellRequest{OrderID: *id, SellerID: *seller}
		if *asset != 0 {
			req.AssetID = asset
		}
		res, err := a.Orders.ManualSell(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "set-price":
		asset := fs.Int64("asset", 0, "asset id")
		owner := fs.Int64("owner", 0, "owner user id")
		price := fs.Int64("price", 0, "price in minor units (0 unlists)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var p *int64
		if *price != 0 {
			p = price
		}
		updated, err := a.Assets.SetPrice(ctx, *asset, *owner, p)
		if err != nil {
			return err
		}
		// let the auto-match started by the listing finish before exit
		a.Pool.Close()
		return printJSON(updated)

	case "match":
		asset := fs.Int64("asset", 0, "asset id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		res, err := a.Matcher.Match(ctx, *asset)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	return fmt.Errorf("unknown command %q\n\n%s", command, usage)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
