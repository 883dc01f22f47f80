package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aadi/tabletsync/internal/app/guest"
	"github.com/aadi/tabletsync/internal/platform/dbpool"
	"github.com/aadi/tabletsync/internal/platform/env"
)

const usage = `usage: guest <command> [flags] [args]

commands:
  menu                               list restaurants and menu items
  save  -r <restaurant> item[:qty]... replace the draft cart
  stage -r <restaurant> [-eta N] [-location] [-party N]
  fire  -r <restaurant>              send the staged order to the kitchen
  status -r <restaurant> [-watch]    show the order as the guest sees it
  reset -r <restaurant>              forget the order
`

func main() {
	env.LoadDotEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

type app struct {
	directory guest.Directory
	machine   *guest.Machine
	tracker   *guest.Tracker
	out       io.Writer
}

func newApp(ctx context.Context, out io.Writer) (*app, func(), error) {
	apiBase := env.String("TABLET_API_BASE", env.DefaultAPIBase)
	namespace := env.String("GUEST_NAMESPACE", guest.DefaultNamespace)

	var store guest.Store
	cleanup := func() {}
	if dbURL := env.String("GUEST_DATABASE_URL", ""); dbURL != "" {
		pool, err := dbpool.New(ctx, dbURL)
		if err != nil {
			return nil, nil, err
		}
		pgStore := guest.NewPostgresStore(pool, namespace)
		if err := dbpool.WaitReady(ctx, pool, pgStore.EnsureSchema, 10*time.Second); err != nil {
			pool.Close()
			return nil, nil, err
		}
		store = pgStore
		cleanup = pool.Close
	} else {
		store = guest.NewFileStore(env.String("GUEST_STATE_DIR", "."), namespace)
	}

	directory := guest.DemoDirectory()
	machine := guest.NewMachine(store, guest.NewHTTPInjector(apiBase))
	machine.KnownRestaurant = directory.Known
	return &app{
		directory: directory,
		machine:   machine,
		tracker:   guest.NewTracker(apiBase),
		out:       out,
	}, cleanup, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return flag.ErrHelp
	}
	a, cleanup, err := newApp(ctx, out)
	if err != nil {
		return err
	}
	defer cleanup()
	return a.dispatch(ctx, args[0], args[1:])
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(a.out)
	restaurant := fs.String("r", "", "restaurant id")
	eta := fs.Int("eta", 0, "minutes until arrival (1-60)")
	location := fs.Bool("location", false, "share location instead of an ETA")
	party := fs.Int("party", 0, "party size")
	watch := fs.Bool("watch", false, "keep polling until the order is ready")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch command {
	case "menu":
		a.printMenu()
		return nil
	case "save":
		items, err := a.parseItems(*restaurant, fs.Args())
		if err != nil {
			return err
		}
		order, err := a.machine.SaveCart(ctx, *restaurant, items)
		if err != nil {
			return err
		}
		a.printOrder(order)
		return nil
	case "stage":
		opts := guest.StageOptions{LocationEnabled: *location, PartySize: *party}
		if *location {
			opts.Plan = guest.ArrivalPlan{Mode: guest.ArrivalModeLocation, ETAMinutes: *eta}
		} else if *eta != 0 {
			opts.Plan = guest.ArrivalPlan{Mode: guest.ArrivalModeETA, ETAMinutes: *eta}
		}
		order, err := a.machine.Stage(ctx, *restaurant, opts)
		if err != nil {
			return err
		}
		a.printOrder(order)
		return nil
	case "fire":
		result, err := a.machine.Fire(ctx, *restaurant)
		if err != nil {
			return err
		}
		a.printOrder(result.Order)
		if result.InjectErr != nil {
			fmt.Fprintf(a.out, "warning: %v\n", result.InjectErr)
		}
		return nil
	case "status":
		order, err := a.machine.Get(ctx, *restaurant)
		if err != nil {
			return err
		}
		if !*watch {
			a.printReport(a.tracker.Check(ctx, order))
			return nil
		}
		err = a.tracker.Run(ctx, order, a.printReport)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case "reset":
		if err := a.machine.Reset(ctx, *restaurant); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "reset %s\n", *restaurant)
		return nil
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// parseItems turns "carbonara:2 tiramisu" into cart lines from the menu.
func (a *app) parseItems(restaurantID string, args []string) ([]guest.CartItem, error) {
	items := make([]guest.CartItem, 0, len(args))
	for _, arg := range args {
		id, rawQty, hasQty := strings.Cut(arg, ":")
		qty := 1
		if hasQty {
			n, err := strconv.Atoi(rawQty)
			if err != nil {
				return nil, fmt.Errorf("%w: bad quantity in %q", guest.ErrInvalidCart, arg)
			}
			qty = n
		}
		item, ok := a.directory.Item(restaurantID, id, qty)
		if !ok {
			return nil, fmt.Errorf("%w: no item %q at %q", guest.ErrInvalidCart, id, restaurantID)
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *app) printMenu() {
	for _, r := range a.directory.List() {
		fmt.Fprintf(a.out, "%s (%s)\n", r.Name, r.ID)
		for _, c := range r.Categories {
			fmt.Fprintf(a.out, "  %s\n", c.Name)
			for _, it := range c.Items {
				fmt.Fprintf(a.out, "    %-12s %-24s %s\n", it.ID, it.Name, formatCents(it.PriceCents))
			}
		}
	}
}

func (a *app) printOrder(o guest.Order) {
	fmt.Fprintf(a.out, "%s %s at %s\n", o.ID, o.State, o.RestaurantID)
	for _, it := range o.Cart.Items {
		fmt.Fprintf(a.out, "  %dx %s\n", it.Qty, it.Name)
	}
	fmt.Fprintf(a.out, "  total %s, arrival %s", formatCents(o.Cart.TotalCents()), o.ArrivalPlan.Mode)
	if o.ArrivalPlan.Mode == guest.ArrivalModeETA {
		fmt.Fprintf(a.out, " in %dm", o.ArrivalPlan.ETAMinutes)
	}
	fmt.Fprintln(a.out)
}

func (a *app) printReport(r guest.StatusReport) {
	switch {
	case r.Err != nil:
		fmt.Fprintf(a.out, "%s %s (restaurant unreachable: %v)\n", r.At.Format("15:04:05"), r.Effective, r.Err)
	case !r.Found:
		fmt.Fprintf(a.out, "%s %s (not at the restaurant yet)\n", r.At.Format("15:04:05"), r.Effective)
	default:
		fmt.Fprintf(a.out, "%s %s\n", r.At.Format("15:04:05"), r.Effective)
	}
}

func formatCents(cents int) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
