// Command admin is a back-office CLI over the storefront SDK.
//
//	admin -cmd=dashboard
//	admin -cmd=approve -order=<id>
//	admin -cmd=advance -order=<id> -stage=4
//	admin -cmd=status -order=<id> -status=shipped
//	admin -cmd=watch
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
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/querycache"
	"github.com/tidecrate/storefront/pkg/storefront"
)

const (
	envBaseURL  = "TIDECRATE_API_URL"
	envEmail    = "TIDECRATE_ADMIN_EMAIL"
	envPassword = "TIDECRATE_ADMIN_PASSWORD"
)

type options struct {
	cmd      string
	baseURL  string
	email    string
	password string
	orderID  string
	stage    int
	status   string
	timeout  time.Duration
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "dashboard", "dashboard|orders|approve|reject|complete|cancel|status|advance|stages|watch")
	flag.StringVar(&opts.baseURL, "url", envOr(envBaseURL, "http://localhost:8080"), "API base URL")
	flag.StringVar(&opts.email, "email", os.Getenv(envEmail), "admin email")
	flag.StringVar(&opts.password, "password", os.Getenv(envPassword), "admin password")
	flag.StringVar(&opts.orderID, "order", "", "order id")
	flag.IntVar(&opts.stage, "stage", 0, "stage number for -cmd=advance (0 resets every stage)")
	flag.StringVar(&opts.status, "status", "", "target status for -cmd=status")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "admin-cli", Level: logger.ParseLevel("warn"), Output: os.Stderr, Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logg *logger.Logger) error {
	client, err := storefront.New(storefront.Options{BaseURL: opts.baseURL, Timeout: opts.timeout, Logger: logg})
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.email == "" || opts.password == "" {
		return fmt.Errorf("admin credentials required (-email/-password or %s/%s)", envEmail, envPassword)
	}
	if _, err := client.SignIn(ctx, opts.email, opts.password); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer func() { _ = client.SignOut(context.Background()) }()
	if !client.Session().IsAdmin() {
		return fmt.Errorf("%s is not an admin account", opts.email)
	}

	switch opts.cmd {
	case "dashboard":
		dash, err := client.Dashboard(ctx)
		if err != nil {
			return err
		}
		return printJSON(dash)
	case "orders":
		list, err := client.AllOrders(ctx)
		if err != nil {
			return err
		}
		return printJSON(list)
	case "approve", "reject", "complete", "cancel", "status":
		return runOrderAction(ctx, client, opts)
	case "stages":
		orderID, err := parseOrder(opts.orderID)
		if err != nil {
			return err
		}
		stages, err := client.Stages(ctx, orderID)
		if err != nil {
			return err
		}
		return printJSON(stages)
	case "advance":
		orderID, err := parseOrder(opts.orderID)
		if err != nil {
			return err
		}
		plan, err := client.AdvanceShipment(ctx, orderID, opts.stage)
		if err != nil {
			return err
		}
		if len(plan) == 0 {
			fmt.Println("stages already match; nothing written")
			return nil
		}
		return printJSON(plan)
	case "watch":
		return watchOrders(ctx, client)
	default:
		return fmt.Errorf("unknown -cmd %q", opts.cmd)
	}
}

func runOrderAction(ctx context.Context, client *storefront.Client, opts options) error {
	orderID, err := parseOrder(opts.orderID)
	if err != nil {
		return err
	}
	var act func(context.Context, uuid.UUID) (any, error)
	switch opts.cmd {
	case "approve":
		act = wrap(client.Approve)
	case "reject":
		act = wrap(client.Reject)
	case "complete":
		act = wrap(client.Complete)
	case "cancel":
		act = wrap(client.Cancel)
	case "status":
		target := enums.OrderStatus(strings.TrimSpace(opts.status))
		act = func(ctx context.Context, id uuid.UUID) (any, error) {
			return client.SetStatus(ctx, id, target)
		}
	}
	order, err := act(ctx, orderID)
	if err != nil {
		return err
	}
	return printJSON(order)
}

// watchOrders prints the dashboard each time an order changes.
func watchOrders(ctx context.Context, client *storefront.Client) error {
	bridge := client.Bridge(client.ChangeStream())
	fmt.Fprintln(os.Stderr, "watching orders; ctrl-c to stop")
	topic := changefeed.Topic{Table: enums.ChangeTableOrders}
	return bridge.Watch(ctx, topic, querycache.AllOrders, func(ctx context.Context) error {
		dash, err := client.Dashboard(ctx)
		if err != nil {
			return err
		}
		return printJSON(dash)
	})
}

func wrap[T any](fn func(context.Context, uuid.UUID) (T, error)) func(context.Context, uuid.UUID) (any, error) {
	return func(ctx context.Context, id uuid.UUID) (any, error) {
		return fn(ctx, id)
	}
}

func parseOrder(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("-order must be a uuid: %w", err)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
