// Command shop is a storefront cart client: it keeps the guest session, the login state
// and the cart view in sync with the storefront API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/shopcart/internal/api"
	"github.com/and161185/shopcart/internal/authstate"
	"github.com/and161185/shopcart/internal/bridge"
	"github.com/and161185/shopcart/internal/broadcast"
	"github.com/and161185/shopcart/internal/cart"
	"github.com/and161185/shopcart/internal/config"
	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// app is the wired client: one store and one bridge per process.
type app struct {
	cfg    *config.Client
	log    *zap.Logger
	client *api.Client
	creds  *authstate.State
	sess   *session.FileHolder
	store  *cart.Store
	bridge *bridge.Bridge
	close  func()
}

func newApp(ctx context.Context, cfg *config.Client, log *zap.Logger) (*app, error) {
	client := api.New(cfg.API, cfg.Timeout)
	creds := authstate.NewFile(cfg.AuthPath(), log)
	sess := session.NewFile(cfg.SessionPath(), log)
	store := cart.NewStore(client, creds, sess, log)

	var bus broadcast.Broadcaster
	closeFn := func() {}
	switch cfg.Broadcast {
	case config.BroadcastLocal:
		bus = broadcast.NewFile(cfg.EventsPath(), 0, log)
	case config.BroadcastKafka:
		k := broadcast.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		bus, closeFn = k, func() { _ = k.Close() }
	case config.BroadcastPG:
		p, closePool, err := broadcast.Dial(ctx, cfg.DSN, cfg.Channel, log)
		if err != nil {
			return nil, fmt.Errorf("broadcast pg: %w", err)
		}
		bus, closeFn = p, closePool
	}

	b := bridge.New(bridge.Deps{API: client, Creds: creds, Cart: store, Session: sess, Bus: bus, Log: log})
	return &app{cfg: cfg, log: log, client: client, creds: creds, sess: sess, store: store, bridge: b, close: closeFn}, nil
}

func newLogger(verbose bool) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	zc.DisableStacktrace = true
	if !verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	log, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func usage() {
	fmt.Fprintf(os.Stderr, `shop CLI
Usage:
  shop [-api URL] [-timeout 10s] [-broadcast local|kafka|pg|none] [-currency EUR] [-v] <cmd> [args]

Commands:
  version
  cart       [-json]                               (fetch or create the current cart)
  add        -p <product id> [-q <qty>]
  set        -p <product id> -q <qty>              (qty >= 1; use rm to delete)
  rm         -p <product id>
  clear
  register   -email <email> -password <pw> [-name <name>]
  login      -email <email> -password <pw>         (merges the guest cart)
  logout                                       (new guest session, notifies other instances)
  whoami
  session                                      (print the guest session id)
  watch                                        (apply logouts from other instances until ^C)
`)
	os.Exit(2)
}

// main parses global flags, wires the client and dispatches the subcommand.
func main() {
	cfg := config.ClientFlags(flag.CommandLine)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}
	cmd := flag.Arg(0)
	if cmd == "version" {
		fmt.Printf("shop %s (%s)\n", version, buildDate)
		return
	}

	log := newLogger(cfg.Verbose)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		fail(err)
	}
	defer a.close()

	if err := run(ctx, a, cmd, flag.Args()[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		}
		fail(err)
	}
}

func fail(err error) {
	var se *api.StatusError
	switch {
	case errors.As(err, &se):
		fmt.Fprintf(os.Stderr, "api error: status=%d msg=%s\n", se.Status, se.Message)
	case errors.Is(err, errs.ErrInvalidQuantity):
		fmt.Fprintln(os.Stderr, "quantity must be at least 1 (use rm to delete a line)")
	default:
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}

var errUsage = errors.New("usage")

// run executes one subcommand against a wired app and writes its output to w.
func run(ctx context.Context, a *app, cmd string, args []string, w io.Writer) error {
	switch cmd {

	case "cart":
		fs := flag.NewFlagSet("cart", flag.ContinueOnError)
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := a.withTimeout(ctx, a.store.FetchOrCreate); err != nil {
			return err
		}
		if *asJSON {
			return printJSON(w, a.store.Snapshot())
		}
		printCart(w, a.store.Snapshot(), a.cfg.Currency)

	case "add":
		fs := flag.NewFlagSet("add", flag.ContinueOnError)
		pid := fs.Int64("p", 0, "product id")
		qty := fs.Int("q", 1, "quantity to add")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := needProduct(*pid); err != nil {
			return err
		}
		err := a.withTimeout(ctx, func(ctx context.Context) error { return a.store.AddItem(ctx, *pid, *qty) })
		if err != nil {
			return err
		}
		printCart(w, a.store.Snapshot(), a.cfg.Currency)

	case "set":
		fs := flag.NewFlagSet("set", flag.ContinueOnError)
		pid := fs.Int64("p", 0, "product id")
		qty := fs.Int("q", 0, "new quantity (>= 1)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := needProduct(*pid); err != nil {
			return err
		}
		if *qty < 1 {
			return errs.ErrInvalidQuantity
		}
		err := a.withTimeout(ctx, func(ctx context.Context) error {
			if err := a.store.FetchOrCreate(ctx); err != nil {
				return err
			}
			return a.store.UpdateQuantity(ctx, *pid, *qty)
		})
		if err != nil {
			return err
		}
		printCart(w, a.store.Snapshot(), a.cfg.Currency)

	case "rm":
		fs := flag.NewFlagSet("rm", flag.ContinueOnError)
		pid := fs.Int64("p", 0, "product id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := needProduct(*pid); err != nil {
			return err
		}
		err := a.withTimeout(ctx, func(ctx context.Context) error {
			if err := a.store.FetchOrCreate(ctx); err != nil {
				return err
			}
			return a.store.RemoveItem(ctx, *pid)
		})
		if err != nil {
			return err
		}
		printCart(w, a.store.Snapshot(), a.cfg.Currency)

	case "clear":
		if err := a.withTimeout(ctx, a.store.Clear); err != nil {
			return err
		}
		fmt.Fprintln(w, "ok")

	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		email := fs.String("email", "", "email")
		pw := fs.String("password", "", "password")
		name := fs.String("name", "", "display name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *email == "" || *pw == "" {
			return fmt.Errorf("%w: need -email and -password", errUsage)
		}
		return a.withTimeout(ctx, func(ctx context.Context) error {
			p, err := a.client.Register(ctx, *email, *pw, *name)
			if err == nil {
				fmt.Fprintf(w, "registered %s (%s)\n", p.Email, p.ID)
			}
			return err
		})

	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		email := fs.String("email", "", "email")
		pw := fs.String("password", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *email == "" || *pw == "" {
			return fmt.Errorf("%w: need -email and -password", errUsage)
		}
		err := a.withTimeout(ctx, func(ctx context.Context) error {
			p, err := a.bridge.Login(ctx, *email, *pw)
			if err == nil {
				fmt.Fprintf(w, "logged in as %s\n", p.Email)
			}
			return err
		})
		if err != nil {
			return err
		}
		printCart(w, a.store.Snapshot(), a.cfg.Currency)

	case "logout":
		_ = a.withTimeout(ctx, func(ctx context.Context) error {
			a.bridge.Logout(ctx)
			return nil
		})
		fmt.Fprintln(w, "ok")

	case "whoami":
		if !a.creds.Authenticated() {
			fmt.Fprintf(w, "guest (session %s)\n", orNone(a.sess.Get()))
			return nil
		}
		err := a.withTimeout(ctx, func(ctx context.Context) error {
			p, err := a.client.Me(ctx, a.creds.AccessToken())
			if err != nil {
				return err
			}
			if err := a.creds.SetProfile(p); err != nil {
				a.log.Warn("store profile", zap.Error(err))
			}
			return printJSON(w, p)
		})
		if errors.Is(err, errs.ErrUnauthorized) {
			a.creds.Clear()
			fmt.Fprintln(w, "session expired; logged out locally")
			return nil
		}
		return err

	case "session":
		fmt.Fprintln(w, orNone(a.sess.Get()))

	case "watch":
		a.bridge.OnRemoteLogout = func(ev broadcast.Event) {
			fmt.Fprintf(w, "%s logout from %s\n", ev.At.Format("15:04:05"), ev.Origin)
		}
		fmt.Fprintf(w, "watching as %s\n", a.bridge.Instance())
		if err := a.bridge.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}

func (a *app) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	return fn(ctx)
}
