// Command shop-server starts the reference storefront cart API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/shopcart/internal/config"
	"github.com/and161185/shopcart/internal/limiter"
	"github.com/and161185/shopcart/internal/migrate"
	"github.com/and161185/shopcart/internal/repository"
	"github.com/and161185/shopcart/internal/repository/memory"
	"github.com/and161185/shopcart/internal/repository/postgres"
	"github.com/and161185/shopcart/internal/server/rest"
	"github.com/and161185/shopcart/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// backend is the storage the services run on.
type backend struct {
	users    repository.UserRepository
	products repository.ProductRepository
	carts    repository.CartRepository
	lim      limiter.Limiter
	ready    func(context.Context) error
	close    func()
}

func openBackend(ctx context.Context, cfg config.Server, log *zap.Logger) (*backend, error) {
	policy := limiter.Policy{Window: cfg.LoginWindow, MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlock}

	if cfg.Store == config.StoreMemory {
		store := memory.New(memory.DemoCatalog()...)
		log.Warn("using in-memory storage; data is lost on exit")
		return &backend{
			users:    store,
			products: store,
			carts:    store.Carts(),
			lim:      limiter.NewMemory(policy),
			ready:    store.Ready,
			close:    func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DSN, log); err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	db, pool, err := postgres.Open(ctx, cfg.DSN, int32(cfg.MaxConns))
	if err != nil {
		return nil, err
	}
	return &backend{
		users:    postgres.NewUserRepo(db),
		products: postgres.NewProductRepo(db),
		carts:    postgres.NewCartRepo(db),
		lim:      limiter.NewPG(pool, policy),
		ready:    db.Ready,
		close:    db.Close,
	}, nil
}

func newLogger(dev bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// main parses configuration, opens storage and serves the API until SIGINT/SIGTERM.
func main() {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer be.close()

	authSvc := service.NewAuthService(be.users, []byte(cfg.JWTKey), cfg.AccessTTL, be.lim)
	cartSvc := service.NewCartService(be.carts, be.products, cfg.GuestTTL)
	go service.RunExpiry(ctx, cartSvc, cfg.SweepEvery, logger)

	srv := rest.New(cfg.Addr, rest.Deps{
		Auth:        authSvc,
		Carts:       cartSvc,
		Ready:       be.ready,
		CORSOrigins: cfg.CORSOrigins,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- srv.ListenAndServe(cfg.TLSCert, cfg.TLSKey)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			be.close()
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
