package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/tokenmarket/internal/config"
	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/engine"
	"github.com/efreitasn/tokenmarket/internal/handler"
	"github.com/efreitasn/tokenmarket/internal/ledger"
	"github.com/efreitasn/tokenmarket/internal/service"
	"github.com/efreitasn/tokenmarket/internal/store"
	"github.com/efreitasn/tokenmarket/internal/store/postgres"
)

// marketStore is everything the engine and the read services need from
// the order and trade store.
type marketStore interface {
	engine.Store
	service.OrderReader
	service.TradeReader
	service.TradeStatsReader
}

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Stores: PostgreSQL when configured, memory otherwise.
	var (
		orders  marketStore
		candles service.CandleStore
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		orders = postgres.New(pool)
		candles = postgres.NewCandleStore(pool)
		logger.Info("using postgres store")
	} else {
		orders = store.New()
		candles = store.NewCandleStore()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	// Ledger: remote gateway when configured, simulator otherwise.
	var gateway ledger.Gateway
	if cfg.LedgerURL != "" {
		gateway = ledger.NewHTTPGateway(cfg.LedgerURL, cfg.LedgerTimeout)
		logger.Info("using ledger gateway", slog.String("url", cfg.LedgerURL))
	} else {
		gateway = ledger.NewMemory(ledger.WithFaucet(cfg.LedgerSimBalance))
		logger.Warn("LEDGER_URL not set, using simulated ledger",
			slog.String("starting_balance", cfg.LedgerSimBalance.String()))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	book := engine.NewBookBuilder(orders)
	historySvc := service.NewHistoryService(candles, logger)
	statsSvc := service.NewStatsService(book, orders, cfg.StatsTTL, cfg.StatsCacheSize, nil)

	eng := engine.New(
		orders,
		gateway,
		domain.NewCurrencyRegistry(cfg.SupportedCurrencies...),
		engine.Config{
			PlatformAccount: cfg.PlatformAccount,
			Fees: engine.FeeSchedule{
				Rate:       cfg.PlatformFeeRate,
				BuyerShare: cfg.BuyerFeeShare,
				Min:        cfg.MinFee,
				Max:        cfg.MaxFee,
			},
			CASRetries:    uint64(cfg.CASRetries),
			CheckHoldings: cfg.CheckHoldings,
			Operators:     cfg.OperatorAccounts,
		},
		logger,
		engine.WithObserver(historySvc),
		engine.WithObserver(statsSvc),
		engine.WithMetrics(engine.NewMetrics(reg)),
	)
	sweeper := engine.NewSweeper(eng, cfg.ExpirationInterval, logger)

	router := handler.NewRouter(
		service.NewOrderService(eng, orders),
		service.NewMarketService(book, orders),
		historySvc,
		statsSvc,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		logger,
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Graceful shutdown: in-flight settlements finish before the store closes.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
