package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/stocker/config"
	"github.com/vadiminshakov/stocker/internal/dashboard"
	"github.com/vadiminshakov/stocker/internal/logging"
	"github.com/vadiminshakov/stocker/internal/services/market"
	"github.com/vadiminshakov/stocker/internal/services/pricecache"
	"github.com/vadiminshakov/stocker/internal/services/pricestream"
	"github.com/vadiminshakov/stocker/internal/storage/accounts"
	"github.com/vadiminshakov/stocker/internal/terminal"
	"github.com/vadiminshakov/stocker/internal/web"
)

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	var withTerminal bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard with its HTTP API",
		Long: `Load or create the account, open the configured symbol and serve the
dashboard over HTTP until interrupted.

Example:
  stocker serve --config config.gen.yaml --terminal`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, withTerminal)
		},
	}
	cmd.Flags().BoolVar(&withTerminal, "terminal", false, "redraw the dashboard in this terminal")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, withTerminal bool) error {
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := accounts.Open(cfg.Store.Backend, cfg.Store.Dir)
	if err != nil {
		return errors.Wrap(err, "open account store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close account store", zap.Error(err))
		}
	}()

	controller, err := newController(cfg, store, logger)
	if err != nil {
		return err
	}
	server := web.NewServer(cfg.HTTP.Addr, controller, logger.Named("web"))

	logger.Info("starting stocker",
		zap.String("user", cfg.UserID),
		zap.String("exchange", cfg.Market.Exchange),
		zap.String("symbol", cfg.Symbol),
		zap.String("interval", cfg.Interval.String()),
		zap.String("store", cfg.Store.Backend))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "dashboard")
		}
		return nil
	})
	g.Go(func() error {
		return server.Start(ctx)
	})
	if withTerminal {
		g.Go(func() error {
			terminal.Follow(ctx, os.Stdout, controller.Watch(ctx))
			return nil
		})
	}

	err = g.Wait()
	logger.Info("stocker stopped")
	return err
}

func newController(cfg config.Config, store accounts.Store, logger *zap.Logger) (*dashboard.Controller, error) {
	apiKey, apiSecret := cfg.APICredentials()
	provider, err := market.New(market.Config{
		Exchange:          cfg.Market.Exchange,
		APIKey:            apiKey,
		APISecret:         apiSecret,
		RequestsPerSecond: cfg.Market.RequestsPerSecond,
		Burst:             cfg.Market.Burst,
	}, logger.Named("market"))
	if err != nil {
		return nil, err
	}

	cache := pricecache.New(provider, pricecache.Config{
		FetchTimeout: cfg.Market.FetchTimeout,
		Retry: pricecache.RetryPolicy{
			MaxRetries:      cfg.Market.FetchRetries,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
		},
	}, logger.Named("pricecache"))

	transport, err := newTransport(cfg, provider)
	if err != nil {
		return nil, err
	}
	stream := pricestream.New(transport, logger.Named("pricestream"))

	return dashboard.New(dashboard.Config{
		UserID:               cfg.UserID,
		BaseCurrency:         cfg.BaseCurrency,
		InitialBalance:       cfg.InitialBalance,
		DefaultSymbol:        cfg.Symbol,
		DefaultInterval:      cfg.Interval,
		Reconnect:            cfg.Stream.Reconnect,
		ReconnectInitial:     cfg.Stream.ReconnectInitial,
		ReconnectMax:         cfg.Stream.ReconnectMax,
		ReconnectMaxAttempts: uint64(cfg.Stream.ReconnectMaxAttempts),
	}, cache, stream, store, logger.Named("dashboard")), nil
}

// newTransport picks the live price feed of the exchange. Bybit prices are polled from
// its ticker endpoint.
func newTransport(cfg config.Config, provider market.Provider) (pricestream.Transport, error) {
	switch cfg.Market.Exchange {
	case market.ExchangeBybit:
		pricer, ok := provider.(pricestream.LastPricer)
		if !ok {
			return nil, errors.Errorf("%s provider has no ticker endpoint", cfg.Market.Exchange)
		}
		return pricestream.NewPollingTransport(pricer, cfg.Stream.PollInterval), nil
	default:
		return pricestream.NewWebsocketTransport(cfg.Stream.URL, cfg.Stream.Proxy, cfg.Stream.ReadTimeout)
	}
}
