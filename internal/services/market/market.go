// Package market fetches historical price series from exchanges.
package market

import (
	"context"
	"strings"

	"github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/stocker/internal/domain"
)

const (
	ExchangeBinance = "binance"
	ExchangeBybit   = "bybit"
)

// Provider returns the candles of one symbol at one interval.
// Implementations make no ordering promise; callers normalize the series.
type Provider interface {
	FetchSeries(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error)
}

// Config selects and throttles the exchange.
type Config struct {
	Exchange          string
	APIKey            string
	APISecret         string
	RequestsPerSecond float64
	Burst             int
}

// New creates the history provider of the configured exchange.
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := newLimiter(cfg.RequestsPerSecond, cfg.Burst)

	switch strings.ToLower(cfg.Exchange) {
	case ExchangeBinance, "":
		return NewBinanceProvider(binance.NewClient(cfg.APIKey, cfg.APISecret), limiter, logger), nil
	case ExchangeBybit:
		return NewBybitProvider(newBybitClient(cfg.APIKey, cfg.APISecret), limiter, logger), nil
	default:
		return nil, errors.Errorf("unsupported exchange %q", cfg.Exchange)
	}
}

func newBybitClient(apiKey, apiSecret string) *bybit.Client {
	client := bybit.NewClient()
	if apiKey != "" && apiSecret != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}
	return client
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
