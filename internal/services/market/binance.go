package market

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/stocker/internal/domain"
)

// BinanceProvider reads spot klines from Binance. Every supported interval is native there.
type BinanceProvider struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBinanceProvider creates a new Binance history provider.
func NewBinanceProvider(client *binance.Client, limiter *rate.Limiter, logger *zap.Logger) *BinanceProvider {
	if limiter == nil {
		limiter = newLimiter(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BinanceProvider{client: client, limiter: limiter, logger: logger}
}

// FetchSeries fetches the lookback window of the interval.
func (p *BinanceProvider) FetchSeries(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "binance rate limiter")
	}

	klines, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval.String()).
		Limit(interval.Lookback()).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", symbol)
	}

	points, err := convertBinanceKlines(klines)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("fetched binance klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval.String()),
		zap.Int("count", len(points)))

	return points, nil
}

func convertBinanceKlines(klines []*binance.Kline) ([]domain.PricePoint, error) {
	points := make([]domain.PricePoint, 0, len(klines))
	for i, k := range klines {
		if k == nil {
			continue
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price at index %d", i)
		}
		points = append(points, domain.PricePoint{
			OpenTime:   time.UnixMilli(k.OpenTime).UTC(),
			ClosePrice: closePrice,
		})
	}
	return points, nil
}
