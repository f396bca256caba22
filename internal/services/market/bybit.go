package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/stocker/internal/domain"
)

const bybitMaxLimit = 1000

// bybitInterval maps an interval onto the native Bybit interval and the number of
// native candles merged into one.
type bybitInterval struct {
	native bybit.Interval
	factor int
}

var bybitIntervals = map[domain.Interval]bybitInterval{
	domain.Interval15m: {native: bybit.Interval("15"), factor: 1},
	domain.Interval1h:  {native: bybit.Interval("60"), factor: 1},
	domain.Interval8h:  {native: bybit.Interval("240"), factor: 2},
	domain.Interval1d:  {native: bybit.Interval("D"), factor: 1},
	domain.Interval3d:  {native: bybit.Interval("D"), factor: 3},
}

// BybitProvider reads spot klines from Bybit V5. Intervals Bybit lacks (8h, 3d) are built
// by merging native candles.
type BybitProvider struct {
	client  *bybit.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBybitProvider creates a new Bybit history provider.
func NewBybitProvider(client *bybit.Client, limiter *rate.Limiter, logger *zap.Logger) *BybitProvider {
	if limiter == nil {
		limiter = newLimiter(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BybitProvider{client: client, limiter: limiter, logger: logger}
}

// FetchSeries fetches the lookback window of the interval.
func (p *BybitProvider) FetchSeries(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error) {
	mapping, ok := bybitIntervals[interval]
	if !ok {
		return nil, errors.Errorf("interval %s is not supported by bybit", interval)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "bybit rate limiter")
	}

	limit := min(interval.Lookback()*mapping.factor, bybitMaxLimit)
	result, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(symbol),
		Interval: mapping.native,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", symbol)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.Errorf("empty result from Bybit API for %s", symbol)
	}

	points, err := convertBybitKlines(result.Result.List)
	if err != nil {
		return nil, err
	}
	if mapping.factor > 1 {
		points = resample(points, interval.Duration())
	}

	p.logger.Debug("fetched bybit klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval.String()),
		zap.Int("count", len(points)))

	return points, nil
}

// LastPrice returns the latest spot trade price of the symbol.
func (p *BybitProvider) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "bybit rate limiter")
	}

	s := bybit.SymbolV5(symbol)
	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &s,
	})
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "failed to fetch ticker from Bybit for %s", symbol)
	}
	if result == nil || len(result.Result.Spot.List) == 0 {
		return decimal.Decimal{}, fmt.Errorf("bybit API returned empty prices for %s", symbol)
	}

	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}

// convertBybitKlines converts Bybit rows, which arrive newest-first, into oldest-first points.
func convertBybitKlines(list bybit.V5GetKlineList) ([]domain.PricePoint, error) {
	points := make([]domain.PricePoint, len(list))
	for i, k := range list {
		openTime, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price at index %d", i)
		}
		points[len(list)-1-i] = domain.PricePoint{OpenTime: openTime, ClosePrice: closePrice}
	}
	return points, nil
}

// resample merges oldest-first points into buckets of the given width aligned to the unix epoch.
// Each bucket opens at its aligned start and closes at the close of its last point.
func resample(points []domain.PricePoint, width time.Duration) []domain.PricePoint {
	if len(points) == 0 || width <= 0 {
		return points
	}

	widthMs := width.Milliseconds()
	out := make([]domain.PricePoint, 0, len(points))
	currentBucket := int64(-1)
	for _, p := range points {
		bucket := p.OpenTime.UnixMilli() / widthMs
		if bucket != currentBucket || len(out) == 0 {
			out = append(out, domain.PricePoint{
				OpenTime:   time.UnixMilli(bucket * widthMs).UTC(),
				ClosePrice: p.ClosePrice,
			})
			currentBucket = bucket
			continue
		}
		out[len(out)-1].ClosePrice = p.ClosePrice
	}
	return out
}

// parseTimestamp converts Bybit timestamp string (milliseconds) to time.Time.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	msec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return time.UnixMilli(msec).UTC(), nil
}
