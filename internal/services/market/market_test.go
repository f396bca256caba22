package market

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stocker/internal/domain"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		exchange  string
		expected  any
		shouldErr bool
	}{
		{name: "default is binance", exchange: "", expected: &BinanceProvider{}},
		{name: "binance", exchange: "binance", expected: &BinanceProvider{}},
		{name: "bybit upper case", exchange: "BYBIT", expected: &BybitProvider{}},
		{name: "unknown exchange", exchange: "kraken", shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(Config{Exchange: tt.exchange, RequestsPerSecond: 5}, zap.NewNop())
			if tt.shouldErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expected, p)
		})
	}
}

func TestConvertBinanceKlines(t *testing.T) {
	klines := []*binance.Kline{
		{OpenTime: 1672531200000, Close: "16625.08"},
		nil,
		{OpenTime: 1672534800000, Close: "16611.90"},
	}

	points, err := convertBinanceKlines(klines)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), points[0].OpenTime)
	assert.True(t, points[1].ClosePrice.Equal(decimal.RequireFromString("16611.90")))

	_, err = convertBinanceKlines([]*binance.Kline{{OpenTime: 1, Close: "abc"}})
	assert.Error(t, err)
}

func TestConvertBybitKlines(t *testing.T) {
	list := bybit.V5GetKlineList{
		{StartTime: "1672538400000", Close: "3"},
		{StartTime: "1672534800000", Close: "2"},
		{StartTime: "1672531200000", Close: "1"},
	}

	points, err := convertBybitKlines(list)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.True(t, domain.IsOldestFirst(points))
	assert.True(t, points[0].ClosePrice.Equal(decimal.NewFromInt(1)))
	assert.True(t, points[2].ClosePrice.Equal(decimal.NewFromInt(3)))

	_, err = convertBybitKlines(bybit.V5GetKlineList{{StartTime: "", Close: "1"}})
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fourHour := func(n int, price int64) domain.PricePoint {
		return domain.PricePoint{OpenTime: base.Add(time.Duration(n) * 4 * time.Hour), ClosePrice: decimal.NewFromInt(price)}
	}

	t.Run("pairs of 4h candles become 8h candles", func(t *testing.T) {
		points := resample([]domain.PricePoint{
			fourHour(0, 10), fourHour(1, 11),
			fourHour(2, 12), fourHour(3, 13),
		}, 8*time.Hour)

		require.Len(t, points, 2)
		assert.Equal(t, base, points[0].OpenTime)
		assert.True(t, points[0].ClosePrice.Equal(decimal.NewFromInt(11)))
		assert.Equal(t, base.Add(8*time.Hour), points[1].OpenTime)
		assert.True(t, points[1].ClosePrice.Equal(decimal.NewFromInt(13)))
	})

	t.Run("partial leading bucket keeps its aligned start", func(t *testing.T) {
		points := resample([]domain.PricePoint{fourHour(1, 11), fourHour(2, 12)}, 8*time.Hour)

		require.Len(t, points, 2)
		assert.Equal(t, base, points[0].OpenTime)
		assert.True(t, points[0].ClosePrice.Equal(decimal.NewFromInt(11)))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, resample(nil, 8*time.Hour))
	})
}

func TestBybitIntervalsCoverAllIntervals(t *testing.T) {
	for _, interval := range domain.Intervals() {
		mapping, ok := bybitIntervals[interval]
		require.True(t, ok, interval.String())
		assert.LessOrEqual(t, interval.Lookback()*mapping.factor, bybitMaxLimit)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		shouldErr bool
	}{
		{name: "valid timestamp", input: "1672531200000"},
		{name: "empty timestamp", input: "", shouldErr: true},
		{name: "invalid timestamp - not a number", input: "abc", shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseTimestamp(tt.input)
			if tt.shouldErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, int64(1672531200000), result.UnixMilli())
		})
	}
}
