package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/stocker/internal/dashboard"
	"github.com/vadiminshakov/stocker/internal/domain"
	"github.com/vadiminshakov/stocker/internal/services/balance"
)

func decs(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestSparkline(t *testing.T) {
	tests := []struct {
		name   string
		values []decimal.Decimal
		width  int
		want   string
	}{
		{"empty", nil, 10, ""},
		{"flat", decs("5", "5", "5"), 10, "▁▁▁"},
		{"rising", decs("0", "7"), 10, "▁█"},
		{"full range", decs("0", "1", "2", "3", "4", "5", "6", "7"), 0, "▁▂▃▄▅▆▇█"},
		{"truncated to latest", decs("100", "0", "7"), 2, "▁█"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sparkline(tt.values, tt.width))
		})
	}
}

func TestRenderView(t *testing.T) {
	price := decimal.NewFromInt(110)
	change := decimal.NewFromInt(10)
	pct := decimal.RequireFromString("9.09")
	account := domain.NewAccount("USDT", decimal.NewFromInt(1000))

	v := dashboard.ViewState{
		Symbol:        "BTCUSDT",
		Interval:      domain.Interval1h,
		IntervalLabel: "5d",
		Price:         &price,
		StreamState:   "open",
		History: []domain.PricePoint{
			{OpenTime: time.Unix(0, 0), ClosePrice: decimal.NewFromInt(100)},
			{OpenTime: time.Unix(3600, 0), ClosePrice: decimal.NewFromInt(110)},
		},
		Change:        &change,
		ChangePercent: &pct,
		Account:       account,
		Available:     decimal.NewFromInt(1000),
		Total:         decimal.NewFromInt(1000),
		Orders: []dashboard.OrderReceipt{
			{Side: dashboard.SideBuy, Symbol: "BTCUSDT", Amount: decimal.NewFromInt(1), Price: price},
		},
		Degraded: []string{"history 8h: provider down"},
	}

	out := Render(v)
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "110")
	assert.Contains(t, out, "9.09%")
	assert.Contains(t, out, "▁█")
	assert.Contains(t, out, "available 1000 USDT")
	assert.Contains(t, out, "buy 1 @ 110")
	assert.Contains(t, out, "history 8h: provider down")
}

func TestRenderViewWithoutPrice(t *testing.T) {
	v := dashboard.ViewState{
		Symbol:         "ETHUSDT",
		Interval:       domain.Interval15m,
		HistoryLoading: true,
		Account:        domain.NewAccount("USDT", decimal.Zero),
	}

	out := Render(v)
	assert.Contains(t, out, "--")
	assert.Contains(t, out, "loading")
}

func TestRenderSummary(t *testing.T) {
	result := domain.TradeResult{
		Account: domain.Account{
			Wallet: decimal.NewFromInt(920),
			Wallets: []domain.WalletEntry{
				{Symbol: "USDT", Amount: decimal.NewFromInt(920)},
				{Symbol: "BTC", Amount: decimal.NewFromInt(2)},
			},
		},
		Transactions: []domain.Transaction{
			{Price: decimal.NewFromInt(30)},
			{Price: decimal.NewFromInt(50)},
		},
		Logs: []string{"started"},
	}

	out := RenderSummary(balance.Summarize(result))
	assert.Contains(t, out, "920")
	assert.Contains(t, out, "BTC 2")
	assert.Contains(t, out, "total value")
	assert.Contains(t, out, "transactions")
	assert.Contains(t, out, "balance")

	result.Transactions = []domain.Transaction{{Price: decimal.NewFromInt(5000)}}
	out = RenderSummary(balance.Summarize(result))
	assert.Contains(t, out, "balance history unavailable")
}

func TestFollow(t *testing.T) {
	views := make(chan dashboard.ViewState, 2)
	views <- dashboard.ViewState{Symbol: "AAA", Account: domain.NewAccount("USDT", decimal.Zero)}
	views <- dashboard.ViewState{Symbol: "BBB", Account: domain.NewAccount("USDT", decimal.Zero)}
	close(views)

	var buf bytes.Buffer
	Follow(context.Background(), &buf, views)

	out := buf.String()
	require.Equal(t, 2, strings.Count(out, "\033[H\033[2J"))
	assert.Less(t, strings.Index(out, "AAA"), strings.Index(out, "BBB"))
}
