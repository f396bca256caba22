package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stocker/internal/domain"
	"github.com/vadiminshakov/stocker/internal/services/balance"
	"github.com/vadiminshakov/stocker/internal/services/pricecache"
	"github.com/vadiminshakov/stocker/internal/services/pricestream"
	"github.com/vadiminshakov/stocker/internal/storage/accounts"
)

const waitFor = 2 * time.Second

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu      sync.Mutex
	base    map[string]int64
	gates   map[string]chan struct{}
	failFor map[domain.Interval]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		base:    map[string]int64{"BTCUSDT": 100, "ETHUSDT": 10},
		gates:   make(map[string]chan struct{}),
		failFor: make(map[domain.Interval]bool),
	}
}

func (p *fakeProvider) FetchSeries(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error) {
	p.mu.Lock()
	gate := p.gates[symbol]
	fail := p.failFor[interval]
	base := p.base[symbol]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("exchange down")
	}

	points := make([]domain.PricePoint, 3)
	for i := range points {
		points[i] = domain.PricePoint{
			OpenTime:   epoch.Add(time.Duration(i) * interval.Duration()),
			ClosePrice: decimal.NewFromInt(base + int64(i)),
		}
	}
	return points, nil
}

type fakeConn struct {
	msgs      chan []byte
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
}

func (t *fakeTransport) Dial(_ context.Context, symbol string) (pricestream.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &fakeConn{msgs: make(chan []byte, 16), errs: make(chan error, 1), closed: make(chan struct{})}
	t.conns[symbol] = append(t.conns[symbol], c)
	return c, nil
}

func (t *fakeTransport) dials(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[symbol])
}

func (t *fakeTransport) latest(symbol string) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := t.conns[symbol]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type switchableStore struct {
	accounts.Store
	mu   sync.Mutex
	fail bool
}

func (s *switchableStore) WriteAccount(ctx context.Context, userID string, acc domain.Account) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.WriteAccount(ctx, userID, acc)
}

func (s *switchableStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

type harness struct {
	ctrl      *Controller
	provider  *fakeProvider
	transport *fakeTransport
	store     *switchableStore
	cancel    context.CancelFunc
	done      chan error
}

func defaultConfig() Config {
	return Config{
		UserID:          "alice",
		BaseCurrency:    "USDT",
		InitialBalance:  decimal.NewFromInt(1000),
		DefaultInterval: domain.Interval1h,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	mem, err := accounts.NewMemoryStore()
	require.NoError(t, err)
	store := &switchableStore{Store: mem}

	provider := newFakeProvider()
	cache := pricecache.New(provider, pricecache.Config{Retry: pricecache.NoRetry}, zap.NewNop())
	transport := &fakeTransport{conns: make(map[string][]*fakeConn)}
	stream := pricestream.New(transport, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		ctrl:      New(cfg, cache, stream, store, zap.NewNop()),
		provider:  provider,
		transport: transport,
		store:     store,
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	go func() { h.done <- h.ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
		_ = mem.Close()
	})

	h.waitView(t, func(v ViewState) bool { return v.Version > 0 })
	return h
}

func (h *harness) waitView(t *testing.T, cond func(ViewState) bool) ViewState {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.ctrl.View()) }, waitFor, 2*time.Millisecond)
	return h.ctrl.View()
}

func (h *harness) waitConn(t *testing.T, symbol string, dials int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return h.transport.dials(symbol) >= dials }, waitFor, 2*time.Millisecond)
	return h.transport.latest(symbol)
}

func (h *harness) pushPrice(t *testing.T, symbol, price string) {
	t.Helper()
	conn := h.waitConn(t, symbol, 1)
	conn.msgs <- []byte(`{"e":"trade","p":"` + price + `"}`)
	expected := decimal.RequireFromString(price)
	h.waitView(t, func(v ViewState) bool {
		return v.Symbol == symbol && v.Price != nil && v.Price.Equal(expected)
	})
}

func TestController_InitialView(t *testing.T) {
	h := newHarness(t, defaultConfig())

	v := h.ctrl.View()
	assert.Empty(t, v.Symbol)
	assert.Nil(t, v.Price)
	assert.False(t, v.HasPrice())
	assert.Equal(t, "idle", v.StreamState)
	assert.True(t, v.Available.Equal(decimal.NewFromInt(1000)))
	assert.True(t, v.Total.Equal(decimal.NewFromInt(1000)))
	assert.Nil(t, v.WalletEntry)

	stored, err := h.store.ReadAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, stored.Wallet.Equal(decimal.NewFromInt(1000)))
}

func TestController_DefaultSymbolOpensOnRun(t *testing.T) {
	cfg := defaultConfig()
	cfg.DefaultSymbol = "ethusdt"
	h := newHarness(t, cfg)

	v := h.waitView(t, func(v ViewState) bool { return len(v.History) == 3 })
	assert.Equal(t, "ETHUSDT", v.Symbol)
	assert.Equal(t, 1, h.transport.dials("ETHUSDT"))
}

func TestController_SetSymbolShowsHistoryAndLivePrice(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "btcusdt"))
	v := h.waitView(t, func(v ViewState) bool { return len(v.History) == 3 })
	assert.Equal(t, "BTCUSDT", v.Symbol)
	assert.Equal(t, "5d", v.IntervalLabel)
	assert.Nil(t, v.Price)
	assert.Nil(t, v.ChangePercent)

	h.pushPrice(t, "BTCUSDT", "110")
	v = h.ctrl.View()
	require.Len(t, v.History, 4)
	assert.True(t, v.History[3].ClosePrice.Equal(decimal.NewFromInt(110)))
	require.NotNil(t, v.Change)
	assert.True(t, v.Change.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "9.09", v.ChangePercent.StringFixed(2))
	assert.Equal(t, "open", v.StreamState)
	assert.NotEmpty(t, v.SubscriptionID)
}

func TestController_PrefetchServesIntervalSwitch(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))
	h.waitView(t, func(v ViewState) bool { return len(v.History) == 3 })

	for _, interval := range domain.Intervals() {
		require.NoError(t, h.ctrl.SetInterval(ctx, interval))
		v := h.waitView(t, func(v ViewState) bool { return v.Interval == interval && len(v.History) == 3 })
		assert.Equal(t, interval.Label(), v.IntervalLabel)
		assert.False(t, v.HistoryLoading)
	}

	assert.Error(t, h.ctrl.SetInterval(ctx, domain.Interval("2w")))
}

func TestController_HistoryFailureIsDegradedPerInterval(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.provider.mu.Lock()
	h.provider.failFor[domain.Interval8h] = true
	h.provider.mu.Unlock()

	require.NoError(t, h.ctrl.SetSymbol(context.Background(), "BTCUSDT"))
	v := h.waitView(t, func(v ViewState) bool { return len(v.Degraded) > 0 && len(v.History) == 3 })

	require.Len(t, v.Degraded, 1)
	assert.Contains(t, v.Degraded[0], "history 8h")
}

func TestController_SymbolSwitchDiscardsStaleHistory(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	gate := make(chan struct{})
	h.provider.mu.Lock()
	h.provider.gates["BTCUSDT"] = gate
	h.provider.mu.Unlock()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))
	h.pushPrice(t, "BTCUSDT", "105")

	require.NoError(t, h.ctrl.SetSymbol(ctx, "ETHUSDT"))
	close(gate)

	v := h.waitView(t, func(v ViewState) bool { return len(v.History) == 3 })
	assert.Equal(t, "ETHUSDT", v.Symbol)
	assert.True(t, v.History[0].ClosePrice.Equal(decimal.NewFromInt(10)))
	assert.Nil(t, v.Price, "price of the previous symbol must not carry over")

	require.Eventually(t, func() bool {
		select {
		case <-h.transport.latest("BTCUSDT").closed:
			return true
		default:
			return false
		}
	}, waitFor, 2*time.Millisecond)
}

func TestController_OldSubscriptionCannotMovePrice(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))
	h.pushPrice(t, "BTCUSDT", "105")
	old := h.transport.latest("BTCUSDT")

	require.NoError(t, h.ctrl.SetSymbol(ctx, "ETHUSDT"))
	h.waitConn(t, "ETHUSDT", 1)
	old.msgs <- []byte(`{"p":"999"}`)

	assert.Never(t, func() bool { return h.ctrl.View().Price != nil }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, "ETHUSDT", h.ctrl.View().Symbol)

	h.pushPrice(t, "ETHUSDT", "11")
	assert.True(t, h.ctrl.View().Price.Equal(decimal.NewFromInt(11)))
}

func TestController_BuyAndSell(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))

	_, err := h.ctrl.Buy(ctx, "BTCUSDT", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	h.pushPrice(t, "BTCUSDT", "100")

	receipt, err := h.ctrl.Buy(ctx, "btcusdt", decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.Equal(t, SideBuy, receipt.Side)
	assert.True(t, receipt.Value.Equal(decimal.NewFromInt(200)))

	v := h.ctrl.View()
	assert.True(t, v.Account.Wallet.Equal(decimal.NewFromInt(800)))
	assert.True(t, v.Available.Equal(decimal.NewFromInt(800)))
	require.NotNil(t, v.WalletEntry)
	assert.True(t, v.WalletEntry.Amount.Equal(decimal.NewFromInt(2)))
	assert.True(t, v.Total.Equal(decimal.NewFromInt(1000)))
	require.Len(t, v.Orders, 1)

	stored, err := h.store.ReadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, stored.Wallet.Equal(decimal.NewFromInt(800)))

	_, err = h.ctrl.Sell(ctx, "BTCUSDT", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, h.ctrl.View().Account.Wallet.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, SideSell, h.ctrl.View().Orders[0].Side)

	_, err = h.ctrl.Sell(ctx, "BTCUSDT", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, domain.ErrInsufficientHoldings)

	_, err = h.ctrl.Buy(ctx, "BTCUSDT", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = h.ctrl.Buy(ctx, "ETHUSDT", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	_, err = h.ctrl.Buy(ctx, "BTCUSDT", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	assert.True(t, h.ctrl.View().Account.Wallet.Equal(decimal.NewFromInt(900)))
}

func TestController_PersistenceFailureRollsBack(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))
	h.pushPrice(t, "BTCUSDT", "100")

	h.store.setFail(true)
	_, err := h.ctrl.Buy(ctx, "BTCUSDT", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrPersistence)

	v := h.ctrl.View()
	assert.True(t, v.Account.Wallet.Equal(decimal.NewFromInt(1000)))
	assert.Nil(t, v.WalletEntry)
	assert.Empty(t, v.Orders)

	h.store.setFail(false)
	_, err = h.ctrl.Buy(ctx, "BTCUSDT", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, h.ctrl.View().Account.Wallet.Equal(decimal.NewFromInt(900)))
}

func TestController_ReconnectsAfterStreamError(t *testing.T) {
	cfg := defaultConfig()
	cfg.Reconnect = true
	cfg.ReconnectInitial = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond
	h := newHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))
	h.pushPrice(t, "BTCUSDT", "100")

	h.transport.latest("BTCUSDT").errs <- errors.New("connection reset")

	conn := h.waitConn(t, "BTCUSDT", 2)
	conn.msgs <- []byte(`{"p":"101"}`)

	v := h.waitView(t, func(v ViewState) bool { return v.Price != nil && v.Price.Equal(decimal.NewFromInt(101)) })
	assert.Empty(t, v.Degraded)
	assert.Equal(t, "open", v.StreamState)
}

func TestController_ReconnectAttemptsExhausted(t *testing.T) {
	cfg := defaultConfig()
	cfg.Reconnect = true
	cfg.ReconnectInitial = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond
	cfg.ReconnectMaxAttempts = 1
	h := newHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))
	h.waitConn(t, "BTCUSDT", 1).errs <- errors.New("connection reset")
	h.waitConn(t, "BTCUSDT", 2).errs <- errors.New("connection reset")

	v := h.waitView(t, func(v ViewState) bool {
		for _, d := range v.Degraded {
			if d == "live price: reconnect attempts exhausted" {
				return true
			}
		}
		return false
	})
	assert.Equal(t, "errored", v.StreamState)
	assert.Never(t, func() bool { return h.transport.dials("BTCUSDT") > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestController_StreamErrorWithoutReconnect(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))
	h.pushPrice(t, "BTCUSDT", "100")

	h.transport.latest("BTCUSDT").errs <- errors.New("connection reset")

	v := h.waitView(t, func(v ViewState) bool { return len(v.Degraded) > 0 })
	assert.Contains(t, v.Degraded[0], "live price")
	assert.Equal(t, "errored", v.StreamState)
	require.NotNil(t, v.Price, "last known price stays visible")

	_, err := h.ctrl.Buy(ctx, "BTCUSDT", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.True(t, h.ctrl.View().Account.Wallet.Equal(decimal.NewFromInt(1000)))

	assert.Never(t, func() bool { return h.transport.dials("BTCUSDT") > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestController_ScriptResult(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	assert.Error(t, h.ctrl.SelectResultTab(ctx, balance.TabLogs))

	result := domain.TradeResult{
		Account: domain.NewAccount("USDT", decimal.NewFromInt(1000)),
		Transactions: []domain.Transaction{
			{Price: decimal.NewFromInt(50)},
			{Price: decimal.NewFromInt(30)},
		},
		Logs:   []string{"bought", "sold", "done"},
		Errors: []string{"rate limited"},
	}

	summary, err := h.ctrl.LoadScriptResult(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TransactionCount)
	assert.Equal(t, 3, summary.LogCount)
	require.Len(t, summary.Balance, 3)
	assert.Equal(t, 1, summary.Balance[0].Index)

	v := h.ctrl.View()
	require.NotNil(t, v.Script)
	assert.Equal(t, balance.TabTransactions, v.Script.Tab)
	assert.Len(t, v.Script.Transactions, 2)

	require.NoError(t, h.ctrl.SelectResultTab(ctx, balance.TabErrors))
	v = h.ctrl.View()
	assert.Equal(t, balance.TabErrors, v.Script.Tab)
	assert.Equal(t, []string{"rate limited"}, v.Script.Entries)
	assert.Empty(t, v.Script.Transactions)

	assert.Error(t, h.ctrl.SelectResultTab(ctx, balance.Tab("chart")))

	require.NoError(t, h.ctrl.SetSymbol(ctx, "ETHUSDT"))
	assert.Equal(t, balance.TabTransactions, h.ctrl.View().Script.Tab)

	require.NoError(t, h.ctrl.SelectResultTab(ctx, balance.TabLogs))
	_, err = h.ctrl.LoadScriptResult(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, balance.TabTransactions, h.ctrl.View().Script.Tab)
}

func TestController_Watch(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	views := h.ctrl.Watch(ctx)
	first := <-views
	assert.Positive(t, first.Version)

	require.NoError(t, h.ctrl.SetSymbol(context.Background(), "BTCUSDT"))

	deadline := time.After(waitFor)
	for {
		select {
		case v := <-views:
			if v.Symbol == "BTCUSDT" {
				cancel()
				require.Eventually(t, func() bool {
					for {
						select {
						case _, ok := <-views:
							if !ok {
								return true
							}
						default:
							return false
						}
					}
				}, waitFor, 2*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("symbol change was not published")
		}
	}
}

func TestController_CommandsAfterStop(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.cancel()
	require.ErrorIs(t, <-h.done, context.Canceled)
	h.done <- nil

	err := h.ctrl.SetSymbol(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrStopped)

	_, ok := <-h.ctrl.Watch(context.Background())
	assert.True(t, ok, "current view is still delivered once")
}

func TestPriceChange(t *testing.T) {
	history := []domain.PricePoint{{OpenTime: epoch, ClosePrice: decimal.NewFromInt(100)}}

	tests := []struct {
		name    string
		price   string
		diff    string
		percent string
		ok      bool
	}{
		{name: "rise", price: "110", diff: "10", percent: "9.09", ok: true},
		{name: "fall", price: "80", diff: "-20", percent: "-25.00", ok: true},
		{name: "flat", price: "100", diff: "0", percent: "0.00", ok: true},
		{name: "zero price", price: "0", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff, pct, ok := priceChange(decimal.RequireFromString(tt.price), history)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.True(t, diff.Equal(decimal.RequireFromString(tt.diff)))
			assert.Equal(t, tt.percent, pct.StringFixed(2))
		})
	}

	_, _, ok := priceChange(decimal.NewFromInt(1), nil)
	assert.False(t, ok)
}

func TestController_RejectsBadInput(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	assert.ErrorIs(t, h.ctrl.SelectResultTab(ctx, balance.TabLogs), ErrNoScriptResult)

	require.NoError(t, h.ctrl.SetSymbol(ctx, "BTCUSDT"))
	for _, symbol := range []string{"", "  ", "BTC/USDT", "BTC USDT"} {
		assert.ErrorIs(t, h.ctrl.SetSymbol(ctx, symbol), domain.ErrInvalidOrder, symbol)
	}
	assert.Equal(t, "BTCUSDT", h.ctrl.View().Symbol)
}
