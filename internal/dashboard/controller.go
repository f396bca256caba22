// Package dashboard composes account, price history, live prices and script results into
// one view state owned by a single event loop.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stocker/internal/domain"
	"github.com/vadiminshakov/stocker/internal/services/balance"
	"github.com/vadiminshakov/stocker/internal/services/pricestream"
	"github.com/vadiminshakov/stocker/internal/storage/accounts"
)

// ErrStopped is returned by commands sent after the loop has exited.
var ErrStopped = errors.New("dashboard stopped")

// ErrNoScriptResult is returned when a result tab is selected before any script result was loaded.
var ErrNoScriptResult = errors.New("no script result loaded")

const maxOrders = 50

// HistoryCache is the historical price source.
type HistoryCache interface {
	Get(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error)
	Prefetch(ctx context.Context, symbol string, intervals ...domain.Interval) map[domain.Interval]error
	Cached(symbol string, interval domain.Interval) ([]domain.PricePoint, bool)
}

// LiveStream is the live price source.
type LiveStream interface {
	Subscribe(ctx context.Context, symbol string) (*pricestream.Subscription, error)
	Unsubscribe()
}

// Config of the controller.
type Config struct {
	UserID          string
	BaseCurrency    string
	InitialBalance  decimal.Decimal
	DefaultSymbol   string
	DefaultInterval domain.Interval

	Reconnect            bool
	ReconnectInitial     time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts uint64
}

type historyResult struct {
	generation uint64
	symbol     string
	interval   domain.Interval
	points     []domain.PricePoint
	err        error
}

type prefetchResult struct {
	generation uint64
	symbol     string
	failed     map[domain.Interval]error
}

// state is owned by the loop goroutine.
type state struct {
	account domain.Account
	orders  []OrderReceipt

	symbol     string
	interval   domain.Interval
	generation uint64
	fetchCtx   context.Context
	fetchStop  context.CancelFunc
	history    map[domain.Interval][]domain.PricePoint
	historyErr map[domain.Interval]error
	pending    map[domain.Interval]bool

	sub       *pricestream.Subscription
	events    <-chan pricestream.Event
	price     decimal.Decimal
	priceAt   time.Time
	hasPrice  bool
	streamErr error

	reconnect      backoff.BackOff
	reconnectTimer *time.Timer
	reconnectC     <-chan time.Time
	reconnectGone  bool

	script *scriptState
}

type scriptState struct {
	result  domain.TradeResult
	summary balance.ScriptSummary
	tab     balance.Tab
}

// Controller routes user intents to the account and price components and publishes the
// resulting view. All mutable state lives in the Run goroutine; public methods send it commands.
type Controller struct {
	cfg    Config
	cache  HistoryCache
	stream LiveStream
	store  accounts.Store
	logger *zap.Logger

	cmds      chan func(ctx context.Context)
	histories chan historyResult
	prefetch  chan prefetchResult
	done      chan struct{}
	running   atomic.Bool

	st      state
	version uint64
	view    atomic.Pointer[ViewState]

	watchMu  sync.Mutex
	watchers map[uint64]chan ViewState
	watchSeq uint64
}

// New creates a controller. Call Run to start it.
func New(cfg Config, cache HistoryCache, stream LiveStream, store accounts.Store, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultInterval == "" {
		cfg.DefaultInterval = domain.Interval1h
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}

	c := &Controller{
		cfg:       cfg,
		cache:     cache,
		stream:    stream,
		store:     store,
		logger:    logger,
		cmds:      make(chan func(ctx context.Context)),
		histories: make(chan historyResult, len(domain.Intervals())),
		prefetch:  make(chan prefetchResult, 1),
		done:      make(chan struct{}),
		watchers:  make(map[uint64]chan ViewState),
		st: state{
			interval:   cfg.DefaultInterval,
			history:    make(map[domain.Interval][]domain.PricePoint),
			historyErr: make(map[domain.Interval]error),
			pending:    make(map[domain.Interval]bool),
		},
	}
	c.view.Store(&ViewState{
		Interval:      cfg.DefaultInterval,
		IntervalLabel: cfg.DefaultInterval.Label(),
		StreamState:   pricestream.StateIdle.String(),
	})
	return c
}

// Run loads the account, opens the default symbol and processes events until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("dashboard is already running")
	}
	defer close(c.done)
	defer c.shutdown()

	acc, err := accounts.LoadOrCreate(ctx, c.store, c.cfg.UserID, c.cfg.BaseCurrency, c.cfg.InitialBalance, c.logger)
	if err != nil {
		return errors.Wrap(err, "load account")
	}
	c.st.account = acc

	if c.cfg.DefaultSymbol != "" {
		if err := c.setSymbol(ctx, c.cfg.DefaultSymbol); err != nil {
			c.logger.Warn("failed to open default symbol",
				zap.String("symbol", c.cfg.DefaultSymbol),
				zap.Error(err))
		}
	}
	c.publish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.cmds:
			cmd(ctx)
		case ev, ok := <-c.st.events:
			c.handleStreamEvent(ev, ok)
		case res := <-c.histories:
			c.handleHistory(res)
		case res := <-c.prefetch:
			c.handlePrefetch(res)
		case <-c.st.reconnectC:
			c.handleReconnect(ctx)
		}
		c.publish()
	}
}

func (c *Controller) shutdown() {
	if c.st.fetchStop != nil {
		c.st.fetchStop()
	}
	c.stopReconnect()
	c.stream.Unsubscribe()

	c.watchMu.Lock()
	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
	c.watchMu.Unlock()
}

// do runs fn on the loop goroutine and waits for its result.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	cmd := func(loopCtx context.Context) { errCh <- fn(loopCtx) }

	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns the latest published view.
func (c *Controller) View() ViewState {
	return *c.view.Load()
}

// Watch delivers every newly published view, dropping views the reader has not caught up with.
// The channel is closed when ctx is done or the controller stops.
func (c *Controller) Watch(ctx context.Context) <-chan ViewState {
	ch := make(chan ViewState, 1)
	ch <- c.View()

	c.watchMu.Lock()
	select {
	case <-c.done:
		c.watchMu.Unlock()
		close(ch)
		return ch
	default:
	}
	c.watchSeq++
	id := c.watchSeq
	c.watchers[id] = ch
	c.watchMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.watchMu.Lock()
		if _, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(ch)
		}
		c.watchMu.Unlock()
	}()

	return ch
}

// SetSymbol switches the viewed symbol.
func (c *Controller) SetSymbol(ctx context.Context, symbol string) error {
	return c.do(ctx, func(loopCtx context.Context) error {
		return c.setSymbol(loopCtx, symbol)
	})
}

// SetInterval switches the active history interval.
func (c *Controller) SetInterval(ctx context.Context, interval domain.Interval) error {
	if _, err := domain.ParseInterval(interval.String()); err != nil {
		return err
	}
	return c.do(ctx, func(context.Context) error {
		c.setInterval(interval)
		return nil
	})
}

// Buy buys amount of symbol at the live price.
func (c *Controller) Buy(ctx context.Context, symbol string, amount decimal.Decimal) (OrderReceipt, error) {
	return c.order(ctx, SideBuy, symbol, amount)
}

// Sell sells amount of symbol at the live price.
func (c *Controller) Sell(ctx context.Context, symbol string, amount decimal.Decimal) (OrderReceipt, error) {
	return c.order(ctx, SideSell, symbol, amount)
}

func (c *Controller) order(ctx context.Context, side Side, symbol string, amount decimal.Decimal) (OrderReceipt, error) {
	var receipt OrderReceipt
	err := c.do(ctx, func(loopCtx context.Context) error {
		var err error
		receipt, err = c.execute(loopCtx, side, domain.NormalizeSymbol(symbol), amount)
		return err
	})
	return receipt, err
}

// LoadScriptResult shows a script result and reconstructs its balance history.
func (c *Controller) LoadScriptResult(ctx context.Context, result domain.TradeResult) (balance.ScriptSummary, error) {
	var summary balance.ScriptSummary
	err := c.do(ctx, func(context.Context) error {
		summary = balance.Summarize(result)
		c.st.script = &scriptState{result: result, summary: summary, tab: balance.TabTransactions}
		if summary.BalanceError != "" {
			c.logger.Warn("script balance history withheld",
				zap.Int("transactions", summary.TransactionCount),
				zap.String("reason", summary.BalanceError))
		}
		return nil
	})
	return summary, err
}

// SelectResultTab chooses which list of the script result is shown.
func (c *Controller) SelectResultTab(ctx context.Context, tab balance.Tab) error {
	if _, err := balance.ParseTab(string(tab)); err != nil {
		return err
	}
	return c.do(ctx, func(context.Context) error {
		if c.st.script == nil {
			return ErrNoScriptResult
		}
		c.st.script.tab = tab
		return nil
	})
}

func (c *Controller) setSymbol(ctx context.Context, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return errors.Wrap(domain.ErrInvalidOrder, "symbol is required")
	}
	if strings.ContainsAny(symbol, "/ ") {
		return errors.Wrapf(domain.ErrInvalidOrder, "invalid symbol %q", symbol)
	}

	if c.st.fetchStop != nil {
		c.st.fetchStop()
	}
	c.stopReconnect()

	c.st.generation++
	c.st.symbol = symbol
	c.st.history = make(map[domain.Interval][]domain.PricePoint)
	c.st.historyErr = make(map[domain.Interval]error)
	c.st.pending = make(map[domain.Interval]bool)
	c.st.hasPrice = false
	c.st.streamErr = nil
	c.st.reconnectGone = false
	c.st.reconnect = nil
	if c.st.script != nil {
		c.st.script.tab = balance.TabTransactions
	}

	c.st.fetchCtx, c.st.fetchStop = context.WithCancel(ctx)
	c.fetchHistory(c.st.fetchCtx, c.st.interval)
	c.prefetchAll(c.st.fetchCtx)

	if err := c.subscribe(ctx); err != nil {
		return err
	}

	c.logger.Info("symbol selected",
		zap.String("symbol", symbol),
		zap.Uint64("generation", c.st.generation))
	return nil
}

func (c *Controller) setInterval(interval domain.Interval) {
	c.st.interval = interval
	if c.st.symbol == "" {
		return
	}
	if _, ok := c.st.history[interval]; ok {
		return
	}
	if points, ok := c.cache.Cached(c.st.symbol, interval); ok {
		c.st.history[interval] = points
		delete(c.st.historyErr, interval)
		return
	}
	if c.st.pending[interval] {
		return
	}
	c.fetchHistory(c.st.fetchCtx, interval)
}

func (c *Controller) fetchHistory(ctx context.Context, interval domain.Interval) {
	generation, symbol := c.st.generation, c.st.symbol
	c.st.pending[interval] = true

	go func() {
		points, err := c.cache.Get(ctx, symbol, interval)
		select {
		case c.histories <- historyResult{generation: generation, symbol: symbol, interval: interval, points: points, err: err}:
		case <-c.done:
		}
	}()
}

func (c *Controller) prefetchAll(ctx context.Context) {
	generation, symbol := c.st.generation, c.st.symbol

	go func() {
		failed := c.cache.Prefetch(ctx, symbol, domain.Intervals()...)
		select {
		case c.prefetch <- prefetchResult{generation: generation, symbol: symbol, failed: failed}:
		case <-c.done:
		}
	}()
}

func (c *Controller) handleHistory(res historyResult) {
	if res.generation != c.st.generation {
		c.logger.Debug("discarding stale history",
			zap.String("symbol", res.symbol),
			zap.String("interval", res.interval.String()))
		return
	}
	delete(c.st.pending, res.interval)

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return
		}
		c.st.historyErr[res.interval] = res.err
		c.logger.Warn("price history unavailable",
			zap.String("symbol", res.symbol),
			zap.String("interval", res.interval.String()),
			zap.Error(res.err))
		return
	}
	c.st.history[res.interval] = res.points
	delete(c.st.historyErr, res.interval)
}

func (c *Controller) handlePrefetch(res prefetchResult) {
	if res.generation != c.st.generation {
		return
	}
	for _, interval := range domain.Intervals() {
		if err, ok := res.failed[interval]; ok {
			if errors.Is(err, context.Canceled) {
				continue
			}
			if _, have := c.st.history[interval]; !have {
				c.st.historyErr[interval] = err
			}
			continue
		}
		if points, ok := c.cache.Cached(res.symbol, interval); ok {
			c.st.history[interval] = points
			delete(c.st.historyErr, interval)
		}
	}
	if len(res.failed) > 0 {
		c.logger.Warn("prefetch incomplete",
			zap.String("symbol", res.symbol),
			zap.Int("failed", len(res.failed)))
	}
}

func (c *Controller) subscribe(ctx context.Context) error {
	sub, err := c.stream.Subscribe(ctx, c.st.symbol)
	if err != nil {
		c.st.sub, c.st.events = nil, nil
		c.st.streamErr = err
		return errors.Wrapf(err, "subscribe %s", c.st.symbol)
	}
	c.st.sub = sub
	c.st.events = sub.Events()
	return nil
}

func (c *Controller) handleStreamEvent(ev pricestream.Event, ok bool) {
	if !ok {
		c.st.events = nil
		return
	}
	if c.st.sub == nil || ev.SubscriptionID != c.st.sub.ID() {
		return
	}

	switch ev.Kind {
	case pricestream.EventPrice:
		c.st.price = ev.Update.Price
		c.st.priceAt = ev.Update.ReceivedAt
		c.st.hasPrice = true
		c.st.streamErr = nil
		if c.st.reconnect != nil {
			c.st.reconnect.Reset()
		}
	case pricestream.EventError:
		c.st.streamErr = ev.Err
		c.scheduleReconnect()
	}
}

func (c *Controller) scheduleReconnect() {
	if !c.cfg.Reconnect {
		return
	}
	if c.st.reconnect == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.cfg.ReconnectInitial
		exp.MaxInterval = c.cfg.ReconnectMax
		exp.MaxElapsedTime = 0
		exp.Reset()
		var b backoff.BackOff = exp
		if c.cfg.ReconnectMaxAttempts > 0 {
			b = backoff.WithMaxRetries(exp, c.cfg.ReconnectMaxAttempts)
		}
		c.st.reconnect = b
	}

	delay := c.st.reconnect.NextBackOff()
	if delay == backoff.Stop {
		c.st.reconnectGone = true
		c.logger.Error("live price reconnect attempts exhausted", zap.String("symbol", c.st.symbol))
		return
	}

	c.stopReconnect()
	c.st.reconnectTimer = time.NewTimer(delay)
	c.st.reconnectC = c.st.reconnectTimer.C
	c.logger.Info("live price reconnect scheduled",
		zap.String("symbol", c.st.symbol),
		zap.Duration("delay", delay))
}

func (c *Controller) stopReconnect() {
	if c.st.reconnectTimer != nil {
		c.st.reconnectTimer.Stop()
	}
	c.st.reconnectTimer = nil
	c.st.reconnectC = nil
}

func (c *Controller) handleReconnect(ctx context.Context) {
	c.st.reconnectTimer = nil
	c.st.reconnectC = nil
	if c.st.symbol == "" {
		return
	}
	if err := c.subscribe(ctx); err != nil {
		c.logger.Warn("live price resubscribe failed", zap.Error(err))
		c.scheduleReconnect()
	}
}

func (c *Controller) execute(ctx context.Context, side Side, symbol string, amount decimal.Decimal) (OrderReceipt, error) {
	if symbol == "" || symbol != c.st.symbol || !c.st.hasPrice {
		return OrderReceipt{}, errors.Wrapf(domain.ErrPriceUnavailable, "no live price for %s", symbol)
	}
	if c.st.streamErr != nil {
		return OrderReceipt{}, errors.Wrapf(domain.ErrPriceUnavailable, "live price for %s is stale: %v", symbol, c.st.streamErr)
	}
	price := c.st.price

	var (
		next domain.Account
		err  error
	)
	switch side {
	case SideBuy:
		next, err = domain.ApplyBuy(c.st.account, symbol, amount, price)
	case SideSell:
		next, err = domain.ApplySell(c.st.account, symbol, amount, price)
	default:
		return OrderReceipt{}, errors.Wrapf(domain.ErrInvalidOrder, "unknown side %q", side)
	}
	if err != nil {
		return OrderReceipt{}, err
	}

	prev := c.st.account
	c.st.account = next
	if err := c.store.WriteAccount(ctx, c.cfg.UserID, next); err != nil {
		c.st.account = prev
		c.logger.Error("order rolled back",
			zap.String("side", string(side)),
			zap.String("symbol", symbol),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return OrderReceipt{}, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	receipt := OrderReceipt{
		ID:         uuid.New(),
		Side:       side,
		Symbol:     symbol,
		Amount:     amount,
		Price:      price,
		Value:      amount.Mul(price),
		ExecutedAt: time.Now().UTC(),
	}
	c.st.orders = append([]OrderReceipt{receipt}, c.st.orders...)
	if len(c.st.orders) > maxOrders {
		c.st.orders = c.st.orders[:maxOrders]
	}

	c.logger.Info("order executed",
		zap.String("id", receipt.ID.String()),
		zap.String("side", string(side)),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()),
		zap.String("wallet", next.Wallet.String()))

	return receipt, nil
}

func (c *Controller) publish() {
	c.version++
	v := c.buildView()

	c.view.Store(&v)

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, ch := range c.watchers {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (c *Controller) buildView() ViewState {
	st := &c.st
	v := ViewState{
		Version:       c.version,
		UpdatedAt:     time.Now().UTC(),
		Symbol:        st.symbol,
		Interval:      st.interval,
		IntervalLabel: st.interval.Label(),
		StreamState:   pricestream.StateIdle.String(),
		Account:       st.account.Clone(),
		Total:         st.account.Wallet,
		Orders:        append([]OrderReceipt(nil), st.orders...),
	}

	if len(st.account.Wallets) > 0 {
		v.Available = st.account.Wallets[domain.BaseSlot].Amount
	}
	if st.sub != nil {
		v.StreamState = st.sub.State().String()
		v.SubscriptionID = st.sub.ID().String()
	}
	if st.symbol != "" {
		if entry, ok := st.account.Holding(st.symbol); ok {
			v.WalletEntry = &entry
		}
	}

	history := st.history[st.interval]
	v.HistoryLoading = st.symbol != "" && history == nil && st.pending[st.interval]
	v.History = make([]domain.PricePoint, 0, len(history)+1)
	v.History = append(v.History, history...)

	if st.hasPrice {
		price, at := st.price, st.priceAt
		v.Price = &price
		v.PriceAt = &at
		v.History = append(v.History, domain.PricePoint{OpenTime: at, ClosePrice: price})
		v.Total = st.account.Total(map[string]decimal.Decimal{st.symbol: price})

		if diff, pct, ok := priceChange(price, history); ok {
			v.Change = &diff
			v.ChangePercent = &pct
		}
	}

	if st.streamErr != nil {
		v.Degraded = append(v.Degraded, "live price: "+st.streamErr.Error())
	}
	if st.reconnectGone {
		v.Degraded = append(v.Degraded, "live price: reconnect attempts exhausted")
	}
	for _, interval := range domain.Intervals() {
		if err, ok := st.historyErr[interval]; ok {
			v.Degraded = append(v.Degraded, fmt.Sprintf("history %s: %v", interval, err))
		}
	}

	if st.script != nil {
		sv := &ScriptView{ScriptSummary: st.script.summary, Tab: st.script.tab}
		switch st.script.tab {
		case balance.TabTransactions:
			sv.Transactions = st.script.result.Transactions
		case balance.TabLogs:
			sv.Entries = st.script.result.Logs
		case balance.TabErrors:
			sv.Entries = st.script.result.Errors
		}
		v.Script = sv
	}

	return v
}
