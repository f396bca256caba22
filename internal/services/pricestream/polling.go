package pricestream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// LastPricer returns the latest trade price of a symbol.
type LastPricer interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PollingTransport turns a ticker endpoint into a live stream for exchanges without a
// websocket feed wired in. Each poll yields one {"price": ...} message.
type PollingTransport struct {
	pricer LastPricer
	every  time.Duration
}

// NewPollingTransport polls pricer at the given period.
func NewPollingTransport(pricer LastPricer, every time.Duration) *PollingTransport {
	if every <= 0 {
		every = 2 * time.Second
	}
	return &PollingTransport{pricer: pricer, every: every}
}

func (t *PollingTransport) Dial(ctx context.Context, symbol string) (Conn, error) {
	price, err := t.pricer.LastPrice(ctx, symbol)
	if err != nil {
		return nil, errors.Wrap(err, "initial price poll")
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &pollConn{
		ctx:     ctx,
		cancel:  cancel,
		pricer:  t.pricer,
		symbol:  symbol,
		ticker:  time.NewTicker(t.every),
		pending: &price,
	}, nil
}

type pollConn struct {
	ctx    context.Context
	cancel context.CancelFunc
	pricer LastPricer
	symbol string
	ticker *time.Ticker

	pending *decimal.Decimal
}

func (c *pollConn) ReadMessage() ([]byte, error) {
	if c.pending != nil {
		price := *c.pending
		c.pending = nil
		return encodePrice(price)
	}

	select {
	case <-c.ctx.Done():
		return nil, errors.New("polling connection closed")
	case <-c.ticker.C:
	}

	price, err := c.pricer.LastPrice(c.ctx, c.symbol)
	if err != nil {
		return nil, err
	}
	return encodePrice(price)
}

func encodePrice(price decimal.Decimal) ([]byte, error) {
	return json.Marshal(struct {
		Price decimal.Decimal `json:"price"`
	}{Price: price})
}

func (c *pollConn) Close() error {
	c.ticker.Stop()
	c.cancel()
	return nil
}
