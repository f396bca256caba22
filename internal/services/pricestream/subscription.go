package pricestream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stocker/internal/domain"
)

// State of a subscription.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// EventKind distinguishes price updates from failures.
type EventKind int

const (
	EventPrice EventKind = iota
	EventError
)

// PriceUpdate one trade price received on a subscription.
type PriceUpdate struct {
	SubscriptionID uuid.UUID
	Symbol         string
	Price          decimal.Decimal
	ReceivedAt     time.Time
}

// Event delivered on Subscription.Events. Err is set for EventError and wraps domain.ErrStream.
type Event struct {
	Kind           EventKind
	SubscriptionID uuid.UUID
	Update         PriceUpdate
	Err            error
}

// Subscription live prices of one symbol. The connection belongs to the subscription
// and is released when it ends.
type Subscription struct {
	id     uuid.UUID
	symbol string
	logger *zap.Logger

	state  atomic.Int32
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu   sync.Mutex
	conn Conn
}

func newSubscription(parent context.Context, symbol string, buffer int, logger *zap.Logger) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	sub := &Subscription{
		id:     uuid.New(),
		symbol: symbol,
		logger: logger,
		events: make(chan Event, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
	sub.state.Store(int32(StateConnecting))
	context.AfterFunc(ctx, sub.Unsubscribe)
	return sub
}

func (s *Subscription) ID() uuid.UUID  { return s.id }
func (s *Subscription) Symbol() string { return s.symbol }
func (s *Subscription) State() State   { return State(s.state.Load()) }

// Events yields prices in arrival order and at most one error. The channel is closed
// once the subscription has ended; it is never reopened.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Unsubscribe moves the subscription to Closed and releases the connection. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Debug("closing live price connection", zap.Error(err))
			}
		}
	})
}

func (s *Subscription) run(transport Transport) {
	defer close(s.events)

	conn, err := transport.Dial(s.ctx, s.symbol)
	if err != nil {
		s.fail(errors.Wrapf(err, "dial %s", s.symbol))
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			s.fail(errors.Wrapf(err, "read %s", s.symbol))
			return
		}

		price, err := parseTradePrice(raw)
		if err != nil {
			s.logger.Warn("dropping malformed price message",
				zap.String("symbol", s.symbol),
				zap.ByteString("payload", truncate(raw, 256)),
				zap.Error(err))
			continue
		}

		if !s.emit(Event{
			Kind:           EventPrice,
			SubscriptionID: s.id,
			Update: PriceUpdate{
				SubscriptionID: s.id,
				Symbol:         s.symbol,
				Price:          price,
				ReceivedAt:     time.Now(),
			},
		}) {
			return
		}
	}
}

// fail reports a transport failure unless the subscription was closed on purpose.
func (s *Subscription) fail(err error) {
	if s.ctx.Err() != nil {
		return
	}
	current := s.State()
	if current != StateConnecting && current != StateOpen {
		return
	}
	if !s.state.CompareAndSwap(int32(current), int32(StateErrored)) {
		return
	}

	err = errors.Wrap(domain.ErrStream, err.Error())
	s.logger.Error("live price stream failed",
		zap.String("symbol", s.symbol),
		zap.String("subscription", s.id.String()),
		zap.Error(err))

	s.emit(Event{Kind: EventError, SubscriptionID: s.id, Err: err})

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Subscription) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
