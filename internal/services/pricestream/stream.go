// Package pricestream delivers live trade prices for one symbol at a time.
package pricestream

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stocker/internal/domain"
)

// Conn is one open transport connection. ReadMessage blocks until the next payload.
// Close must unblock a pending ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Transport opens live price connections.
type Transport interface {
	Dial(ctx context.Context, symbol string) (Conn, error)
}

// Stream owns at most one live subscription.
type Stream struct {
	transport Transport
	logger    *zap.Logger
	buffer    int

	mu      sync.Mutex
	current *Subscription
}

const defaultEventBuffer = 64

// New creates a stream without a subscription.
func New(transport Transport, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{transport: transport, logger: logger, buffer: defaultEventBuffer}
}

// Subscribe closes the current subscription, whatever its symbol, and opens a new one.
// The returned subscription starts in Connecting and ends when ctx is done or it is unsubscribed.
func (s *Stream) Subscribe(ctx context.Context, symbol string) (*Subscription, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if strings.ContainsAny(symbol, "/ ") {
		return nil, errors.Errorf("invalid symbol %q", symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.Unsubscribe()
	}

	sub := newSubscription(ctx, symbol, s.buffer, s.logger)
	s.current = sub
	go sub.run(s.transport)

	s.logger.Info("live price subscription opened",
		zap.String("symbol", symbol),
		zap.String("subscription", sub.ID().String()))

	return sub, nil
}

// Unsubscribe closes the current subscription. Calling it again is a no-op.
func (s *Stream) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.current.Unsubscribe()
	s.current = nil
}

// Current returns the active subscription or nil.
func (s *Stream) Current() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
