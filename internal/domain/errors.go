package domain

import "github.com/pkg/errors"

var (
	// ErrInsufficientFunds is returned when a buy costs more than the wallet holds.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientHoldings is returned when a sell exceeds the tracked holding.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrInvalidOrder is returned for non-positive amounts or prices and for base currency orders.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrProviderUnavailable wraps market data provider failures.
	ErrProviderUnavailable = errors.New("market data provider unavailable")
	// ErrStream wraps live price transport failures.
	ErrStream = errors.New("live price stream failure")
	// ErrInvalidTransactionLog is returned when a script transaction log breaks the sign convention.
	ErrInvalidTransactionLog = errors.New("invalid transaction log")
	// ErrPersistence is returned when the account store rejects a write.
	ErrPersistence = errors.New("account persistence failure")
	// ErrPriceUnavailable is returned when no live price is known for the requested symbol.
	ErrPriceUnavailable = errors.New("price unavailable")
)
