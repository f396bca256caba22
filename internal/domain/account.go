// Package domain defines the account, price and script result structures shared by the dashboard core.
package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BaseSlot is the index of the base currency reference entry in Account.Wallets.
const BaseSlot = 0

// WalletEntry is the holding of one symbol.
type WalletEntry struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// Account is the virtual wallet and holdings of a user.
//
// Wallets[BaseSlot] always mirrors Wallet under the base currency symbol.
// Every other entry is a holding, with at most one entry per symbol.
type Account struct {
	Wallet  decimal.Decimal `json:"wallet"`
	Wallets []WalletEntry   `json:"wallets"`
}

// NewAccount creates an account funded with the initial base currency balance.
func NewAccount(baseCurrency string, initial decimal.Decimal) Account {
	return Account{
		Wallet:  initial,
		Wallets: []WalletEntry{{Symbol: NormalizeSymbol(baseCurrency), Amount: initial}},
	}
}

// BaseCurrency returns the symbol of the reference slot.
func (a Account) BaseCurrency() string {
	if len(a.Wallets) == 0 {
		return ""
	}
	return a.Wallets[BaseSlot].Symbol
}

// Holding returns the entry tracked for symbol, if any.
func (a Account) Holding(symbol string) (WalletEntry, bool) {
	idx, ok := ResolveWalletIndex(a, symbol)
	if !ok {
		return WalletEntry{}, false
	}
	return a.Wallets[idx], true
}

// Total values the account at the given prices: wallet plus every holding times its price.
// Holdings without a known price contribute nothing.
func (a Account) Total(prices map[string]decimal.Decimal) decimal.Decimal {
	total := a.Wallet
	for i, entry := range a.Wallets {
		if i == BaseSlot {
			continue
		}
		price, ok := prices[entry.Symbol]
		if !ok {
			continue
		}
		total = total.Add(entry.Amount.Mul(price))
	}
	return total
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	wallets := make([]WalletEntry, len(a.Wallets))
	copy(wallets, a.Wallets)
	return Account{Wallet: a.Wallet, Wallets: wallets}
}

// Validate checks the structural invariants of the account.
func (a Account) Validate() error {
	if a.Wallet.IsNegative() {
		return errors.Errorf("wallet is negative: %s", a.Wallet.String())
	}
	if len(a.Wallets) == 0 {
		return errors.New("base currency slot is missing")
	}
	if !a.Wallets[BaseSlot].Amount.Equal(a.Wallet) {
		return errors.Errorf("base slot %s does not mirror wallet %s",
			a.Wallets[BaseSlot].Amount.String(), a.Wallet.String())
	}
	seen := make(map[string]struct{}, len(a.Wallets))
	for _, entry := range a.Wallets {
		if entry.Amount.IsNegative() {
			return errors.Errorf("%s amount is negative: %s", entry.Symbol, entry.Amount.String())
		}
		if _, dup := seen[entry.Symbol]; dup {
			return errors.Errorf("duplicate wallet entry for %s", entry.Symbol)
		}
		seen[entry.Symbol] = struct{}{}
	}
	return nil
}

// ResolveWalletIndex finds the wallet entry for symbol. A false result means the symbol
// is not tracked yet, which callers treat as zero holdings.
func ResolveWalletIndex(a Account, symbol string) (int, bool) {
	symbol = NormalizeSymbol(symbol)
	for i, entry := range a.Wallets {
		if entry.Symbol == symbol {
			return i, true
		}
	}
	return -1, false
}

// ApplyBuy spends amount*price of the wallet on symbol.
func ApplyBuy(a Account, symbol string, amount, price decimal.Decimal) (Account, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateOrder(a, symbol, amount, price); err != nil {
		return a, err
	}

	cost := amount.Mul(price)
	if cost.GreaterThan(a.Wallet) {
		return a, errors.Wrapf(ErrInsufficientFunds, "have %s need %s", a.Wallet.String(), cost.String())
	}

	next := a.Clone()
	next.setWallet(next.Wallet.Sub(cost))
	if idx, ok := ResolveWalletIndex(next, symbol); ok {
		next.Wallets[idx].Amount = next.Wallets[idx].Amount.Add(amount)
	} else {
		next.Wallets = append(next.Wallets, WalletEntry{Symbol: symbol, Amount: amount})
	}

	return next, nil
}

// ApplySell converts amount of symbol back into the wallet at price.
// A holding that reaches exactly zero is removed.
func ApplySell(a Account, symbol string, amount, price decimal.Decimal) (Account, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateOrder(a, symbol, amount, price); err != nil {
		return a, err
	}

	idx, ok := ResolveWalletIndex(a, symbol)
	if !ok {
		return a, errors.Wrapf(ErrInsufficientHoldings, "%s is not held", symbol)
	}
	if a.Wallets[idx].Amount.LessThan(amount) {
		return a, errors.Wrapf(ErrInsufficientHoldings, "have %s %s need %s",
			a.Wallets[idx].Amount.String(), symbol, amount.String())
	}

	next := a.Clone()
	next.setWallet(next.Wallet.Add(amount.Mul(price)))
	remaining := next.Wallets[idx].Amount.Sub(amount)
	if remaining.IsZero() {
		next.Wallets = append(next.Wallets[:idx], next.Wallets[idx+1:]...)
	} else {
		next.Wallets[idx].Amount = remaining
	}

	return next, nil
}

func (a *Account) setWallet(v decimal.Decimal) {
	a.Wallet = v
	if len(a.Wallets) > 0 {
		a.Wallets[BaseSlot].Amount = v
	}
}

func validateOrder(a Account, symbol string, amount, price decimal.Decimal) error {
	if len(a.Wallets) == 0 {
		return errors.Wrap(ErrInvalidOrder, "account has no base currency slot")
	}
	if symbol == "" {
		return errors.Wrap(ErrInvalidOrder, "symbol is empty")
	}
	if symbol == a.BaseCurrency() {
		return errors.Wrapf(ErrInvalidOrder, "cannot trade base currency %s", symbol)
	}
	if !amount.IsPositive() {
		return errors.Wrapf(ErrInvalidOrder, "amount must be positive, got %s", amount.String())
	}
	if !price.IsPositive() {
		return errors.Wrapf(ErrInvalidOrder, "price must be positive, got %s", price.String())
	}
	return nil
}

// NormalizeSymbol upper-cases and trims a market symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
