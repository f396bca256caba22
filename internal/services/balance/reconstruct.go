// Package balance rebuilds an account balance history from a script transaction log.
package balance

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stocker/internal/domain"
)

// Reconstruct turns a most-recent-first transaction log and the wallet value after the
// last transaction into an oldest-first balance series.
//
// Walking the log from the newest transaction, each price is subtracted from the running
// balance and recorded under the transaction's log index. The recorded points are then
// reversed and the final wallet is appended under index len(txs).
//
// Prices are unsigned amounts. A negative price, a negative wallet or a balance that
// would go below zero yields ErrInvalidTransactionLog and no series.
// An empty log yields a nil series.
func Reconstruct(wallet decimal.Decimal, txs []domain.Transaction) ([]domain.BalancePoint, error) {
	if len(txs) == 0 {
		return nil, nil
	}
	if wallet.IsNegative() {
		return nil, errors.Wrapf(domain.ErrInvalidTransactionLog, "final wallet is negative: %s", wallet.String())
	}

	points := make([]domain.BalancePoint, 0, len(txs)+1)
	balance := wallet
	for i, tx := range txs {
		if tx.Price.IsNegative() {
			return nil, errors.Wrapf(domain.ErrInvalidTransactionLog,
				"transaction %d has negative price %s", i, tx.Price.String())
		}
		balance = balance.Sub(tx.Price)
		if balance.IsNegative() {
			return nil, errors.Wrapf(domain.ErrInvalidTransactionLog,
				"balance before transaction %d would be %s", i, balance.String())
		}
		points = append(points, domain.BalancePoint{Index: i, Balance: balance})
	}

	for l, r := 0, len(points)-1; l < r; l, r = l+1, r-1 {
		points[l], points[r] = points[r], points[l]
	}

	return append(points, domain.BalancePoint{Index: len(txs), Balance: wallet}), nil
}

// Tab is a selectable list of a script result view.
type Tab string

const (
	TabTransactions Tab = "transaction"
	TabLogs         Tab = "log"
	TabErrors       Tab = "error"
)

// ParseTab validates a tab name.
func ParseTab(s string) (Tab, error) {
	switch Tab(s) {
	case TabTransactions, TabLogs, TabErrors:
		return Tab(s), nil
	default:
		return "", errors.Errorf("unknown result tab %q", s)
	}
}

// ScriptSummary is what the dashboard shows for one script result.
type ScriptSummary struct {
	Wallet           decimal.Decimal       `json:"wallet"`
	TotalValue       decimal.Decimal       `json:"total_value"`
	Holdings         []domain.WalletEntry  `json:"holdings"`
	TransactionCount int                   `json:"transaction_count"`
	LogCount         int                   `json:"log_count"`
	ErrorCount       int                   `json:"error_count"`
	Balance          []domain.BalancePoint `json:"balance,omitempty"`
	BalanceError     string                `json:"balance_error,omitempty"`
}

// Summarize counts the result lists and reconstructs the balance series.
// A log that cannot be reconstructed withholds the series and records why.
func Summarize(result domain.TradeResult) ScriptSummary {
	s := ScriptSummary{
		Wallet:           result.Account.Wallet,
		TotalValue:       result.Account.Wallet,
		TransactionCount: len(result.Transactions),
		LogCount:         len(result.Logs),
		ErrorCount:       len(result.Errors),
	}
	if result.ReportedTotal.Valid {
		s.TotalValue = result.ReportedTotal.Decimal
	}
	for i, entry := range result.Account.Wallets {
		if i == domain.BaseSlot {
			continue
		}
		s.Holdings = append(s.Holdings, entry)
	}

	points, err := Reconstruct(result.Account.Wallet, result.Transactions)
	if err != nil {
		s.BalanceError = err.Error()
		return s
	}
	s.Balance = points
	return s
}
