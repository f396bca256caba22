package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one simulated trade recorded by an automated script.
type Transaction struct {
	Price  decimal.Decimal `json:"price"`
	Symbol string          `json:"symbol,omitempty"`
	Side   string          `json:"type,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Time   time.Time       `json:"time"`
}

// TradeResult is the output of an automated trading script run.
// Transactions are ordered most-recent-first.
type TradeResult struct {
	Account      Account       `json:"account"`
	Transactions []Transaction `json:"transactions"`
	Logs         []string      `json:"logs"`
	Errors       []string      `json:"errors"`

	// ReportedTotal is the account value the script computed itself (account.total).
	ReportedTotal decimal.NullDecimal `json:"-"`
}

func (r *TradeResult) UnmarshalJSON(data []byte) error {
	type plain TradeResult
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}

	var extra struct {
		Account struct {
			Total decimal.NullDecimal `json:"total"`
		} `json:"account"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	r.ReportedTotal = extra.Account.Total
	return nil
}

// BalancePoint is one step of a reconstructed balance series.
type BalancePoint struct {
	Index   int             `json:"index"`
	Balance decimal.Decimal `json:"balance"`
}
