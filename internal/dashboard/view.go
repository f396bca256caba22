package dashboard

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stocker/internal/domain"
	"github.com/vadiminshakov/stocker/internal/services/balance"
)

// ViewState read-only snapshot of everything the dashboard shows.
type ViewState struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`

	Symbol        string          `json:"symbol"`
	Interval      domain.Interval `json:"interval"`
	IntervalLabel string          `json:"interval_label"`

	// Price is nil while no live price has been received.
	Price          *decimal.Decimal `json:"price,omitempty"`
	PriceAt        *time.Time       `json:"price_at,omitempty"`
	StreamState    string           `json:"stream_state"`
	SubscriptionID string           `json:"subscription_id,omitempty"`

	// History is the cached series of the active interval followed by the live point.
	History        []domain.PricePoint `json:"history"`
	HistoryLoading bool                `json:"history_loading"`

	Change        *decimal.Decimal `json:"change,omitempty"`
	ChangePercent *decimal.Decimal `json:"change_percent,omitempty"`

	Account     domain.Account      `json:"account"`
	WalletEntry *domain.WalletEntry `json:"wallet_entry,omitempty"`
	Available   decimal.Decimal     `json:"available"`
	Total       decimal.Decimal     `json:"total"`

	Orders   []OrderReceipt `json:"orders,omitempty"`
	Script   *ScriptView    `json:"script,omitempty"`
	Degraded []string       `json:"degraded,omitempty"`
}

// HasPrice reports whether a live price is known.
func (v ViewState) HasPrice() bool { return v.Price != nil }

// ScriptView is the script result panel with the selected tab's list.
type ScriptView struct {
	balance.ScriptSummary
	Tab          balance.Tab          `json:"tab"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	Entries      []string             `json:"entries,omitempty"`
}

// OrderReceipt is an executed simulated order.
type OrderReceipt struct {
	ID         uuid.UUID       `json:"id"`
	Side       Side            `json:"side"`
	Symbol     string          `json:"symbol"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Value      decimal.Decimal `json:"value"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// priceChange returns price minus the first close and that delta as a percentage of price,
// rounded to two places.
func priceChange(price decimal.Decimal, history []domain.PricePoint) (decimal.Decimal, decimal.Decimal, bool) {
	if len(history) == 0 || !price.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	diff := price.Sub(history[0].ClosePrice)
	pct := diff.Div(price).Mul(decimal.NewFromInt(100)).Round(2)
	return diff, pct, true
}
