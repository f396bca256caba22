package pricestream

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// tradeMessage accepts the Binance trade payload ("p") and plain {"price": ...} payloads.
// Prices may be JSON strings or numbers.
type tradeMessage struct {
	P     *decimal.Decimal `json:"p"`
	Price *decimal.Decimal `json:"price"`
}

func parseTradePrice(raw []byte) (decimal.Decimal, error) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "decode trade message")
	}

	price := msg.P
	if price == nil {
		price = msg.Price
	}
	if price == nil {
		return decimal.Decimal{}, errors.New("trade message has no price")
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, errors.Errorf("non-positive price %s", price.String())
	}
	return *price, nil
}
