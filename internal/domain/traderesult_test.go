package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeResult_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantTotal string
	}{
		{
			name:      "with total",
			body:      `{"account":{"wallet":"920","total":"1120.5","wallets":[{"symbol":"USDT","amount":"920"}]},"transactions":[{"price":"30"}],"logs":["a"]}`,
			wantTotal: "1120.5",
		},
		{
			name: "without total",
			body: `{"account":{"wallet":"920","wallets":[{"symbol":"USDT","amount":"920"}]},"transactions":[]}`,
		},
		{
			name: "null total",
			body: `{"account":{"wallet":"920","total":null}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r TradeResult
			require.NoError(t, json.Unmarshal([]byte(tt.body), &r))
			assert.True(t, r.Account.Wallet.Equal(d("920")))

			if tt.wantTotal == "" {
				assert.False(t, r.ReportedTotal.Valid)
				return
			}
			require.True(t, r.ReportedTotal.Valid)
			assert.True(t, r.ReportedTotal.Decimal.Equal(d(tt.wantTotal)))
		})
	}

	var r TradeResult
	assert.Error(t, json.Unmarshal([]byte(`{"account":{"total":"lots"}}`), &r))
}
