// Command stocker runs the paper trading dashboard.
// It streams live prices of one symbol from Binance or Bybit, caches the symbol's
// price history, keeps a per-user account and reconstructs script balance histories.
//
// Usage:
//
//	stocker setup
//	stocker serve --config config.gen.yaml
//	stocker reconstruct result.json
//
// Optional environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	STOCKER_USER_ID, STOCKER_STORE_DIR, STOCKER_HTTP_ADDR
package main

import (
	"os"

	"github.com/vadiminshakov/stocker/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
