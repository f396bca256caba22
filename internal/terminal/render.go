// Package terminal draws dashboard views and script summaries for a text console.
package terminal

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stocker/internal/dashboard"
	"github.com/vadiminshakov/stocker/internal/services/balance"
)

const sparkWidth = 48

var (
	subtle      = lipgloss.AdaptiveColor{Light: "#9C9C9C", Dark: "#6C6C6C"}
	up          = lipgloss.AdaptiveColor{Light: "#0A7D32", Dark: "#73F59F"}
	down        = lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#FF6B6B"}
	accent      = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	sparkBlocks = []rune("▁▂▃▄▅▆▇█")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle = lipgloss.NewStyle().Foreground(subtle)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	warnStyle  = lipgloss.NewStyle().Foreground(down)
)

// Render formats one view.
func Render(v dashboard.ViewState) string {
	var b strings.Builder

	price := "--"
	if v.HasPrice() {
		price = v.Price.String()
	}
	fmt.Fprintf(&b, "%s  %s  %s\n",
		titleStyle.Render(v.Symbol),
		lipgloss.NewStyle().Bold(true).Render(price),
		labelStyle.Render(v.StreamState))

	if v.Change != nil && v.ChangePercent != nil {
		style := lipgloss.NewStyle().Foreground(up)
		if v.Change.IsNegative() {
			style = style.Foreground(down)
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(v.IntervalLabel), style.Render(fmt.Sprintf("%s (%s%%)", v.Change, v.ChangePercent)))
	}

	history := "loading"
	if !v.HistoryLoading {
		closes := make([]decimal.Decimal, 0, len(v.History))
		for _, p := range v.History {
			closes = append(closes, p.ClosePrice)
		}
		history = Sparkline(closes, sparkWidth)
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(v.Interval.String()), history)

	holding := decimal.Zero
	if v.WalletEntry != nil {
		holding = v.WalletEntry.Amount
	}
	account := fmt.Sprintf("available %s %s\nholding   %s\ntotal     %s",
		v.Available, v.Account.BaseCurrency(), holding, v.Total)
	b.WriteString(panelStyle.Render(account))
	b.WriteString("\n")

	for i, o := range v.Orders {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "%s %s %s @ %s\n", labelStyle.Render(o.ExecutedAt.Format("15:04:05")), o.Side, o.Amount, o.Price)
	}

	if v.Script != nil {
		b.WriteString(RenderSummary(v.Script.ScriptSummary))
		fmt.Fprintf(&b, "[%s]\n", v.Script.Tab)
		if v.Script.Tab == balance.TabTransactions {
			for _, tx := range v.Script.Transactions {
				fmt.Fprintf(&b, "  %s %s %s\n", tx.Side, tx.Symbol, tx.Price)
			}
		} else {
			for _, e := range v.Script.Entries {
				fmt.Fprintf(&b, "  %s\n", e)
			}
		}
	}

	for _, d := range v.Degraded {
		b.WriteString(warnStyle.Render("! "+d) + "\n")
	}

	return b.String()
}

// RenderSummary formats a script summary with its balance series.
func RenderSummary(s balance.ScriptSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		labelStyle.Render("wallet"), s.Wallet.StringFixed(2),
		labelStyle.Render("total value"), s.TotalValue.StringFixed(2))
	for _, h := range s.Holdings {
		fmt.Fprintf(&b, "%s %s %s\n", labelStyle.Render("holding"), h.Symbol, h.Amount)
	}
	fmt.Fprintf(&b, "%s %d  %s %d  %s %d\n",
		labelStyle.Render("transactions"), s.TransactionCount,
		labelStyle.Render("logs"), s.LogCount,
		labelStyle.Render("errors"), s.ErrorCount)

	if s.BalanceError != "" {
		b.WriteString(warnStyle.Render("balance history unavailable: "+s.BalanceError) + "\n")
		return b.String()
	}
	if len(s.Balance) > 0 {
		values := make([]decimal.Decimal, len(s.Balance))
		for i, p := range s.Balance {
			values[i] = p.Balance
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("balance"), Sparkline(values, sparkWidth))
	}
	return b.String()
}

// Sparkline draws values as block characters, keeping at most width of the latest values.
func Sparkline(values []decimal.Decimal, width int) string {
	if len(values) == 0 {
		return ""
	}
	if width > 0 && len(values) > width {
		values = values[len(values)-width:]
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = decimal.Min(lo, v)
		hi = decimal.Max(hi, v)
	}
	span := hi.Sub(lo)
	top := int64(len(sparkBlocks) - 1)

	out := make([]rune, len(values))
	for i, v := range values {
		if span.IsZero() {
			out[i] = sparkBlocks[0]
			continue
		}
		idx := v.Sub(lo).Mul(decimal.NewFromInt(top)).Div(span).Round(0).IntPart()
		out[i] = sparkBlocks[idx]
	}
	return string(out)
}

// Follow redraws every view from views until the channel closes or ctx is done.
func Follow(ctx context.Context, w io.Writer, views <-chan dashboard.ViewState) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			fmt.Fprint(w, "\033[H\033[2J")
			fmt.Fprint(w, Render(v))
		}
	}
}
