package scanner

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// RenderTable formats the funding analysis for the console. currentSymbol,
// when held, is marked with an arrow.
func RenderTable(opps []Opportunity, rejs []Rejection, currentSymbol string, limit int) string {
	var b strings.Builder
	rule := strings.Repeat("═", 120)

	fmt.Fprintf(&b, "\n%s\n%s\n%s\n\n", rule, center("FUNDING RATE ANALYSIS", 120), rule)

	if len(opps) > 0 {
		n := len(opps)
		if n > limit {
			n = limit
		}
		fmt.Fprintf(&b, "Available Opportunities (Top %d by Net APR):\n\n", n)
		fmt.Fprintf(&b, "%-10s %-10s %-8s %-8s %-11s %-13s %-15s %-15s %-10s\n",
			"Symbol", "Net APR", "Long", "Short", "Aster APR", "Lighter APR", "Aster Mid", "Lighter Mid", "Spread")
		fmt.Fprintln(&b, strings.Repeat("-", 120))

		for _, o := range opps[:n] {
			marker := " "
			if o.Symbol == currentSymbol {
				marker = "→"
			}
			fmt.Fprintf(&b, "%s %-8s %8.2f%% %-8s %-8s %9.2f%% %11.2f%% %-15s %-15s %.3f%%\n",
				marker, o.Symbol, o.NetAPR, o.LongVenue, o.ShortVenue,
				o.AsterAPR, o.LighterAPR,
				FormatPrice(o.AsterMid), FormatPrice(o.LighterMid), o.SpreadPct)
		}
	}

	var spreadRejs, otherRejs []Rejection
	for _, r := range rejs {
		if r.Reason == ReasonSpread {
			spreadRejs = append(spreadRejs, r)
		} else {
			otherRejs = append(otherRejs, r)
		}
	}

	if len(spreadRejs) > 0 {
		fmt.Fprintf(&b, "\nExcluded due to High Spread:\n\n")
		fmt.Fprintf(&b, "%-10s %-10s %-15s %-15s\n", "Symbol", "Spread", "Aster Mid", "Lighter Mid")
		fmt.Fprintln(&b, strings.Repeat("-", 120))
		for _, r := range spreadRejs {
			spread := "N/A"
			if !math.IsNaN(r.SpreadPct) {
				spread = fmt.Sprintf("%.3f%%", r.SpreadPct)
			}
			fmt.Fprintf(&b, "  %-8s %-10s %-15s %-15s\n",
				r.Symbol, spread, FormatPrice(r.AsterMid), FormatPrice(r.LighterMid))
		}
	}

	if len(otherRejs) > 0 {
		fmt.Fprintf(&b, "\nExcluded Symbols (Missing Data):\n\n")
		fmt.Fprintf(&b, "%-12s %-80s\n", "Symbol", "Reason")
		fmt.Fprintln(&b, strings.Repeat("-", 120))
		for _, r := range otherRejs {
			reason := r.Reason
			if r.Detail != "" {
				reason = fmt.Sprintf("%s (%s)", r.Reason, r.Detail)
			}
			fmt.Fprintf(&b, "  %-10s %-80s\n", r.Symbol, reason)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", rule)
	return b.String()
}

// FormatPrice picks decimals by magnitude: cents for big prices, six places
// for sub-dollar ones.
func FormatPrice(p decimal.Decimal) string {
	if p.IsZero() {
		return "N/A"
	}
	switch {
	case p.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return "$" + p.StringFixed(2)
	case p.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return "$" + p.StringFixed(4)
	default:
		return "$" + p.StringFixed(6)
	}
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	pad := (width - len(s)) / 2
	return strings.Repeat(" ", pad) + s
}
