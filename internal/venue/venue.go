// Package venue defines the abstract gateway both exchange clients implement,
// plus the shared market types the engine trades in terms of.
package venue

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Venue names as used in state files, logs and opportunity tables.
const (
	Aster   = "Aster"
	Lighter = "Lighter"
)

// Side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// MarketDescriptor is the per-venue quantization grid for one symbol.
type MarketDescriptor struct {
	MarketID   string
	PriceTick  decimal.Decimal
	AmountTick decimal.Decimal
}

// Quote is a best bid/ask snapshot. A zero field means that side of the book
// was empty or unavailable.
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Mid returns (bid+ask)/2 when both sides exist, otherwise whichever side
// does. ok is false when the book is completely empty.
func (q Quote) Mid() (decimal.Decimal, bool) {
	hasBid := q.Bid.IsPositive()
	hasAsk := q.Ask.IsPositive()
	switch {
	case hasBid && hasAsk:
		return q.Bid.Add(q.Ask).Div(two), true
	case hasBid:
		return q.Bid, true
	case hasAsk:
		return q.Ask, true
	default:
		return decimal.Zero, false
	}
}

var two = decimal.NewFromInt(2)

// OrderResult describes a dispatched order.
type OrderResult struct {
	OrderID string
	Side    Side
	Size    decimal.Decimal
	Price   decimal.Decimal
}

// PositionDetails is a venue-side view of an open position.
type PositionDetails struct {
	Symbol        string
	Side          string // LONG or SHORT
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
	MarginMode    string
}

// Balance is the account USD balance on one venue.
type Balance struct {
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Gateway is the capability set the engine needs from each exchange. Symbols
// are passed in base form ("BTC"); each implementation maps to its native
// full name ("BTCUSDT") itself.
type Gateway interface {
	// Name returns the venue name (Aster or Lighter).
	Name() string

	MarketDescriptor(ctx context.Context, base string) (MarketDescriptor, error)
	BestBidAsk(ctx context.Context, base string) (Quote, error)
	// FundingRate returns the most recent per-period funding rate in decimal
	// form (0.0001 == 0.01% per period).
	FundingRate(ctx context.Context, base string) (float64, error)

	// PlaceOrder submits an aggressive limit order crossed by crossTicks price
	// ticks beyond refPrice in the taking direction.
	PlaceOrder(ctx context.Context, base string, side Side, size decimal.Decimal, refPrice decimal.Decimal, crossTicks int) (OrderResult, error)
	// ClosePosition submits a reduce-only aggressive order of the given size.
	ClosePosition(ctx context.Context, base string, size decimal.Decimal, side Side) (OrderResult, error)

	// OpenSize returns the signed open base size (positive long, negative
	// short), zero when flat.
	OpenSize(ctx context.Context, base string) (decimal.Decimal, error)
	// PositionDetails returns nil when there is no open position.
	PositionDetails(ctx context.Context, base string) (*PositionDetails, error)
	// AllPositions returns every open position on the venue.
	AllPositions(ctx context.Context) ([]PositionDetails, error)

	AccountBalance(ctx context.Context) (Balance, error)
	SetLeverage(ctx context.Context, base string, leverage int, marginMode string) error

	Close() error
}

// FullSymbol appends the quote suffix to a base tag ("BTC" + "USDT").
func FullSymbol(base, quote string) string {
	return fmt.Sprintf("%s%s", base, quote)
}
