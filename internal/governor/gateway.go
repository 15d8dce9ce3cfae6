package governor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/venue"
)

// Wrap decorates a gateway so that every call runs through the governor.
// Components only ever see governed gateways.
func Wrap(gw venue.Gateway, g *Governor) venue.Gateway {
	return &governed{gw: gw, g: g}
}

type governed struct {
	gw venue.Gateway
	g  *Governor
}

func (w *governed) Name() string { return w.gw.Name() }

func (w *governed) MarketDescriptor(ctx context.Context, base string) (venue.MarketDescriptor, error) {
	return call(ctx, w.g, "market_descriptor", func(ctx context.Context) (venue.MarketDescriptor, error) {
		return w.gw.MarketDescriptor(ctx, base)
	})
}

func (w *governed) BestBidAsk(ctx context.Context, base string) (venue.Quote, error) {
	return call(ctx, w.g, "best_bid_ask", func(ctx context.Context) (venue.Quote, error) {
		return w.gw.BestBidAsk(ctx, base)
	})
}

func (w *governed) FundingRate(ctx context.Context, base string) (float64, error) {
	return call(ctx, w.g, "funding_rate", func(ctx context.Context) (float64, error) {
		return w.gw.FundingRate(ctx, base)
	})
}

func (w *governed) PlaceOrder(ctx context.Context, base string, side venue.Side, size, refPrice decimal.Decimal, crossTicks int) (venue.OrderResult, error) {
	return call(ctx, w.g, "place_order", func(ctx context.Context) (venue.OrderResult, error) {
		return w.gw.PlaceOrder(ctx, base, side, size, refPrice, crossTicks)
	})
}

func (w *governed) ClosePosition(ctx context.Context, base string, size decimal.Decimal, side venue.Side) (venue.OrderResult, error) {
	return call(ctx, w.g, "close_position", func(ctx context.Context) (venue.OrderResult, error) {
		return w.gw.ClosePosition(ctx, base, size, side)
	})
}

func (w *governed) OpenSize(ctx context.Context, base string) (decimal.Decimal, error) {
	return call(ctx, w.g, "open_size", func(ctx context.Context) (decimal.Decimal, error) {
		return w.gw.OpenSize(ctx, base)
	})
}

func (w *governed) PositionDetails(ctx context.Context, base string) (*venue.PositionDetails, error) {
	return call(ctx, w.g, "position_details", func(ctx context.Context) (*venue.PositionDetails, error) {
		return w.gw.PositionDetails(ctx, base)
	})
}

func (w *governed) AllPositions(ctx context.Context) ([]venue.PositionDetails, error) {
	return call(ctx, w.g, "all_positions", func(ctx context.Context) ([]venue.PositionDetails, error) {
		return w.gw.AllPositions(ctx)
	})
}

func (w *governed) AccountBalance(ctx context.Context) (venue.Balance, error) {
	return call(ctx, w.g, "account_balance", func(ctx context.Context) (venue.Balance, error) {
		return w.gw.AccountBalance(ctx)
	})
}

func (w *governed) SetLeverage(ctx context.Context, base string, leverage int, marginMode string) error {
	return w.g.Do(ctx, "set_leverage", func(ctx context.Context) error {
		return w.gw.SetLeverage(ctx, base, leverage, marginMode)
	})
}

func (w *governed) Close() error { return w.gw.Close() }
