// Package trader executes and supervises the delta-neutral pair: two-leg
// open, two-leg close and the in-position monitor.
package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/scanner"
	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/venue"
)

const (
	// crossTicks prices aggressive limit orders deep through the book so
	// they fill like market orders but keep venue price protection.
	crossTicks = 100

	// minTickMultiple is the floor on order size, in amount ticks.
	minTickMultiple = 10

	settleDelay = 2 * time.Second
)

// Coordinator opens and closes matched pairs across the two venues.
type Coordinator struct {
	aster   venue.Gateway
	lighter venue.Gateway
	cfg     config.BotConfig

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator builds a coordinator over two governed gateways.
func NewCoordinator(aster, lighter venue.Gateway, cfg config.BotConfig) *Coordinator {
	return &Coordinator{aster: aster, lighter: lighter, cfg: cfg, sleep: sleepCtx}
}

func (c *Coordinator) gateway(name string) venue.Gateway {
	if name == venue.Aster {
		return c.aster
	}
	return c.lighter
}

// SizePair holds the tick-synchronized sizing for one open attempt.
type SizePair struct {
	Size       decimal.Decimal
	AvgMid     decimal.Decimal
	AmountTick decimal.Decimal
}

// ComputeSize turns the configured notional into a base-asset size both
// venues accept: notional divided by the mean mid, floored to the coarser of
// the two amount ticks so the legs match exactly.
func ComputeSize(notional float64, asterMid, lighterMid decimal.Decimal, asterTick, lighterTick decimal.Decimal) (SizePair, error) {
	var mids []decimal.Decimal
	for _, m := range []decimal.Decimal{asterMid, lighterMid} {
		if m.IsPositive() {
			mids = append(mids, m)
		}
	}
	if len(mids) == 0 {
		return SizePair{}, venue.ErrNoPrices
	}
	avg := decimal.Zero
	for _, m := range mids {
		avg = avg.Add(m)
	}
	avg = avg.Div(decimal.NewFromInt(int64(len(mids))))

	tick := asterTick
	if lighterTick.GreaterThan(tick) {
		tick = lighterTick
	}
	if !tick.IsPositive() {
		return SizePair{}, fmt.Errorf("invalid amount tick: aster=%s lighter=%s", asterTick, lighterTick)
	}

	size := venue.FloorToTick(decimal.NewFromFloat(notional).Div(avg), tick)

	minSize := tick.Mul(decimal.NewFromInt(minTickMultiple))
	if !size.IsPositive() || size.LessThan(minSize) {
		return SizePair{}, fmt.Errorf("%w: size %s below minimum %s (notional %.2f at avg mid %s)",
			venue.ErrSizeTooSmall, size, minSize, notional, avg)
	}

	// Flooring to the coarser tick normally satisfies both venues. When the
	// ticks are not multiples of each other the per-venue floors disagree;
	// take the lower of the two and re-floor it to the coarser grid.
	if !venue.FloorToTick(size, asterTick).Equal(size) || !venue.FloorToTick(size, lighterTick).Equal(size) {
		lower := decimal.Min(venue.FloorToTick(size, asterTick), venue.FloorToTick(size, lighterTick))
		size = venue.FloorToTick(lower, tick)
		if !size.IsPositive() || size.LessThan(minSize) {
			return SizePair{}, fmt.Errorf("%w: size %s below minimum %s after tick sync (ticks %s / %s)",
				venue.ErrSizeTooSmall, size, minSize, asterTick, lighterTick)
		}
	}

	return SizePair{Size: size, AvgMid: avg, AmountTick: tick}, nil
}

// Open places the two legs for opp concurrently and verifies both filled.
// If exactly one leg lands the caller gets a PartialFillError naming the
// filled venue; the position is NOT auto-unwound.
func (c *Coordinator) Open(ctx context.Context, opp scanner.Opportunity) (*state.Position, error) {
	base := opp.Base
	full := venue.FullSymbol(base, c.cfg.Quote)

	// Descriptors and quotes are fetched fresh here: the scan-time mids in
	// opp can be tens of seconds stale after a staggered pass, too old to
	// price an aggressive limit against.
	var (
		asterDesc, lighterDesc   venue.MarketDescriptor
		asterQuote, lighterQuote venue.Quote
	)
	{
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			asterDesc, err = c.aster.MarketDescriptor(gctx, base)
			return err
		})
		g.Go(func() error {
			var err error
			lighterDesc, err = c.lighter.MarketDescriptor(gctx, base)
			return err
		})
		g.Go(func() error {
			var err error
			asterQuote, err = c.aster.BestBidAsk(gctx, base)
			return err
		})
		g.Go(func() error {
			var err error
			lighterQuote, err = c.lighter.BestBidAsk(gctx, base)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("fetch market data for %s: %w", full, err)
		}
	}

	asterMid, _ := asterQuote.Mid()
	lighterMid, _ := lighterQuote.Mid()

	sp, err := ComputeSize(c.cfg.NotionalPerPosition, asterMid, lighterMid,
		asterDesc.AmountTick, lighterDesc.AmountTick)
	if err != nil {
		return nil, err
	}

	log.Info().Str("symbol", full).
		Str("long", opp.LongVenue).Str("short", opp.ShortVenue).
		Str("size", sp.Size.String()).Str("avg_mid", sp.AvgMid.String()).
		Float64("net_apr", opp.NetAPR).
		Msg("📈 Opening delta-neutral position")

	c.configureLeverage(ctx, base)

	longGw := c.gateway(opp.LongVenue)
	shortGw := c.gateway(opp.ShortVenue)
	longRef := pickMid(opp.LongVenue, asterMid, lighterMid)
	shortRef := pickMid(opp.ShortVenue, asterMid, lighterMid)
	// a one-sided book on one venue falls back to the averaged mid
	if !longRef.IsPositive() {
		longRef = sp.AvgMid
	}
	if !shortRef.IsPositive() {
		shortRef = sp.AvgMid
	}

	var longErr, shortErr error
	{
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			_, longErr = longGw.PlaceOrder(gctx, base, venue.Buy, sp.Size, longRef, crossTicks)
			return nil
		})
		g.Go(func() error {
			_, shortErr = shortGw.PlaceOrder(gctx, base, venue.Sell, sp.Size, shortRef, crossTicks)
			return nil
		})
		g.Wait()
	}

	switch {
	case longErr != nil && shortErr != nil:
		return nil, fmt.Errorf("both legs failed for %s: long %s: %v; short %s: %v",
			full, opp.LongVenue, longErr, opp.ShortVenue, shortErr)
	case longErr != nil:
		return nil, &venue.PartialFillError{FilledVenue: opp.ShortVenue, FailedVenue: opp.LongVenue, Err: longErr}
	case shortErr != nil:
		return nil, &venue.PartialFillError{FilledVenue: opp.LongVenue, FailedVenue: opp.ShortVenue, Err: shortErr}
	}

	if err := c.sleep(ctx, settleDelay); err != nil {
		return nil, err
	}

	if err := c.verifyOpen(ctx, base, sp, opp.LongVenue, opp.ShortVenue); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pos := &state.Position{
		Symbol:         full,
		LongVenue:      opp.LongVenue,
		ShortVenue:     opp.ShortVenue,
		Leverage:       c.cfg.Leverage,
		OpenedAt:       now,
		TargetCloseAt:  now.Add(time.Duration(c.cfg.HoldDurationHours * float64(time.Hour))),
		SizeBase:       sp.Size,
		AvgMid:         sp.AvgMid,
		ExpectedNetAPR: opp.NetAPR,
	}
	log.Info().Str("symbol", full).Time("target_close", pos.TargetCloseAt).
		Msg("✅ Position opened on both venues")
	return pos, nil
}

// pickMid selects the named venue's fresh mid as the order reference price.
func pickMid(name string, asterMid, lighterMid decimal.Decimal) decimal.Decimal {
	if name == venue.Aster {
		return asterMid
	}
	return lighterMid
}

// configureLeverage sets leverage and cross margin on both venues. Failures
// are logged and ignored: most venues reject a no-op change on an already
// configured market.
func (c *Coordinator) configureLeverage(ctx context.Context, base string) {
	g, gctx := errgroup.WithContext(ctx)
	for _, gw := range []venue.Gateway{c.aster, c.lighter} {
		gw := gw
		g.Go(func() error {
			if err := gw.SetLeverage(gctx, base, c.cfg.Leverage, "cross"); err != nil {
				log.Warn().Err(err).Str("venue", gw.Name()).Str("symbol", base).
					Msg("Leverage config failed, continuing")
			}
			return nil
		})
	}
	g.Wait()
}

// verifyOpen re-reads live sizes after settling and checks both legs exist
// with the expected signs.
func (c *Coordinator) verifyOpen(ctx context.Context, base string, sp SizePair, longVenue, shortVenue string) error {
	longSize, shortSize, err := c.liveSizes(ctx, base, longVenue, shortVenue)
	if err != nil {
		return fmt.Errorf("verify open: %w", err)
	}

	tol := sp.AmountTick
	switch {
	case longSize.Abs().LessThan(tol) && shortSize.Abs().LessThan(tol):
		return fmt.Errorf("open verification failed for %s: no position on either venue", base)
	case longSize.Abs().LessThan(tol):
		return &venue.PartialFillError{FilledVenue: shortVenue, FailedVenue: longVenue,
			Err: fmt.Errorf("no position after settle")}
	case shortSize.Abs().LessThan(tol):
		return &venue.PartialFillError{FilledVenue: longVenue, FailedVenue: shortVenue,
			Err: fmt.Errorf("no position after settle")}
	}
	if longSize.Sign() <= 0 || shortSize.Sign() >= 0 {
		return fmt.Errorf("open verification failed for %s: unexpected signs long=%s short=%s",
			base, longSize, shortSize)
	}
	return nil
}

func (c *Coordinator) liveSizes(ctx context.Context, base, longVenue, shortVenue string) (decimal.Decimal, decimal.Decimal, error) {
	var longSize, shortSize decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		longSize, err = c.gateway(longVenue).OpenSize(gctx, base)
		return err
	})
	g.Go(func() error {
		var err error
		shortSize, err = c.gateway(shortVenue).OpenSize(gctx, base)
		return err
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return longSize, shortSize, nil
}

// Close flattens both legs of pos. It closes whatever is live right now, not
// what the state file says, so it also cleans up after drift. A leg that
// stays open after the attempt produces a PartialCloseError.
func (c *Coordinator) Close(ctx context.Context, pos *state.Position) error {
	base := baseOf(pos.Symbol, c.cfg.Quote)

	asterDesc, err := c.aster.MarketDescriptor(ctx, base)
	if err != nil {
		return fmt.Errorf("close %s: fetch descriptor: %w", pos.Symbol, err)
	}
	lighterDesc, err := c.lighter.MarketDescriptor(ctx, base)
	if err != nil {
		return fmt.Errorf("close %s: fetch descriptor: %w", pos.Symbol, err)
	}

	tick := asterDesc.AmountTick
	if lighterDesc.AmountTick.GreaterThan(tick) {
		tick = lighterDesc.AmountTick
	}

	log.Info().Str("symbol", pos.Symbol).Msg("📉 Closing delta-neutral position")

	if err := c.closeLiveLegs(ctx, base, tick); err != nil {
		return err
	}

	if err := c.sleep(ctx, settleDelay); err != nil {
		return err
	}

	var open []string
	for _, gw := range []venue.Gateway{c.aster, c.lighter} {
		size, err := gw.OpenSize(ctx, base)
		if err != nil {
			return fmt.Errorf("close %s: re-verify on %s: %w", pos.Symbol, gw.Name(), err)
		}
		if size.Abs().GreaterThan(tick) {
			open = append(open, gw.Name())
		}
	}
	if len(open) > 0 {
		return &venue.PartialCloseError{OpenVenues: open,
			Err: fmt.Errorf("legs still open after close attempt")}
	}

	log.Info().Str("symbol", pos.Symbol).Msg("✅ Position closed on both venues")
	return nil
}

// closeLiveLegs reads each venue's live size and submits a reduce order for
// any leg larger than one amount tick, both legs concurrently.
func (c *Coordinator) closeLiveLegs(ctx context.Context, base string, tick decimal.Decimal) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, gw := range []venue.Gateway{c.aster, c.lighter} {
		gw := gw
		g.Go(func() error {
			size, err := gw.OpenSize(gctx, base)
			if err != nil {
				return fmt.Errorf("read size on %s: %w", gw.Name(), err)
			}
			if size.Abs().LessThanOrEqual(tick) {
				log.Debug().Str("venue", gw.Name()).Str("symbol", base).Msg("No live leg to close")
				return nil
			}
			side := venue.Sell
			if size.Sign() < 0 {
				side = venue.Buy
			}
			if _, err := gw.ClosePosition(gctx, base, size.Abs(), side); err != nil {
				return fmt.Errorf("close leg on %s: %w", gw.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// baseOf strips the quote suffix from a venue-native symbol.
func baseOf(symbol, quote string) string {
	if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
		return symbol[:len(symbol)-len(quote)]
	}
	return symbol
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
