package trader

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/venue"
)

// Verdict is the monitor's decision for one check of the held position.
type Verdict int

const (
	VerdictHold Verdict = iota
	VerdictCloseExpired
	VerdictCloseStopLoss
)

func (v Verdict) String() string {
	switch v {
	case VerdictCloseExpired:
		return "close-expired"
	case VerdictCloseStopLoss:
		return "close-stop-loss"
	default:
		return "hold"
	}
}

// PairPnL is the live PnL view of both legs.
type PairPnL struct {
	LongPnL        decimal.Decimal
	ShortPnL       decimal.Decimal
	CombinedPnL    decimal.Decimal
	WorstPnL       decimal.Decimal
	WorstVenue     string
	WorstLegPct    float64
	CombinedPct    float64
	NotionalAtOpen decimal.Decimal
}

// StopLossPct returns the worst-leg drawdown threshold in percent of position
// notional: three quarters of the distance to liquidation at the given
// leverage.
func StopLossPct(leverage int) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	return (100.0 / float64(leverage)) * 0.75
}

// Monitor watches the held position and returns verdicts. It never mutates
// state or closes anything itself; the supervisor acts on the verdict.
type Monitor struct {
	aster   venue.Gateway
	lighter venue.Gateway
	cfg     config.BotConfig
}

// NewMonitor builds a monitor over two governed gateways.
func NewMonitor(aster, lighter venue.Gateway, cfg config.BotConfig) *Monitor {
	return &Monitor{aster: aster, lighter: lighter, cfg: cfg}
}

func (m *Monitor) gateway(name string) venue.Gateway {
	if name == venue.Aster {
		return m.aster
	}
	return m.lighter
}

// Check evaluates pos once: hold-expiry first, then the stop-loss if enabled.
// PnL fetch failures degrade to a hold verdict so a flaky venue cannot force
// an exit.
func (m *Monitor) Check(ctx context.Context, pos *state.Position, now time.Time) (Verdict, *PairPnL) {
	if !now.Before(pos.TargetCloseAt) {
		log.Info().Str("symbol", pos.Symbol).Time("target", pos.TargetCloseAt).
			Msg("⏰ Hold duration reached")
		return VerdictCloseExpired, nil
	}

	if !m.cfg.EnableStopLoss && !m.cfg.EnablePnLTracking {
		return VerdictHold, nil
	}

	pnl, err := m.PairPnL(ctx, pos)
	if err != nil {
		log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("PnL check failed, holding")
		return VerdictHold, nil
	}

	if m.cfg.EnableStopLoss {
		threshold := StopLossPct(pos.Leverage)
		if math.Abs(pnl.WorstLegPct) >= threshold {
			log.Warn().Str("symbol", pos.Symbol).
				Str("worst_venue", pnl.WorstVenue).
				Float64("worst_leg_pct", pnl.WorstLegPct).
				Float64("threshold_pct", threshold).
				Msg("🛑 Stop-loss triggered")
			return VerdictCloseStopLoss, pnl
		}
	}
	return VerdictHold, pnl
}

// PairPnL fetches unrealized PnL on both legs. A missing position on one
// venue counts as zero PnL for that leg; a fetch error aborts.
func (m *Monitor) PairPnL(ctx context.Context, pos *state.Position) (*PairPnL, error) {
	base := baseOf(pos.Symbol, m.cfg.Quote)

	longPnL, err := m.legPnL(ctx, pos.LongVenue, base)
	if err != nil {
		return nil, err
	}
	shortPnL, err := m.legPnL(ctx, pos.ShortVenue, base)
	if err != nil {
		return nil, err
	}

	out := &PairPnL{
		LongPnL:     longPnL,
		ShortPnL:    shortPnL,
		CombinedPnL: longPnL.Add(shortPnL),
	}
	if longPnL.LessThanOrEqual(shortPnL) {
		out.WorstPnL, out.WorstVenue = longPnL, pos.LongVenue
	} else {
		out.WorstPnL, out.WorstVenue = shortPnL, pos.ShortVenue
	}

	out.NotionalAtOpen = pos.SizeBase.Mul(pos.AvgMid)
	if out.NotionalAtOpen.IsPositive() {
		out.WorstLegPct = pctOf(out.WorstPnL, out.NotionalAtOpen)
		out.CombinedPct = pctOf(out.CombinedPnL, out.NotionalAtOpen)
	}
	return out, nil
}

func (m *Monitor) legPnL(ctx context.Context, venueName, base string) (decimal.Decimal, error) {
	det, err := m.gateway(venueName).PositionDetails(ctx, base)
	if err != nil {
		return decimal.Zero, err
	}
	if det == nil {
		return decimal.Zero, nil
	}
	return det.UnrealizedPnL, nil
}

// TableRefreshDue reports whether the funding table should be re-rendered
// during the hold, and the timestamp to record if so.
func (m *Monitor) TableRefreshDue(pos *state.Position, now time.Time) bool {
	interval := time.Duration(m.cfg.FundingTableRefreshMinutes * float64(time.Minute))
	if interval <= 0 {
		return false
	}
	if pos.LastTableRefresh == nil {
		return now.Sub(pos.OpenedAt) >= interval
	}
	return now.Sub(*pos.LastTableRefresh) >= interval
}

func pctOf(part, whole decimal.Decimal) float64 {
	pct, _ := part.Div(whole).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
