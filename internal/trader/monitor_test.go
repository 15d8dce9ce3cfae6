package trader

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/venue"
)

func TestStopLossPct(t *testing.T) {
	assert.Equal(t, 25.0, StopLossPct(3))
	assert.Equal(t, 75.0, StopLossPct(1))
	assert.Equal(t, 7.5, StopLossPct(10))
	// degenerate leverage falls back to 1x
	assert.Equal(t, 75.0, StopLossPct(0))
}

func heldPosition(now time.Time) *state.Position {
	return &state.Position{
		Symbol:        "BTCUSDT",
		LongVenue:     venue.Lighter,
		ShortVenue:    venue.Aster,
		Leverage:      3,
		OpenedAt:      now.Add(-time.Hour),
		TargetCloseAt: now.Add(7 * time.Hour),
		SizeBase:      d("0.002"),
		AvgMid:        d("50000"),
	}
}

func monitorWith(asterPnL, lighterPnL decimal.Decimal) *Monitor {
	aster := &fakeGateway{name: venue.Aster, position: &venue.PositionDetails{
		Symbol: "BTCUSDT", Size: d("-0.002"), UnrealizedPnL: asterPnL}}
	lighter := &fakeGateway{name: venue.Lighter, position: &venue.PositionDetails{
		Symbol: "BTCUSDT", Size: d("0.002"), UnrealizedPnL: lighterPnL}}
	return NewMonitor(aster, lighter, config.Default())
}

func TestCheckExpiryWinsOverEverything(t *testing.T) {
	now := time.Now().UTC()
	pos := heldPosition(now)
	pos.TargetCloseAt = now.Add(-time.Minute)

	m := monitorWith(d("-100"), d("0"))
	verdict, _ := m.Check(context.Background(), pos, now)
	assert.Equal(t, VerdictCloseExpired, verdict)
}

func TestCheckStopLossTripsAtThreshold(t *testing.T) {
	now := time.Now().UTC()
	pos := heldPosition(now)
	// notional 0.002 × 50000 = 100; leverage 3 → threshold 25%

	// -26% on the short leg trips
	m := monitorWith(d("-26"), d("24"))
	verdict, pnl := m.Check(context.Background(), pos, now)
	assert.Equal(t, VerdictCloseStopLoss, verdict)
	require.NotNil(t, pnl)
	assert.Equal(t, venue.Aster, pnl.WorstVenue)
	assert.InDelta(t, -26.0, pnl.WorstLegPct, 1e-9)

	// -24% holds
	m = monitorWith(d("-24"), d("22"))
	verdict, _ = m.Check(context.Background(), pos, now)
	assert.Equal(t, VerdictHold, verdict)

	// exactly -25% trips
	m = monitorWith(d("-25"), d("25"))
	verdict, _ = m.Check(context.Background(), pos, now)
	assert.Equal(t, VerdictCloseStopLoss, verdict)
}

func TestCheckStopLossUsesAbsoluteDrawdown(t *testing.T) {
	now := time.Now().UTC()
	pos := heldPosition(now)

	// worst leg = min PnL; a +30/-26 split still measures the losing leg
	m := monitorWith(d("30"), d("-26"))
	verdict, pnl := m.Check(context.Background(), pos, now)
	assert.Equal(t, VerdictCloseStopLoss, verdict)
	require.NotNil(t, pnl)
	assert.Equal(t, venue.Lighter, pnl.WorstVenue)
	assert.InDelta(t, -26.0, pnl.WorstLegPct, 1e-9)
}

func TestCheckStopLossDisabled(t *testing.T) {
	now := time.Now().UTC()
	pos := heldPosition(now)

	aster := &fakeGateway{name: venue.Aster, position: &venue.PositionDetails{
		Symbol: "BTCUSDT", Size: d("-0.002"), UnrealizedPnL: d("-90")}}
	lighter := &fakeGateway{name: venue.Lighter, position: &venue.PositionDetails{
		Symbol: "BTCUSDT", Size: d("0.002"), UnrealizedPnL: d("80")}}

	cfg := config.Default()
	cfg.EnableStopLoss = false
	m := NewMonitor(aster, lighter, cfg)

	verdict, _ := m.Check(context.Background(), pos, now)
	assert.Equal(t, VerdictHold, verdict)
}

func TestPairPnLMissingLegCountsAsZero(t *testing.T) {
	now := time.Now().UTC()
	pos := heldPosition(now)

	aster := &fakeGateway{name: venue.Aster, position: nil}
	lighter := &fakeGateway{name: venue.Lighter, position: &venue.PositionDetails{
		Symbol: "BTCUSDT", Size: d("0.002"), UnrealizedPnL: d("-5")}}
	m := NewMonitor(aster, lighter, config.Default())

	pnl, err := m.PairPnL(context.Background(), pos)
	require.NoError(t, err)
	assert.True(t, pnl.ShortPnL.IsZero())
	assert.Equal(t, venue.Lighter, pnl.WorstVenue)
	assert.InDelta(t, -5.0, pnl.WorstLegPct, 1e-9)
}

func TestTableRefreshDue(t *testing.T) {
	now := time.Now().UTC()
	pos := heldPosition(now)
	m := monitorWith(decimal.Zero, decimal.Zero)

	// opened an hour ago, never refreshed, default interval 5m
	assert.True(t, m.TableRefreshDue(pos, now))

	recent := now.Add(-time.Minute)
	pos.LastTableRefresh = &recent
	assert.False(t, m.TableRefreshDue(pos, now))

	stale := now.Add(-10 * time.Minute)
	pos.LastTableRefresh = &stale
	assert.True(t, m.TableRefreshDue(pos, now))
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "hold", VerdictHold.String())
	assert.Equal(t, "close-expired", VerdictCloseExpired.String())
	assert.Equal(t, "close-stop-loss", VerdictCloseStopLoss.String())
}
