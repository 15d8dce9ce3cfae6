package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/scanner"
	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/venue"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeGateway scripts one venue for coordinator tests.
type fakeGateway struct {
	name       string
	descriptor venue.MarketDescriptor
	quote      venue.Quote
	quoteErr   error
	openSize   decimal.Decimal
	sizeErr    error
	orderErr   error
	closeErr   error
	position   *venue.PositionDetails

	placed   []venue.Side
	placedAt []decimal.Decimal
	closed   []decimal.Decimal
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) MarketDescriptor(ctx context.Context, base string) (venue.MarketDescriptor, error) {
	return f.descriptor, nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, base string, side venue.Side, size, refPrice decimal.Decimal, crossTicks int) (venue.OrderResult, error) {
	if f.orderErr != nil {
		return venue.OrderResult{}, f.orderErr
	}
	f.placed = append(f.placed, side)
	f.placedAt = append(f.placedAt, refPrice)
	if side == venue.Buy {
		f.openSize = size
	} else {
		f.openSize = size.Neg()
	}
	return venue.OrderResult{OrderID: "1", Side: side, Size: size}, nil
}

func (f *fakeGateway) ClosePosition(ctx context.Context, base string, size decimal.Decimal, side venue.Side) (venue.OrderResult, error) {
	if f.closeErr != nil {
		return venue.OrderResult{}, f.closeErr
	}
	f.closed = append(f.closed, size)
	f.openSize = decimal.Zero
	return venue.OrderResult{OrderID: "2", Side: side, Size: size}, nil
}

func (f *fakeGateway) OpenSize(ctx context.Context, base string) (decimal.Decimal, error) {
	if f.sizeErr != nil {
		return decimal.Zero, f.sizeErr
	}
	return f.openSize, nil
}

func (f *fakeGateway) PositionDetails(ctx context.Context, base string) (*venue.PositionDetails, error) {
	return f.position, nil
}
func (f *fakeGateway) AllPositions(ctx context.Context) ([]venue.PositionDetails, error) {
	return nil, nil
}
func (f *fakeGateway) BestBidAsk(ctx context.Context, base string) (venue.Quote, error) {
	if f.quoteErr != nil {
		return venue.Quote{}, f.quoteErr
	}
	return f.quote, nil
}
func (f *fakeGateway) FundingRate(ctx context.Context, base string) (float64, error) {
	return 0, errors.New("not scripted")
}
func (f *fakeGateway) AccountBalance(ctx context.Context) (venue.Balance, error) {
	return venue.Balance{}, errors.New("not scripted")
}
func (f *fakeGateway) SetLeverage(ctx context.Context, base string, leverage int, marginMode string) error {
	return nil
}
func (f *fakeGateway) Close() error { return nil }

func newTestCoordinator(aster, lighter *fakeGateway) *Coordinator {
	c := NewCoordinator(aster, lighter, config.Default())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func btcOpportunity() scanner.Opportunity {
	return scanner.Opportunity{
		Symbol:     "BTCUSDT",
		Base:       "BTC",
		LongVenue:  venue.Lighter,
		ShortVenue: venue.Aster,
		NetAPR:     30.0,
		AsterMid:   d("50000"),
		LighterMid: d("50000"),
	}
}

func TestComputeSize(t *testing.T) {
	// 100 USDT at mid 50000 is 0.002 BTC on a 0.0001 grid
	sp, err := ComputeSize(100, d("50000"), d("50000"), d("0.0001"), d("0.0001"))
	require.NoError(t, err)
	assert.True(t, d("0.002").Equal(sp.Size), "got %s", sp.Size)
	assert.True(t, d("50000").Equal(sp.AvgMid))
}

func TestComputeSizeFloorsToCoarserTick(t *testing.T) {
	sp, err := ComputeSize(1000, d("3001"), d("2999"), d("0.001"), d("0.01"))
	require.NoError(t, err)
	// 1000/3000 = 0.3333... floored to the 0.01 grid
	assert.True(t, d("0.33").Equal(sp.Size), "got %s", sp.Size)
	assert.True(t, d("0.01").Equal(sp.AmountTick))
}

func TestComputeSizeIsOnGridAndAboveMinimum(t *testing.T) {
	sp, err := ComputeSize(250, d("1.2345"), d("1.2347"), d("0.1"), d("1"))
	require.NoError(t, err)
	assert.True(t, sp.Size.Mod(d("1")).IsZero(), "size %s must sit on the coarser grid", sp.Size)
	assert.True(t, sp.Size.GreaterThanOrEqual(d("10")))
}

func TestComputeSizeTooSmall(t *testing.T) {
	// 0.002 BTC on a 0.001 grid is below the 10-tick minimum
	_, err := ComputeSize(100, d("50000"), d("50000"), d("0.001"), d("0.001"))
	assert.ErrorIs(t, err, venue.ErrSizeTooSmall)

	// notional too small to survive flooring at all
	_, err = ComputeSize(0.5, d("50000"), d("50000"), d("0.0001"), d("0.0001"))
	assert.ErrorIs(t, err, venue.ErrSizeTooSmall)
}

func TestComputeSizeRefloorsOnGridMismatch(t *testing.T) {
	// ticks 0.3 and 0.5 are not multiples of each other: 100/10 = 10 sits on
	// the 0.5 grid but floors to 9.9 on the 0.3 grid, so the size re-floors
	// through the lower value back onto the coarser grid
	sp, err := ComputeSize(100, d("10"), d("10"), d("0.3"), d("0.5"))
	require.NoError(t, err)
	assert.True(t, d("9.5").Equal(sp.Size), "got %s", sp.Size)

	// when the re-floored size falls under the minimum it still fails
	_, err = ComputeSize(25, d("10"), d("10"), d("0.3"), d("0.5"))
	assert.ErrorIs(t, err, venue.ErrSizeTooSmall)
}

func TestComputeSizeUsesAvailableMid(t *testing.T) {
	// one venue has no usable mid; sizing falls back to the other
	sp, err := ComputeSize(100, decimal.Zero, d("50000"), d("0.0001"), d("0.0001"))
	require.NoError(t, err)
	assert.True(t, d("50000").Equal(sp.AvgMid))

	_, err = ComputeSize(100, decimal.Zero, decimal.Zero, d("0.0001"), d("0.0001"))
	assert.ErrorIs(t, err, venue.ErrNoPrices)
}

func TestOpenPlacesBothLegs(t *testing.T) {
	aster := &fakeGateway{name: venue.Aster, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote: venue.Quote{Bid: d("49999"), Ask: d("50001")}}
	lighter := &fakeGateway{name: venue.Lighter, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote: venue.Quote{Bid: d("49999"), Ask: d("50001")}}

	pos, err := newTestCoordinator(aster, lighter).Open(context.Background(), btcOpportunity())
	require.NoError(t, err)

	assert.Equal(t, []venue.Side{venue.Sell}, aster.placed)
	assert.Equal(t, []venue.Side{venue.Buy}, lighter.placed)
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.Equal(t, venue.Lighter, pos.LongVenue)
	assert.Equal(t, venue.Aster, pos.ShortVenue)
	assert.True(t, d("0.002").Equal(pos.SizeBase), "got %s", pos.SizeBase)
	assert.Equal(t, 3, pos.Leverage)
	assert.True(t, pos.TargetCloseAt.After(pos.OpenedAt))
}

func TestOpenSizesAndPricesFromLiveQuotes(t *testing.T) {
	// the opportunity carries mids from the scan pass; the open must ignore
	// them and work from the books as they are now
	aster := &fakeGateway{name: venue.Aster, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote: venue.Quote{Bid: d("40000"), Ask: d("40000")}}
	lighter := &fakeGateway{name: venue.Lighter, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote: venue.Quote{Bid: d("40000"), Ask: d("40000")}}

	opp := btcOpportunity() // scan-time mids say 50000

	pos, err := newTestCoordinator(aster, lighter).Open(context.Background(), opp)
	require.NoError(t, err)

	// 100 / 40000 = 0.0025, not the stale 0.002
	assert.True(t, d("0.0025").Equal(pos.SizeBase), "got %s", pos.SizeBase)
	assert.True(t, d("40000").Equal(pos.AvgMid), "got %s", pos.AvgMid)

	// reference prices come from the live mids too
	require.Len(t, aster.placedAt, 1)
	require.Len(t, lighter.placedAt, 1)
	assert.True(t, d("40000").Equal(aster.placedAt[0]), "got %s", aster.placedAt[0])
	assert.True(t, d("40000").Equal(lighter.placedAt[0]), "got %s", lighter.placedAt[0])
}

func TestOpenFailsWhenQuoteFetchFails(t *testing.T) {
	aster := &fakeGateway{name: venue.Aster, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quoteErr: errors.New("book endpoint down")}
	lighter := &fakeGateway{name: venue.Lighter, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote: venue.Quote{Bid: d("50000"), Ask: d("50000")}}

	_, err := newTestCoordinator(aster, lighter).Open(context.Background(), btcOpportunity())
	require.Error(t, err)
	assert.Empty(t, aster.placed)
	assert.Empty(t, lighter.placed)
}

func TestOpenPartialFillNamesFilledLeg(t *testing.T) {
	aster := &fakeGateway{name: venue.Aster, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote: venue.Quote{Bid: d("50000"), Ask: d("50000")}}
	lighter := &fakeGateway{name: venue.Lighter, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote:    venue.Quote{Bid: d("50000"), Ask: d("50000")},
		orderErr: errors.New("margin check failed")}

	_, err := newTestCoordinator(aster, lighter).Open(context.Background(), btcOpportunity())
	var pf *venue.PartialFillError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, venue.Aster, pf.FilledVenue)
	assert.Equal(t, venue.Lighter, pf.FailedVenue)
}

func TestOpenBothLegsFailed(t *testing.T) {
	aster := &fakeGateway{name: venue.Aster, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote:    venue.Quote{Bid: d("50000"), Ask: d("50000")},
		orderErr: errors.New("down")}
	lighter := &fakeGateway{name: venue.Lighter, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		quote:    venue.Quote{Bid: d("50000"), Ask: d("50000")},
		orderErr: errors.New("down")}

	_, err := newTestCoordinator(aster, lighter).Open(context.Background(), btcOpportunity())
	require.Error(t, err)
	var pf *venue.PartialFillError
	assert.False(t, errors.As(err, &pf), "two failed legs are not a partial fill")
}

func TestCloseFlattensBothLegs(t *testing.T) {
	aster := &fakeGateway{name: venue.Aster, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		openSize: d("-0.002")}
	lighter := &fakeGateway{name: venue.Lighter, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		openSize: d("0.002")}

	pos := &state.Position{Symbol: "BTCUSDT", LongVenue: venue.Lighter, ShortVenue: venue.Aster,
		SizeBase: d("0.002"), AvgMid: d("50000")}

	err := newTestCoordinator(aster, lighter).Close(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, aster.closed, 1)
	require.Len(t, lighter.closed, 1)
	assert.True(t, d("0.002").Equal(aster.closed[0]))
	assert.True(t, d("0.002").Equal(lighter.closed[0]))
}

func TestCloseSkipsFlatLeg(t *testing.T) {
	aster := &fakeGateway{name: venue.Aster, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		openSize: decimal.Zero}
	lighter := &fakeGateway{name: venue.Lighter, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		openSize: d("0.002")}

	pos := &state.Position{Symbol: "BTCUSDT", LongVenue: venue.Lighter, ShortVenue: venue.Aster,
		SizeBase: d("0.002"), AvgMid: d("50000")}

	err := newTestCoordinator(aster, lighter).Close(context.Background(), pos)
	require.NoError(t, err)
	assert.Empty(t, aster.closed)
	require.Len(t, lighter.closed, 1)
}

func TestClosePartialReportsOpenVenue(t *testing.T) {
	aster := &fakeGateway{name: venue.Aster, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		openSize: d("-0.002"), closeErr: errors.New("rejected")}
	lighter := &fakeGateway{name: venue.Lighter, descriptor: venue.MarketDescriptor{
		PriceTick: d("0.1"), AmountTick: d("0.0001")},
		openSize: d("0.002")}

	pos := &state.Position{Symbol: "BTCUSDT", LongVenue: venue.Lighter, ShortVenue: venue.Aster,
		SizeBase: d("0.002"), AvgMid: d("50000")}

	err := newTestCoordinator(aster, lighter).Close(context.Background(), pos)
	require.Error(t, err)
	assert.Contains(t, err.Error(), venue.Aster)
}

func TestBaseOf(t *testing.T) {
	assert.Equal(t, "BTC", baseOf("BTCUSDT", "USDT"))
	assert.Equal(t, "ASTER", baseOf("ASTERUSDT", "USDT"))
	assert.Equal(t, "BTC", baseOf("BTC", "USDT"))
}
