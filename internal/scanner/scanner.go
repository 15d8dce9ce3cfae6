// Package scanner ranks cross-venue funding opportunities. For every symbol
// it fans out funding-rate and mid-price fetches to both venues, annualizes
// the rates and picks the direction with the larger net APR.
package scanner

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/venue"
)

// Funding cadence differs per venue: Aster pays every 4 hours, Lighter every
// 8. Verify against the venues' current schedules before deployment.
const (
	AsterPeriodsPerDay   = 6
	LighterPeriodsPerDay = 3
)

const (
	staggerDelay  = 2500 * time.Millisecond
	symbolTimeout = 30 * time.Second
)

// Rejection reasons.
const (
	ReasonMissingData = "missing data"
	ReasonSpread      = "spread"
	ReasonTimeout     = "timeout"
)

// APR converts a per-period funding rate (decimal form) into an annualized
// percentage.
func APR(rate float64, periodsPerDay int) float64 {
	return rate * float64(periodsPerDay) * 365 * 100.0
}

// Opportunity is a symbol that passed every filter, with its best direction.
type Opportunity struct {
	Symbol     string // venue-native full name, e.g. BTCUSDT
	Base       string // base tag, e.g. BTC
	AsterAPR   float64
	LighterAPR float64
	LongVenue  string
	ShortVenue string
	NetAPR     float64
	SpreadPct  float64
	AsterMid   decimal.Decimal
	LighterMid decimal.Decimal
}

// Rejection is a symbol excluded from this pass, kept for display.
type Rejection struct {
	Symbol     string
	Reason     string
	Detail     string
	SpreadPct  float64 // NaN when unknown
	AsterMid   decimal.Decimal
	LighterMid decimal.Decimal
}

// Scanner fans out per-symbol fetches over both governed gateways.
type Scanner struct {
	aster   venue.Gateway
	lighter venue.Gateway
	cfg     config.BotConfig

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a scanner over two governed gateways.
func New(aster, lighter venue.Gateway, cfg config.BotConfig) *Scanner {
	return &Scanner{aster: aster, lighter: lighter, cfg: cfg, sleep: sleepCtx}
}

// Scan fetches funding and prices for every configured symbol, staggering the
// per-symbol fan-outs to smooth burst load. Eligible opportunities come back
// sorted by net APR descending. Per-symbol failures become rejections; they
// never abort the pass.
func (s *Scanner) Scan(ctx context.Context) ([]Opportunity, []Rejection) {
	symbols := s.cfg.SymbolsToMonitor
	log.Info().Int("symbols", len(symbols)).Dur("stagger", staggerDelay).
		Msg("🔍 Analyzing funding rates")

	type slot struct {
		opp *Opportunity
		rej *Rejection
	}
	slots := make([]slot, len(symbols))

	var wg sync.WaitGroup
	for i, base := range symbols {
		wg.Add(1)
		go func(idx int, base string) {
			defer wg.Done()
			if idx > 0 {
				if err := s.sleep(ctx, time.Duration(idx)*staggerDelay); err != nil {
					return
				}
			}
			symCtx, cancel := context.WithTimeout(ctx, symbolTimeout)
			defer cancel()

			opp, rej := s.scanSymbol(symCtx, base)
			if ctx.Err() != nil {
				// discard partial results from a cancelled pass
				return
			}
			slots[idx] = slot{opp: opp, rej: rej}
		}(i, base)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, nil
	}

	var opps []Opportunity
	var rejs []Rejection
	for _, sl := range slots {
		if sl.opp != nil {
			opps = append(opps, *sl.opp)
		} else if sl.rej != nil {
			rejs = append(rejs, *sl.rej)
		}
	}
	sort.Slice(opps, func(i, j int) bool { return opps[i].NetAPR > opps[j].NetAPR })

	log.Info().Int("eligible", len(opps)).Int("excluded", len(rejs)).Msg("Funding scan complete")
	return opps, rejs
}

// scanSymbol fetches both funding rates and both quotes concurrently and
// builds either an Opportunity or a Rejection.
func (s *Scanner) scanSymbol(ctx context.Context, base string) (*Opportunity, *Rejection) {
	full := venue.FullSymbol(base, s.cfg.Quote)

	var (
		wg                       sync.WaitGroup
		asterRate, lighterRate   float64
		asterRateOK, lighterOK   bool
		asterQuote, lighterQuote venue.Quote
		asterQErr, lighterQErr   error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		r, err := s.aster.FundingRate(ctx, base)
		if err != nil {
			log.Debug().Err(err).Str("symbol", full).Msg("Aster funding fetch failed")
			return
		}
		asterRate, asterRateOK = r, true
	}()
	go func() {
		defer wg.Done()
		r, err := s.lighter.FundingRate(ctx, base)
		if err != nil {
			log.Debug().Err(err).Str("symbol", full).Msg("Lighter funding fetch failed")
			return
		}
		lighterRate, lighterOK = r, true
	}()
	go func() {
		defer wg.Done()
		asterQuote, asterQErr = s.aster.BestBidAsk(ctx, base)
	}()
	go func() {
		defer wg.Done()
		lighterQuote, lighterQErr = s.lighter.BestBidAsk(ctx, base)
	}()
	wg.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &Rejection{Symbol: full, Reason: ReasonTimeout, SpreadPct: math.NaN()}
	}

	asterMid, asterMidOK := decimal.Zero, false
	if asterQErr == nil {
		asterMid, asterMidOK = asterQuote.Mid()
	}
	lighterMid, lighterMidOK := decimal.Zero, false
	if lighterQErr == nil {
		lighterMid, lighterMidOK = lighterQuote.Mid()
	}

	if !asterRateOK || !lighterOK || !asterMidOK || !lighterMidOK {
		return nil, &Rejection{
			Symbol:     full,
			Reason:     ReasonMissingData,
			Detail:     missingDetail(asterRateOK, lighterOK, asterMidOK, lighterMidOK),
			SpreadPct:  math.NaN(),
			AsterMid:   asterMid,
			LighterMid: lighterMid,
		}
	}

	spreadPct := SpreadPct(asterMid, lighterMid)
	if spreadPct > s.cfg.MaxSpreadPct {
		log.Info().Str("symbol", full).Float64("spread_pct", spreadPct).
			Float64("max", s.cfg.MaxSpreadPct).Msg("Spread exceeds threshold")
		return nil, &Rejection{
			Symbol:     full,
			Reason:     ReasonSpread,
			SpreadPct:  spreadPct,
			AsterMid:   asterMid,
			LighterMid: lighterMid,
		}
	}

	asterAPR := APR(asterRate, AsterPeriodsPerDay)
	lighterAPR := APR(lighterRate, LighterPeriodsPerDay)

	longAsterShortLighter := lighterAPR - asterAPR
	longLighterShortAster := asterAPR - lighterAPR

	opp := &Opportunity{
		Symbol:     full,
		Base:       base,
		AsterAPR:   asterAPR,
		LighterAPR: lighterAPR,
		SpreadPct:  spreadPct,
		AsterMid:   asterMid,
		LighterMid: lighterMid,
	}
	if longAsterShortLighter >= longLighterShortAster {
		opp.LongVenue, opp.ShortVenue, opp.NetAPR = venue.Aster, venue.Lighter, longAsterShortLighter
	} else {
		opp.LongVenue, opp.ShortVenue, opp.NetAPR = venue.Lighter, venue.Aster, longLighterShortAster
	}

	log.Debug().Str("symbol", full).Float64("net_apr", opp.NetAPR).
		Str("long", opp.LongVenue).Str("short", opp.ShortVenue).Msg("Symbol scanned")
	return opp, nil
}

// SpreadPct is the cross-venue mid divergence: |a-l| / avg(a,l) × 100.
func SpreadPct(asterMid, lighterMid decimal.Decimal) float64 {
	avg := asterMid.Add(lighterMid).Div(decimal.NewFromInt(2))
	if !avg.IsPositive() {
		return math.NaN()
	}
	diff := asterMid.Sub(lighterMid).Abs()
	pct, _ := diff.Div(avg).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

func missingDetail(asterRate, lighterRate, asterMid, lighterMid bool) string {
	detail := ""
	appendMissing := func(cond bool, what string) {
		if cond {
			return
		}
		if detail != "" {
			detail += ", "
		}
		detail += what
	}
	appendMissing(asterRate, "Aster rate")
	appendMissing(lighterRate, "Lighter rate")
	appendMissing(asterMid, "Aster mid")
	appendMissing(lighterMid, "Lighter mid")
	return detail
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
