package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/venue"
)

// Recovery outcomes.
type RecoveryOutcome int

const (
	// RecoverResume: both legs live with the expected signs, keep holding.
	RecoverResume RecoveryOutcome = iota
	// RecoverClearGhost: state says held but neither venue has a leg.
	RecoverClearGhost
	// RecoverClearPartial: exactly one leg is live.
	RecoverClearPartial
	// RecoverClearConflict: both legs live but same-signed.
	RecoverClearConflict
)

func (o RecoveryOutcome) String() string {
	switch o {
	case RecoverResume:
		return "resume"
	case RecoverClearGhost:
		return "ghost"
	case RecoverClearPartial:
		return "partial"
	default:
		return "conflict"
	}
}

// Size reconciliation tolerances: adopt the live size only when it differs
// from the saved one by more than 0.1% AND more than 0.001 base units.
var (
	reconcileRelPct = 0.1
	reconcileAbs    = decimal.NewFromFloat(0.001)
)

// ClassifyRecovery is the pure truth table over the two live signed sizes for
// a saved position. reconciled is the size to carry forward on resume.
func ClassifyRecovery(pos *state.Position, longSize, shortSize, tick decimal.Decimal) (outcome RecoveryOutcome, reconciled decimal.Decimal) {
	longLive := longSize.Abs().GreaterThan(tick)
	shortLive := shortSize.Abs().GreaterThan(tick)

	switch {
	case !longLive && !shortLive:
		return RecoverClearGhost, decimal.Zero
	case longLive != shortLive:
		return RecoverClearPartial, decimal.Zero
	case longSize.Sign() > 0 && shortSize.Sign() < 0:
		return RecoverResume, reconcileSize(pos.SizeBase, longSize, shortSize)
	default:
		return RecoverClearConflict, decimal.Zero
	}
}

// reconcileSize compares the saved size against the observed average of the
// two live legs and adopts it when the drift exceeds both tolerances.
func reconcileSize(saved, longSize, shortSize decimal.Decimal) decimal.Decimal {
	live := longSize.Abs().Add(shortSize.Abs()).Div(decimal.NewFromInt(2))

	diff := live.Sub(saved).Abs()
	if !saved.IsPositive() {
		return live
	}
	relPct, _ := diff.Div(saved).Mul(decimal.NewFromInt(100)).Float64()
	if relPct > reconcileRelPct && diff.GreaterThan(reconcileAbs) {
		log.Warn().Str("saved", saved.String()).Str("live", live.String()).
			Msg("Position size drifted, adopting live size")
		return live
	}
	return saved
}

// Recover reconciles the saved state with live venue positions at startup.
// It resumes the hold when both legs check out and clears the position (back
// to IDLE) in every other case.
func (s *Supervisor) Recover(ctx context.Context) error {
	st := s.states.Get()
	pos := st.CurrentPosition
	if pos == nil {
		if st.State != state.Idle && st.State != state.Waiting {
			log.Warn().Str("state", st.State).Msg("No position saved, resetting to IDLE")
			s.states.SetState(state.Idle)
		}
		return nil
	}

	log.Info().Str("symbol", pos.Symbol).Str("state", st.State).
		Msg("🔄 Recovering saved position")

	base := s.baseOf(pos.Symbol)
	desc, err := s.gateway(pos.LongVenue).MarketDescriptor(ctx, base)
	if err != nil {
		return fmt.Errorf("recovery: fetch descriptor for %s: %w", pos.Symbol, err)
	}

	longSize, err := s.gateway(pos.LongVenue).OpenSize(ctx, base)
	if err != nil {
		return fmt.Errorf("recovery: read %s size: %w", pos.LongVenue, err)
	}
	shortSize, err := s.gateway(pos.ShortVenue).OpenSize(ctx, base)
	if err != nil {
		return fmt.Errorf("recovery: read %s size: %w", pos.ShortVenue, err)
	}

	outcome, reconciled := ClassifyRecovery(pos, longSize, shortSize, desc.AmountTick)
	switch outcome {
	case RecoverResume:
		remaining := time.Until(pos.TargetCloseAt)
		log.Info().Str("symbol", pos.Symbol).Dur("remaining", remaining).
			Msg("✅ Both legs live, resuming hold")
		return s.states.Mutate(func(f *state.File) {
			f.CurrentPosition.SizeBase = reconciled
			f.State = state.Holding
		})
	case RecoverClearGhost:
		log.Warn().Str("symbol", pos.Symbol).
			Msg("State file has a position but venues are flat, clearing")
	case RecoverClearPartial:
		log.Warn().Str("symbol", pos.Symbol).
			Str("long_size", longSize.String()).Str("short_size", shortSize.String()).
			Msg("⚠️ Only one leg is live, clearing saved position; close it manually")
	case RecoverClearConflict:
		log.Warn().Str("symbol", pos.Symbol).
			Str("long_size", longSize.String()).Str("short_size", shortSize.String()).
			Msg("⚠️ Legs are same-signed, clearing saved position; inspect manually")
	}

	return s.states.Mutate(func(f *state.File) {
		f.CurrentPosition = nil
		f.State = state.Idle
	})
}

func (s *Supervisor) gateway(name string) venue.Gateway {
	if name == venue.Aster {
		return s.aster
	}
	return s.lighter
}
