// Package bot runs the rotation engine: startup recovery and the state
// machine that drives scan → open → hold → close cycles.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/notify"
	"github.com/web3guy0/hedgebot/internal/scanner"
	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/storage"
	"github.com/web3guy0/hedgebot/internal/trader"
	"github.com/web3guy0/hedgebot/internal/venue"
)

const (
	errorBackoff = 5 * time.Minute
	tableTopN    = 10
)

// Supervisor owns the state machine. It is the only component that mutates
// persisted state.
type Supervisor struct {
	cfg     config.BotConfig
	aster   venue.Gateway
	lighter venue.Gateway

	states  *state.Manager
	scan    *scanner.Scanner
	coord   *trader.Coordinator
	monitor *trader.Monitor
	history *storage.DB
	alerts  *notify.Notifier

	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a supervisor. history and alerts may be nil.
func New(cfg config.BotConfig, aster, lighter venue.Gateway, states *state.Manager, history *storage.DB, alerts *notify.Notifier) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		aster:   aster,
		lighter: lighter,
		states:  states,
		scan:    scanner.New(aster, lighter, cfg),
		coord:   trader.NewCoordinator(aster, lighter, cfg),
		monitor: trader.NewMonitor(aster, lighter, cfg),
		history: history,
		alerts:  alerts,
		sleep:   sleepCtx,
	}
}

// Run drives the machine until ctx is cancelled. Cancellation transitions to
// SHUTDOWN and persists; open positions are left alone for the next start's
// recovery (or the emergency closer).
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Recover(ctx); err != nil {
		s.states.RecordError(err)
		return err
	}

	for {
		if ctx.Err() != nil {
			return s.shutdown()
		}

		var err error
		switch s.states.State() {
		case state.Idle, state.Waiting:
			s.states.SetState(state.Analyzing)
		case state.Analyzing:
			err = s.stepAnalyze(ctx)
		case state.Opening:
			// reached only via stepAnalyze; a restart that lands here had
			// no confirmed position, recovery already reset it
			s.states.SetState(state.Error)
		case state.Holding:
			err = s.stepHold(ctx)
		case state.Closing:
			err = s.stepClose(ctx, state.StatusSuccess, nil)
		case state.Error:
			err = s.stepError(ctx)
		default:
			log.Error().Str("state", s.states.State()).Msg("Unknown state, resetting")
			s.states.SetState(state.Error)
		}

		if err != nil {
			if ctx.Err() != nil {
				return s.shutdown()
			}
			log.Error().Err(err).Str("state", s.states.State()).Msg("❌ Cycle step failed")
			s.states.RecordError(err)
			s.alerts.Error(err)
			s.states.SetState(state.Error)
		}
	}
}

func (s *Supervisor) shutdown() error {
	log.Info().Msg("🛑 Shutting down, positions left open for recovery")
	s.states.SetState(state.Shutdown)
	return nil
}

// stepAnalyze scans all symbols, refreshes the capital snapshot, renders the
// funding table and either opens the best candidate or waits out the check
// interval.
func (s *Supervisor) stepAnalyze(ctx context.Context) error {
	s.refreshCapital(ctx)

	opps, rejs := s.scan.Scan(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.Info().Msg(scanner.RenderTable(opps, rejs, "", tableTopN))

	best := s.pickCandidate(opps)
	if best == nil {
		log.Info().Float64("min_apr", s.cfg.MinNetAPRThreshold).
			Msg("No opportunity clears the threshold, waiting")
		s.states.SetState(state.Waiting)
		return s.sleep(ctx, time.Duration(s.cfg.CheckIntervalSeconds)*time.Second)
	}

	s.states.SetState(state.Opening)
	pos, err := s.coord.Open(ctx, *best)
	if err != nil {
		if errors.Is(err, venue.ErrSizeTooSmall) {
			log.Warn().Err(err).Str("symbol", best.Symbol).Msg("Candidate too small to trade, waiting")
			s.states.SetState(state.Waiting)
			return s.sleep(ctx, time.Duration(s.cfg.CheckIntervalSeconds)*time.Second)
		}
		return err
	}

	if err := s.states.Mutate(func(f *state.File) {
		f.CurrentCycle++
		f.CurrentPosition = pos
		f.State = state.Holding
	}); err != nil {
		return err
	}
	s.alerts.Opened(pos)
	return nil
}

// pickCandidate returns the best opportunity above the APR threshold.
func (s *Supervisor) pickCandidate(opps []scanner.Opportunity) *scanner.Opportunity {
	for i := range opps {
		if opps[i].NetAPR >= s.cfg.MinNetAPRThreshold {
			return &opps[i]
		}
	}
	return nil
}

// stepHold checks the position once per interval until the monitor says
// close, then delegates to stepClose with the matching outcome.
func (s *Supervisor) stepHold(ctx context.Context) error {
	pos := s.states.Get().CurrentPosition
	if pos == nil {
		log.Warn().Msg("HOLDING with no position, resetting")
		s.states.SetState(state.Idle)
		return nil
	}

	for {
		now := time.Now().UTC()
		verdict, pnl := s.monitor.Check(ctx, pos, now)

		switch verdict {
		case trader.VerdictCloseExpired:
			s.states.SetState(state.Closing)
			return s.stepClose(ctx, state.StatusSuccess, pnl)
		case trader.VerdictCloseStopLoss:
			s.alerts.StopLoss(pos, pnl)
			s.states.SetState(state.Closing)
			return s.stepClose(ctx, state.StatusStopLoss, pnl)
		}

		if pnl != nil {
			log.Info().Str("symbol", pos.Symbol).
				Str("combined_pnl", pnl.CombinedPnL.StringFixed(4)).
				Float64("worst_leg_pct", pnl.WorstLegPct).
				Str("worst_venue", pnl.WorstVenue).
				Dur("remaining", pos.TargetCloseAt.Sub(now).Round(time.Second)).
				Msg("💤 Holding")
		}

		if s.monitor.TableRefreshDue(pos, now) {
			opps, rejs := s.scan.Scan(ctx)
			if ctx.Err() == nil {
				log.Info().Msg(scanner.RenderTable(opps, rejs, pos.Symbol, tableTopN))
				refreshed := now
				if err := s.states.Mutate(func(f *state.File) {
					if f.CurrentPosition != nil {
						f.CurrentPosition.LastTableRefresh = &refreshed
					}
				}); err != nil {
					return err
				}
				pos = s.states.Get().CurrentPosition
			}
		}

		if err := s.sleep(ctx, time.Duration(s.cfg.CheckIntervalSeconds)*time.Second); err != nil {
			return err
		}
	}
}

// stepClose flattens the pair, records the cycle and enters the between-cycle
// wait.
func (s *Supervisor) stepClose(ctx context.Context, status string, pnl *trader.PairPnL) error {
	pos := s.states.Get().CurrentPosition
	if pos == nil {
		s.states.SetState(state.Waiting)
		return nil
	}

	if pnl == nil && s.cfg.EnablePnLTracking {
		if p, err := s.monitor.PairPnL(ctx, pos); err == nil {
			pnl = p
		}
	}

	if err := s.coord.Close(ctx, pos); err != nil {
		s.recordCycle(pos, state.StatusFailed, pnl)
		return err
	}

	s.recordCycle(pos, status, pnl)
	s.alerts.Closed(pos, status, pnl)

	if err := s.states.Mutate(func(f *state.File) {
		f.CurrentPosition = nil
		f.State = state.Waiting
	}); err != nil {
		return err
	}

	wait := time.Duration(s.cfg.WaitBetweenCyclesMinutes * float64(time.Minute))
	log.Info().Dur("wait", wait).Msg("⏳ Cycle complete, waiting before next scan")
	return s.sleep(ctx, wait)
}

// recordCycle appends to completed_cycles, folds the outcome into
// cumulative_stats and mirrors the record into the history database.
func (s *Supervisor) recordCycle(pos *state.Position, status string, pnl *trader.PairPnL) {
	now := time.Now().UTC()
	rec := state.CycleRecord{
		Symbol:         pos.Symbol,
		OpenedAt:       pos.OpenedAt,
		ClosedAt:       now,
		ExpectedNetAPR: pos.ExpectedNetAPR,
		Status:         status,
	}
	if pnl != nil {
		v, _ := pnl.CombinedPnL.Float64()
		pct := pnl.CombinedPct
		rec.PnLAtClose = &v
		rec.PnLPctAtClose = &pct
		rec.WorstExchange = pnl.WorstVenue
	}

	holdHours := now.Sub(pos.OpenedAt).Hours()
	notional, _ := pos.SizeBase.Mul(pos.AvgMid).Float64()

	if err := s.states.Mutate(func(f *state.File) {
		f.CompletedCycles = append(f.CompletedCycles, rec)
		st := &f.CumulativeStats
		st.TotalCycles++
		if status == state.StatusSuccess {
			st.SuccessfulCycles++
		} else {
			st.FailedCycles++
		}
		st.TotalHoldHours += holdHours
		st.TotalVolumeTraded += notional * 2
		if rec.PnLAtClose != nil {
			st.TotalRealizedPnL += *rec.PnLAtClose
			if *rec.PnLAtClose > st.BestCyclePnL {
				st.BestCyclePnL = *rec.PnLAtClose
			}
			if *rec.PnLAtClose < st.WorstCyclePnL {
				st.WorstCyclePnL = *rec.PnLAtClose
			}
		}
	}); err != nil {
		log.Error().Err(err).Msg("Persist cycle record failed")
	}

	if err := s.history.SaveCycle(rec, pos); err != nil {
		log.Warn().Err(err).Msg("History DB write failed")
	}
}

// stepError backs off a flat five minutes and returns to IDLE.
func (s *Supervisor) stepError(ctx context.Context) error {
	log.Warn().Dur("backoff", errorBackoff).Msg("In ERROR state, backing off")
	if err := s.sleep(ctx, errorBackoff); err != nil {
		return err
	}
	s.states.SetState(state.Idle)
	return nil
}

// refreshCapital snapshots both venue balances into capital_status. Failures
// only log; balances are reporting, not a trading gate.
func (s *Supervisor) refreshCapital(ctx context.Context) {
	asterBal, asterErr := s.aster.AccountBalance(ctx)
	lighterBal, lighterErr := s.lighter.AccountBalance(ctx)
	if asterErr != nil || lighterErr != nil {
		log.Warn().AnErr("aster", asterErr).AnErr("lighter", lighterErr).
			Msg("Balance fetch failed, keeping last capital snapshot")
		return
	}

	now := time.Now().UTC()
	at, _ := asterBal.Total.Float64()
	aa, _ := asterBal.Available.Float64()
	lt, _ := lighterBal.Total.Float64()
	la, _ := lighterBal.Available.Float64()

	limiting := venue.Aster
	minAvail := aa
	if la < aa {
		limiting, minAvail = venue.Lighter, la
	}

	if err := s.states.Mutate(func(f *state.File) {
		cs := &f.CapitalStatus
		cs.AsterTotal, cs.AsterAvailable = at, aa
		cs.LighterTotal, cs.LighterAvailable = lt, la
		cs.TotalCapital = at + lt
		cs.TotalAvailable = aa + la
		cs.MaxPositionNotional = minAvail * float64(s.cfg.Leverage)
		cs.LimitingExchange = limiting
		cs.LastUpdated = &now
		if cs.InitialTotalCapital == nil {
			v := cs.TotalCapital
			cs.InitialTotalCapital = &v
		}
	}); err != nil {
		log.Error().Err(err).Msg("Persist capital snapshot failed")
	}

	log.Info().Float64("total", at+lt).Float64("available", aa+la).
		Str("limiting", limiting).Msg("💰 Capital status updated")
}

func (s *Supervisor) baseOf(symbol string) string {
	return strings.TrimSuffix(symbol, s.cfg.Quote)
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
