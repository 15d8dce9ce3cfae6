// Package state owns the durable bot state. Every other component mutates
// persisted state only through the Manager, which serializes writes and keeps
// the on-disk file crash-safe.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/config"
)

// Bot states.
const (
	Idle      = "IDLE"
	Analyzing = "ANALYZING"
	Opening   = "OPENING"
	Holding   = "HOLDING"
	Closing   = "CLOSING"
	Waiting   = "WAITING"
	Error     = "ERROR"
	Shutdown  = "SHUTDOWN"
)

// Cycle outcomes.
const (
	StatusSuccess  = "success"
	StatusStopLoss = "stop-loss"
	StatusFailed   = "failed"
)

// validTransitions is the state machine's edge set. SHUTDOWN is reachable
// from anywhere.
var validTransitions = map[string][]string{
	Idle:      {Analyzing},
	Analyzing: {Opening, Waiting},
	Opening:   {Holding, Waiting, Error},
	Holding:   {Closing, Idle, Error},
	Closing:   {Waiting, Error},
	Waiting:   {Idle, Analyzing},
	Error:     {Idle},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to string) bool {
	if to == Shutdown {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Position is the single live delta-neutral pair. Invariant: signed net base
// size across both venues is zero within one amount tick.
type Position struct {
	Symbol           string          `json:"symbol"`
	LongVenue        string          `json:"long_exchange"`
	ShortVenue       string          `json:"short_exchange"`
	Leverage         int             `json:"leverage"`
	OpenedAt         time.Time       `json:"opened_at"`
	TargetCloseAt    time.Time       `json:"target_close_at"`
	SizeBase         decimal.Decimal `json:"size_base"`
	AvgMid           decimal.Decimal `json:"avg_mid"`
	ExpectedNetAPR   float64         `json:"expected_net_apr"`
	LastTableRefresh *time.Time      `json:"last_table_refresh,omitempty"`
}

// CycleRecord is one completed rotation. Append-only.
type CycleRecord struct {
	Symbol         string    `json:"symbol"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at"`
	ExpectedNetAPR float64   `json:"expected_net_apr"`
	Status         string    `json:"status"`
	PnLAtClose     *float64  `json:"pnl_at_close,omitempty"`
	PnLPctAtClose  *float64  `json:"pnl_pct_at_close,omitempty"`
	WorstExchange  string    `json:"worst_exchange,omitempty"`
}

// CapitalStatus is a balance snapshot. Carried for reporting; sizing always
// uses notional_per_position.
type CapitalStatus struct {
	AsterTotal          float64    `json:"aster_total"`
	AsterAvailable      float64    `json:"aster_available"`
	LighterTotal        float64    `json:"lighter_total"`
	LighterAvailable    float64    `json:"lighter_available"`
	TotalCapital        float64    `json:"total_capital"`
	TotalAvailable      float64    `json:"total_available"`
	MaxPositionNotional float64    `json:"max_position_notional"`
	LimitingExchange    string     `json:"limiting_exchange,omitempty"`
	LastUpdated         *time.Time `json:"last_updated"`
	InitialTotalCapital *float64   `json:"initial_total_capital"`
}

// Stats aggregates across cycles.
type Stats struct {
	TotalCycles       int        `json:"total_cycles"`
	SuccessfulCycles  int        `json:"successful_cycles"`
	FailedCycles      int        `json:"failed_cycles"`
	TotalRealizedPnL  float64    `json:"total_realized_pnl"`
	TotalTradingPnL   float64    `json:"total_trading_pnl"`
	TotalFundingPnL   float64    `json:"total_funding_pnl"`
	TotalFeesPaid     float64    `json:"total_fees_paid"`
	BestCyclePnL      float64    `json:"best_cycle_pnl"`
	WorstCyclePnL     float64    `json:"worst_cycle_pnl"`
	TotalVolumeTraded float64    `json:"total_volume_traded"`
	TotalHoldHours    float64    `json:"total_hold_time_hours"`
	LastError         string     `json:"last_error,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
}

// File is the persisted state. The JSON shape is the contract between runs;
// loads tolerate missing optional keys.
type File struct {
	Version         string            `json:"version"`
	State           string            `json:"state"`
	CurrentCycle    int               `json:"current_cycle"`
	CurrentPosition *Position         `json:"current_position"`
	CapitalStatus   CapitalStatus     `json:"capital_status"`
	CompletedCycles []CycleRecord     `json:"completed_cycles"`
	CumulativeStats Stats             `json:"cumulative_stats"`
	Config          *config.BotConfig `json:"config"`
	LastUpdated     time.Time         `json:"last_updated"`
}

func defaultFile() File {
	return File{
		Version:         "1.0",
		State:           Idle,
		CompletedCycles: []CycleRecord{},
		LastUpdated:     time.Now().UTC(),
	}
}

// Manager is the single owner of the state file.
type Manager struct {
	path string
	st   File
}

// NewManager creates a manager over path with default in-memory state.
func NewManager(path string) *Manager {
	return &Manager{path: path, st: defaultFile()}
}

// Load reads the state file. A missing, empty or unparseable file starts
// fresh with defaults — never an error.
func (m *Manager) Load() bool {
	data, err := os.ReadFile(m.path)
	if err != nil {
		log.Info().Str("path", m.path).Msg("No state file found, starting fresh")
		return false
	}
	if len(data) == 0 {
		log.Info().Str("path", m.path).Msg("State file is empty, starting fresh")
		return false
	}

	loaded := defaultFile()
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warn().Err(err).Str("path", m.path).Msg("State file corrupted, starting fresh")
		return false
	}
	if loaded.CompletedCycles == nil {
		loaded.CompletedCycles = []CycleRecord{}
	}
	m.st = loaded
	log.Info().Str("path", m.path).Str("state", m.st.State).Msg("Loaded state")
	return true
}

// Save atomically persists the current state: write to <file>.tmp, fsync,
// rename over the target. Transient OS errors are retried up to 3 times.
func (m *Manager) Save() error {
	m.st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(&m.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if lastErr = m.writeAtomic(data); lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	log.Error().Err(lastErr).Str("path", m.path).Msg("Failed to save state")
	return lastErr
}

func (m *Manager) writeAtomic(data []byte) error {
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// State returns the current bot state.
func (m *Manager) State() string { return m.st.State }

// SetState transitions the machine and persists. Illegal edges are logged
// loudly but honored; the supervisor is the only caller and an unexpected
// edge means a bug worth seeing in the state file.
func (m *Manager) SetState(next string) {
	if !CanTransition(m.st.State, next) && m.st.State != next {
		log.Warn().Str("from", m.st.State).Str("to", next).Msg("Unexpected state transition")
	}
	log.Info().Str("from", m.st.State).Str("to", next).Msg("State transition")
	m.st.State = next
	if err := m.Save(); err != nil {
		log.Error().Err(err).Msg("Persist after transition failed")
	}
}

// Get returns a pointer to the in-memory state for reading. Mutations must go
// through Mutate.
func (m *Manager) Get() *File { return &m.st }

// Mutate applies fn to the state and persists the result.
func (m *Manager) Mutate(fn func(*File)) error {
	fn(&m.st)
	return m.Save()
}

// RecordError stamps cumulative_stats.last_error and persists.
func (m *Manager) RecordError(err error) {
	now := time.Now().UTC()
	m.st.CumulativeStats.LastError = err.Error()
	m.st.CumulativeStats.LastErrorAt = &now
	if serr := m.Save(); serr != nil {
		log.Error().Err(serr).Msg("Persist after error record failed")
	}
}
